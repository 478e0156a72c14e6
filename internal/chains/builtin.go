package chains

// Registry deployments share the 0x8004 vanity prefix. Every testnet uses
// the same CREATE2 addresses; mainnets use a separate deployment without a
// validation registry.
var (
	TestnetContracts = Contracts{
		Identity:   "0x8004A818BFB912233c491871b3d84c89A494BD9e",
		Reputation: "0x8004B663056A597Dffe9eCcC1965A193B7388713",
		Validation: "0x8004Cb1BF31DAf7788923b405b754f57acEB4272",
	}
	MainnetContracts = Contracts{
		Identity:   "0x8004A169FB4a3325136EB29fA0ceB6D2e539a432",
		Reputation: "0x8004BAa17C55a88189AE136b182e5fdA19dE9b63",
	}
)

// DefaultKey is the chain used when none is configured.
const DefaultKey = "bsc-testnet"

// Builtin returns a copy of the built-in chain table.
func Builtin() []Chain {
	eth := func(name string) Currency { return Currency{Name: name, Symbol: "ETH", Decimals: 18} }
	bnb := func(name string) Currency { return Currency{Name: name, Symbol: name, Decimals: 18} }

	table := []Chain{
		{Key: "bsc-testnet", Name: "BSC Testnet", ChainID: 97, RPCURL: "https://data-seed-prebsc-1-s1.bnbchain.org:8545", Explorer: "https://testnet.bscscan.com", Currency: bnb("tBNB"), Contracts: TestnetContracts, Testnet: true},
		{Key: "bsc-mainnet", Name: "BSC Mainnet", ChainID: 56, RPCURL: "https://bsc-dataseed.bnbchain.org", Explorer: "https://bscscan.com", Currency: bnb("BNB"), Contracts: MainnetContracts},
		{Key: "opbnb-testnet", Name: "opBNB Testnet", ChainID: 5611, RPCURL: "https://opbnb-testnet-rpc.bnbchain.org", Explorer: "https://testnet.opbnbscan.com", Currency: bnb("tBNB"), Contracts: TestnetContracts, Testnet: true},
		{Key: "opbnb-mainnet", Name: "opBNB", ChainID: 204, RPCURL: "https://opbnb-mainnet-rpc.bnbchain.org", Explorer: "https://opbnbscan.com", Currency: bnb("BNB"), Contracts: MainnetContracts},
		{Key: "ethereum", Name: "Ethereum Mainnet", ChainID: 1, RPCURL: "https://eth.llamarpc.com", Explorer: "https://etherscan.io", Currency: eth("ETH"), Contracts: MainnetContracts},
		{Key: "sepolia", Name: "Ethereum Sepolia", ChainID: 11155111, RPCURL: "https://rpc.sepolia.org", Explorer: "https://sepolia.etherscan.io", Currency: eth("SepoliaETH"), Contracts: TestnetContracts, Testnet: true},
		{Key: "base-sepolia", Name: "Base Sepolia", ChainID: 84532, RPCURL: "https://sepolia.base.org", Explorer: "https://sepolia.basescan.org", Currency: eth("ETH"), Contracts: TestnetContracts, Testnet: true},
		{Key: "arbitrum-sepolia", Name: "Arbitrum Sepolia", ChainID: 421614, RPCURL: "https://sepolia-rollup.arbitrum.io/rpc", Explorer: "https://sepolia.arbiscan.io", Currency: eth("ETH"), Contracts: TestnetContracts, Testnet: true},
		{Key: "optimism-sepolia", Name: "Optimism Sepolia", ChainID: 11155420, RPCURL: "https://sepolia.optimism.io", Explorer: "https://sepolia-optimistic.etherscan.io", Currency: eth("ETH"), Contracts: TestnetContracts, Testnet: true},
		{Key: "polygon-amoy", Name: "Polygon Amoy", ChainID: 80002, RPCURL: "https://rpc-amoy.polygon.technology", Explorer: "https://amoy.polygonscan.com", Currency: Currency{Name: "POL", Symbol: "POL", Decimals: 18}, Contracts: TestnetContracts, Testnet: true},
	}
	for i := range table {
		table[i].AgentRegistry = AgentRegistryID(table[i].ChainID, table[i].Contracts.Identity)
	}
	return table
}
