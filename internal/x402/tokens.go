package x402

import (
	"sort"
	"strings"

	xerrors "BNBChain-AgentKit/internal/errors"
)

var tokens = map[int64]map[string]TokenConfig{
	56: {
		"USDC": {Symbol: "USDC", Address: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", Decimals: 18, ChainID: 56},
		"USDT": {Symbol: "USDT", Address: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18, ChainID: 56},
		"BUSD": {Symbol: "BUSD", Address: "0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56", Decimals: 18, ChainID: 56},
	},
	97: {
		"USDC": {Symbol: "USDC", Address: "0x64544969ed7EBf5f083679233325356EbE738930", Decimals: 18, ChainID: 97},
		"USDT": {Symbol: "USDT", Address: "0x337610d27c682E347C9cD60BD4b3b107C9d34dDd", Decimals: 18, ChainID: 97},
	},
	204: {
		"USDT":  {Symbol: "USDT", Address: "0x9e5AAC1Ba1a2e6aEd6b32689DFcF62A509Ca96f3", Decimals: 18, ChainID: 204},
		"FDUSD": {Symbol: "FDUSD", Address: "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", Decimals: 18, ChainID: 204},
	},
	5611: {
		"USDT": {Symbol: "USDT", Address: "0x337610d27c682E347C9cD60BD4b3b107C9d34dDd", Decimals: 18, ChainID: 5611},
	},
}

// LookupToken finds a known token by chain and symbol.
func LookupToken(chainID int64, symbol string) (TokenConfig, error) {
	if t, ok := tokens[chainID][strings.ToUpper(symbol)]; ok {
		return t, nil
	}
	return TokenConfig{}, xerrors.Newf(CodeUnknownToken, "token %s is not known on chain %d", symbol, chainID)
}

// Tokens lists the known tokens of a chain ordered by symbol.
func Tokens(chainID int64) []TokenConfig {
	out := make([]TokenConfig, 0, len(tokens[chainID]))
	for _, t := range tokens[chainID] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
