package chains

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Overrides models a chains.yaml file. Entries whose key already exists
// patch the built-in chain; new keys add a chain and must carry at least a
// chain id, an RPC URL and an identity registry address.
//
//	chains:
//	  bsc-testnet:
//	    rpc_url: https://bsc-testnet.example.org
//	  local:
//	    name: Local Anvil
//	    chain_id: 31337
//	    rpc_url: http://127.0.0.1:8545
//	    identity: 0x...
type Overrides struct {
	Chains map[string]Override `yaml:"chains"`
}

// Override holds the optional fields of a single chain entry.
type Override struct {
	Name       string    `yaml:"name"`
	ChainID    int64     `yaml:"chain_id"`
	RPCURL     string    `yaml:"rpc_url"`
	Explorer   string    `yaml:"explorer"`
	Currency   *Currency `yaml:"currency"`
	Identity   string    `yaml:"identity"`
	Reputation string    `yaml:"reputation"`
	Validation string    `yaml:"validation"`
	Testnet    *bool     `yaml:"testnet"`
}

// LoadOverrides parses the YAML file. An empty path yields no overrides.
func LoadOverrides(path string) (Overrides, error) {
	if strings.TrimSpace(path) == "" {
		return Overrides{Chains: map[string]Override{}}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Overrides{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	var defs Overrides
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Overrides{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]Override{}
	}
	return defs, nil
}

// Apply merges the overrides into the registry.
func (r *Registry) Apply(defs Overrides) error {
	for key, o := range defs.Chains {
		current, exists := r.Lookup(key)
		if !exists {
			if o.ChainID == 0 || o.RPCURL == "" || o.Identity == "" {
				return fmt.Errorf("新增链 %s 需要 chain_id、rpc_url 与 identity", key)
			}
			current = Chain{Key: key, Name: key, Currency: Currency{Name: "ETH", Symbol: "ETH", Decimals: 18}}
		}
		merge(&current, o)
		if o.Identity != "" || o.ChainID != 0 {
			current.AgentRegistry = AgentRegistryID(current.ChainID, current.Contracts.Identity)
		}
		r.Put(current)
	}
	return nil
}

func merge(c *Chain, o Override) {
	if o.Name != "" {
		c.Name = o.Name
	}
	if o.ChainID != 0 {
		c.ChainID = o.ChainID
	}
	if o.RPCURL != "" {
		c.RPCURL = o.RPCURL
	}
	if o.Explorer != "" {
		c.Explorer = strings.TrimRight(o.Explorer, "/")
	}
	if o.Currency != nil {
		c.Currency = *o.Currency
	}
	if o.Identity != "" {
		c.Contracts.Identity = o.Identity
	}
	if o.Reputation != "" {
		c.Contracts.Reputation = o.Reputation
	}
	if o.Validation != "" {
		c.Contracts.Validation = o.Validation
	}
	if o.Testnet != nil {
		c.Testnet = *o.Testnet
	}
}
