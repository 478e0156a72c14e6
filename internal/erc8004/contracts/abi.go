// Package contracts binds the ERC-8004 registries and ERC-20 tokens to a
// web3.Backend: ABI definitions, read calls, signed transactions and log
// decoding.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Overloaded register functions are renamed by go-ethereum in declaration
// order: register(), register0(string), register1(string,tuple[]).
const (
	MethodRegister             = "register"
	MethodRegisterWithURI      = "register0"
	MethodRegisterWithMetadata = "register1"
)

const identityABIJSON = `[
 {"type":"function","name":"register","stateMutability":"nonpayable","inputs":[],"outputs":[{"name":"agentId","type":"uint256"}]},
 {"type":"function","name":"register","stateMutability":"nonpayable","inputs":[{"name":"agentURI","type":"string"}],"outputs":[{"name":"agentId","type":"uint256"}]},
 {"type":"function","name":"register","stateMutability":"nonpayable","inputs":[{"name":"agentURI","type":"string"},{"name":"metadata","type":"tuple[]","components":[{"name":"metadataKey","type":"string"},{"name":"metadataValue","type":"bytes"}]}],"outputs":[{"name":"agentId","type":"uint256"}]},
 {"type":"function","name":"setAgentURI","stateMutability":"nonpayable","inputs":[{"name":"agentId","type":"uint256"},{"name":"newURI","type":"string"}],"outputs":[]},
 {"type":"function","name":"tokenURI","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"setMetadata","stateMutability":"nonpayable","inputs":[{"name":"agentId","type":"uint256"},{"name":"metadataKey","type":"string"},{"name":"metadataValue","type":"bytes"}],"outputs":[]},
 {"type":"function","name":"getMetadata","stateMutability":"view","inputs":[{"name":"agentId","type":"uint256"},{"name":"metadataKey","type":"string"}],"outputs":[{"name":"","type":"bytes"}]},
 {"type":"function","name":"getAgentWallet","stateMutability":"view","inputs":[{"name":"agentId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getVersion","stateMutability":"pure","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"event","name":"Registered","anonymous":false,"inputs":[{"name":"agentId","type":"uint256","indexed":true},{"name":"agentURI","type":"string","indexed":false},{"name":"owner","type":"address","indexed":true}]},
 {"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]}
]`

const reputationABIJSON = `[
 {"type":"function","name":"submitFeedback","stateMutability":"nonpayable","inputs":[{"name":"agentId","type":"uint256"},{"name":"score","type":"int8"},{"name":"comment","type":"string"}],"outputs":[]},
 {"type":"function","name":"getFeedbackCount","stateMutability":"view","inputs":[{"name":"agentId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getAverageScore","stateMutability":"view","inputs":[{"name":"agentId","type":"uint256"}],"outputs":[{"name":"","type":"int256"}]},
 {"type":"function","name":"getFeedback","stateMutability":"view","inputs":[{"name":"agentId","type":"uint256"},{"name":"index","type":"uint256"}],"outputs":[{"name":"reviewer","type":"address"},{"name":"score","type":"int8"},{"name":"comment","type":"string"},{"name":"timestamp","type":"uint256"}]},
 {"type":"event","name":"FeedbackSubmitted","anonymous":false,"inputs":[{"name":"agentId","type":"uint256","indexed":true},{"name":"reviewer","type":"address","indexed":true},{"name":"score","type":"int8","indexed":false},{"name":"comment","type":"string","indexed":false}]}
]`

const validationABIJSON = `[
 {"type":"function","name":"validate","stateMutability":"nonpayable","inputs":[{"name":"agentId","type":"uint256"},{"name":"attestationType","type":"string"},{"name":"attestationData","type":"bytes"}],"outputs":[]},
 {"type":"function","name":"isValidated","stateMutability":"view","inputs":[{"name":"agentId","type":"uint256"},{"name":"attestationType","type":"string"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"getValidation","stateMutability":"view","inputs":[{"name":"agentId","type":"uint256"},{"name":"attestationType","type":"string"}],"outputs":[{"name":"validator","type":"address"},{"name":"attestationData","type":"bytes"},{"name":"timestamp","type":"uint256"}]},
 {"type":"event","name":"Validated","anonymous":false,"inputs":[{"name":"agentId","type":"uint256","indexed":true},{"name":"validator","type":"address","indexed":true},{"name":"attestationType","type":"string","indexed":false}]}
]`

const erc20ABIJSON = `[
 {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]},
 {"type":"event","name":"Approval","anonymous":false,"inputs":[{"name":"owner","type":"address","indexed":true},{"name":"spender","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

// Parsed ABIs.
var (
	IdentityABI   = mustParse(identityABIJSON)
	ReputationABI = mustParse(reputationABIJSON)
	ValidationABI = mustParse(validationABIJSON)
	ERC20ABI      = mustParse(erc20ABIJSON)
)

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("contracts: invalid ABI: " + err.Error())
	}
	return parsed
}

// MetadataTuple mirrors the (string metadataKey, bytes metadataValue)
// struct accepted by register(string,tuple[]). Field names follow the ABI
// component names so the encoder can match them.
type MetadataTuple struct {
	MetadataKey   string
	MetadataValue []byte
}
