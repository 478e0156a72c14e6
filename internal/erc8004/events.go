package erc8004

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"BNBChain-AgentKit/internal/erc8004/contracts"
)

// RegisteredEvent is a decoded Registered log.
type RegisteredEvent struct {
	AgentID     uint64 `json:"agentId"`
	AgentURI    string `json:"agentURI"`
	Owner       string `json:"owner"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
}

func decodeRegistered(registry *contracts.Contract, log types.Log) (RegisteredEvent, bool) {
	if !registry.IsEvent(log, "Registered") || len(log.Topics) < 3 {
		return RegisteredEvent{}, false
	}
	values, err := registry.UnpackEventData("Registered", log.Data)
	if err != nil || len(values) != 1 {
		return RegisteredEvent{}, false
	}
	uri, _ := values[0].(string)
	id := new(big.Int).SetBytes(log.Topics[1].Bytes())
	if !id.IsUint64() {
		return RegisteredEvent{}, false
	}
	return RegisteredEvent{
		AgentID:     id.Uint64(),
		AgentURI:    uri,
		Owner:       common.BytesToAddress(log.Topics[2].Bytes()).Hex(),
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
	}, true
}

// transferTokenID extracts the tokenId of an ERC-721 Transfer log.
func transferTokenID(registry *contracts.Contract, log types.Log) (uint64, bool) {
	if !registry.IsEvent(log, "Transfer") || len(log.Topics) < 4 {
		return 0, false
	}
	id := new(big.Int).SetBytes(log.Topics[3].Bytes())
	return id.Uint64(), id.IsUint64()
}

func agentIDArg(id uint64) *big.Int { return new(big.Int).SetUint64(id) }
