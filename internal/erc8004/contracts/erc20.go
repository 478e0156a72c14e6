package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"BNBChain-AgentKit/internal/web3"
)

// TokenInfo is the ERC-20 metadata triple.
type TokenInfo struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// ERC20 reads an ERC-20 token.
type ERC20 struct {
	*Contract
}

// NewERC20 binds the token at address.
func NewERC20(backend web3.Backend, address string) *ERC20 {
	return &ERC20{Contract: New(backend, address, ERC20ABI)}
}

// Info reads name, symbol and decimals.
func (t *ERC20) Info(ctx context.Context) (TokenInfo, error) {
	info := TokenInfo{Address: t.Address.Hex()}
	values, err := t.Call(ctx, "name")
	if err != nil {
		return TokenInfo{}, err
	}
	info.Name = values[0].(string)
	if values, err = t.Call(ctx, "symbol"); err != nil {
		return TokenInfo{}, err
	}
	info.Symbol = values[0].(string)
	if values, err = t.Call(ctx, "decimals"); err != nil {
		return TokenInfo{}, err
	}
	info.Decimals = values[0].(uint8)
	return info, nil
}

// BalanceOf returns the token balance of owner in base units.
func (t *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	values, err := t.Call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return values[0].(*big.Int), nil
}

// Allowance returns how much spender may move on behalf of owner.
func (t *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	values, err := t.Call(ctx, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return values[0].(*big.Int), nil
}
