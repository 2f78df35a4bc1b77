package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Pool is a client bound to one pool address.
type Pool struct {
	client  Client
	Address common.Address
}

func BindPool(c Client, addr common.Address) *Pool {
	return &Pool{client: c, Address: addr}
}

// Token0 returns the token in the pool's first slot.
func (p *Pool) Token0(ctx context.Context) (common.Address, error) {
	return p.client.Token0(ctx, p.Address)
}

// WatchSwaps subscribes to the pool's Swap events.
func (p *Pool) WatchSwaps(ctx context.Context) (Subscription, error) {
	return p.client.SubscribeSwapEvents(ctx, p.Address)
}

// Token is a client bound to one ERC20 address.
type Token struct {
	client  Client
	Address common.Address
}

func BindToken(c Client, addr common.Address) *Token {
	return &Token{client: c, Address: addr}
}

func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return t.client.TokenBalance(ctx, t.Address, owner)
}
