// Package chain wraps go-ethereum with the small RPC surface the facilitator
// needs: balance reads, ERC-20 reads, and the Tenderly administrative
// balance-mutation methods available on sandbox networks only.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Client is a chain client bound to a single RPC endpoint. A read-only client
// has no key material; a signing client additionally carries the facilitator
// key and can build transact opts.
type Client struct {
	rpc  *rpc.Client
	eth  *ethclient.Client
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewClient dials a read-only client against the given endpoint.
func NewClient(ctx context.Context, rawurl string) (*Client, error) {
	rc, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", rawurl, err)
	}
	return &Client{rpc: rc, eth: ethclient.NewClient(rc)}, nil
}

// NewSigningClient dials a client that can sign transactions with the given
// hex-encoded private key.
func NewSigningClient(ctx context.Context, rawurl, privKeyHex string) (*Client, error) {
	c, err := NewClient(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	c.key = key
	c.addr = crypto.PubkeyToAddress(key.PublicKey)
	return c, nil
}

func (c *Client) Close() { c.rpc.Close() }

// Address returns the signing address (zero for read-only clients).
func (c *Client) Address() common.Address { return c.addr }

// PrivateKey returns the signing key, or nil for read-only clients.
func (c *Client) PrivateKey() *ecdsa.PrivateKey { return c.key }

// Eth exposes the underlying ethclient for collaborators that speak standard
// JSON-RPC themselves.
func (c *Client) Eth() *ethclient.Client { return c.eth }

// TransactOpts builds a *bind.TransactOpts signed by the client's key, with
// the chain ID read from the endpoint.
func (c *Client) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.key == nil {
		return nil, fmt.Errorf("client has no signing key")
	}
	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(c.key, chainID)
	if err != nil {
		return nil, err
	}
	auth.Context = ctx
	return auth, nil
}

// NativeBalance returns the latest native-currency balance of addr in wei.
func (c *Client) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", addr.Hex(), err)
	}
	return bal, nil
}

// TokenBalance returns the ERC-20 balance of addr in the token's atomic units.
func (c *Client) TokenBalance(ctx context.Context, token, addr common.Address) (*big.Int, error) {
	out, err := c.callERC20(ctx, token, "balanceOf", addr)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// TokenDecimals returns the token's declared decimals.
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := c.callERC20(ctx, token, "decimals")
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

func (c *Client) callERC20(ctx context.Context, token common.Address, method string, args ...any) ([]any, error) {
	input, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, token.Hex(), err)
	}
	out, err := erc20ABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// AddNativeBalance credits addr with amount wei via tenderly_addBalance.
// Only sandbox endpoints implement this method.
func (c *Client) AddNativeBalance(ctx context.Context, addr common.Address, amount *big.Int) error {
	var result any
	err := c.rpc.CallContext(ctx, &result, "tenderly_addBalance",
		[]common.Address{addr}, hexutil.EncodeBig(amount))
	if err != nil {
		return fmt.Errorf("tenderly_addBalance %s: %w", addr.Hex(), err)
	}
	return nil
}

// SetTokenBalance sets addr's ERC-20 balance to amount atomic units via
// tenderly_setErc20Balance. Only sandbox endpoints implement this method.
func (c *Client) SetTokenBalance(ctx context.Context, token, addr common.Address, amount *big.Int) error {
	var result any
	err := c.rpc.CallContext(ctx, &result, "tenderly_setErc20Balance",
		token, addr, hexutil.EncodeBig(amount))
	if err != nil {
		return fmt.Errorf("tenderly_setErc20Balance %s for %s: %w", token.Hex(), addr.Hex(), err)
	}
	return nil
}
