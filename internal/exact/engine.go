// Package exact adapts the "exact" EVM payment scheme (EIP-3009
// transferWithAuthorization) to the facilitator's engine boundary. The token
// contract performs the signature and replay checks; this package only builds
// the call and interprets the outcome.
package exact

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/localx402/facilitator/internal/chain"
	"github.com/localx402/facilitator/internal/x402"
)

const transferWithAuthABIJSON = `[
	{"inputs":[
		{"name":"from","type":"address"},
		{"name":"to","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"validAfter","type":"uint256"},
		{"name":"validBefore","type":"uint256"},
		{"name":"nonce","type":"bytes32"},
		{"name":"v","type":"uint8"},
		{"name":"r","type":"bytes32"},
		{"name":"s","type":"bytes32"}],
	"name":"transferWithAuthorization","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var transferWithAuthABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(transferWithAuthABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// payload is the scheme-specific body inside an x402 PaymentPayload.
type payload struct {
	Signature     string        `json:"signature"`
	Authorization authorization `json:"authorization"`
}

type authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Engine implements facilitator.Engine for the exact EVM scheme.
type Engine struct {
	log *zap.Logger
}

func NewEngine(log *zap.Logger) *Engine {
	return &Engine{log: log}
}

// Verify simulates the token's transferWithAuthorization via eth_call. A
// revert (bad signature, replayed nonce, expired window, insufficient funds)
// surfaces as an invalid payment, not an error.
func (e *Engine) Verify(ctx context.Context, client *chain.Client, pp *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	call, err := buildCall(pp, reqs)
	if err != nil {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: err.Error()}, nil
	}

	msg := ethereum.CallMsg{From: call.from, To: &call.token, Data: call.data}
	if _, err := client.Eth().CallContract(ctx, msg, nil); err != nil {
		return &x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: fmt.Sprintf("authorization rejected: %v", err),
			Payer:         call.from.Hex(),
		}, nil
	}

	return &x402.VerifyResponse{IsValid: true, Payer: call.from.Hex()}, nil
}

// Settle submits transferWithAuthorization signed by the facilitator key and
// waits for the receipt.
func (e *Engine) Settle(ctx context.Context, client *chain.Client, pp *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.SettleResponse, error) {
	call, err := buildCall(pp, reqs)
	if err != nil {
		return &x402.SettleResponse{Success: false, ErrorReason: err.Error(), Network: pp.Network}, nil
	}

	opts, err := client.TransactOpts(ctx)
	if err != nil {
		return nil, fmt.Errorf("build tx opts: %w", err)
	}

	contract := bind.NewBoundContract(call.token, transferWithAuthABI, client.Eth(), client.Eth(), client.Eth())
	tx, err := contract.Transact(opts, "transferWithAuthorization", call.args...)
	if err != nil {
		return &x402.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("transferWithAuthorization: %v", err),
			Network:     pp.Network,
			Payer:       call.from.Hex(),
		}, nil
	}

	receipt, err := bind.WaitMined(ctx, client.Eth(), tx)
	if err != nil {
		return nil, fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status == 0 {
		return &x402.SettleResponse{
			Success:     false,
			ErrorReason: "transaction reverted",
			Transaction: tx.Hash().Hex(),
			Network:     pp.Network,
			Payer:       call.from.Hex(),
		}, nil
	}

	e.log.Info("payment settled",
		zap.String("tx", tx.Hash().Hex()),
		zap.String("payer", call.from.Hex()))
	return &x402.SettleResponse{
		Success:     true,
		Transaction: tx.Hash().Hex(),
		Network:     pp.Network,
		Payer:       call.from.Hex(),
	}, nil
}

type authCall struct {
	token common.Address
	from  common.Address
	data  []byte
	args  []any
}

// buildCall validates the payload against the requirements and packs the
// transferWithAuthorization calldata. Validation here is structural; the
// chain enforces the cryptographic invariants.
func buildCall(pp *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*authCall, error) {
	if pp.Scheme != "exact" {
		return nil, fmt.Errorf("unsupported scheme %q", pp.Scheme)
	}

	raw, err := json.Marshal(pp.Payload)
	if err != nil {
		return nil, fmt.Errorf("reencode payload: %w", err)
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("malformed exact payload: %w", err)
	}

	value, ok := new(big.Int).SetString(p.Authorization.Value, 10)
	if !ok {
		return nil, fmt.Errorf("malformed authorization value %q", p.Authorization.Value)
	}
	maxAmount, ok := new(big.Int).SetString(reqs.MaxAmountRequired, 10)
	if !ok {
		return nil, fmt.Errorf("malformed maxAmountRequired %q", reqs.MaxAmountRequired)
	}
	if value.Cmp(maxAmount) > 0 {
		return nil, fmt.Errorf("authorization value exceeds maxAmountRequired")
	}

	to := common.HexToAddress(p.Authorization.To)
	if to != common.HexToAddress(reqs.PayTo) {
		return nil, fmt.Errorf("authorization recipient does not match payTo")
	}

	validAfter, ok := new(big.Int).SetString(p.Authorization.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("malformed validAfter %q", p.Authorization.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(p.Authorization.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("malformed validBefore %q", p.Authorization.ValidBefore)
	}

	sig, err := hexutil.Decode(p.Signature)
	if err != nil || len(sig) != 65 {
		return nil, fmt.Errorf("malformed signature")
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}
	var r, s [32]byte
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])

	from := common.HexToAddress(p.Authorization.From)
	args := []any{
		from,
		to,
		value,
		validAfter,
		validBefore,
		common.HexToHash(p.Authorization.Nonce),
		v,
		r,
		s,
	}

	data, err := transferWithAuthABI.Pack("transferWithAuthorization", args...)
	if err != nil {
		return nil, fmt.Errorf("pack transferWithAuthorization: %w", err)
	}

	return &authCall{
		token: common.HexToAddress(reqs.Asset),
		from:  from,
		data:  data,
		args:  args,
	}, nil
}
