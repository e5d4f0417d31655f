package facilitator

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Funding thresholds. Comparison is strict: a balance exactly at the minimum
// is sufficient.
const (
	// MinNativeBalance is the facilitator account's operating floor, in whole
	// native units (ETH).
	MinNativeBalance = 100

	// nativeFundMultiplier amortizes future checks: one top-up credits 100x
	// the floor.
	nativeFundMultiplier = 100

	// MinTokenBalance is the test account's floor, in whole token units.
	MinTokenBalance = 10_000

	fundingTimeout = 30 * time.Second
)

// USDCAddress is the canonical USDC contract on Base (and on Virtual TestNets
// forked from it).
var USDCAddress = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")

var weiPerEth = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// BalanceClient is the chain surface balance assurance needs. *chain.Client
// satisfies it.
type BalanceClient interface {
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, addr common.Address) (*big.Int, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	AddNativeBalance(ctx context.Context, addr common.Address, amount *big.Int) error
	SetTokenBalance(ctx context.Context, token, addr common.Address, amount *big.Int) error
}

// FundingOutcome reports what a balance-assurance pass did.
type FundingOutcome struct {
	// Funded is true when a top-up was issued.
	Funded bool

	// PriorBalance is the balance observed before any top-up, in atomic units.
	PriorBalance *big.Int
}

// Funder keeps the facilitator's operating account, and optionally a test
// account, above their thresholds. It is best-effort observability: callers
// log failures as warnings and proceed.
type Funder struct {
	facilitator common.Address
	testWallet  common.Address
	haveTest    bool
	log         *zap.Logger
}

func NewFunder(s *State, log *zap.Logger) *Funder {
	f := &Funder{facilitator: s.Address(), log: log}
	f.testWallet, f.haveTest = s.TestWallet()
	return f
}

// EnsureFacilitatorFunded reads the facilitator's native balance at the given
// endpoint and tops it up through the administrative RPC when below the floor.
func (f *Funder) EnsureFacilitatorFunded(ctx context.Context, client BalanceClient) (FundingOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, fundingTimeout)
	defer cancel()

	balance, err := client.NativeBalance(ctx, f.facilitator)
	if err != nil {
		return FundingOutcome{}, err
	}

	minWei := new(big.Int).Mul(big.NewInt(MinNativeBalance), weiPerEth)
	if balance.Cmp(minWei) >= 0 {
		f.log.Debug("facilitator balance sufficient",
			zap.String("address", f.facilitator.Hex()),
			zap.String("balance_wei", balance.String()))
		return FundingOutcome{Funded: false, PriorBalance: balance}, nil
	}

	topUp := new(big.Int).Mul(minWei, big.NewInt(nativeFundMultiplier))
	if err := client.AddNativeBalance(ctx, f.facilitator, topUp); err != nil {
		return FundingOutcome{PriorBalance: balance}, err
	}

	f.log.Info("funded facilitator account",
		zap.String("address", f.facilitator.Hex()),
		zap.Int64("amount_eth", int64(MinNativeBalance*nativeFundMultiplier)))
	return FundingOutcome{Funded: true, PriorBalance: balance}, nil
}

// EnsureTestWalletFunded keeps the test account's USDC balance above the
// floor, reading the token's declared decimals to scale the threshold. It is
// a no-op when no test account is configured.
func (f *Funder) EnsureTestWalletFunded(ctx context.Context, client BalanceClient) (FundingOutcome, error) {
	if !f.haveTest {
		return FundingOutcome{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, fundingTimeout)
	defer cancel()

	decimals, err := client.TokenDecimals(ctx, USDCAddress)
	if err != nil {
		return FundingOutcome{}, err
	}
	balance, err := client.TokenBalance(ctx, USDCAddress, f.testWallet)
	if err != nil {
		return FundingOutcome{}, err
	}

	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	minUnits := new(big.Int).Mul(big.NewInt(MinTokenBalance), unit)
	if balance.Cmp(minUnits) >= 0 {
		return FundingOutcome{Funded: false, PriorBalance: balance}, nil
	}

	if err := client.SetTokenBalance(ctx, USDCAddress, f.testWallet, minUnits); err != nil {
		return FundingOutcome{PriorBalance: balance}, err
	}

	f.log.Info("funded test account",
		zap.String("address", f.testWallet.Hex()),
		zap.Int64("amount_tokens", MinTokenBalance))
	return FundingOutcome{Funded: true, PriorBalance: balance}, nil
}
