package facilitator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/localx402/facilitator/internal/chain"
	"github.com/localx402/facilitator/internal/config"
	"github.com/localx402/facilitator/internal/tenderly"
	"github.com/localx402/facilitator/internal/testrpc"
	"github.com/localx402/facilitator/internal/x402"
)

// ── Mock engine and upstream ──────────────────────────────────────────────────

type mockEngine struct {
	mu          sync.Mutex
	verifyCalls int
	settleCalls int
}

func (m *mockEngine) Verify(ctx context.Context, client *chain.Client, pp *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyCalls++
	return &x402.VerifyResponse{IsValid: true, Payer: "0xpayer"}, nil
}

func (m *mockEngine) Settle(ctx context.Context, client *chain.Client, pp *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.SettleResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleCalls++
	return &x402.SettleResponse{Success: true, Transaction: "0xabc", Network: pp.Network}, nil
}

type mockUpstream struct {
	verifyCalls int
	settleCalls int
}

func (m *mockUpstream) Verify(ctx context.Context, pp *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	m.verifyCalls++
	return &x402.VerifyResponse{IsValid: true, Payer: "0xupstream"}, nil
}

func (m *mockUpstream) Settle(ctx context.Context, pp *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.SettleResponse, error) {
	m.settleCalls++
	return &x402.SettleResponse{Success: true, Payer: "0xupstream"}, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func paymentRequest(opts *x402.FacilitatorOptions) *x402.VerifyRequest {
	return &x402.VerifyRequest{
		PaymentPayload:      &x402.PaymentPayload{X402Version: 1, Scheme: "exact", Network: "base"},
		PaymentRequirements: &x402.PaymentRequirements{Scheme: "exact", Network: "base"},
		FacilitatorOptions:  opts,
	}
}

// dialRecorder wraps the real dial funcs, recording every endpoint dialed.
type dialRecorder struct {
	mu   sync.Mutex
	urls []string
}

func (r *dialRecorder) record(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
}

func (r *dialRecorder) dialed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.urls...)
}

func newTestDispatcher(t *testing.T, s *State, engine Engine, up Upstream) (*Dispatcher, *dialRecorder) {
	t.Helper()
	d := NewDispatcher(s, NewFunder(s, zap.NewNop()), engine, up, zap.NewNop())
	rec := &dialRecorder{}
	d.dialRead = func(ctx context.Context, rawurl string) (*chain.Client, error) {
		rec.record(rawurl)
		return chain.NewClient(ctx, rawurl)
	}
	d.dialSign = func(ctx context.Context, rawurl, key string) (*chain.Client, error) {
		rec.record(rawurl)
		return chain.NewSigningClient(ctx, rawurl, key)
	}
	return d, rec
}

func productionState(t *testing.T) *State {
	t.Helper()
	cfg := &config.Config{Mode: config.ModeProduction}
	cfg.Facilitator.PrivateKey = testKey
	s, err := NewState(cfg, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	return s
}

// fundedNode serves eth_getBalance with the given wei balance and accepts
// tenderly_addBalance, recording top-up amounts.
func fundedNode(t *testing.T, balanceWei string) (*testrpc.Server, *[]string) {
	t.Helper()
	node := testrpc.New()
	t.Cleanup(node.Close)

	topUps := &[]string{}
	var mu sync.Mutex
	node.Handle("eth_getBalance", func(params []json.RawMessage) (any, error) {
		return balanceWei, nil
	})
	node.Handle("tenderly_addBalance", func(params []json.RawMessage) (any, error) {
		var amount string
		if len(params) > 1 {
			json.Unmarshal(params[1], &amount) //nolint:errcheck
		}
		mu.Lock()
		*topUps = append(*topUps, amount)
		mu.Unlock()
		return "0x1", nil
	})
	return node, topUps
}

// ── Verify ────────────────────────────────────────────────────────────────────

func TestVerify_ProductionDelegatesUpstream(t *testing.T) {
	engine := &mockEngine{}
	up := &mockUpstream{}
	d, rec := newTestDispatcher(t, productionState(t), engine, up)

	resp, err := d.Verify(context.Background(), paymentRequest(nil))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !resp.IsValid || resp.Payer != "0xupstream" {
		t.Errorf("response: %+v", resp)
	}
	if up.verifyCalls != 1 || engine.verifyCalls != 0 {
		t.Errorf("delegation: upstream=%d engine=%d", up.verifyCalls, engine.verifyCalls)
	}
	if len(rec.dialed()) != 0 {
		t.Errorf("no chain client should be dialed, got %v", rec.dialed())
	}
}

func TestVerify_OverrideSkipBalanceCheck(t *testing.T) {
	node, _ := fundedNode(t, hexutil.EncodeBig(eth(0)))
	engine := &mockEngine{}
	up := &mockUpstream{}
	d, rec := newTestDispatcher(t, productionState(t), engine, up)

	resp, err := d.Verify(context.Background(), paymentRequest(&x402.FacilitatorOptions{
		RPCURL:           node.URL(),
		SkipBalanceCheck: true,
	}))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !resp.IsValid {
		t.Errorf("response: %+v", resp)
	}
	if engine.verifyCalls != 1 || up.verifyCalls != 0 {
		t.Errorf("delegation: engine=%d upstream=%d", engine.verifyCalls, up.verifyCalls)
	}
	if got := rec.dialed(); len(got) != 1 || got[0] != node.URL() {
		t.Errorf("dialed: %v", got)
	}
	if node.Calls("eth_getBalance") != 0 {
		t.Error("skipBalanceCheck must suppress all balance reads")
	}
	if node.Calls("tenderly_addBalance") != 0 {
		t.Error("skipBalanceCheck must suppress funding")
	}
}

func TestVerify_OverrideLowBalanceTriggersFunding(t *testing.T) {
	node, topUps := fundedNode(t, hexutil.EncodeBig(eth(50)))
	engine := &mockEngine{}
	d, _ := newTestDispatcher(t, productionState(t), engine, &mockUpstream{})

	resp, err := d.Verify(context.Background(), paymentRequest(&x402.FacilitatorOptions{RPCURL: node.URL()}))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !resp.IsValid {
		t.Errorf("response: %+v", resp)
	}
	if engine.verifyCalls != 1 {
		t.Errorf("engine calls: %d", engine.verifyCalls)
	}
	if len(*topUps) != 1 {
		t.Fatalf("top-ups: got %d want 1", len(*topUps))
	}
	if want := hexutil.EncodeBig(eth(10_000)); (*topUps)[0] != want {
		t.Errorf("top-up amount: got %s want %s (10,000 ETH)", (*topUps)[0], want)
	}
}

func TestVerify_FixedEndpointSkipsBalanceCheck(t *testing.T) {
	node, _ := fundedNode(t, hexutil.EncodeBig(eth(0)))

	cfg := &config.Config{Mode: config.ModeFixedEndpoint}
	cfg.Facilitator.PrivateKey = testKey
	cfg.Tenderly.RPC = node.URL()
	s, err := NewState(cfg, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}

	engine := &mockEngine{}
	d, rec := newTestDispatcher(t, s, engine, &mockUpstream{})

	if _, err := d.Verify(context.Background(), paymentRequest(nil)); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got := rec.dialed(); len(got) != 1 || got[0] != node.URL() {
		t.Errorf("dialed: %v", got)
	}
	if node.Calls("eth_getBalance") != 0 {
		t.Error("fixed endpoints are operator-managed; no balance check expected")
	}
}

// ── Settle ────────────────────────────────────────────────────────────────────

func TestSettle_DynamicUsesExistingNetwork(t *testing.T) {
	node, _ := fundedNode(t, hexutil.EncodeBig(eth(500)))

	vnets := &mockVNets{list: []tenderly.VirtualTestNet{adminVNet(node.URL())}}
	s := newTestState(t, vnets)
	engine := &mockEngine{}
	d, rec := newTestDispatcher(t, s, engine, &mockUpstream{})

	resp, err := d.Settle(context.Background(), paymentRequest(nil))
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !resp.Success {
		t.Errorf("response: %+v", resp)
	}
	if engine.settleCalls != 1 {
		t.Errorf("engine settle calls: %d", engine.settleCalls)
	}
	if got := rec.dialed(); len(got) != 1 || got[0] != node.URL() {
		t.Errorf("dialed: %v", got)
	}
	if _, create := vnets.counts(); create != 0 {
		t.Errorf("create calls: got %d want 0 (existing network must be reused)", create)
	}
}

func TestVerifyAndSettle_ShareCachedEndpoint(t *testing.T) {
	node, _ := fundedNode(t, hexutil.EncodeBig(eth(500)))

	vnets := &mockVNets{created: adminVNet(node.URL())}
	s := newTestState(t, vnets)
	d, rec := newTestDispatcher(t, s, &mockEngine{}, &mockUpstream{})

	if _, err := d.Verify(context.Background(), paymentRequest(nil)); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, err := d.Settle(context.Background(), paymentRequest(nil)); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	dialed := rec.dialed()
	if len(dialed) != 2 || dialed[0] != dialed[1] {
		t.Errorf("verify and settle must resolve the same endpoint, dialed %v", dialed)
	}
	list, create := vnets.counts()
	if list != 1 || create != 1 {
		t.Errorf("vendor calls: list=%d create=%d, want 1/1", list, create)
	}
}

func TestSettle_ProvisioningErrorPropagates(t *testing.T) {
	vnets := &mockVNets{listErr: errors.New("vendor down")}
	s := newTestState(t, vnets)
	d, _ := newTestDispatcher(t, s, &mockEngine{}, &mockUpstream{})

	_, err := d.Settle(context.Background(), paymentRequest(nil))
	var provErr *ProvisioningError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProvisioningError, got %v", err)
	}
}

func TestDispatcher_NotInitialized(t *testing.T) {
	d := NewDispatcher(nil, nil, &mockEngine{}, &mockUpstream{}, zap.NewNop())
	if _, err := d.Verify(context.Background(), paymentRequest(nil)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}
