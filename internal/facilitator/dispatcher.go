package facilitator

import (
	"context"

	"go.uber.org/zap"

	"github.com/localx402/facilitator/internal/chain"
	"github.com/localx402/facilitator/internal/x402"
)

// Engine is the scheme engine that performs the actual payment verification
// and settlement against a chain client. Its internals (signature checks,
// transaction construction) are outside this package's concern.
type Engine interface {
	Verify(ctx context.Context, client *chain.Client, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.VerifyResponse, error)
	Settle(ctx context.Context, client *chain.Client, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.SettleResponse, error)
}

// Upstream is the hosted facilitator used when no chain endpoint is
// configured at all. *upstream.Client satisfies it.
type Upstream interface {
	Verify(ctx context.Context, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.VerifyResponse, error)
	Settle(ctx context.Context, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.SettleResponse, error)
}

// Dispatcher combines the resolver, provisioner, and balance assurance, then
// delegates to the scheme engine (or the upstream facilitator).
type Dispatcher struct {
	state    *State
	funder   *Funder
	engine   Engine
	upstream Upstream
	log      *zap.Logger

	// Dial points are swappable in tests.
	dialRead func(ctx context.Context, rawurl string) (*chain.Client, error)
	dialSign func(ctx context.Context, rawurl, privKeyHex string) (*chain.Client, error)
}

func NewDispatcher(state *State, funder *Funder, engine Engine, up Upstream, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		state:    state,
		funder:   funder,
		engine:   engine,
		upstream: up,
		log:      log,
		dialRead: chain.NewClient,
		dialSign: chain.NewSigningClient,
	}
}

func requestContext(opts *x402.FacilitatorOptions) RequestContext {
	if opts == nil {
		return RequestContext{}
	}
	return RequestContext{Override: opts.RPCURL, SkipBalanceCheck: opts.SkipBalanceCheck}
}

// Verify verifies a payment authorization. Read-only: no on-chain state
// changes.
func (d *Dispatcher) Verify(ctx context.Context, req *x402.VerifyRequest) (*x402.VerifyResponse, error) {
	if err := d.state.check(); err != nil {
		return nil, err
	}

	dec := Resolve(d.state.Mode(), d.state.FixedRPC(), requestContext(req.FacilitatorOptions))
	if dec.Source == SourceUpstream {
		return d.upstream.Verify(ctx, req.PaymentPayload, req.PaymentRequirements)
	}

	endpoint, err := d.endpoint(ctx, dec)
	if err != nil {
		return nil, err
	}

	client, err := d.dialRead(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if dec.CheckBalance {
		d.assureBalances(ctx, client)
	}
	return d.engine.Verify(ctx, client, req.PaymentPayload, req.PaymentRequirements)
}

// Settle executes a verified payment on-chain. This causes an irreversible
// state change on the resolved network.
func (d *Dispatcher) Settle(ctx context.Context, req *x402.SettleRequest) (*x402.SettleResponse, error) {
	if err := d.state.check(); err != nil {
		return nil, err
	}

	dec := Resolve(d.state.Mode(), d.state.FixedRPC(), requestContext(req.FacilitatorOptions))
	if dec.Source == SourceUpstream {
		return d.upstream.Settle(ctx, req.PaymentPayload, req.PaymentRequirements)
	}

	endpoint, err := d.endpoint(ctx, dec)
	if err != nil {
		return nil, err
	}

	client, err := d.dialSign(ctx, endpoint, d.state.PrivateKeyHex())
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if dec.CheckBalance {
		d.assureBalances(ctx, client)
	}
	return d.engine.Settle(ctx, client, req.PaymentPayload, req.PaymentRequirements)
}

func (d *Dispatcher) endpoint(ctx context.Context, dec Decision) (string, error) {
	if dec.Source == SourceSandbox {
		return d.state.SandboxEndpoint(ctx)
	}
	return dec.Endpoint, nil
}

// assureBalances runs balance assurance opportunistically. Failures are
// warnings, never a precondition gate for the protocol call.
func (d *Dispatcher) assureBalances(ctx context.Context, client BalanceClient) {
	if _, err := d.funder.EnsureFacilitatorFunded(ctx, client); err != nil {
		d.log.Warn("facilitator balance assurance failed", zap.Error(err))
	}
	if _, err := d.funder.EnsureTestWalletFunded(ctx, client); err != nil {
		d.log.Warn("test account balance assurance failed", zap.Error(err))
	}
}
