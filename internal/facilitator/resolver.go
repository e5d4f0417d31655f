package facilitator

import "github.com/localx402/facilitator/internal/config"

// RequestContext carries the per-request routing options. It is never
// persisted; its lifetime is one verify/settle call.
type RequestContext struct {
	// Override is a caller-supplied RPC URL that bypasses default resolution.
	Override string

	// SkipBalanceCheck disables balance assurance for this request.
	SkipBalanceCheck bool
}

// EndpointSource says where the chain endpoint for a request comes from.
type EndpointSource int

const (
	// SourceUpstream means no chain client is built locally; the request is
	// delegated to the hosted facilitator.
	SourceUpstream EndpointSource = iota

	// SourceOverride uses the caller-supplied endpoint.
	SourceOverride

	// SourceFixed uses the operator-configured endpoint.
	SourceFixed

	// SourceSandbox uses the lazily provisioned Virtual TestNet endpoint.
	SourceSandbox
)

// Decision is the outcome of endpoint resolution. For SourceSandbox the
// Endpoint field is empty; the dispatcher obtains it from the provisioner.
type Decision struct {
	Source       EndpointSource
	Endpoint     string
	CheckBalance bool
}

// Resolve maps the per-request context and the process-wide mode to a routing
// decision. Priority: caller override, then fixed endpoint, then sandbox.
// Fixed endpoints are operator-managed and assumed pre-funded, so they skip
// balance assurance. Resolve performs no I/O.
func Resolve(mode config.Mode, fixedRPC string, rc RequestContext) Decision {
	if rc.Override != "" {
		return Decision{
			Source:       SourceOverride,
			Endpoint:     rc.Override,
			CheckBalance: !rc.SkipBalanceCheck,
		}
	}

	switch mode {
	case config.ModeFixedEndpoint:
		return Decision{Source: SourceFixed, Endpoint: fixedRPC, CheckBalance: false}
	case config.ModeDynamicSandbox:
		return Decision{Source: SourceSandbox, CheckBalance: !rc.SkipBalanceCheck}
	default:
		return Decision{Source: SourceUpstream}
	}
}
