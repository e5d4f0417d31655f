// Package x402 holds the wire types of the x402 payment protocol as exchanged
// between resource servers, clients, and facilitators. Only the fields the
// facilitator itself reads are typed; scheme-specific payload bodies stay
// opaque and are forwarded as-is.
package x402

// Version is the protocol version this facilitator speaks.
const Version = 1

// PaymentRequirements is a single payment option from a 402 response.
type PaymentRequirements struct {
	// Scheme is the payment scheme identifier (e.g. "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier (e.g. "base").
	Network string `json:"network"`

	// MaxAmountRequired is the payment amount in atomic units.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Asset is the token contract address.
	Asset string `json:"asset"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// Resource is the URL of the protected resource.
	Resource string `json:"resource"`

	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentPayload is a signed payment submitted for verification or settlement.
// Payload carries the scheme-specific signed data (for the exact EVM scheme,
// an EIP-3009 authorization plus signature) and is not interpreted here.
type PaymentPayload struct {
	X402Version int         `json:"x402Version"`
	Scheme      string      `json:"scheme"`
	Network     string      `json:"network"`
	Payload     interface{} `json:"payload"`
}

// FacilitatorOptions are the per-request extensions this facilitator accepts
// on top of the standard verify/settle bodies.
type FacilitatorOptions struct {
	// RPCURL overrides the chain endpoint for this request only.
	RPCURL string `json:"rpcUrl,omitempty"`

	// SkipBalanceCheck disables balance assurance for this request.
	SkipBalanceCheck bool `json:"skipBalanceCheck,omitempty"`
}

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	X402Version         int                  `json:"x402Version,omitempty"`
	PaymentPayload      *PaymentPayload      `json:"paymentPayload" binding:"required"`
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements" binding:"required"`
	FacilitatorOptions  *FacilitatorOptions  `json:"facilitatorOptions,omitempty"`
}

// SettleRequest is the body of POST /settle (same shape as VerifyRequest).
type SettleRequest = VerifyRequest

// VerifyResponse is the result of payment verification.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the result of payment settlement.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// SupportedKind describes one scheme/network combination a facilitator accepts.
type SupportedKind struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// SupportedResponse is the body of GET /supported.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}
