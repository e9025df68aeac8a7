package types

import "errors"

// Stable errors surfaced across the service boundary. Handlers map these to
// HTTP statuses; internal causes are logged, wrapped and never leaked raw.
var (
	ErrInvalidArgument        = errors.New("missing or invalid argument")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrStaleTimestamp         = errors.New("signed timestamp outside freshness window")
	ErrQuotaExceeded          = errors.New("monthly gas quota exceeded")
	ErrDuplicateAuthorization = errors.New("relay authorization already used")
	ErrDelegationExists       = errors.New("delegation already exists for this pair")
	ErrGasEstimationFailed    = errors.New("gas estimation failed")
	ErrUpstreamFailure        = errors.New("upstream service unavailable")
)
