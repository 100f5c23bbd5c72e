package gateway

import "fmt"

// ErrorKind classifies provider failures for the orchestrator. None of them
// are retried here; configuration, transport and provider failures degrade
// to the fallback interpretation, rate limits surface to the caller.
type ErrorKind int

const (
	KindConfiguration ErrorKind = iota // missing/invalid credentials
	KindRateLimit                      // provider signaled quota exhaustion
	KindTransport                      // network or timeout failure
	KindProvider                       // non-2xx or malformed envelope
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindRateLimit:
		return "rate_limit"
	case KindTransport:
		return "transport"
	default:
		return "provider"
	}
}

type GatewayError struct {
	Kind ErrorKind
	Err  error
}

func (e *GatewayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway %s error", e.Kind)
	}
	return fmt.Sprintf("gateway %s error: %v", e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
