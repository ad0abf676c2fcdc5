package push

import "errors"

var (
	// ErrGatewayUnavailable indicates the gateway could not be reached.
	ErrGatewayUnavailable = errors.New("push: gateway unavailable")

	// ErrTokenRejected indicates the gateway rejected the device token.
	ErrTokenRejected = errors.New("push: token rejected")

	// ErrGatewayError indicates an unexpected gateway response.
	ErrGatewayError = errors.New("push: gateway error")
)
