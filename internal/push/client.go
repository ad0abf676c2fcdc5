package push

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/emberlink/emberlink/internal/infrastructure/config"
)

// Transport sends one notification to one device token. Implementations
// must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, token string, payload Payload) (Outcome, error)
}

// pushRequest is the gateway wire format.
type pushRequest struct {
	Token   string  `json:"token"`
	Payload Payload `json:"payload"`
}

// GatewayClient talks to the remote push gateway over HTTPS.
type GatewayClient struct {
	http *resty.Client
}

// NewGatewayClient creates a client for the configured gateway.
func NewGatewayClient(cfg config.PushConfig) *GatewayClient {
	client := resty.New().
		SetBaseURL(cfg.GatewayURL).
		SetTimeout(time.Duration(cfg.Timeout) * time.Second).
		SetHeader("Content-Type", "application/json")

	// Retrying is the Sender's responsibility; the HTTP client makes
	// exactly one attempt per Send.
	client.SetRetryCount(0)

	return &GatewayClient{http: client}
}

// Send pushes one notification and maps the gateway response onto an
// Outcome. Network errors and 5xx/429 responses are transient; 4xx
// token rejections are permanent.
func (c *GatewayClient) Send(ctx context.Context, token string, payload Payload) (Outcome, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(pushRequest{Token: token, Payload: payload}).
		Post("/v1/push")
	if err != nil {
		return OutcomeTransient, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}

	return classifyStatus(resp.StatusCode())
}

// classifyStatus maps an HTTP status onto a delivery outcome.
func classifyStatus(status int) (Outcome, error) {
	switch {
	case status >= 200 && status < 300:
		return OutcomeDelivered, nil
	case status == http.StatusBadRequest,
		status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusNotFound,
		status == http.StatusGone:
		return OutcomePermanent, fmt.Errorf("%w: gateway returned %d", ErrTokenRejected, status)
	case status == http.StatusTooManyRequests || status >= 500:
		return OutcomeTransient, fmt.Errorf("%w: gateway returned %d", ErrGatewayError, status)
	default:
		return OutcomeTransient, fmt.Errorf("%w: unexpected status %d", ErrGatewayError, status)
	}
}
