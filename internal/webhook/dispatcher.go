package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/primal-host/consorcio/internal/metrics"
)

// Names of the webhooks the service calls.
const (
	SendVerificationEmail = "send-verification-email"
	SendOwnerInvitation   = "send-owner-invitation"
)

// ErrRejected means the workflow answered {"success": false}.
var ErrRejected = errors.New("webhook: rejected by workflow")

// Response is the envelope workflows answer with. An empty body counts
// as success.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Lookup resolves a webhook by name.
type Lookup interface {
	GetByName(ctx context.Context, name string) (*Webhook, error)
}

// Dispatcher POSTs JSON payloads to registered webhooks with a bounded
// timeout.
type Dispatcher struct {
	hooks      Lookup
	client     *http.Client
	production bool
	log        *zap.Logger
	metrics    *metrics.Metrics
}

func NewDispatcher(hooks Lookup, timeout time.Duration, production bool, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		hooks:      hooks,
		client:     &http.Client{Timeout: timeout},
		production: production,
		log:        logger,
		metrics:    m,
	}
}

// Send posts payload to the named webhook and decodes the envelope.
func (d *Dispatcher) Send(ctx context.Context, name string, payload any) (resp *Response, err error) {
	started := time.Now()
	defer func() { d.metrics.ObserveWebhook(name, err, started) }()

	hook, err := d.hooks.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("webhook: marshal %s payload: %w", name, err)
	}

	url := hook.URL(d.production)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook: POST %s: %w", name, err)
	}
	defer httpResp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook: %s returned %d: %s", name, httpResp.StatusCode, truncate(respBody, 256))
	}

	out := &Response{Success: true}
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, fmt.Errorf("webhook: %s: decode response: %w", name, err)
		}
	}
	if !out.Success {
		return out, fmt.Errorf("%w: %s: %s", ErrRejected, name, out.Error)
	}

	d.log.Debug("webhook delivered", zap.String("webhook", name), zap.Int("status", httpResp.StatusCode))
	return out, nil
}

// VerificationEmail is the payload of the verification email workflow.
type VerificationEmail struct {
	UserEmail string `json:"userEmail"`
	FirstName string `json:"firstName"`
	Subject   string `json:"subject"`
	Code      string `json:"code"`
	ExpiresAt string `json:"expiresAt"`
}

// SendVerificationEmail asks the workflow engine to email a verification
// code.
func (d *Dispatcher) SendVerificationEmail(ctx context.Context, email, firstName, code string, expiresAt time.Time) error {
	_, err := d.Send(ctx, SendVerificationEmail, VerificationEmail{
		UserEmail: email,
		FirstName: firstName,
		Subject:   "Email verification",
		Code:      code,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
	return err
}

// OwnerInvitation is the payload of the owner invitation workflow, which
// delivers the registration link and code over WhatsApp.
type OwnerInvitation struct {
	Phone      string `json:"whatsappNumber"`
	FirstName  string `json:"firstName"`
	UnitNumber string `json:"unitNumber"`
	Token      string `json:"token"`
	Code       string `json:"verifyCode"`
	ExpiresAt  string `json:"expiresAt"`
}

// SendOwnerInvitation asks the workflow engine to deliver an owner
// invitation.
func (d *Dispatcher) SendOwnerInvitation(ctx context.Context, phone, firstName, unit, token, code string, expiresAt time.Time) error {
	_, err := d.Send(ctx, SendOwnerInvitation, OwnerInvitation{
		Phone:      phone,
		FirstName:  firstName,
		UnitNumber: unit,
		Token:      token,
		Code:       code,
		ExpiresAt:  expiresAt.UTC().Format(time.RFC3339),
	})
	return err
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
