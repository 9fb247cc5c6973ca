// Package facilitator talks to the external payment verification and
// settlement services. A facilitator owns the chain RPC details; this package
// only submits proofs and normalizes the service's divergent response
// vocabulary into two stable outcomes: verified and settled.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	pay "github.com/0xgaut85/r1x-pay"
)

// Verifier checks a payment proof against a facilitator. An unverified
// payment is a business outcome carried in the result, never an error; the
// error return is reserved for transport and configuration failures.
type Verifier interface {
	Verify(ctx context.Context, proof *pay.PaymentProof, merchant string) (*VerifyResult, error)
}

// Settler requests on-chain settlement for a verified proof. Settle is safe
// to call twice for the same proof; the facilitator is the source of truth
// for whether settlement already happened.
type Settler interface {
	Settle(ctx context.Context, proof *pay.PaymentProof, merchant string) (*SettleResult, error)
}

// VerifyResult is the normalized verify outcome.
type VerifyResult struct {
	Verified bool
	Reason   string
}

// SettleResult is the normalized settle outcome. SettlementHash, when
// present, supersedes the proof's submission-time transaction hash.
type SettleResult struct {
	Settled        bool
	Reason         string
	SettlementHash string
}

const defaultRequestTimeout = 60 * time.Second

// client is the HTTP plumbing shared by the chain-specific facilitators.
type client struct {
	baseURL    string
	httpClient *http.Client
	username   string
	password   string
	log        *zap.Logger
}

// Option configures a facilitator client.
type Option func(*client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *client) { cl.httpClient = c }
}

// WithBasicAuth attaches Basic-auth credentials to every request.
func WithBasicAuth(username, password string) Option {
	return func(cl *client) { cl.username, cl.password = username, password }
}

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(cl *client) { cl.log = log }
}

func newClient(baseURL string, opts ...Option) *client {
	cl := &client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// post sends one JSON request and returns the raw status and body. Only
// transport failures error; HTTP error statuses are normalized by the caller.
func (c *client) post(ctx context.Context, path string, payload interface{}) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, pay.Errorf(pay.ErrCodeValidation, "encode facilitator payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, pay.Errorf(pay.ErrCodeConfiguration, "bad facilitator URL %q: %v", c.baseURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, pay.Errorf(pay.ErrCodeNetwork, "facilitator request to %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, pay.Errorf(pay.ErrCodeNetwork, "read facilitator response: %v", err)
	}
	return resp.StatusCode, raw, nil
}

// verify runs the shared precondition check, posts the chain-specific
// payload, and normalizes the response.
func (c *client) verify(ctx context.Context, proof *pay.PaymentProof, payload interface{}) (*VerifyResult, error) {
	if err := proof.Validate(); err != nil {
		// invalid proofs never reach the facilitator
		return &VerifyResult{Verified: false, Reason: err.Error()}, nil
	}

	status, body, err := c.post(ctx, "/verify", payload)
	if err != nil {
		return nil, err
	}

	ok, reason := normalizeOutcome(status, body, "verified")
	if !ok {
		c.log.Info("facilitator declined verification",
			zap.String("transactionHash", proof.TransactionHash),
			zap.String("reason", reason))
	}
	return &VerifyResult{Verified: ok, Reason: reason}, nil
}

// settle posts the chain-specific payload and normalizes the response,
// additionally extracting the final settlement hash when present.
func (c *client) settle(ctx context.Context, proof *pay.PaymentProof, payload interface{}) (*SettleResult, error) {
	if err := proof.Validate(); err != nil {
		return &SettleResult{Settled: false, Reason: err.Error()}, nil
	}

	status, body, err := c.post(ctx, "/settle", payload)
	if err != nil {
		return nil, err
	}

	ok, reason := normalizeOutcome(status, body, "settled")
	result := &SettleResult{Settled: ok, Reason: reason}
	if ok {
		if receipt := pay.ParseReceipt(string(body)); receipt != nil {
			result.SettlementHash = receipt.Hash()
		}
	}
	return result, nil
}

// normalizeOutcome maps the small closed set of known facilitator response
// shapes onto one boolean. Recognized success shapes: {<verb>: true},
// {success: true}, {status: "<verb>"}, and a 200 with a non-JSON body. Any
// other shape is a failure with the best reason the body offers.
func normalizeOutcome(status int, body []byte, verb string) (bool, string) {
	var obj map[string]interface{}
	jsonBody := json.Unmarshal(body, &obj) == nil

	if status >= 200 && status < 300 {
		if !jsonBody {
			// some facilitators answer a bare 200 on success
			return true, ""
		}
		if obj[verb] == true || obj["success"] == true || obj["status"] == verb {
			return true, ""
		}
		return false, extractReason(obj, status, body)
	}

	if jsonBody {
		return false, extractReason(obj, status, body)
	}
	return false, fmt.Sprintf("HTTP %d: %s", status, body)
}

// extractReason probes the known failure-detail keys in preference order.
func extractReason(obj map[string]interface{}, status int, body []byte) string {
	for _, key := range []string{"reason", "error", "message", "details"} {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return fmt.Sprintf("HTTP %d: %s", status, body)
}
