package evm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	pay "github.com/0xgaut85/r1x-pay"
)

// Payment delivery conventions a quote can declare.
const (
	DeliveryHeader = "header"
	DeliveryBody   = "body"
)

// HeaderPayment carries the signed authorization on the paid retry.
const HeaderPayment = "X-PAYMENT"

// HeaderPaymentResponse carries the server's settlement receipt.
const HeaderPaymentResponse = "X-PAYMENT-RESPONSE"

// DefaultLegTimeout bounds each HTTP leg. The wallet signature step between
// the legs is user-paced and is never subject to this timeout.
const DefaultLegTimeout = 60 * time.Second

// defaultValidityWindow is used when the quote carries no deadline.
const defaultValidityWindow = 10 * time.Minute

// Submitter drives the client side of the x402 retry protocol: probe the
// endpoint, parse the 402 quote, obtain a signed EIP-3009 authorization from
// the wallet, and retry exactly once with the proof attached.
type Submitter struct {
	signer       WalletSigner
	httpClient   *http.Client
	ceiling      *big.Int
	legTimeout   time.Duration
	tokenName    string
	tokenVersion string
	log          *zap.Logger
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithHTTPClient replaces the transport used for both legs.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Submitter) { s.httpClient = c }
}

// WithCeiling sets the maximum atomic amount the submitter will sign for.
// A quote above the ceiling fails before any wallet interaction.
func WithCeiling(atomic string) Option {
	return func(s *Submitter) {
		if v, ok := new(big.Int).SetString(atomic, 10); ok && v.Sign() >= 0 {
			s.ceiling = v
		}
	}
}

// WithLegTimeout overrides the per-leg HTTP timeout.
func WithLegTimeout(d time.Duration) Option {
	return func(s *Submitter) { s.legTimeout = d }
}

// WithTokenDomain overrides the EIP-712 domain name/version used for signing.
func WithTokenDomain(name, version string) Option {
	return func(s *Submitter) { s.tokenName, s.tokenVersion = name, version }
}

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Submitter) { s.log = log }
}

// NewSubmitter creates a Submitter around an injected wallet signer.
func NewSubmitter(signer WalletSigner, opts ...Option) *Submitter {
	s := &Submitter{
		signer:       signer,
		httpClient:   http.DefaultClient,
		legTimeout:   DefaultLegTimeout,
		tokenName:    DefaultTokenName,
		tokenVersion: DefaultTokenVersion,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is the outcome of a paid (or free) request.
type Result struct {
	// Response is the final HTTP response. The caller owns its body.
	Response *http.Response
	// Proof is non-nil when a payment was signed and submitted.
	Proof *pay.PaymentProof
	// Receipt is the decoded X-PAYMENT-RESPONSE header, when present and
	// parseable. Receipt decoding is best-effort.
	Receipt *pay.Receipt
}

// Do performs the x402 flow for one request. A non-402 first response is
// returned as-is; that is the normal free path, not an error. A second 402
// after paying is terminal: the design never loops.
func (s *Submitter) Do(ctx context.Context, req *http.Request) (*Result, error) {
	probe, err := s.roundTrip(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	if probe.StatusCode != http.StatusPaymentRequired {
		return &Result{Response: probe}, nil
	}

	quoteBody, err := io.ReadAll(probe.Body)
	probe.Body.Close()
	if err != nil {
		return nil, pay.Errorf(pay.ErrCodeNetwork, "read 402 body: %v", err)
	}

	quote, err := ParseQuote(quoteBody)
	if err != nil {
		return nil, err
	}

	if err := s.checkCeiling(quote); err != nil {
		return nil, err
	}

	auth, signature, err := s.signForQuote(ctx, quote)
	if err != nil {
		return nil, err
	}

	wire, err := authorizationWire(quote, auth, signature)
	if err != nil {
		return nil, err
	}

	paid, err := s.retryWithPayment(ctx, req, quote, wire)
	if err != nil {
		return nil, err
	}

	if paid.StatusCode == http.StatusPaymentRequired {
		body, _ := io.ReadAll(io.LimitReader(paid.Body, 4096))
		paid.Body.Close()
		return nil, pay.NewPaymentError(pay.ErrCodeRejected,
			"server rejected the signed payment", map[string]interface{}{
				"body": string(body),
			})
	}

	proof := s.buildProof(quote, auth, signature)
	receipt := pay.ParseReceipt(paid.Header.Get(HeaderPaymentResponse))
	if receipt != nil {
		proof.SettlementHash = receipt.SettlementHash
	}

	s.log.Info("payment accepted",
		zap.String("transactionHash", proof.TransactionHash),
		zap.String("amount", proof.Amount),
		zap.Int64("chainId", proof.ChainID),
		zap.Int("status", paid.StatusCode))

	return &Result{Response: paid, Proof: proof, Receipt: receipt}, nil
}

func (s *Submitter) checkCeiling(quote *Quote) error {
	if s.ceiling == nil {
		return nil
	}
	amount, ok := new(big.Int).SetString(quote.Amount, 10)
	if !ok {
		return pay.Errorf(pay.ErrCodeQuoteParse, "quote amount %q is not an integer", quote.Amount)
	}
	if amount.Cmp(s.ceiling) > 0 {
		return pay.NewPaymentError(pay.ErrCodeCeilingExceeded,
			"quoted amount exceeds the spend ceiling", map[string]interface{}{
				"quoted":  quote.Amount,
				"ceiling": s.ceiling.String(),
			})
	}
	return nil
}

// signForQuote requests a signed authorization from the wallet. No timeout
// is applied here; a human may be approving a prompt.
func (s *Submitter) signForQuote(ctx context.Context, quote *Quote) (Authorization, []byte, error) {
	nonce := quote.Nonce
	if nonce == "" {
		generated, err := NewNonce()
		if err != nil {
			return Authorization{}, nil, pay.Errorf(pay.ErrCodeValidation, "%v", err)
		}
		nonce = generated
	}

	now := time.Now().Unix()
	validBefore := quote.Deadline
	if validBefore <= now {
		validBefore = now + int64(defaultValidityWindow.Seconds())
	}

	auth := Authorization{
		From:        s.signer.Address().Hex(),
		To:          quote.Merchant,
		Value:       quote.Amount,
		ValidAfter:  strconv.FormatInt(now-60, 10), // tolerate modest clock skew
		ValidBefore: strconv.FormatInt(validBefore, 10),
		Nonce:       nonce,
	}

	signature, err := s.signer.SignAuthorization(ctx, auth, quote.ChainID, common.HexToAddress(quote.Token))
	if err != nil {
		return Authorization{}, nil, pay.Errorf(pay.ErrCodeSignatureRefused,
			"payment was not approved: %v", err)
	}
	return auth, signature, nil
}

// authorizationWire builds the facilitator-authorization wire shape the
// proof codec understands.
func authorizationWire(quote *Quote, auth Authorization, signature []byte) ([]byte, error) {
	payload := map[string]interface{}{
		"x402Version": 1,
		"network":     networkForChain(quote.ChainID),
		"payload": map[string]interface{}{
			"signature":     "0x" + fmt.Sprintf("%x", signature),
			"authorization": auth,
		},
	}
	return json.Marshal(payload)
}

func (s *Submitter) retryWithPayment(ctx context.Context, req *http.Request, quote *Quote, wire []byte) (*http.Response, error) {
	switch quote.Delivery {
	case DeliveryBody:
		retry, err := http.NewRequest(req.Method, req.URL.String(), bytes.NewReader(wire))
		if err != nil {
			return nil, pay.Errorf(pay.ErrCodeValidation, "build paid retry: %v", err)
		}
		retry.Header = req.Header.Clone()
		retry.Header.Set("Content-Type", "application/json")
		return s.roundTrip(ctx, retry, nil)
	default:
		header := base64.StdEncoding.EncodeToString(wire)
		return s.roundTrip(ctx, req, map[string]string{HeaderPayment: header})
	}
}

// roundTrip executes one HTTP leg under the leg timeout, replaying the body
// via GetBody when the request is reused, and classifies transport failures.
func (s *Submitter) roundTrip(ctx context.Context, req *http.Request, extraHeaders map[string]string) (*http.Response, error) {
	legCtx, cancel := context.WithTimeout(ctx, s.legTimeout)
	// cancel is deliberately deferred to response-body completion by the
	// caller closing the body; a plain defer here would kill the stream.
	leg := req.Clone(legCtx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			cancel()
			return nil, pay.Errorf(pay.ErrCodeValidation, "replay request body: %v", err)
		}
		leg.Body = body
	}
	for k, v := range extraHeaders {
		leg.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(leg) //nolint:bodyclose // caller owns the body
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) || legCtx.Err() == context.DeadlineExceeded {
			return nil, pay.Errorf(pay.ErrCodeTimeout, "request to %s timed out after %s", req.URL, s.legTimeout)
		}
		if errors.Is(err, context.Canceled) {
			return nil, pay.Errorf(pay.ErrCodeTimeout, "request to %s canceled", req.URL)
		}
		return nil, pay.Errorf(pay.ErrCodeNetwork, "request to %s failed: %v", req.URL, err)
	}
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelReadCloser releases the leg context when the body is closed.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (s *Submitter) buildProof(quote *Quote, auth Authorization, signature []byte) *pay.PaymentProof {
	sigHex := "0x" + fmt.Sprintf("%x", signature)
	validAfter, _ := strconv.ParseInt(auth.ValidAfter, 10, 64)
	return &pay.PaymentProof{
		TransactionHash: pay.SynthesizeAuthorizationHash(auth.From, auth.To, auth.Value, auth.Nonce, sigHex),
		From:            pay.EVMAddresses.Normalize(auth.From),
		To:              pay.EVMAddresses.Normalize(auth.To),
		Amount:          auth.Value,
		Token:           quote.Token,
		ChainID:         quote.ChainID,
		Timestamp:       validAfter * 1000,
		Synthesized:     true,
	}
}

func networkForChain(chainID int64) string {
	switch chainID {
	case pay.ChainIDBaseSepolia:
		return "base-sepolia"
	default:
		return "base"
	}
}
