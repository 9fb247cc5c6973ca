package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	pay "github.com/0xgaut85/r1x-pay"
)

// EndpointSource resolves the Solana RPC endpoint at runtime from a
// server-provided config endpoint, so the URL can rotate without a redeploy.
// The first successful fetch is cached for the life of the process; fetch
// failures are retried on the next call rather than cached.
type EndpointSource struct {
	configURL  string
	httpClient *http.Client
	log        *zap.Logger

	mu       sync.Mutex
	endpoint string
}

// EndpointOption configures an EndpointSource.
type EndpointOption func(*EndpointSource)

// WithEndpointHTTPClient replaces the HTTP client used to fetch the config.
func WithEndpointHTTPClient(c *http.Client) EndpointOption {
	return func(e *EndpointSource) { e.httpClient = c }
}

// WithEndpointLogger attaches a logger.
func WithEndpointLogger(log *zap.Logger) EndpointOption {
	return func(e *EndpointSource) { e.log = log }
}

// NewEndpointSource creates a source that fetches the RPC URL from configURL.
func NewEndpointSource(configURL string, opts ...EndpointOption) *EndpointSource {
	e := &EndpointSource{
		configURL:  configURL,
		httpClient: http.DefaultClient,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StaticEndpoint returns a source pre-resolved to a fixed RPC URL. Used in
// tests and for operators who bake the endpoint into the environment.
func StaticEndpoint(rpcURL string) *EndpointSource {
	return &EndpointSource{endpoint: rpcURL, log: zap.NewNop()}
}

// Endpoint returns the cached RPC URL, fetching it on first use.
func (e *EndpointSource) Endpoint(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.endpoint != "" {
		return e.endpoint, nil
	}
	if e.configURL == "" {
		return "", pay.Errorf(pay.ErrCodeConfiguration, "no Solana RPC endpoint or config URL set")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.configURL, nil)
	if err != nil {
		return "", pay.Errorf(pay.ErrCodeConfiguration, "bad Solana config URL %q: %v", e.configURL, err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", pay.Errorf(pay.ErrCodeNetwork, "fetch Solana RPC config: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", pay.Errorf(pay.ErrCodeNetwork, "Solana RPC config endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", pay.Errorf(pay.ErrCodeNetwork, "read Solana RPC config: %v", err)
	}

	var cfg struct {
		RPCURL string `json:"rpcUrl"`
	}
	if err := json.Unmarshal(body, &cfg); err != nil || cfg.RPCURL == "" {
		return "", pay.Errorf(pay.ErrCodeConfiguration, "Solana RPC config has no rpcUrl: %s", body)
	}

	e.endpoint = cfg.RPCURL
	e.log.Info("resolved Solana RPC endpoint", zap.String("rpcUrl", cfg.RPCURL))
	return e.endpoint, nil
}

// Client builds an RPC client for the resolved endpoint.
func (e *EndpointSource) Client(ctx context.Context) (*rpc.Client, error) {
	endpoint, err := e.Endpoint(ctx)
	if err != nil {
		return nil, err
	}
	return rpc.New(endpoint), nil
}

// String implements fmt.Stringer without triggering a fetch.
func (e *EndpointSource) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.endpoint != "" {
		return e.endpoint
	}
	return fmt.Sprintf("unresolved(%s)", e.configURL)
}
