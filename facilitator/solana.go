package facilitator

import (
	"context"

	pay "github.com/0xgaut85/r1x-pay"
)

// DefaultSolanaFacilitatorURL is the documented public Solana facilitator.
// Unlike the EVM side it may be used when no URL is configured.
const DefaultSolanaFacilitatorURL = "https://facilitator.payai.network"

// SolanaClient verifies and settles Solana payments.
type SolanaClient struct {
	*client
}

// NewSolanaClient creates a client for the Solana facilitator. An empty
// baseURL falls back to DefaultSolanaFacilitatorURL.
func NewSolanaClient(baseURL string, opts ...Option) *SolanaClient {
	if baseURL == "" {
		baseURL = DefaultSolanaFacilitatorURL
	}
	return &SolanaClient{client: newClient(baseURL, opts...)}
}

// solanaPayload mirrors evmPayload with the Solana key vocabulary: the
// transaction identifier travels as "signature" and the chain sentinel is 0.
type solanaPayload struct {
	Signature string `json:"signature"`
	ChainID   int64  `json:"chainId"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Merchant  string `json:"merchant"`
	Payer     string `json:"payer"`
}

func newSolanaPayload(proof *pay.PaymentProof, merchant string) solanaPayload {
	return solanaPayload{
		Signature: proof.TransactionHash,
		ChainID:   pay.ChainIDSolana,
		Token:     proof.Token,
		Amount:    proof.Amount,
		Merchant:  merchant,
		Payer:     proof.From,
	}
}

// Verify implements Verifier.
func (c *SolanaClient) Verify(ctx context.Context, proof *pay.PaymentProof, merchant string) (*VerifyResult, error) {
	return c.verify(ctx, proof, newSolanaPayload(proof, merchant))
}

// Settle implements Settler.
func (c *SolanaClient) Settle(ctx context.Context, proof *pay.PaymentProof, merchant string) (*SettleResult, error) {
	return c.settle(ctx, proof, newSolanaPayload(proof, merchant))
}
