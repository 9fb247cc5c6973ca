package facilitator

import (
	"context"

	pay "github.com/0xgaut85/r1x-pay"
)

// EVMClient verifies and settles Base payments. The facilitator URL has no
// default; deployments must set it explicitly.
type EVMClient struct {
	*client
}

// NewEVMClient creates a client for the EVM facilitator. An empty baseURL is
// a configuration error, never silently defaulted.
func NewEVMClient(baseURL string, opts ...Option) (*EVMClient, error) {
	if baseURL == "" {
		return nil, pay.Errorf(pay.ErrCodeConfiguration, "EVM facilitator URL is not configured")
	}
	return &EVMClient{client: newClient(baseURL, opts...)}, nil
}

// evmPayload is the verify/settle request body for EVM chains.
type evmPayload struct {
	TransactionHash string `json:"transactionHash"`
	ChainID         int64  `json:"chainId"`
	Token           string `json:"token"`
	Amount          string `json:"amount"`
	Merchant        string `json:"merchant"`
	Payer           string `json:"payer"`
}

func newEVMPayload(proof *pay.PaymentProof, merchant string) evmPayload {
	return evmPayload{
		TransactionHash: proof.TransactionHash,
		ChainID:         proof.ChainID,
		Token:           proof.Token,
		Amount:          proof.Amount,
		Merchant:        merchant,
		Payer:           proof.From,
	}
}

// Verify implements Verifier.
func (c *EVMClient) Verify(ctx context.Context, proof *pay.PaymentProof, merchant string) (*VerifyResult, error) {
	return c.verify(ctx, proof, newEVMPayload(proof, merchant))
}

// Settle implements Settler.
func (c *EVMClient) Settle(ctx context.Context, proof *pay.PaymentProof, merchant string) (*SettleResult, error) {
	return c.settle(ctx, proof, newEVMPayload(proof, merchant))
}
