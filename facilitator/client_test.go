package facilitator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pay "github.com/0xgaut85/r1x-pay"
)

const testMerchant = "0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc"

func evmProof() *pay.PaymentProof {
	return &pay.PaymentProof{
		TransactionHash: "0xabc123",
		From:            "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		To:              testMerchant,
		Amount:          "1000000",
		Token:           pay.USDCAddressBase,
		ChainID:         pay.ChainIDBase,
	}
}

func solanaProof() *pay.PaymentProof {
	return &pay.PaymentProof{
		TransactionHash: "5VERYrealLookingBase58Signature111111111111",
		From:            "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
		To:              "7S3P4HxJpyyigGzodYwHtCxZyUQe9JiBMHyRWXArAaKv",
		Amount:          "250000",
		Token:           pay.USDCMintSolana,
		ChainID:         pay.ChainIDSolana,
	}
}

func TestVerifyShapeTolerance(t *testing.T) {
	for _, tc := range []struct {
		name     string
		status   int
		body     string
		verified bool
		reason   string
	}{
		{"verified true", 200, `{"verified":true}`, true, ""},
		{"success true", 200, `{"success":true}`, true, ""},
		{"status verified", 200, `{"status":"verified"}`, true, ""},
		{"non-JSON 200", 200, `OK`, true, ""},
		{"verified false with reason", 200, `{"verified":false,"reason":"signature invalid"}`, false, "signature invalid"},
		{"error key", 200, `{"verified":false,"error":"amount mismatch"}`, false, "amount mismatch"},
		{"message key", 400, `{"message":"malformed proof"}`, false, "malformed proof"},
		{"details key", 200, `{"success":false,"details":"expired quote"}`, false, "expired quote"},
		{"bare 500", 500, `boom`, false, "HTTP 500: boom"},
		{"unknown shape", 200, `{"state":"pending"}`, false, `HTTP 200: {"state":"pending"}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/verify", r.URL.Path)
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client, err := NewEVMClient(server.URL)
			require.NoError(t, err)

			result, err := client.Verify(context.Background(), evmProof(), testMerchant)
			require.NoError(t, err, "non-verification is a result, not an error")
			assert.Equal(t, tc.verified, result.Verified)
			assert.Equal(t, tc.reason, result.Reason)
		})
	}
}

func TestVerifyEVMPayload(t *testing.T) {
	var got evmPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"verified":true}`))
	}))
	defer server.Close()

	client, err := NewEVMClient(server.URL)
	require.NoError(t, err)

	proof := evmProof()
	_, err = client.Verify(context.Background(), proof, testMerchant)
	require.NoError(t, err)

	assert.Equal(t, proof.TransactionHash, got.TransactionHash)
	assert.Equal(t, pay.ChainIDBase, got.ChainID)
	assert.Equal(t, proof.Token, got.Token)
	assert.Equal(t, proof.Amount, got.Amount)
	assert.Equal(t, testMerchant, got.Merchant)
	assert.Equal(t, proof.From, got.Payer)
}

func TestVerifySolanaPayload(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"verified":true}`))
	}))
	defer server.Close()

	proof := solanaProof()
	_, err := NewSolanaClient(server.URL).Verify(context.Background(), proof, proof.To)
	require.NoError(t, err)

	// Solana vocabulary: signature, not transactionHash; chain sentinel 0
	assert.Equal(t, proof.TransactionHash, got["signature"])
	assert.NotContains(t, got, "transactionHash")
	assert.EqualValues(t, 0, got["chainId"])
}

func TestVerifySelfPaymentNeverReachesFacilitator(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"verified":true}`))
	}))
	defer server.Close()

	client, err := NewEVMClient(server.URL)
	require.NoError(t, err)

	proof := evmProof()
	proof.To = proof.From

	result, err := client.Verify(context.Background(), proof, testMerchant)
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.NotEmpty(t, result.Reason)
	assert.Zero(t, hits.Load(), "self-payment must short-circuit before any network call")
}

func TestVerifySelfPaymentCaseInsensitiveOnEVM(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"verified":true}`))
	}))
	defer server.Close()

	client, err := NewEVMClient(server.URL)
	require.NoError(t, err)

	proof := evmProof()
	proof.To = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8" // same as From, lowercased

	result, err := client.Verify(context.Background(), proof, testMerchant)
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Zero(t, hits.Load())
}

func TestVerifyBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "api-key-id", user)
		assert.Equal(t, "api-key-secret", pass)
		w.Write([]byte(`{"verified":true}`))
	}))
	defer server.Close()

	client, err := NewEVMClient(server.URL, WithBasicAuth("api-key-id", "api-key-secret"))
	require.NoError(t, err)

	result, err := client.Verify(context.Background(), evmProof(), testMerchant)
	require.NoError(t, err)
	assert.True(t, result.Verified)
}

func TestVerifyTransportFailureIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // connection refused from here on

	client, err := NewEVMClient(server.URL)
	require.NoError(t, err)

	_, err = client.Verify(context.Background(), evmProof(), testMerchant)
	require.Error(t, err)
	assert.Equal(t, pay.ErrCodeNetwork, pay.CodeOf(err))
}

func TestSettleExtractsSettlementHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/settle", r.URL.Path)
		w.Write([]byte(`{"settled":true,"settlementHash":"0xfinal"}`))
	}))
	defer server.Close()

	client, err := NewEVMClient(server.URL)
	require.NoError(t, err)

	result, err := client.Settle(context.Background(), evmProof(), testMerchant)
	require.NoError(t, err)
	assert.True(t, result.Settled)
	assert.Equal(t, "0xfinal", result.SettlementHash)
}

func TestSettleToleratesAlternateShapes(t *testing.T) {
	for _, tc := range []struct {
		name    string
		body    string
		settled bool
		hash    string
	}{
		{"success key", `{"success":true,"transaction":"0xfromtxfield"}`, true, "0xfromtxfield"},
		{"status key", `{"status":"settled"}`, true, ""},
		{"declined with reason", `{"settled":false,"reason":"already settled elsewhere"}`, false, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client, err := NewEVMClient(server.URL)
			require.NoError(t, err)

			result, err := client.Settle(context.Background(), evmProof(), testMerchant)
			require.NoError(t, err)
			assert.Equal(t, tc.settled, result.Settled)
			assert.Equal(t, tc.hash, result.SettlementHash)
		})
	}
}

func TestNewEVMClientRequiresURL(t *testing.T) {
	_, err := NewEVMClient("")
	require.Error(t, err)
	assert.Equal(t, pay.ErrCodeConfiguration, pay.CodeOf(err))
}

func TestNewSolanaClientDefaultsURL(t *testing.T) {
	client := NewSolanaClient("")
	assert.Equal(t, DefaultSolanaFacilitatorURL, client.baseURL)
}
