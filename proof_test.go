package pay

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDecodeFlatProofRoundTrip(t *testing.T) {
	original := &PaymentProof{
		TransactionHash: "0xabc123def456abc123def456abc123def456abc123def456abc123def456abcd",
		From:            "0x1111111111111111111111111111111111111111",
		To:              "0x2222222222222222222222222222222222222222",
		Amount:          "100",
		Token:           USDCAddressBase,
		ChainID:         ChainIDBase,
		Timestamp:       1726000000000,
	}

	codec := NewCodec(zap.NewNop())

	decoded, err := codec.Decode(EncodeHeader(original))
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	// Raw JSON arrives identically.
	raw, _ := json.Marshal(original)
	decoded2, err := codec.Decode(string(raw))
	require.NoError(t, err)
	assert.Equal(t, original, decoded2)
}

func TestDecodeFlatProofSignatureAlias(t *testing.T) {
	header := `{
		"signature": "5wHu1qwD4kF3XW8rk8F5ssRrVhLJoXhYdF3tMqsJD4nHqopJGVYgFAbhWQZZAVYtPxQXWJjBc6UE6sqFEDf6Pmh7",
		"from": "7Np41oeYqT6NAb6c5KKUZ7JpMOIrkNza9zCmkNJWDuGq",
		"to": "9xQFzW8rk8F5ssRrVhLJoXhYdF3tMqsJD4nHqopJGVYg",
		"amount": "250000",
		"chainId": 0
	}`

	proof, err := NewCodec(nil).Decode(header)
	require.NoError(t, err)
	assert.Equal(t, ChainIDSolana, proof.ChainID)
	assert.Equal(t, USDCMintSolana, proof.Token)
	// Solana addresses keep their case.
	assert.Equal(t, "7Np41oeYqT6NAb6c5KKUZ7JpMOIrkNza9zCmkNJWDuGq", proof.From)
	assert.True(t, strings.HasPrefix(proof.TransactionHash, "5wHu"))
}

func newAuthorizationHeader(t *testing.T, network string) string {
	t.Helper()
	payload := map[string]interface{}{
		"x402Version": 1,
		"network":     network,
		"payload": map[string]interface{}{
			"signature": "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef1b",
			"authorization": map[string]interface{}{
				"from":        "0xAaAA111111111111111111111111111111111111",
				"to":          "0xBbBB222222222222222222222222222222222222",
				"value":       "250000",
				"validAfter":  1726000000,
				"validBefore": 1726000600,
				"nonce":       "0x0101010101010101010101010101010101010101010101010101010101010101",
			},
		},
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(data)
}

func TestDecodeAuthorizationShape(t *testing.T) {
	header := newAuthorizationHeader(t, "base-sepolia")

	proof, err := NewCodec(zap.NewNop()).Decode(header)
	require.NoError(t, err)

	assert.Equal(t, ChainIDBaseSepolia, proof.ChainID)
	assert.Equal(t, "250000", proof.Amount)
	assert.True(t, proof.Synthesized)
	// EVM addresses are normalized to lowercase.
	assert.Equal(t, "0xaaaa111111111111111111111111111111111111", proof.From)
	assert.True(t, strings.HasPrefix(proof.TransactionHash, "0x"))
	// validAfter seconds become millis.
	assert.Equal(t, int64(1726000000000), proof.Timestamp)
}

// Decoding the same authorization payload twice must produce the same
// synthesized hash: it is a pure function of the canonical fields.
func TestDecodeAuthorizationDeterministic(t *testing.T) {
	header := newAuthorizationHeader(t, "base")
	codec := NewCodec(nil)

	first, err := codec.Decode(header)
	require.NoError(t, err)
	second, err := codec.Decode(header)
	require.NoError(t, err)

	assert.Equal(t, first.TransactionHash, second.TransactionHash)
	assert.Equal(t, ChainIDBase, first.ChainID)
}

func TestDecodeAuthorizationURLSafeUnpadded(t *testing.T) {
	standard := newAuthorizationHeader(t, "base")
	urlSafe := strings.TrimRight(standard, "=")
	urlSafe = strings.ReplaceAll(urlSafe, "+", "-")
	urlSafe = strings.ReplaceAll(urlSafe, "/", "_")

	codec := NewCodec(nil)
	fromStandard, err := codec.Decode(standard)
	require.NoError(t, err)
	fromURLSafe, err := codec.Decode(urlSafe)
	require.NoError(t, err)

	assert.Equal(t, fromStandard, fromURLSafe)
}

func TestDecodeUnknownNetworkDefaultsToMainnet(t *testing.T) {
	proof, err := NewCodec(nil).Decode(newAuthorizationHeader(t, "arbitrum-nova"))
	require.NoError(t, err)
	assert.Equal(t, ChainIDBase, proof.ChainID)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	codec := NewCodec(zap.NewNop())
	for _, header := range []string{
		"",
		"not json at all",
		"e30=",                        // base64 of {}
		`{"foo": "bar"}`,              // JSON but no proof fields
		`{"from": "0x1", "to": "0x2"}`, // missing hash and amount
	} {
		_, err := codec.Decode(header)
		require.Error(t, err, "header %q", header)
		assert.Equal(t, ErrCodeDecodeFailed, CodeOf(err))
	}
}

func TestSynthesizeAuthorizationHash(t *testing.T) {
	h1 := SynthesizeAuthorizationHash("0xA", "0xB", "100", "n1", "0xsigsigsigsigsigsigsig")
	h2 := SynthesizeAuthorizationHash("0xa", "0xb", "100", "n1", "0xsigsigsigsigsigsigsig")
	h3 := SynthesizeAuthorizationHash("0xA", "0xB", "101", "n1", "0xsigsigsigsigsigsigsig")

	assert.Equal(t, h1, h2, "hash is case-insensitive over addresses")
	assert.NotEqual(t, h1, h3, "hash changes with the value")
	assert.Len(t, h1, 66)
}

func TestProofValidateSelfPayment(t *testing.T) {
	proof := &PaymentProof{
		TransactionHash: "0xabc",
		From:            "0xAAAA111111111111111111111111111111111111",
		To:              "0xaaaa111111111111111111111111111111111111",
		Amount:          "100",
		ChainID:         ChainIDBase,
	}
	err := proof.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrCodeSelfPayment, CodeOf(err))

	// Same letters different case on Solana are distinct accounts.
	solProof := &PaymentProof{
		TransactionHash: "sig",
		From:            "ABCdef",
		To:              "abcDEF",
		Amount:          "100",
		ChainID:         ChainIDSolana,
	}
	assert.NoError(t, solProof.Validate())
}

func TestParseReceiptProbesKeysInOrder(t *testing.T) {
	r := ParseReceipt(`{"transactionHash":"0x3","transaction":"0x2","settlementHash":"0x1"}`)
	require.NotNil(t, r)
	assert.Equal(t, "0x1", r.Hash())

	r = ParseReceipt(`{"transactionHash":"0x3","transaction":"0x2"}`)
	require.NotNil(t, r)
	assert.Equal(t, "0x2", r.Hash())

	r = ParseReceipt(EncodeReceipt(&Receipt{TransactionHash: "0x3"}))
	require.NotNil(t, r)
	assert.Equal(t, "0x3", r.Hash())

	assert.Nil(t, ParseReceipt("definitely not a receipt"))
	assert.Nil(t, ParseReceipt(""))
	assert.Nil(t, ParseReceipt("{}"))
}
