package pay

import (
	"encoding/base64"
	"encoding/json"
)

// Receipt is the server's acknowledgment carried in the X-PAYMENT-RESPONSE
// header after a paid request succeeds.
type Receipt struct {
	SettlementHash  string `json:"settlementHash,omitempty"`
	Transaction     string `json:"transaction,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

// Hash returns the most authoritative identifier present, probing
// settlementHash, transaction, then transactionHash.
func (r *Receipt) Hash() string {
	switch {
	case r.SettlementHash != "":
		return r.SettlementHash
	case r.Transaction != "":
		return r.Transaction
	default:
		return r.TransactionHash
	}
}

// ParseReceipt decodes an X-PAYMENT-RESPONSE header value, accepting raw or
// base64-encoded JSON. Returns nil when nothing usable is present; receipt
// decoding is best-effort and must never fail a completed payment.
func ParseReceipt(header string) *Receipt {
	if header == "" {
		return nil
	}
	raw := []byte(header)
	if decoded, err := decodeBase64Loose(header); err == nil && len(decoded) > 0 && decoded[0] == '{' {
		raw = decoded
	}
	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil
	}
	if r.Hash() == "" {
		return nil
	}
	return &r
}

// EncodeReceipt serializes a receipt for the X-PAYMENT-RESPONSE header.
func EncodeReceipt(r *Receipt) string {
	data, _ := json.Marshal(r)
	return base64.StdEncoding.EncodeToString(data)
}
