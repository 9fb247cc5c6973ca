package evm

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	pay "github.com/0xgaut85/r1x-pay"
)

// Quote is the parsed body of a 402 response from a paid endpoint.
type Quote struct {
	Amount      string // atomic units, decimal string
	Token       string
	Merchant    string
	Facilitator string
	ChainID     int64
	Deadline    int64 // unix seconds, zero when the server sent none
	Nonce       string
	Delivery    string // "header" (default) or "body"
}

type wireQuote struct {
	Amount      json.RawMessage `json:"amount"`
	Token       string          `json:"token"`
	Merchant    string          `json:"merchant"`
	PayTo       string          `json:"payTo"`
	Facilitator string          `json:"facilitator"`
	ChainID     int64           `json:"chainId"`
	Deadline    int64           `json:"deadline"`
	Nonce       string          `json:"nonce"`
	Delivery    string          `json:"delivery"`
}

// ParseQuote decodes a 402 quote body. Amounts arrive either as atomic-unit
// integers or as "$X.XX" human strings; both normalize to atomic units.
// Missing amount, token, or merchant is a quote_parse_error.
func ParseQuote(body []byte) (*Quote, error) {
	var wire wireQuote
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, pay.Errorf(pay.ErrCodeQuoteParse, "402 body is not JSON: %v", err)
	}

	merchant := wire.Merchant
	if merchant == "" {
		merchant = wire.PayTo
	}

	amount, err := normalizeAmount(wire.Amount)
	if err != nil {
		return nil, err
	}

	if amount == "" || wire.Token == "" || merchant == "" {
		return nil, pay.Errorf(pay.ErrCodeQuoteParse,
			"quote missing required fields (amount=%q token=%q merchant=%q)",
			amount, wire.Token, merchant)
	}

	chainID := wire.ChainID
	if chainID == 0 {
		chainID = pay.ChainIDBase
	}
	delivery := wire.Delivery
	if delivery == "" {
		delivery = DeliveryHeader
	}

	return &Quote{
		Amount:      amount,
		Token:       strings.ToLower(wire.Token),
		Merchant:    strings.ToLower(merchant),
		Facilitator: wire.Facilitator,
		ChainID:     chainID,
		Deadline:    wire.Deadline,
		Nonce:       wire.Nonce,
		Delivery:    delivery,
	}, nil
}

// normalizeAmount accepts an atomic integer (number or string) or a
// dollar-prefixed human amount and returns atomic units assuming USDC's six
// decimals.
func normalizeAmount(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Numeric amount.
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", pay.Errorf(pay.ErrCodeQuoteParse, "unparseable amount %s", raw)
		}
		s = n.String()
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}

	if strings.HasPrefix(s, "$") {
		human, err := decimal.NewFromString(strings.TrimPrefix(s, "$"))
		if err != nil {
			return "", pay.Errorf(pay.ErrCodeQuoteParse, "unparseable dollar amount %q", s)
		}
		atomic := human.Shift(pay.USDCDecimals)
		if !atomic.IsInteger() {
			return "", pay.Errorf(pay.ErrCodeQuoteParse, "amount %q has sub-atomic precision", s)
		}
		if atomic.IsNegative() {
			return "", pay.Errorf(pay.ErrCodeQuoteParse, "amount %q is negative", s)
		}
		return atomic.String(), nil
	}

	atomic, err := decimal.NewFromString(s)
	if err != nil || !atomic.IsInteger() || atomic.IsNegative() {
		return "", pay.Errorf(pay.ErrCodeQuoteParse, "amount %q is not a non-negative atomic integer", s)
	}
	return atomic.String(), nil
}
