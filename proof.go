package pay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// Canonical USDC addresses for the supported chains.
const (
	USDCAddressBase        = "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"
	USDCAddressBaseSepolia = "0x036cbd53842c5426634e7929541ec2318f3dcf7e"
	USDCMintSolana         = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// PaymentProof is the chain-agnostic receipt of a payment attempt. It is
// ephemeral: constructed by a submitter or decoded from a wire header, handed
// to the facilitator once, then discarded. The ledger's Transaction row is
// the durable projection.
type PaymentProof struct {
	// TransactionHash identifies the payment transaction in the chain's
	// native form: a hex hash on EVM, a base58 signature on Solana. For
	// facilitator-authorization proofs it is synthesized (see Synthesized)
	// and is a pre-settlement idempotency key, not on-chain finality.
	TransactionHash string `json:"transactionHash"`

	// SettlementHash is set only once facilitator settlement confirms final
	// on-chain commitment. It may differ from TransactionHash.
	SettlementHash string `json:"settlementHash,omitempty"`

	// BlockNumber is EVM-only, zero when unresolved.
	BlockNumber uint64 `json:"blockNumber,omitempty"`

	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"` // atomic units, decimal string
	Token  string `json:"token"`  // contract address or mint

	ChainID   int64 `json:"chainId"`
	Timestamp int64 `json:"timestamp"` // unix millis

	// Synthesized marks a TransactionHash derived from authorization fields
	// rather than observed on-chain.
	Synthesized bool `json:"synthesized,omitempty"`
}

// Validate rejects proofs that must never reach a facilitator. The self-pay
// check uses the chain's address policy so Solana addresses are compared
// case-sensitively.
func (p *PaymentProof) Validate() error {
	if p.TransactionHash == "" {
		return Errorf(ErrCodeValidation, "proof has no transaction hash")
	}
	if p.From == "" || p.To == "" {
		return Errorf(ErrCodeValidation, "proof missing from/to address")
	}
	if PolicyForChain(p.ChainID).Equal(p.From, p.To) {
		return Errorf(ErrCodeSelfPayment, "payer and payee are the same address %s", p.From)
	}
	if p.Amount == "" {
		return Errorf(ErrCodeValidation, "proof has no amount")
	}
	return nil
}

// normalize applies the chain address policy to the address-valued fields.
func (p *PaymentProof) normalize() {
	policy := PolicyForChain(p.ChainID)
	p.From = policy.Normalize(p.From)
	p.To = policy.Normalize(p.To)
	if p.ChainID != ChainIDSolana {
		p.Token = strings.ToLower(p.Token)
	}
}

// EncodeHeader serializes a proof for the X-PAYMENT header (base64 JSON).
func EncodeHeader(p *PaymentProof) string {
	data, _ := json.Marshal(p)
	return base64.StdEncoding.EncodeToString(data)
}

// Codec decodes payment headers. It tolerates three wire shapes without
// foreknowledge of which one arrives: raw JSON matching PaymentProof, a
// base64-encoded facilitator-authorization payload, or the legacy flat JSON.
type Codec struct {
	log *zap.Logger
}

// NewCodec creates a Codec. A nil logger disables logging.
func NewCodec(log *zap.Logger) *Codec {
	if log == nil {
		log = zap.NewNop()
	}
	return &Codec{log: log}
}

// base64Candidate matches standard or URL-safe base64, optionally padded.
var base64Candidate = regexp.MustCompile(`^[A-Za-z0-9+/_-]+=*$`)

// Decode parses a payment header string into a PaymentProof. It never
// panics; malformed input yields a proof_decode_error.
func (c *Codec) Decode(header string) (*PaymentProof, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, Errorf(ErrCodeDecodeFailed, "empty payment header")
	}

	raw := []byte(header)
	if looksLikeBase64(header) {
		if decoded, err := decodeBase64Loose(header); err == nil {
			raw = decoded
		}
		// On decode failure fall through and try the original string as JSON.
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		// The base64-decoded bytes were not JSON either; last chance is the
		// original header as a raw JSON object.
		if err2 := json.Unmarshal([]byte(header), &obj); err2 != nil {
			return nil, Errorf(ErrCodeDecodeFailed, "payment header is neither JSON nor base64 JSON: %v", err)
		}
	}

	if auth := extractAuthorization(obj); auth != nil {
		return c.decodeAuthorizationShape(obj, auth)
	}
	if proof, ok := c.decodeFlatShape(obj); ok {
		return proof, nil
	}

	c.log.Warn("unrecognized payment header shape", zap.Strings("fields", sortedKeys(obj)))
	return nil, Errorf(ErrCodeDecodeFailed, "payment header has no recognizable proof fields")
}

func looksLikeBase64(s string) bool {
	return len(s) > 20 && !strings.HasPrefix(s, "{") && base64Candidate.MatchString(s)
}

// decodeBase64Loose accepts standard or URL-safe alphabets with or without
// padding.
func decodeBase64Loose(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	return base64.StdEncoding.DecodeString(s)
}

// extractAuthorization returns the nested authorization object when obj is
// the facilitator-authorization shape, nil otherwise.
func extractAuthorization(obj map[string]interface{}) map[string]interface{} {
	payload, ok := obj["payload"].(map[string]interface{})
	if !ok {
		return nil
	}
	auth, ok := payload["authorization"].(map[string]interface{})
	if !ok {
		return nil
	}
	return auth
}

func (c *Codec) decodeAuthorizationShape(obj, auth map[string]interface{}) (*PaymentProof, error) {
	from, _ := auth["from"].(string)
	to, _ := auth["to"].(string)
	value := stringField(auth, "value")
	nonce := stringField(auth, "nonce")
	if from == "" || to == "" || value == "" {
		c.log.Warn("authorization payload missing required fields",
			zap.Strings("fields", sortedKeys(auth)))
		return nil, Errorf(ErrCodeDecodeFailed, "authorization missing from/to/value")
	}

	signature := ""
	if payload, ok := obj["payload"].(map[string]interface{}); ok {
		signature, _ = payload["signature"].(string)
	}

	network, _ := obj["network"].(string)
	if network == "" {
		if payload, ok := obj["payload"].(map[string]interface{}); ok {
			network, _ = payload["network"].(string)
		}
	}
	chainID := ChainIDForNetwork(network)

	timestamp := time.Now().UnixMilli()
	if va := int64Field(auth, "validAfter"); va > 0 {
		timestamp = va * 1000
	}

	token := stringField(auth, "token")
	if token == "" {
		token = defaultTokenForChain(chainID)
	}

	proof := &PaymentProof{
		TransactionHash: SynthesizeAuthorizationHash(from, to, value, nonce, signature),
		From:            from,
		To:              to,
		Amount:          value,
		Token:           token,
		ChainID:         chainID,
		Timestamp:       timestamp,
		Synthesized:     true,
	}
	proof.normalize()
	return proof, nil
}

func (c *Codec) decodeFlatShape(obj map[string]interface{}) (*PaymentProof, bool) {
	hash, _ := obj["transactionHash"].(string)
	if hash == "" {
		// Solana callers send the same slot under "signature".
		hash, _ = obj["signature"].(string)
	}
	from, _ := obj["from"].(string)
	to, _ := obj["to"].(string)
	amount := stringField(obj, "amount")
	if hash == "" || from == "" || to == "" || amount == "" {
		return nil, false
	}

	chainID := ChainIDBase
	if v, ok := obj["chainId"]; ok {
		chainID = coerceInt64(v)
	}
	token := stringField(obj, "token")
	if token == "" {
		token = defaultTokenForChain(chainID)
	}
	timestamp := int64Field(obj, "timestamp")
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}

	proof := &PaymentProof{
		TransactionHash: hash,
		SettlementHash:  stringField(obj, "settlementHash"),
		BlockNumber:     uint64(int64Field(obj, "blockNumber")),
		From:            from,
		To:              to,
		Amount:          amount,
		Token:           token,
		ChainID:         chainID,
		Timestamp:       timestamp,
	}
	if b, ok := obj["synthesized"].(bool); ok {
		proof.Synthesized = b
	}
	proof.normalize()
	return proof, true
}

// SynthesizeAuthorizationHash derives a deterministic pre-settlement
// idempotency key for an authorization that has no on-chain hash yet. It is
// a pure function of the canonical fields; decoding the same payload twice
// yields the same hash.
func SynthesizeAuthorizationHash(from, to, value, nonce, signature string) string {
	sigPrefix := signature
	if len(sigPrefix) > 18 {
		sigPrefix = sigPrefix[:18]
	}
	canonical := strings.Join([]string{
		strings.ToLower(from),
		strings.ToLower(to),
		value,
		nonce,
		sigPrefix,
	}, "|")
	return "0x" + fmt.Sprintf("%x", crypto.Keccak256([]byte(canonical)))
}

func defaultTokenForChain(chainID int64) string {
	switch chainID {
	case ChainIDBaseSepolia:
		return USDCAddressBaseSepolia
	case ChainIDSolana:
		return USDCMintSolana
	default:
		return USDCAddressBase
	}
}

// stringField reads a field that may arrive as a JSON string or number.
func stringField(obj map[string]interface{}, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func int64Field(obj map[string]interface{}, key string) int64 {
	v, ok := obj[key]
	if !ok {
		return 0
	}
	return coerceInt64(v)
}

func coerceInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	case json.Number:
		parsed, _ := n.Int64()
		return parsed
	default:
		return 0
	}
}

func sortedKeys(obj map[string]interface{}) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
