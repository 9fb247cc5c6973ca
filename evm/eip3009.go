package evm

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP-712 domain values for USDC's EIP-3009 implementation.
const (
	DefaultTokenName    = "USD Coin"
	DefaultTokenVersion = "2"
)

// Authorization is the EIP-3009 TransferWithAuthorization message. All
// numeric fields are decimal strings; Nonce is a 32-byte hex string.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// WalletSigner abstracts the injected wallet. Signing is an interactive,
// user-paced step; implementations must not apply their own short timeout.
type WalletSigner interface {
	Address() common.Address
	SignAuthorization(ctx context.Context, auth Authorization, chainID int64, token common.Address) ([]byte, error)
}

// NewNonce returns a freshly generated 32-byte nonce as a 0x hex string.
func NewNonce() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(b[:]), nil
}

// AuthorizationDigest computes the EIP-712 digest of a TransferWithAuthorization
// message: keccak256("\x19\x01" || domainSeparator || structHash).
func AuthorizationDigest(auth Authorization, chainID int64, token common.Address, tokenName, tokenVersion string) ([]byte, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid authorization value %q", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validAfter %q", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validBefore %q", auth.ValidBefore)
	}
	nonce, err := hex.DecodeString(trim0x(auth.Nonce))
	if err != nil || len(nonce) != 32 {
		return nil, fmt.Errorf("nonce must be 32 hex bytes, got %q", auth.Nonce)
	}

	typedData := apitypes.TypedData{
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              tokenName,
			Version:           tokenVersion,
			ChainId:           (*math.HexOrDecimal256)(big.NewInt(chainID)),
			VerifyingContract: token.Hex(),
		},
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       value,
			"validAfter":  validAfter,
			"validBefore": validBefore,
			"nonce":       nonce,
		},
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash authorization struct: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}

	raw := []byte{0x19, 0x01}
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

// LocalSigner signs authorizations with an in-process secp256k1 key. Useful
// for tests and server-held wallets; browser wallets implement WalletSigner
// over their own prompt flow.
type LocalSigner struct {
	key          *ecdsa.PrivateKey
	tokenName    string
	tokenVersion string
}

// NewLocalSigner parses a hex-encoded secp256k1 private key.
func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(trim0x(hexKey))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &LocalSigner{key: key, tokenName: DefaultTokenName, tokenVersion: DefaultTokenVersion}, nil
}

// Address returns the signer's account address.
func (s *LocalSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// SignAuthorization produces a 65-byte signature with Ethereum's v=27/28
// recovery id convention.
func (s *LocalSigner) SignAuthorization(_ context.Context, auth Authorization, chainID int64, token common.Address) ([]byte, error) {
	digest, err := AuthorizationDigest(auth, chainID, token, s.tokenName, s.tokenVersion)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

func trim0x(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
