package pay

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AddressPolicy captures how a chain family compares addresses. EVM hex
// addresses are case-insensitive; Solana base58 addresses are case-sensitive
// and must never be lower-cased. Centralizing the rule here keeps stray
// ToLower calls from corrupting Solana addresses.
type AddressPolicy struct {
	caseSensitive bool
}

var (
	// EVMAddresses compares case-insensitively and normalizes to lowercase.
	EVMAddresses = AddressPolicy{caseSensitive: false}
	// SolanaAddresses compares byte-for-byte and never rewrites input.
	SolanaAddresses = AddressPolicy{caseSensitive: true}
)

// PolicyForChain returns the address policy for a chain ID.
func PolicyForChain(chainID int64) AddressPolicy {
	if chainID == ChainIDSolana {
		return SolanaAddresses
	}
	return EVMAddresses
}

// Normalize returns the canonical storage form of an address.
func (p AddressPolicy) Normalize(addr string) string {
	if p.caseSensitive {
		return addr
	}
	return strings.ToLower(addr)
}

// Equal reports whether two addresses refer to the same account.
func (p AddressPolicy) Equal(a, b string) bool {
	if p.caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// Valid reports whether addr is well-formed for this chain family. For EVM
// that means a 0x-prefixed 20-byte hex string; for Solana any non-empty
// base58 string is accepted here and full validation is left to the
// solana-go key parser.
func (p AddressPolicy) Valid(addr string) bool {
	if p.caseSensitive {
		return addr != ""
	}
	return common.IsHexAddress(addr)
}
