// Package pay implements the x402 payment lifecycle shared by the EVM and
// Solana submitters: the chain-agnostic payment proof and its wire codec,
// platform fee splitting, and per-chain address comparison policies.
//
// The flow is quote -> pay -> prove -> verify -> settle -> persist. The
// submitters (evm, solana packages) produce a PaymentProof; the facilitator
// package verifies and settles it; the ledger package persists the result.
package pay

// Chain identifiers carried in PaymentProof.ChainID.
const (
	// ChainIDBase is Base mainnet.
	ChainIDBase int64 = 8453
	// ChainIDBaseSepolia is the Base Sepolia testnet.
	ChainIDBaseSepolia int64 = 84532
	// ChainIDSolana is a sentinel distinct from every EVM chain ID.
	// Solana has no numeric chain ID of its own.
	ChainIDSolana int64 = 0
)

// USDCDecimals is the number of decimals USDC uses on both supported chains.
const USDCDecimals = 6

// ChainIDForNetwork maps an x402 network name to a chain ID. Unrecognized
// names map to Base mainnet, matching the facilitator's own default.
func ChainIDForNetwork(network string) int64 {
	switch network {
	case "base-sepolia", "sepolia":
		return ChainIDBaseSepolia
	case "solana", "solana-devnet", "solana-testnet":
		return ChainIDSolana
	default:
		return ChainIDBase
	}
}
