package pay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEVMAddressPolicy(t *testing.T) {
	assert.True(t, EVMAddresses.Equal(
		"0xAbCd111111111111111111111111111111111111",
		"0xabcd111111111111111111111111111111111111",
	))
	assert.Equal(t,
		"0xabcd111111111111111111111111111111111111",
		EVMAddresses.Normalize("0xAbCd111111111111111111111111111111111111"),
	)
	assert.True(t, EVMAddresses.Valid("0xabcd111111111111111111111111111111111111"))
	assert.False(t, EVMAddresses.Valid("not-an-address"))
	assert.False(t, EVMAddresses.Valid("0x123"))
}

func TestSolanaAddressPolicyPreservesCase(t *testing.T) {
	addr := "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

	assert.Equal(t, addr, SolanaAddresses.Normalize(addr))
	assert.False(t, SolanaAddresses.Equal(addr, "epjfwdd5aufqssqem2qn1xzybapc8g4weggkzwytdt1v"))
	assert.True(t, SolanaAddresses.Equal(addr, addr))
}

func TestPolicyForChain(t *testing.T) {
	assert.Equal(t, EVMAddresses, PolicyForChain(ChainIDBase))
	assert.Equal(t, EVMAddresses, PolicyForChain(ChainIDBaseSepolia))
	assert.Equal(t, SolanaAddresses, PolicyForChain(ChainIDSolana))
}

func TestChainIDForNetwork(t *testing.T) {
	assert.Equal(t, ChainIDBaseSepolia, ChainIDForNetwork("base-sepolia"))
	assert.Equal(t, ChainIDBaseSepolia, ChainIDForNetwork("sepolia"))
	assert.Equal(t, ChainIDBase, ChainIDForNetwork("base"))
	assert.Equal(t, ChainIDBase, ChainIDForNetwork("made-up-network"))
	assert.Equal(t, ChainIDSolana, ChainIDForNetwork("solana"))
}
