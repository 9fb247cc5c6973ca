package solana

import (
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
)

// Compute-unit limits. Creating the recipient ATA roughly doubles the
// budget a plain transfer needs.
const (
	ComputeUnitLimitTransfer uint32 = 200_000
	ComputeUnitLimitWithATA  uint32 = 400_000
)

// TransferParams describes one SPL-token payment transaction.
type TransferParams struct {
	Sender    solanago.PublicKey // token owner and fee payer
	Recipient solanago.PublicKey // token owner, not the ATA
	Mint      solanago.PublicKey
	Amount    uint64
	Decimals  uint8

	// CreateRecipientATA prepends an ATA-creation instruction (payer =
	// sender) when the recipient has never initialized a token account.
	CreateRecipientATA bool

	// ComputeUnitPrice is the priority fee in micro-lamports per compute
	// unit, one rung of the escalation ladder.
	ComputeUnitPrice uint64

	RecentBlockhash solanago.Hash
}

// BuildTransferTransaction assembles the unsigned payment transaction. The
// compute-budget instructions are always first in the instruction list; the
// runtime requires them up front to price the accounts the fee mechanism
// locks. Order: unit limit, unit price, optional ATA creation, transfer.
func BuildTransferTransaction(p TransferParams) (*solanago.Transaction, error) {
	sourceATA, _, err := solanago.FindAssociatedTokenAddress(p.Sender, p.Mint)
	if err != nil {
		return nil, fmt.Errorf("derive source ATA: %w", err)
	}
	destinationATA, _, err := solanago.FindAssociatedTokenAddress(p.Recipient, p.Mint)
	if err != nil {
		return nil, fmt.Errorf("derive destination ATA: %w", err)
	}

	limit := ComputeUnitLimitTransfer
	if p.CreateRecipientATA {
		limit = ComputeUnitLimitWithATA
	}

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(limit).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute limit instruction: %w", err)
	}

	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(p.ComputeUnitPrice).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute price instruction: %w", err)
	}

	builder := solanago.NewTransactionBuilder().
		AddInstruction(cuLimit).
		AddInstruction(cuPrice)

	if p.CreateRecipientATA {
		createATA, err := associatedtokenaccount.NewCreateInstruction(
			p.Sender, p.Recipient, p.Mint,
		).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build ATA creation instruction: %w", err)
		}
		builder.AddInstruction(createATA)
	}

	transfer, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(p.Amount).
		SetDecimals(p.Decimals).
		SetSourceAccount(sourceATA).
		SetMintAccount(p.Mint).
		SetDestinationAccount(destinationATA).
		SetOwnerAccount(p.Sender).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build transfer instruction: %w", err)
	}
	builder.AddInstruction(transfer)

	tx, err := builder.
		SetRecentBlockHash(p.RecentBlockhash).
		SetFeePayer(p.Sender).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	return tx, nil
}
