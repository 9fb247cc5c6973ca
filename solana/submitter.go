package solana

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	pay "github.com/0xgaut85/r1x-pay"
)

// Signer abstracts the injected Solana wallet. Signing is user-paced; no
// timeout is applied to it.
type Signer interface {
	Address() solanago.PublicKey
	SignTransaction(ctx context.Context, tx *solanago.Transaction) error
}

// rpcAPI is the slice of the Solana RPC surface the submitter touches.
// *rpc.Client satisfies it; tests inject fakes.
type rpcAPI interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetAccountInfo(ctx context.Context, account solanago.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetTokenAccountBalance(ctx context.Context, account solanago.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetBalance(ctx context.Context, account solanago.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solanago.Transaction, opts rpc.TransactionOpts) (solanago.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solanago.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// DefaultPriorityFeeLadder is the ascending compute-unit-price schedule in
// micro-lamports. Each broadcast failure from fee-market congestion moves to
// the next rung with a fully rebuilt transaction.
var DefaultPriorityFeeLadder = []uint64{100_000, 200_000, 500_000, 1_000_000}

// MinimumFeeLamports is the native-SOL reserve required before a payment is
// attempted, covering transaction fees and possible ATA rent.
const MinimumFeeLamports uint64 = 500_000

const (
	defaultConfirmInterval = time.Second
	defaultConfirmAttempts = 30
)

// Submitter builds, signs, broadcasts, and confirms SPL-token payments.
type Submitter struct {
	rpc    rpcAPI
	signer Signer
	mint   solanago.PublicKey

	ladder          []uint64
	minFeeLamports  uint64
	confirmInterval time.Duration
	confirmAttempts int
	log             *zap.Logger
}

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithMint overrides the payment mint (defaults to mainnet USDC).
func WithMint(mint solanago.PublicKey) SubmitterOption {
	return func(s *Submitter) { s.mint = mint }
}

// WithPriorityFeeLadder replaces the escalation schedule. The ladder length
// bounds the number of broadcast attempts.
func WithPriorityFeeLadder(ladder []uint64) SubmitterOption {
	return func(s *Submitter) {
		if len(ladder) > 0 {
			s.ladder = ladder
		}
	}
}

// WithMinimumFeeLamports overrides the native-SOL pre-flight reserve.
func WithMinimumFeeLamports(lamports uint64) SubmitterOption {
	return func(s *Submitter) { s.minFeeLamports = lamports }
}

// WithConfirmPolicy tunes confirmation polling.
func WithConfirmPolicy(interval time.Duration, attempts int) SubmitterOption {
	return func(s *Submitter) { s.confirmInterval, s.confirmAttempts = interval, attempts }
}

// WithSubmitterLogger attaches a logger.
func WithSubmitterLogger(log *zap.Logger) SubmitterOption {
	return func(s *Submitter) { s.log = log }
}

// NewSubmitter creates a Submitter. client is typically *rpc.Client from an
// EndpointSource.
func NewSubmitter(client rpcAPI, signer Signer, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		rpc:             client,
		signer:          signer,
		mint:            solanago.MustPublicKeyFromBase58(pay.USDCMintSolana),
		ladder:          DefaultPriorityFeeLadder,
		minFeeLamports:  MinimumFeeLamports,
		confirmInterval: defaultConfirmInterval,
		confirmAttempts: defaultConfirmAttempts,
		log:             zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PaymentRequest describes one payment to submit.
type PaymentRequest struct {
	Recipient solanago.PublicKey
	Amount    string // atomic units, decimal string
}

// Pay runs the full submission flow: pre-flight balance checks, recipient
// ATA detection, and broadcast with priority-fee escalation. On confirmed
// success it returns a PaymentProof carrying the transaction signature.
func (s *Submitter) Pay(ctx context.Context, req PaymentRequest) (*pay.PaymentProof, error) {
	amount, err := strconv.ParseUint(req.Amount, 10, 64)
	if err != nil {
		return nil, pay.Errorf(pay.ErrCodeValidation, "amount %q is not an unsigned integer", req.Amount)
	}
	if s.signer.Address().Equals(req.Recipient) {
		return nil, pay.Errorf(pay.ErrCodeSelfPayment, "payer and payee are the same account %s", req.Recipient)
	}

	sourceATA, _, err := solanago.FindAssociatedTokenAddress(s.signer.Address(), s.mint)
	if err != nil {
		return nil, pay.Errorf(pay.ErrCodeValidation, "derive source ATA: %v", err)
	}
	destinationATA, _, err := solanago.FindAssociatedTokenAddress(req.Recipient, s.mint)
	if err != nil {
		return nil, pay.Errorf(pay.ErrCodeValidation, "derive destination ATA: %v", err)
	}

	if err := s.checkTokenBalance(ctx, sourceATA, amount); err != nil {
		return nil, err
	}
	if err := s.checkFeeBalance(ctx); err != nil {
		return nil, err
	}

	createATA, err := s.recipientATAMissing(ctx, destinationATA)
	if err != nil {
		return nil, err
	}

	sig, err := s.broadcastWithEscalation(ctx, req.Recipient, amount, createATA)
	if err != nil {
		return nil, err
	}

	if err := s.awaitConfirmation(ctx, sig); err != nil {
		return nil, err
	}

	s.log.Info("payment confirmed",
		zap.Stringer("signature", sig),
		zap.Uint64("amount", amount),
		zap.Bool("createdRecipientATA", createATA))

	return &pay.PaymentProof{
		TransactionHash: sig.String(),
		From:            s.signer.Address().String(),
		To:              req.Recipient.String(),
		Amount:          req.Amount,
		Token:           s.mint.String(),
		ChainID:         pay.ChainIDSolana,
		Timestamp:       time.Now().UnixMilli(),
	}, nil
}

// checkTokenBalance fails before any signature prompt when the sender
// cannot cover the payment.
func (s *Submitter) checkTokenBalance(ctx context.Context, sourceATA solanago.PublicKey, amount uint64) error {
	balance, err := s.rpc.GetTokenAccountBalance(ctx, sourceATA, rpc.CommitmentConfirmed)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return pay.NewPaymentError(pay.ErrCodeInsufficientFunds,
				"sender has no token account for the payment mint", map[string]interface{}{
					"required":  amount,
					"available": uint64(0),
				})
		}
		return pay.Errorf(pay.ErrCodeNetwork, "query token balance: %v", err)
	}

	available := uint64(0)
	if balance != nil && balance.Value != nil {
		available, _ = strconv.ParseUint(balance.Value.Amount, 10, 64)
	}
	if available < amount {
		return pay.NewPaymentError(pay.ErrCodeInsufficientFunds,
			"token balance below payment amount", map[string]interface{}{
				"required":  amount,
				"available": available,
			})
	}
	return nil
}

// checkFeeBalance keeps a wallet without SOL from burning a signature
// round-trip on a transaction that can never pay its fees.
func (s *Submitter) checkFeeBalance(ctx context.Context) error {
	balance, err := s.rpc.GetBalance(ctx, s.signer.Address(), rpc.CommitmentConfirmed)
	if err != nil {
		return pay.Errorf(pay.ErrCodeNetwork, "query native balance: %v", err)
	}
	if balance.Value < s.minFeeLamports {
		return pay.NewPaymentError(pay.ErrCodeInsufficientFeeBalance,
			"native balance below the fee reserve", map[string]interface{}{
				"required":  s.minFeeLamports,
				"available": balance.Value,
			})
	}
	return nil
}

// recipientATAMissing reports whether the destination token account needs to
// be created. When it exists we also sanity-check its mint so a payment can
// never land in an account of the wrong token.
func (s *Submitter) recipientATAMissing(ctx context.Context, destinationATA solanago.PublicKey) (bool, error) {
	info, err := s.rpc.GetAccountInfo(ctx, destinationATA)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return true, nil
		}
		return false, pay.Errorf(pay.ErrCodeNetwork, "query recipient ATA: %v", err)
	}
	if info == nil || info.Value == nil {
		return true, nil
	}

	if info.Value.Data != nil {
		var acct token.Account
		if decodeErr := bin.NewBinDecoder(info.Value.Data.GetBinary()).Decode(&acct); decodeErr == nil {
			if !acct.Mint.Equals(s.mint) {
				return false, pay.Errorf(pay.ErrCodeValidation,
					"recipient ATA holds mint %s, expected %s", acct.Mint, s.mint)
			}
		}
	}
	return false, nil
}

// broadcastWithEscalation walks the priority-fee ladder: each attempt fully
// rebuilds the transaction with a fresh blockhash and the next fee rung.
// Only congestion-class errors escalate; everything else fails immediately.
// The loop is bounded by the ladder and checks cancellation between rungs.
func (s *Submitter) broadcastWithEscalation(ctx context.Context, recipient solanago.PublicKey, amount uint64, createATA bool) (solanago.Signature, error) {
	var lastErr error

	for i, price := range s.ladder {
		if err := ctx.Err(); err != nil {
			return solanago.Signature{}, pay.Errorf(pay.ErrCodeTimeout, "canceled before attempt %d: %v", i+1, err)
		}

		blockhash, err := s.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return solanago.Signature{}, pay.Errorf(pay.ErrCodeNetwork, "fetch blockhash: %v", err)
		}

		tx, err := BuildTransferTransaction(TransferParams{
			Sender:             s.signer.Address(),
			Recipient:          recipient,
			Mint:               s.mint,
			Amount:             amount,
			Decimals:           pay.USDCDecimals,
			CreateRecipientATA: createATA,
			ComputeUnitPrice:   price,
			RecentBlockhash:    blockhash.Value.Blockhash,
		})
		if err != nil {
			return solanago.Signature{}, pay.Errorf(pay.ErrCodeValidation, "build transaction: %v", err)
		}

		if err := s.signer.SignTransaction(ctx, tx); err != nil {
			return solanago.Signature{}, pay.Errorf(pay.ErrCodeSignatureRefused, "payment was not approved: %v", err)
		}

		sig, err := s.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		if err == nil {
			return sig, nil
		}

		lastErr = err
		if !isCongestionError(err) {
			return solanago.Signature{}, pay.Errorf(pay.ErrCodeNetwork, "broadcast failed: %v", err)
		}
		s.log.Warn("broadcast hit fee-market congestion, escalating priority fee",
			zap.Int("attempt", i+1),
			zap.Uint64("computeUnitPrice", price),
			zap.Error(err))
	}

	return solanago.Signature{}, pay.Errorf(pay.ErrCodeNetwork,
		"broadcast failed after %d priority-fee attempts: %v", len(s.ladder), lastErr)
}

// isCongestionError recognizes the transient fee-market failure class worth
// escalating. Insufficient balance and signature rejection never match.
func isCongestionError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"insufficient priority",
		"write lock",
		"write-lock",
		"simulation failed",
		"tip account",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// awaitConfirmation polls signature status until the cluster reports the
// transaction confirmed or finalized.
func (s *Submitter) awaitConfirmation(ctx context.Context, sig solanago.Signature) error {
	for attempt := 0; attempt < s.confirmAttempts; attempt++ {
		statuses, err := s.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && statuses != nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				return pay.Errorf(pay.ErrCodeRejected, "transaction %s failed on-chain: %v", sig, status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return pay.Errorf(pay.ErrCodeTimeout, "canceled while awaiting confirmation of %s", sig)
		case <-time.After(s.confirmInterval):
		}
	}
	return pay.Errorf(pay.ErrCodeTimeout, "transaction %s not confirmed after %d polls", sig, s.confirmAttempts)
}
