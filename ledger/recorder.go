package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	pay "github.com/0xgaut85/r1x-pay"
)

// Transaction statuses. A row is born verified (the proof already passed the
// facilitator); pending exists for rows pre-created by an earlier settlement
// pipeline and is promoted on the next Record call.
const (
	StatusPending  = "pending"
	StatusVerified = "verified"
	StatusSettled  = "settled"
)

// Transaction is one recorded payment.
type Transaction struct {
	TransactionHash string
	SettlementHash  string
	Synthesized     bool
	ServiceID       string
	Payer           string
	Merchant        string
	Amount          string
	FeeAmount       string
	MerchantAmount  string
	Token           string
	ChainID         int64
	PriceDisplay    string
	Status          string
	CreatedAt       time.Time
	VerifiedAt      *time.Time
}

// Recorder persists verified proofs. Record never returns an error: the
// payment already succeeded on-chain, so bookkeeping failures are logged and
// swallowed rather than surfaced to the payer as a failed payment.
type Recorder struct {
	db           *sql.DB
	feeRecipient string
	log          *zap.Logger
}

// NewRecorder creates a Recorder. feeRecipient may be empty, in which case
// no fee rows are written.
func NewRecorder(db *sql.DB, feeRecipient string, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{db: db, feeRecipient: feeRecipient, log: log}
}

// RecordParams describes one payment to record.
type RecordParams struct {
	Proof         *pay.PaymentProof
	ServiceID     string
	ServiceName   string
	PriceDisplay  string
	FeePercentage int
}

// Record durably and idempotently records a verified proof. Recording the
// same transaction hash twice updates the existing row instead of inserting
// a duplicate. Partial failures are acceptable as long as a retry with the
// same proof can complete; at-least-once beats strict atomicity here because
// the payment is already irreversible.
func (r *Recorder) Record(ctx context.Context, p RecordParams) {
	if p.Proof == nil {
		r.log.Error("failed to record payment: nil proof",
			zap.String("serviceId", p.ServiceID))
		return
	}
	if err := r.record(ctx, p); err != nil {
		r.log.Error("failed to record payment",
			zap.String("transactionHash", p.Proof.TransactionHash),
			zap.String("serviceId", p.ServiceID),
			zap.Error(err))
	}
}

func (r *Recorder) record(ctx context.Context, p RecordParams) error {
	if err := r.ensureService(ctx, p.ServiceID, p.ServiceName); err != nil {
		return err
	}

	promoted, err := r.promoteIfPending(ctx, p.Proof.TransactionHash)
	if err != nil {
		return err
	}
	if promoted {
		return nil
	}

	split, err := pay.SplitFee(p.Proof.Amount, p.FeePercentage)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO transactions (
			transaction_hash, settlement_hash, synthesized, service_id,
			payer, merchant, amount, fee_amount, merchant_amount,
			token, chain_id, price_display, status, created_at, verified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Proof.TransactionHash, p.Proof.SettlementHash, p.Proof.Synthesized,
		p.ServiceID, p.Proof.From, p.Proof.To,
		p.Proof.Amount, split.FeeAmount, split.MerchantAmount,
		p.Proof.Token, p.Proof.ChainID, p.PriceDisplay,
		StatusVerified, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			// lost a race with a concurrent Record for the same proof
			_, err = r.promoteIfPending(ctx, p.Proof.TransactionHash)
			return err
		}
		return err
	}

	if split.FeeAmount != "0" && r.feeRecipient != "" {
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO fees (id, transaction_hash, amount, recipient, transferred)
			VALUES (?, ?, ?, ?, 0)`,
			uuid.NewString(), p.Proof.TransactionHash, split.FeeAmount, r.feeRecipient)
		if err != nil && !isUniqueViolation(err) {
			return err
		}
	}

	r.log.Info("payment recorded",
		zap.String("transactionHash", p.Proof.TransactionHash),
		zap.String("serviceId", p.ServiceID),
		zap.String("amount", p.Proof.Amount),
		zap.String("feeAmount", split.FeeAmount),
		zap.Bool("synthesized", p.Proof.Synthesized))
	return nil
}

// ensureService resolves or creates the service row, with default metadata
// on first sight.
func (r *Recorder) ensureService(ctx context.Context, id, name string) error {
	if id == "" {
		return errors.New("empty service id")
	}
	if name == "" {
		name = id
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO services (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, name, time.Now().UTC())
	return err
}

// promoteIfPending reports whether a row for hash already exists, promoting
// it from pending to verified as a side effect.
func (r *Recorder) promoteIfPending(ctx context.Context, hash string) (bool, error) {
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM transactions WHERE transaction_hash = ?`, hash).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if status == StatusPending {
		_, err = r.db.ExecContext(ctx, `
			UPDATE transactions SET status = ?, verified_at = ?
			WHERE transaction_hash = ? AND status = ?`,
			StatusVerified, time.Now().UTC(), hash, StatusPending)
		if err != nil {
			return false, err
		}
		r.log.Info("promoted pending transaction", zap.String("transactionHash", hash))
	}
	return true, nil
}

// RecordSettlement stores the final on-chain hash the facilitator reported
// and marks the transaction settled. Unlike Record this returns errors; it
// runs in server pipelines that can retry.
func (r *Recorder) RecordSettlement(ctx context.Context, transactionHash, settlementHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET settlement_hash = ?, status = ?
		WHERE transaction_hash = ?`,
		settlementHash, StatusSettled, transactionHash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pay.Errorf(pay.ErrCodePersistence, "no transaction with hash %s", transactionHash)
	}
	return nil
}

// GetByHash fetches one transaction.
func (r *Recorder) GetByHash(ctx context.Context, hash string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE transaction_hash = ?`, hash)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pay.Errorf(pay.ErrCodePersistence, "no transaction with hash %s", hash)
	}
	return tx, err
}

// ListByService returns a service's transactions, newest first.
func (r *Recorder) ListByService(ctx context.Context, serviceID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		selectColumns+` WHERE service_id = ? ORDER BY created_at DESC LIMIT ?`,
		serviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// MarkFeeTransferred flags a fee row as paid out.
func (r *Recorder) MarkFeeTransferred(ctx context.Context, transactionHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE fees SET transferred = 1, transferred_at = ?
		WHERE transaction_hash = ? AND transferred = 0`,
		time.Now().UTC(), transactionHash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pay.Errorf(pay.ErrCodePersistence, "no untransferred fee for %s", transactionHash)
	}
	return nil
}

const selectColumns = `
	SELECT transaction_hash, settlement_hash, synthesized, service_id,
	       payer, merchant, amount, fee_amount, merchant_amount,
	       token, chain_id, price_display, status, created_at, verified_at
	FROM transactions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var tx Transaction
	var settlementHash sql.NullString
	var verifiedAt sql.NullTime
	err := row.Scan(
		&tx.TransactionHash, &settlementHash, &tx.Synthesized, &tx.ServiceID,
		&tx.Payer, &tx.Merchant, &tx.Amount, &tx.FeeAmount, &tx.MerchantAmount,
		&tx.Token, &tx.ChainID, &tx.PriceDisplay, &tx.Status, &tx.CreatedAt, &verifiedAt)
	if err != nil {
		return nil, err
	}
	tx.SettlementHash = settlementHash.String
	if verifiedAt.Valid {
		tx.VerifiedAt = &verifiedAt.Time
	}
	return &tx, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
