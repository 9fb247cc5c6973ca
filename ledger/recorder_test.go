package ledger

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	pay "github.com/0xgaut85/r1x-pay"
)

const feeRecipient = "0x00000000000000000000000000000000000000fe"

func testRecorder(t *testing.T) (*Recorder, *sql.DB) {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRecorder(db, feeRecipient, zap.NewNop()), db
}

func testProof(hash string) *pay.PaymentProof {
	return &pay.PaymentProof{
		TransactionHash: hash,
		From:            "0x70997970c51812dc3a010c7d01b50e0d17dc79c8",
		To:              "0x9965507d1a55bcc2695c58ba16fb37d819b0a4dc",
		Amount:          "1000000",
		Token:           pay.USDCAddressBase,
		ChainID:         pay.ChainIDBase,
	}
}

func testParams(hash string) RecordParams {
	return RecordParams{
		Proof:         testProof(hash),
		ServiceID:     "svc-chat",
		ServiceName:   "Chat Completions",
		PriceDisplay:  "$1.00",
		FeePercentage: 5,
	}
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestRecordInsertsTransactionAndFee(t *testing.T) {
	r, db := testRecorder(t)
	r.Record(context.Background(), testParams("0xaaa"))

	tx, err := r.GetByHash(context.Background(), "0xaaa")
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, tx.Status)
	assert.Equal(t, "1000000", tx.Amount)
	assert.Equal(t, "50000", tx.FeeAmount)
	assert.Equal(t, "950000", tx.MerchantAmount)
	assert.Equal(t, "svc-chat", tx.ServiceID)
	assert.NotNil(t, tx.VerifiedAt)
	assert.False(t, tx.Synthesized)

	assert.Equal(t, 1, countRows(t, db, "services"))
	assert.Equal(t, 1, countRows(t, db, "fees"))

	var transferred bool
	require.NoError(t, db.QueryRow(
		"SELECT transferred FROM fees WHERE transaction_hash = ?", "0xaaa").Scan(&transferred))
	assert.False(t, transferred)
}

func TestRecordIsIdempotent(t *testing.T) {
	r, db := testRecorder(t)
	params := testParams("0xbbb")

	// duplicate client retry delivers the same proof twice
	r.Record(context.Background(), params)
	r.Record(context.Background(), params)

	assert.Equal(t, 1, countRows(t, db, "transactions"))
	assert.Equal(t, 1, countRows(t, db, "fees"))
}

func TestRecordPromotesPendingRow(t *testing.T) {
	r, db := testRecorder(t)

	r.Record(context.Background(), testParams("0xccc"))
	_, err := db.Exec(
		"UPDATE transactions SET status = ?, verified_at = NULL WHERE transaction_hash = ?",
		StatusPending, "0xccc")
	require.NoError(t, err)

	r.Record(context.Background(), testParams("0xccc"))

	tx, err := r.GetByHash(context.Background(), "0xccc")
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, tx.Status)
	assert.NotNil(t, tx.VerifiedAt)
	assert.Equal(t, 1, countRows(t, db, "transactions"))
}

func TestRecordSkipsFeeRowWithoutRecipient(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	r := NewRecorder(db, "", zap.NewNop())
	r.Record(context.Background(), testParams("0xddd"))

	assert.Equal(t, 1, countRows(t, db, "transactions"))
	assert.Equal(t, 0, countRows(t, db, "fees"))
}

func TestRecordSkipsFeeRowForZeroFee(t *testing.T) {
	r, db := testRecorder(t)

	params := testParams("0xeee")
	params.FeePercentage = 0
	r.Record(context.Background(), params)

	tx, err := r.GetByHash(context.Background(), "0xeee")
	require.NoError(t, err)
	assert.Equal(t, "0", tx.FeeAmount)
	assert.Equal(t, "1000000", tx.MerchantAmount)
	assert.Equal(t, 0, countRows(t, db, "fees"))
}

func TestRecordSwallowsBadInput(t *testing.T) {
	r, db := testRecorder(t)

	// Record must never panic or surface errors to the payer
	r.Record(context.Background(), RecordParams{Proof: nil, ServiceID: "svc"})

	params := testParams("0xfff")
	params.Proof.Amount = "not-a-number"
	r.Record(context.Background(), params)

	assert.Equal(t, 0, countRows(t, db, "transactions"))

	// the recorder stays usable after swallowing bad input
	r.Record(context.Background(), testParams("0xff0"))
	assert.Equal(t, 1, countRows(t, db, "transactions"))
}

func TestRecordSettlement(t *testing.T) {
	r, _ := testRecorder(t)
	r.Record(context.Background(), testParams("0x111"))

	require.NoError(t, r.RecordSettlement(context.Background(), "0x111", "0xfinal111"))

	tx, err := r.GetByHash(context.Background(), "0x111")
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, tx.Status)
	assert.Equal(t, "0xfinal111", tx.SettlementHash)

	err = r.RecordSettlement(context.Background(), "0xmissing", "0xfinal")
	require.Error(t, err)
	assert.Equal(t, pay.ErrCodePersistence, pay.CodeOf(err))
}

func TestListByService(t *testing.T) {
	r, _ := testRecorder(t)

	for _, hash := range []string{"0xa1", "0xa2", "0xa3"} {
		r.Record(context.Background(), testParams(hash))
	}
	other := testParams("0xb1")
	other.ServiceID = "svc-other"
	r.Record(context.Background(), other)

	txs, err := r.ListByService(context.Background(), "svc-chat", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 3)
	for _, tx := range txs {
		assert.Equal(t, "svc-chat", tx.ServiceID)
	}

	txs, err = r.ListByService(context.Background(), "svc-chat", 2)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestMarkFeeTransferred(t *testing.T) {
	r, db := testRecorder(t)
	r.Record(context.Background(), testParams("0x222"))

	require.NoError(t, r.MarkFeeTransferred(context.Background(), "0x222"))

	var transferred bool
	require.NoError(t, db.QueryRow(
		"SELECT transferred FROM fees WHERE transaction_hash = ?", "0x222").Scan(&transferred))
	assert.True(t, transferred)

	// already transferred
	err := r.MarkFeeTransferred(context.Background(), "0x222")
	require.Error(t, err)
	assert.Equal(t, pay.ErrCodePersistence, pay.CodeOf(err))
}

func TestRecordStoresSynthesizedFlag(t *testing.T) {
	r, _ := testRecorder(t)

	params := testParams("0x333")
	params.Proof.Synthesized = true
	r.Record(context.Background(), params)

	tx, err := r.GetByHash(context.Background(), "0x333")
	require.NoError(t, err)
	assert.True(t, tx.Synthesized, "pre-settlement idempotency keys must be distinguishable from on-chain hashes")
}
