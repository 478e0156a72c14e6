package mysql

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/storage/mysql/mysqltest"
	"BNBChain-AgentKit/internal/x402"
)

const insertNonceSQL = `INSERT INTO x402_nonces (nonce_key, claimed_at) VALUES (?, ?)`

func newLedger(t *testing.T, ops ...mysqltest.Op) (*ReceiptLedger, *mysqltest.Driver) {
	t.Helper()
	db, drv := mysqltest.Open(t, ops...)
	ledger := NewReceiptLedger(db)
	ledger.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return ledger, drv
}

func TestReceiptLedgerClaimNonce(t *testing.T) {
	t.Parallel()

	ledger, drv := newLedger(t,
		mysqltest.Exec(insertNonceSQL, mysqltest.Result{Affected: 1}).WithArgs("0xabc:0xff", int64(1_700_000_000)),
		mysqltest.Exec(insertNonceSQL, mysqltest.Result{}).WithError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}),
	)
	defer drv.AssertConsumed(t)

	ctx := context.Background()
	ok, err := ledger.ClaimNonce(ctx, "0xABC", "0xFF")
	if err != nil || !ok {
		t.Fatalf("首次领取 nonce 应成功: ok=%v err=%v", ok, err)
	}
	ok, err = ledger.ClaimNonce(ctx, "0xabc", "0xff")
	if err != nil {
		t.Fatalf("重复 nonce 不应返回错误: %v", err)
	}
	if ok {
		t.Fatalf("重复 nonce 应返回 false")
	}
}

func TestReceiptLedgerClaimNonceStorageFailure(t *testing.T) {
	t.Parallel()

	ledger, drv := newLedger(t,
		mysqltest.Exec(insertNonceSQL, mysqltest.Result{}).WithError(&mysql.MySQLError{Number: 1205, Message: "lock wait timeout"}),
	)
	defer drv.AssertConsumed(t)

	_, err := ledger.ClaimNonce(context.Background(), "0xabc", "0x01")
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("期望 STORAGE_FAILURE，实际 %v", err)
	}
}

func TestReceiptLedgerRecordAndGet(t *testing.T) {
	t.Parallel()

	receipt := x402.PaymentReceipt{
		PaymentID: "pay-1",
		Payer:     "0x1111111111111111111111111111111111111111",
		Payee:     "0x2222222222222222222222222222222222222222",
		Amount:    "1000000000000000000",
		Token:     "0x3333333333333333333333333333333333333333",
		ChainID:   97,
		Nonce:     "0x01",
		Timestamp: 1_700_000_100,
		Route:     "/api/premium",
	}
	ledger, drv := newLedger(t,
		mysqltest.Exec(`INSERT INTO x402_receipts (`+receiptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, mysqltest.Result{Affected: 1}).
			WithArgs(receipt.PaymentID, receipt.Payer, receipt.Payee, receipt.Amount, receipt.Token, receipt.ChainID, "", receipt.Nonce, receipt.Route, receipt.Timestamp),
		mysqltest.Query(`SELECT `+receiptColumns+` FROM x402_receipts WHERE payment_id = ?`, mysqltest.Rows{
			Columns: []string{"payment_id", "payer", "payee", "amount", "token", "chain_id", "tx_hash", "nonce", "route", "created_at"},
			Values: [][]driver.Value{{
				receipt.PaymentID, receipt.Payer, receipt.Payee, receipt.Amount, receipt.Token,
				int64(97), "", receipt.Nonce, receipt.Route, int64(1_700_000_100),
			}},
		}).WithArgs("pay-1"),
		mysqltest.Query(`SELECT `+receiptColumns+` FROM x402_receipts WHERE payment_id = ?`, mysqltest.Rows{
			Columns: []string{"payment_id"},
		}),
	)
	defer drv.AssertConsumed(t)

	ctx := context.Background()
	if err := ledger.Record(ctx, receipt); err != nil {
		t.Fatalf("写入收据失败: %v", err)
	}
	got, err := ledger.Get(ctx, "pay-1")
	if err != nil {
		t.Fatalf("查询收据失败: %v", err)
	}
	if got != receipt {
		t.Fatalf("收据不一致: %+v", got)
	}
	if _, err := ledger.Get(ctx, "missing"); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("不存在的收据应返回 NOT_FOUND，实际 %v", err)
	}
}

func TestReceiptLedgerRecordDuplicate(t *testing.T) {
	t.Parallel()

	ledger, drv := newLedger(t,
		mysqltest.Exec(`INSERT INTO x402_receipts (`+receiptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, mysqltest.Result{}).
			WithError(&mysql.MySQLError{Number: 1062}),
	)
	defer drv.AssertConsumed(t)

	err := ledger.Record(context.Background(), x402.PaymentReceipt{PaymentID: "dup"})
	if xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("重复收据应返回 CONFLICT，实际 %v", err)
	}
	if err := ledger.Record(context.Background(), x402.PaymentReceipt{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("缺少 payment id 应返回 INVALID_ARGUMENT，实际 %v", err)
	}
}

func TestReceiptLedgerListFilters(t *testing.T) {
	t.Parallel()

	columns := []string{"payment_id", "payer", "payee", "amount", "token", "chain_id", "tx_hash", "nonce", "route", "created_at"}
	ledger, drv := newLedger(t,
		mysqltest.Query(`SELECT `+receiptColumns+` FROM x402_receipts WHERE payer = ? AND route = ?
            ORDER BY created_at DESC, payment_id DESC LIMIT ?`, mysqltest.Rows{
			Columns: columns,
			Values: [][]driver.Value{
				{"p2", "0xaa", "0xbb", "2", "0xcc", int64(56), "", "0x02", "/r", int64(20)},
				{"p1", "0xaa", "0xbb", "1", "0xcc", int64(56), "", "0x01", "/r", int64(10)},
			},
		}).WithArgs("0xaa", "/r", 5),
		mysqltest.Query(`SELECT `+receiptColumns+` FROM x402_receipts ORDER BY created_at DESC, payment_id DESC LIMIT ?`,
			mysqltest.Rows{Columns: columns}).WithArgs(100),
	)
	defer drv.AssertConsumed(t)

	ctx := context.Background()
	list, err := ledger.List(ctx, x402.ReceiptFilter{Payer: "0xaa", Route: "/r", Limit: 5})
	if err != nil {
		t.Fatalf("列出收据失败: %v", err)
	}
	if len(list) != 2 || list[0].PaymentID != "p2" {
		t.Fatalf("结果顺序不正确: %+v", list)
	}
	empty, err := ledger.List(ctx, x402.ReceiptFilter{})
	if err != nil || len(empty) != 0 {
		t.Fatalf("空结果: %v %+v", err, empty)
	}
}

func TestReceiptLedgerServesVerifier(t *testing.T) {
	t.Parallel()

	ledger, drv := newLedger(t,
		mysqltest.Exec(insertNonceSQL, mysqltest.Result{Affected: 1}),
	)
	defer drv.AssertConsumed(t)

	var store x402.ReceiptStore = ledger
	if ok, err := store.ClaimNonce(context.Background(), "0x01", "0x02"); !ok || err != nil {
		t.Fatalf("账本应满足 ReceiptStore: %v", err)
	}
}
