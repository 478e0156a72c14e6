package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/x402"
)

const mysqlDuplicateEntry = 1062

const receiptColumns = `payment_id, payer, payee, amount, token, chain_id, tx_hash, nonce, route, created_at`

// ReceiptLedger 将 x402 支付收据与已使用的 nonce 持久化到 MySQL。
type ReceiptLedger struct {
	db  *sql.DB
	now func() time.Time
}

// NewReceiptLedger 基于已打开的连接池构造账本。
func NewReceiptLedger(db *sql.DB) *ReceiptLedger {
	return &ReceiptLedger{db: db, now: time.Now}
}

// ClaimNonce 依赖主键唯一性判断 nonce 是否已被使用。
func (l *ReceiptLedger) ClaimNonce(ctx context.Context, payer, nonce string) (bool, error) {
	_, err := l.db.ExecContext(ctx, `INSERT INTO x402_nonces (nonce_key, claimed_at) VALUES (?, ?)`,
		x402.NonceKey(payer, nonce), l.now().Unix())
	if err != nil {
		if isDuplicate(err) {
			return false, nil
		}
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录 nonce 失败")
	}
	return true, nil
}

// Record 写入一条收据。
func (l *ReceiptLedger) Record(ctx context.Context, r x402.PaymentReceipt) error {
	if strings.TrimSpace(r.PaymentID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "payment id is required")
	}
	createdAt := r.Timestamp
	if createdAt == 0 {
		createdAt = l.now().Unix()
	}
	_, err := l.db.ExecContext(ctx, `INSERT INTO x402_receipts (`+receiptColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.PaymentID, r.Payer, r.Payee, r.Amount, r.Token, r.ChainID, r.TxHash, r.Nonce, r.Route, createdAt)
	if err != nil {
		if isDuplicate(err) {
			return xerrors.Newf(xerrors.CodeConflict, "payment %s already recorded", r.PaymentID)
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入支付收据失败")
	}
	return nil
}

// Get 按支付 ID 查询收据。
func (l *ReceiptLedger) Get(ctx context.Context, paymentID string) (x402.PaymentReceipt, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM x402_receipts WHERE payment_id = ?`, paymentID)
	r, err := scanReceipt(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return x402.PaymentReceipt{}, xerrors.Newf(xerrors.CodeNotFound, "payment %s not found", paymentID)
		}
		return x402.PaymentReceipt{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付收据失败")
	}
	return r, nil
}

// List 按时间倒序返回收据。
func (l *ReceiptLedger) List(ctx context.Context, f x402.ReceiptFilter) ([]x402.PaymentReceipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM x402_receipts`
	var conditions []string
	var args []any
	if f.Payer != "" {
		conditions = append(conditions, "payer = ?")
		args = append(args, f.Payer)
	}
	if f.Route != "" {
		conditions = append(conditions, "route = ?")
		args = append(args, f.Route)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY created_at DESC, payment_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付收据列表失败")
	}
	defer rows.Close()

	out := make([]x402.PaymentReceipt, 0, limit)
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析支付收据失败")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历支付收据失败")
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReceipt(s scanner) (x402.PaymentReceipt, error) {
	var r x402.PaymentReceipt
	err := s.Scan(&r.PaymentID, &r.Payer, &r.Payee, &r.Amount, &r.Token, &r.ChainID, &r.TxHash, &r.Nonce, &r.Route, &r.Timestamp)
	return r, err
}

func isDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return stdErrors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

var _ x402.ReceiptStore = (*ReceiptLedger)(nil)
