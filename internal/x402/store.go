package x402

import (
	"context"
	"strings"
	"sync"

	xerrors "BNBChain-AgentKit/internal/errors"
)

// ReceiptStore persists receipts and the nonces already spent.
type ReceiptStore interface {
	// ClaimNonce marks (payer, nonce) as used. It reports false when the
	// pair was claimed before.
	ClaimNonce(ctx context.Context, payer, nonce string) (bool, error)
	Record(ctx context.Context, receipt PaymentReceipt) error
	Get(ctx context.Context, paymentID string) (PaymentReceipt, error)
	List(ctx context.Context, filter ReceiptFilter) ([]PaymentReceipt, error)
}

// ReceiptFilter narrows List. Zero values match everything; Limit <= 0
// means 100.
type ReceiptFilter struct {
	Payer string
	Route string
	Limit int
}

func (f ReceiptFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

func (f ReceiptFilter) match(r PaymentReceipt) bool {
	if f.Payer != "" && !strings.EqualFold(f.Payer, r.Payer) {
		return false
	}
	return f.Route == "" || f.Route == r.Route
}

// NonceKey normalises a payer/nonce pair.
func NonceKey(payer, nonce string) string {
	return strings.ToLower(payer) + ":" + strings.ToLower(nonce)
}

// MemoryStore keeps receipts in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	receipts map[string]PaymentReceipt
	order    []string
	nonces   map[string]struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{receipts: make(map[string]PaymentReceipt), nonces: make(map[string]struct{})}
}

// ClaimNonce implements ReceiptStore.
func (s *MemoryStore) ClaimNonce(_ context.Context, payer, nonce string) (bool, error) {
	key := NonceKey(payer, nonce)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, used := s.nonces[key]; used {
		return false, nil
	}
	s.nonces[key] = struct{}{}
	return true, nil
}

// Record implements ReceiptStore.
func (s *MemoryStore) Record(_ context.Context, r PaymentReceipt) error {
	if r.PaymentID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "payment id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.receipts[r.PaymentID]; exists {
		return xerrors.Newf(xerrors.CodeConflict, "payment %s already recorded", r.PaymentID)
	}
	s.receipts[r.PaymentID] = r
	s.order = append(s.order, r.PaymentID)
	return nil
}

// Get implements ReceiptStore.
func (s *MemoryStore) Get(_ context.Context, id string) (PaymentReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[id]
	if !ok {
		return PaymentReceipt{}, xerrors.Newf(xerrors.CodeNotFound, "payment %s not found", id)
	}
	return r, nil
}

// List implements ReceiptStore, newest first.
func (s *MemoryStore) List(_ context.Context, f ReceiptFilter) ([]PaymentReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PaymentReceipt, 0)
	for i := len(s.order) - 1; i >= 0 && len(out) < f.limit(); i-- {
		if r := s.receipts[s.order[i]]; f.match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}
