package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hetulpatel/darwin/internal/hashutil"
	"github.com/hetulpatel/darwin/internal/ports"
)

// Memory is an in-process ledger. Every memo lands in its own block.
type Memory struct {
	mu    sync.Mutex
	txs   map[string]ports.LedgerTx
	order []string
	block uint64
	now   func() time.Time
	fail  error
}

// NewMemory returns an empty in-process ledger.
func NewMemory() *Memory {
	return &Memory{txs: make(map[string]ports.LedgerTx), now: time.Now}
}

// FailWith makes subsequent submissions return err until cleared with nil.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

// SubmitMemo records memo and returns a content-derived transaction id.
func (m *Memory) SubmitMemo(ctx context.Context, memo string) (ports.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return ports.Receipt{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return ports.Receipt{}, m.fail
	}
	m.block++
	txID := hashutil.HashStrings(memo, fmt.Sprint(m.block))
	m.txs[txID] = ports.LedgerTx{TxID: txID, Memo: memo, Block: m.block, Timestamp: m.now().UTC()}
	m.order = append(m.order, txID)
	return ports.Receipt{TxID: txID, Block: m.block}, nil
}

// GetTransaction returns a previously submitted memo.
func (m *Memory) GetTransaction(ctx context.Context, txID string) (ports.LedgerTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[txID]
	if !ok {
		return ports.LedgerTx{}, fmt.Errorf("ledger: tx %s: %w", txID, ports.ErrNotFound)
	}
	return tx, nil
}

// Memos returns all memos in submission order.
func (m *Memory) Memos() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.txs[id].Memo)
	}
	return out
}
