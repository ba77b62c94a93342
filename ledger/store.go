// Package ledger persists completed commands and adapts them to the realtime
// session as its host bridge.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bt-bridge/voice-ledger/command"
	"github.com/google/uuid"
)

var ErrDuplicateRecord = errors.New("ledger: record already exists")

// Record is one appended row. Exactly one of Expense, Income and TimeLog is
// set, matching Kind.
type Record struct {
	ID        string
	SheetID   string
	Kind      command.Kind
	Strategy  command.Strategy
	RawText   string
	Expense   *command.Expense
	Income    *command.Income
	TimeLog   *command.TimeLog
	CreatedAt time.Time
}

// NewRecord assigns a fresh id. CreatedAt is left to the store.
func NewRecord(sheetID string, cmd *command.Command) (*Record, error) {
	if cmd == nil {
		return nil, errors.New("ledger: nil command")
	}
	if sheetID == "" {
		return nil, errors.New("ledger: sheet id is required")
	}
	rec := &Record{
		ID:       uuid.NewString(),
		SheetID:  sheetID,
		Kind:     cmd.Kind,
		Strategy: cmd.Strategy,
		RawText:  cmd.RawText,
		Expense:  cmd.Expense,
		Income:   cmd.Income,
		TimeLog:  cmd.TimeLog,
	}
	if err := rec.validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *Record) validate() error {
	var ok bool
	switch r.Kind {
	case command.KindExpense:
		ok = r.Expense != nil
	case command.KindIncome:
		ok = r.Income != nil
	case command.KindTimeLog:
		ok = r.TimeLog != nil
	default:
		return fmt.Errorf("ledger: unknown record kind %q", r.Kind)
	}
	if !ok {
		return fmt.Errorf("ledger: %s record has no payload", r.Kind)
	}
	return nil
}

// Store appends and lists records for a sheet. List returns records of kind
// in insertion order; an empty kind lists every record.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	List(ctx context.Context, sheetID string, kind command.Kind) ([]Record, error)
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	sheets map[string][]Record
	ids    map[string]struct{}
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sheets: make(map[string][]Record),
		ids:    make(map[string]struct{}),
		now:    time.Now,
	}
}

func (m *MemoryStore) Append(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.ids[rec.ID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateRecord, rec.ID)
	}
	rec.CreatedAt = m.now()
	m.ids[rec.ID] = struct{}{}
	m.sheets[rec.SheetID] = append(m.sheets[rec.SheetID], *rec)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, sheetID string, kind command.Kind) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sheets[sheetID]
	if kind == "" {
		return slices.Clone(all), nil
	}
	out := make([]Record, 0, len(all))
	for _, r := range all {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}
