package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/bt-bridge/voice-ledger/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, time.March, 14, 13, 5, 0, 0, time.UTC)

func expenseCommand(t *testing.T, amount float64, description string) *command.Command {
	t.Helper()
	cmd, err := command.Build(command.KindExpense, command.Fields{
		"amount":      amount,
		"category":    "Food",
		"description": description,
		"paymentMode": "UPI",
	}, testNow)
	require.NoError(t, err)
	cmd.Strategy = command.StrategyText
	return cmd
}

func incomeCommand(t *testing.T) *command.Command {
	t.Helper()
	cmd, err := command.Build(command.KindIncome, command.Fields{
		"amount":       25000,
		"source":       "Salary",
		"receivedIn":   "Bank",
		"receivedFrom": "Acme",
	}, testNow)
	require.NoError(t, err)
	cmd.Strategy = command.StrategyFunction
	return cmd
}

func TestNewRecord(t *testing.T) {
	tests := []struct {
		name    string
		sheetID string
		cmd     func(t *testing.T) *command.Command
		wantErr string
	}{
		{
			name:    "expense",
			sheetID: "sheet-1",
			cmd:     func(t *testing.T) *command.Command { return expenseCommand(t, 500, "Lunch") },
		},
		{
			name:    "nil command",
			sheetID: "sheet-1",
			cmd:     func(*testing.T) *command.Command { return nil },
			wantErr: "nil command",
		},
		{
			name:    "missing sheet",
			cmd:     func(t *testing.T) *command.Command { return incomeCommand(t) },
			wantErr: "sheet id is required",
		},
		{
			name:    "kind without payload",
			sheetID: "sheet-1",
			cmd:     func(*testing.T) *command.Command { return &command.Command{Kind: command.KindTimeLog} },
			wantErr: "has no payload",
		},
		{
			name:    "unknown kind",
			sheetID: "sheet-1",
			cmd:     func(*testing.T) *command.Command { return &command.Command{Kind: "balance"} },
			wantErr: "unknown record kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := NewRecord(tt.sheetID, tt.cmd(t))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, rec.ID)
			assert.Equal(t, tt.sheetID, rec.SheetID)
			assert.Equal(t, command.KindExpense, rec.Kind)
			assert.Equal(t, 500.0, rec.Expense.Amount)
		})
	}
}

func TestMemoryStore_AppendAndList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.now = func() time.Time { return testNow }

	lunch, err := NewRecord("sheet-1", expenseCommand(t, 500, "Lunch"))
	require.NoError(t, err)
	salary, err := NewRecord("sheet-1", incomeCommand(t))
	require.NoError(t, err)
	other, err := NewRecord("sheet-2", expenseCommand(t, 80, "Tea"))
	require.NoError(t, err)

	for _, rec := range []*Record{lunch, salary, other} {
		require.NoError(t, store.Append(ctx, rec))
	}
	assert.Equal(t, testNow, lunch.CreatedAt)

	all, err := store.List(ctx, "sheet-1", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, lunch.ID, all[0].ID)
	assert.Equal(t, salary.ID, all[1].ID)

	expenses, err := store.List(ctx, "sheet-1", command.KindExpense)
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Equal(t, "Lunch", expenses[0].Expense.Description)

	empty, err := store.List(ctx, "missing", command.KindIncome)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStore_RejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec, err := NewRecord("sheet-1", expenseCommand(t, 500, "Lunch"))
	require.NoError(t, err)

	require.NoError(t, store.Append(ctx, rec))
	err = store.Append(ctx, rec)
	assert.ErrorIs(t, err, ErrDuplicateRecord)
}

func TestMemoryStore_ListIsACopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec, err := NewRecord("sheet-1", expenseCommand(t, 500, "Lunch"))
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, rec))

	got, err := store.List(ctx, "sheet-1", "")
	require.NoError(t, err)
	got[0].ID = "changed"

	again, err := store.List(ctx, "sheet-1", "")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again[0].ID)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemoryStore()
	rec, err := NewRecord("sheet-1", expenseCommand(t, 500, "Lunch"))
	require.NoError(t, err)

	assert.ErrorIs(t, store.Append(ctx, rec), context.Canceled)
	_, err = store.List(ctx, "sheet-1", "")
	assert.ErrorIs(t, err, context.Canceled)
}
