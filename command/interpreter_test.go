package command

import (
	"testing"
	"time"

	"github.com/bt-bridge/voice-ledger/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var fixedNow = time.Date(2025, time.March, 14, 10, 30, 0, 0, time.UTC)

func newTestInterpreter(t *testing.T, opts ...Option) *Interpreter {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	i, err := NewInterpreter(shared.NewZapLogger(zaptest.NewLogger(t)), opts...)
	require.NoError(t, err)
	return i
}

func ready(i *Interpreter) bool {
	select {
	case <-i.Ready():
		return true
	default:
		return false
	}
}

const lunch = `{"type":"expense","amount":500,"category":"FOOD & DINING","description":"Lunch","paymentMode":"UPI"}`

func TestNewInterpreter_NoLogger(t *testing.T) {
	_, err := NewInterpreter(nil)
	assert.ErrorIs(t, err, shared.ErrNoLogger)
}

func TestInterpreter_ExpenseFiresOnceWithDefaultNeed(t *testing.T) {
	i := newTestInterpreter(t)
	i.FeedText(lunch)

	require.True(t, ready(i))
	cmds := i.Take()
	require.Len(t, cmds, 1)
	cmd := cmds[0]
	assert.Equal(t, KindExpense, cmd.Kind)
	assert.Equal(t, StrategyText, cmd.Strategy)
	assert.Equal(t, 500.0, cmd.Fields["amount"])
	assert.Equal(t, "FOOD & DINING", cmd.Fields["category"])
	assert.Equal(t, "Lunch", cmd.Fields["description"])
	assert.Equal(t, "UPI", cmd.Fields["paymentMode"])
	assert.Equal(t, Need, cmd.Fields["needWant"])
	assert.Equal(t, Need, cmd.Expense.NeedWant)
	assert.Equal(t, "2025-03-14", cmd.Expense.Date)
	assert.Equal(t, "March", cmd.Expense.Month)

	assert.Empty(t, i.Take())
	assert.False(t, ready(i))
}

func TestInterpreter_StreamedDeltasWithProse(t *testing.T) {
	i := newTestInterpreter(t)
	payload := "Perfect! I've collected all the details. " + lunch + " Done."
	for _, r := range payload {
		i.FeedText(string(r))
	}
	cmds := i.Take()
	require.Len(t, cmds, 1)
	assert.Equal(t, "Lunch", cmds[0].Expense.Description)
}

func TestInterpreter_BracesInsideStrings(t *testing.T) {
	i := newTestInterpreter(t)
	i.FeedText(`{"type":"expense","amount":120,"category":"MISCELLANEOUS","description":"Gift {wrapped} \"box\"","paymentMode":"CASH","needWant":"want"}`)
	cmds := i.Take()
	require.Len(t, cmds, 1)
	assert.Equal(t, `Gift {wrapped} "box"`, cmds[0].Expense.Description)
	assert.Equal(t, Want, cmds[0].Expense.NeedWant)
}

func TestInterpreter_IncompleteIsDiscarded(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"missing paymentMode", `{"type":"expense","amount":500,"category":"FOOD & DINING","description":"Lunch"}`},
		{"zero amount", `{"type":"expense","amount":0,"category":"FOOD & DINING","description":"Lunch","paymentMode":"UPI"}`},
		{"negative amount", `{"type":"income","amount":-5,"source":"COMPANY","receivedIn":"IDFC","receivedFrom":"Acme"}`},
		{"blank description", `{"type":"expense","amount":500,"category":"FOOD & DINING","description":"  ","paymentMode":"UPI"}`},
		{"income missing receivedFrom", `{"type":"income","amount":10000,"source":"COMPANY","receivedIn":"Bank Transfer"}`},
		{"time log without entries", `{"type":"time_log","activity":"Coding"}`},
		{"time log bad range", `{"type":"time_log","start":"12:00","end":"10:00","activity":"Coding","category":"WORK"}`},
		{"unknown type", `{"type":"balance","amount":5}`},
		{"not json", `{this is not json}`},
		{"nan amount", `{"type":"expense","amount":"NaN","category":"FOOD & DINING","description":"Lunch","paymentMode":"UPI"}`},
		{"infinite amount", `{"type":"income","amount":"Inf","source":"COMPANY","receivedIn":"IDFC","receivedFrom":"Acme"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := newTestInterpreter(t)
			i.FeedText(tt.payload)
			i.EndResponse()
			assert.False(t, ready(i))
			assert.Empty(t, i.Take())
		})
	}
}

func TestInterpreter_StrayBraceBeforeCommand(t *testing.T) {
	tests := []struct {
		name   string
		deltas []string
	}{
		{"one stray brace", []string{"Got it { noting that: ", lunch}},
		{"two stray braces", []string{"{ ok {", " here ", lunch, " done"}},
		{"split across deltas", []string{"sure {", lunch[:20], lunch[20:]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := newTestInterpreter(t)
			for _, d := range tt.deltas {
				i.FeedText(d)
			}
			i.EndResponse()
			require.True(t, ready(i))
			cmds := i.Take()
			require.Len(t, cmds, 1)
			assert.Equal(t, 500.0, cmds[0].Expense.Amount)
			assert.Equal(t, "Lunch", cmds[0].Expense.Description)
		})
	}
}

func TestInterpreter_LastWriteWins(t *testing.T) {
	i := newTestInterpreter(t)
	i.FeedText(lunch)
	i.FeedText(`{"type":"expense","amount":80,"category":"TRANSPORTATION","description":"Metro","paymentMode":"CASH"}`)

	cmds := i.Take()
	require.Len(t, cmds, 1)
	assert.Equal(t, "Metro", cmds[0].Expense.Description)
	assert.Equal(t, 80.0, cmds[0].Expense.Amount)
}

func TestInterpreter_KindsHaveIndependentSlots(t *testing.T) {
	i := newTestInterpreter(t)
	i.FeedText(`{"type":"income","amount":10000,"source":"COMPANY","receivedIn":"Bank Transfer","receivedFrom":"Acme"}`)
	i.FeedText(lunch)

	cmds := i.Take()
	require.Len(t, cmds, 2)
	assert.Equal(t, KindIncome, cmds[0].Kind)
	assert.Equal(t, "Acme", cmds[0].Income.ReceivedFrom)
	assert.Equal(t, KindExpense, cmds[1].Kind)
}

func TestInterpreter_TimeLog(t *testing.T) {
	t.Run("explicit entries", func(t *testing.T) {
		i := newTestInterpreter(t)
		i.FeedText(`{"type":"time_log","date":"2025-03-13","entries":[{"slot":"09:00 - 10:00","activity":"Standup","category":"WORK"},{"slot":"10:00 - 11:00","activity":"Review","category":"WORK"}]}`)
		cmds := i.Take()
		require.Len(t, cmds, 1)
		tl := cmds[0].TimeLog
		assert.Equal(t, "2025-03-13", tl.Date)
		require.Len(t, tl.Entries, 2)
		assert.Equal(t, TimeEntry{Slot: "10:00 - 11:00", Activity: "Review", Category: "WORK"}, tl.Entries[1])
	})
	t.Run("range expansion", func(t *testing.T) {
		i := newTestInterpreter(t)
		i.FeedText(`{"type":"time_log","start":"10:00","end":"12:30","activity":"Client meeting","category":"WORK"}`)
		cmds := i.Take()
		require.Len(t, cmds, 1)
		tl := cmds[0].TimeLog
		assert.Equal(t, "2025-03-14", tl.Date)
		var slots []string
		for _, e := range tl.Entries {
			slots = append(slots, e.Slot)
			assert.Equal(t, "Client meeting", e.Activity)
		}
		assert.Equal(t, []string{"10:00 - 11:00", "11:00 - 12:00", "12:00 - 12:30"}, slots)
	})
	t.Run("bad slot entry", func(t *testing.T) {
		i := newTestInterpreter(t)
		i.FeedText(`{"type":"time_log","entries":[{"slot":"9 to 10","activity":"Standup","category":"WORK"}]}`)
		assert.Empty(t, i.Take())
	})
}

func TestInterpreter_TranscriptAttached(t *testing.T) {
	i := newTestInterpreter(t)
	i.ObserveTranscript("add expense 500 for lunch")
	i.FeedText(lunch)
	cmds := i.Take()
	require.Len(t, cmds, 1)
	assert.Equal(t, "add expense 500 for lunch", cmds[0].RawText)
}

func TestInterpreter_PendingTTL(t *testing.T) {
	now := fixedNow
	i := newTestInterpreter(t, WithClock(func() time.Time { return now }), WithPendingTTL(time.Minute))

	i.FeedText(`{"type":"expense","amount":500,`)
	now = now.Add(2 * time.Minute)
	// the stale head is gone, so this tail alone never forms a command
	i.FeedText(`"category":"FOOD & DINING","description":"Lunch","paymentMode":"UPI"}`)
	assert.Empty(t, i.Take())

	i.FeedText(lunch)
	assert.Len(t, i.Take(), 1)
}

func TestInterpreter_PendingTTLDisabled(t *testing.T) {
	now := fixedNow
	i := newTestInterpreter(t, WithClock(func() time.Time { return now }), WithPendingTTL(0))
	i.FeedText(`{"type":"expense","amount":500,`)
	now = now.Add(time.Hour)
	i.FeedText(`"category":"FOOD & DINING","description":"Lunch","paymentMode":"UPI"}`)
	assert.Len(t, i.Take(), 1)
}

func TestInterpreter_MaxBuffer(t *testing.T) {
	i := newTestInterpreter(t, WithMaxBuffer(16))
	i.FeedText(`{"type":"expense","amount":500,"category":"FOOD`)
	i.FeedText(` & DINING","description":"Lunch","paymentMode":"UPI"}`)
	assert.Empty(t, i.Take())
}

func TestInterpreter_EndResponseDropsPartial(t *testing.T) {
	i := newTestInterpreter(t)
	i.FeedText(`{"type":"expense","amount":500,`)
	i.EndResponse()
	i.FeedText(`"category":"FOOD & DINING","description":"Lunch","paymentMode":"UPI"}`)
	assert.Empty(t, i.Take())
}

func TestInterpreter_Reset(t *testing.T) {
	i := newTestInterpreter(t)
	i.ObserveTranscript("hello")
	i.FeedText(lunch)
	i.Reset()
	assert.False(t, ready(i))
	assert.Nil(t, i.Pending(KindExpense))
	assert.Empty(t, i.Take())
}

func TestInterpreter_FromFunctionCall(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		i := newTestInterpreter(t)
		i.ObserveTranscript("paid 80 for metro in cash")
		fields, cmd, err := i.FromFunctionCall(FuncLogExpense, `{"amount":80,"category":"TRANSPORTATION","description":"Metro","paymentMode":"CASH"}`)
		require.NoError(t, err)
		require.NotNil(t, cmd)
		assert.Equal(t, "Metro", fields["description"])
		assert.Equal(t, StrategyFunction, cmd.Strategy)
		assert.Equal(t, "paid 80 for metro in cash", cmd.RawText)
		assert.Equal(t, Need, cmd.Expense.NeedWant)
		// function calls never go through the text slots
		assert.False(t, ready(i))
	})
	t.Run("unparseable arguments", func(t *testing.T) {
		i := newTestInterpreter(t)
		fields, cmd, err := i.FromFunctionCall(FuncLogExpense, `{"amount": 80, "categ`)
		assert.NotNil(t, fields)
		assert.Empty(t, fields)
		assert.Nil(t, cmd)
		var pe *shared.ParseError
		assert.ErrorAs(t, err, &pe)
		assert.ErrorIs(t, err, ErrIncomplete)
	})
	t.Run("non object arguments", func(t *testing.T) {
		i := newTestInterpreter(t)
		fields, _, err := i.FromFunctionCall(FuncLogIncome, `[1,2]`)
		assert.Empty(t, fields)
		assert.Error(t, err)
	})
	t.Run("non finite amount", func(t *testing.T) {
		i := newTestInterpreter(t)
		_, cmd, err := i.FromFunctionCall(FuncLogExpense, `{"amount":"infinity","category":"TRANSPORTATION","description":"Metro","paymentMode":"CASH"}`)
		assert.Nil(t, cmd)
		assert.ErrorIs(t, err, ErrIncomplete)
	})
	t.Run("unknown function", func(t *testing.T) {
		i := newTestInterpreter(t)
		_, cmd, err := i.FromFunctionCall("get_balance", `{}`)
		assert.Nil(t, cmd)
		assert.ErrorIs(t, err, shared.ErrUnknownFunction)
	})
	t.Run("time range", func(t *testing.T) {
		i := newTestInterpreter(t)
		_, cmd, err := i.FromFunctionCall(FuncLogTime, `{"start":"14:00","end":"16:00","activity":"Deep work","category":"WORK"}`)
		require.NoError(t, err)
		require.Len(t, cmd.TimeLog.Entries, 2)
	})
}

func TestNextObject(t *testing.T) {
	tests := []struct {
		in         string
		start, end int
	}{
		{`no braces`, -1, -1},
		{`ab{"x":1}cd`, 2, 8},
		{`{"a":{"b":"}"}}`, 0, 14},
		{`{"a":"\"{"`, 0, -1},
		{`x{`, 1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			start, end := nextObject([]byte(tt.in))
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}
}
