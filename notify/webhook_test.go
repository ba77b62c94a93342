package notify

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bt-bridge/voice-ledger/command"
	"github.com/bt-bridge/voice-ledger/shared"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var at = time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)

func mustBuild(t *testing.T, kind command.Kind, fields command.Fields) *command.Command {
	t.Helper()
	cmd, err := command.Build(kind, fields, at)
	require.NoError(t, err)
	return cmd
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name string
		cmd  *command.Command
		want []string
	}{
		{
			name: "expense",
			cmd: mustBuild(t, command.KindExpense, command.Fields{
				"amount": 150000, "category": "FOOD & DINING", "description": "Team lunch", "paymentMode": "UPI",
			}),
			want: []string{"*EXPENSE LOGGED*", "Agent: Ravi", "Amount: ₹1,50,000", "Payment: UPI", "Type: NEED", "Time: 14 Mar 2025, 10:30 am"},
		},
		{
			name: "income",
			cmd: mustBuild(t, command.KindIncome, command.Fields{
				"amount": 2500, "source": "SALARY", "receivedIn": "HDFC", "receivedFrom": "Acme",
			}),
			want: []string{"*INCOME RECEIVED*", "Amount: ₹2,500", "Source: SALARY", "From: Acme", "Notes: N/A"},
		},
		{
			name: "time log",
			cmd: mustBuild(t, command.KindTimeLog, command.Fields{
				"start": "09:00", "end": "10:30", "activity": "Standup", "category": "WORK",
			}),
			want: []string{"*TIME LOG*", "Date: 2025-03-14", "• 09:00 - 10:00 Standup (WORK)", "• 10:00 - 10:30 Standup (WORK)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := FormatMessage(tt.cmd, "Ravi", at)
			for _, w := range tt.want {
				assert.Contains(t, msg, w)
			}
			assert.Contains(t, msg, "_Logged via Agent Expense Tracker_")
		})
	}
}

func TestWebhookPostsPayload(t *testing.T) {
	got := make(chan Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		data, _ := io.ReadAll(r.Body)
		var p Payload
		assert.NoError(t, sonic.Unmarshal(data, &p))
		got <- p
	}))
	defer srv.Close()

	w, err := NewWebhook(shared.NewZapLogger(zaptest.NewLogger(t)), shared.NotifyConfig{WebhookURL: srv.URL})
	require.NoError(t, err)
	w.now = func() time.Time { return at }

	cmd := mustBuild(t, command.KindExpense, command.Fields{
		"amount": 500, "category": "FOOD & DINING", "description": "Lunch", "paymentMode": "UPI",
	})
	w.Notify(cmd, "Ravi")
	w.Wait()

	p := <-got
	assert.Equal(t, "expense", p.Type)
	assert.Equal(t, 500.0, p.Amount)
	assert.Equal(t, "NEED", p.NeedWant)
	assert.Equal(t, DefaultGroup, p.GroupName)
	assert.Equal(t, "2025-03-14T10:30:00Z", p.Timestamp)
	assert.Contains(t, p.Message, "*EXPENSE LOGGED*")
}

func TestWebhookFailuresAreSwallowed(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }, 0},
		{"slow", func(w http.ResponseWriter, r *http.Request) { time.Sleep(300 * time.Millisecond) }, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			w, err := NewWebhook(shared.NewNopLogger(), shared.NotifyConfig{WebhookURL: srv.URL, Timeout: tt.timeout, Group: "Ops"})
			require.NoError(t, err)

			cmd := mustBuild(t, command.KindIncome, command.Fields{
				"amount": 1, "source": "OTHER", "receivedIn": "Cash", "receivedFrom": "Ana",
			})
			start := time.Now()
			w.Notify(cmd, "Ana")
			assert.Less(t, time.Since(start), 50*time.Millisecond, "Notify must not block")
			w.Wait()
		})
	}
}

func TestNewWebhookRequiresURL(t *testing.T) {
	_, err := NewWebhook(shared.NewNopLogger(), shared.NotifyConfig{})
	assert.Error(t, err)
	_, err = NewWebhook(nil, shared.NotifyConfig{WebhookURL: "http://x"})
	assert.ErrorIs(t, err, shared.ErrNoLogger)
}
