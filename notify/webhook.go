// Package notify posts WhatsApp-ready messages to a workflow webhook. Sends
// are fire-and-forget: failures are logged and never reach the caller.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bt-bridge/voice-ledger/command"
	"github.com/bt-bridge/voice-ledger/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	DefaultGroup   = "Company Expenses"
	DefaultTimeout = 5 * time.Second
	timeLayout     = "2 Jan 2006, 3:04 pm"
)

type Payload struct {
	Type         string             `json:"type"`
	Message      string             `json:"message"`
	UserName     string             `json:"userName"`
	Amount       float64            `json:"amount,omitempty"`
	Category     string             `json:"category,omitempty"`
	Source       string             `json:"source,omitempty"`
	Description  string             `json:"description,omitempty"`
	ReceivedFrom string             `json:"receivedFrom,omitempty"`
	PaymentMode  string             `json:"paymentMode,omitempty"`
	NeedWant     string             `json:"needWant,omitempty"`
	Date         string             `json:"date,omitempty"`
	Entries      []command.TimeEntry `json:"entries,omitempty"`
	GroupName    string             `json:"groupName"`
	Timestamp    string             `json:"timestamp"`
}

type Webhook struct {
	logger  shared.LoggerAdapter
	http    *fasthttp.Client
	url     string
	group   string
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewWebhook(logger shared.LoggerAdapter, cfg shared.NotifyConfig) (*Webhook, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg.WebhookURL == "" {
		return nil, errors.New("no webhook url provided")
	}
	w := &Webhook{
		logger:  logger.With(zap.String("component", "notify")),
		http:    &fasthttp.Client{},
		url:     cfg.WebhookURL,
		group:   cfg.Group,
		timeout: cfg.Timeout,
		now:     time.Now,
	}
	if w.group == "" {
		w.group = DefaultGroup
	}
	if w.timeout <= 0 {
		w.timeout = DefaultTimeout
	}
	return w, nil
}

// Notify sends in the background and returns immediately.
func (w *Webhook) Notify(cmd *command.Command, agent string) {
	if cmd == nil {
		return
	}
	p := w.payload(cmd, agent, w.now())
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		if err := w.send(ctx, p); err != nil {
			w.logger.Warn("webhook notification failed", zap.String("type", p.Type), zap.Error(err))
			return
		}
		w.logger.Debug("webhook notification sent", zap.String("type", p.Type))
	}()
}

// Wait blocks until every pending notification has finished.
func (w *Webhook) Wait() {
	w.wg.Wait()
}

func (w *Webhook) send(ctx context.Context, p Payload) error {
	body, err := sonic.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	req := fasthttp.AcquireRequest()
	req.SetRequestURI(w.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)
	res, err := shared.DoHTTP(ctx, w.http, req)
	if err != nil {
		return err
	}
	if res.Status < 200 || res.Status >= 300 {
		return fmt.Errorf("webhook responded with status %d", res.Status)
	}
	return nil
}

func (w *Webhook) payload(cmd *command.Command, agent string, at time.Time) Payload {
	p := Payload{
		Type:      string(cmd.Kind),
		Message:   FormatMessage(cmd, agent, at),
		UserName:  agent,
		GroupName: w.group,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
	switch {
	case cmd.Expense != nil:
		e := cmd.Expense
		p.Amount, p.Category, p.Description = e.Amount, e.Category, e.Description
		p.PaymentMode, p.NeedWant, p.Date = e.PaymentMode, e.NeedWant, e.Date
	case cmd.Income != nil:
		i := cmd.Income
		p.Amount, p.Source, p.Description = i.Amount, i.Source, i.Notes
		p.ReceivedFrom, p.Date = i.ReceivedFrom, i.Date
	case cmd.TimeLog != nil:
		p.Date, p.Entries = cmd.TimeLog.Date, cmd.TimeLog.Entries
	}
	return p
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// FormatMessage renders the WhatsApp text for cmd.
func FormatMessage(cmd *command.Command, agent string, at time.Time) string {
	ts := at.Format(timeLayout)
	var b strings.Builder
	switch {
	case cmd.Expense != nil:
		e := cmd.Expense
		fmt.Fprintf(&b, "🎯 *EXPENSE LOGGED*\n\n")
		fmt.Fprintf(&b, "👤 Agent: %s\n", agent)
		fmt.Fprintf(&b, "💰 Amount: ₹%s\n", command.FormatINR(e.Amount))
		fmt.Fprintf(&b, "📁 Category: %s\n", orNA(e.Category))
		fmt.Fprintf(&b, "📝 Description: %s\n", orNA(e.Description))
		fmt.Fprintf(&b, "💳 Payment: %s\n", orNA(e.PaymentMode))
		fmt.Fprintf(&b, "📊 Type: %s\n", orNA(e.NeedWant))
	case cmd.Income != nil:
		i := cmd.Income
		fmt.Fprintf(&b, "💵 *INCOME RECEIVED*\n\n")
		fmt.Fprintf(&b, "👤 Agent: %s\n", agent)
		fmt.Fprintf(&b, "💰 Amount: ₹%s\n", command.FormatINR(i.Amount))
		fmt.Fprintf(&b, "📁 Source: %s\n", orNA(i.Source))
		fmt.Fprintf(&b, "👤 From: %s\n", orNA(i.ReceivedFrom))
		fmt.Fprintf(&b, "📝 Notes: %s\n", orNA(i.Notes))
	case cmd.TimeLog != nil:
		fmt.Fprintf(&b, "🕐 *TIME LOG*\n\n")
		fmt.Fprintf(&b, "👤 Agent: %s\n", agent)
		fmt.Fprintf(&b, "📅 Date: %s\n", cmd.TimeLog.Date)
		for _, e := range cmd.TimeLog.Entries {
			fmt.Fprintf(&b, "• %s %s (%s)\n", e.Slot, e.Activity, orNA(e.Category))
		}
	default:
		fmt.Fprintf(&b, "📢 *NOTIFICATION*\n\n👤 Agent: %s\n", agent)
	}
	fmt.Fprintf(&b, "🕐 Time: %s\n\n_Logged via Agent Expense Tracker_", ts)
	return b.String()
}
