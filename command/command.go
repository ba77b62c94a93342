// Package command turns assistant output into structured ledger records.
//
// Two strategies feed the same record contract: free text that eventually
// contains a complete JSON object, and named function calls whose arguments
// are already a JSON object.
package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindExpense Kind = "expense"
	KindIncome  Kind = "income"
	KindTimeLog Kind = "time_log"
)

func (k Kind) Valid() bool {
	switch k {
	case KindExpense, KindIncome, KindTimeLog:
		return true
	}
	return false
}

type Strategy string

const (
	StrategyText     Strategy = "text"
	StrategyFunction Strategy = "function"
)

const (
	Need = "NEED"
	Want = "WANT"
)

var ErrIncomplete = errors.New("incomplete command")

// Fields is a decoded JSON object.
type Fields map[string]any

type Expense struct {
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	PaymentMode string  `json:"paymentMode"`
	NeedWant    string  `json:"needWant"`
	Date        string  `json:"date"`
	Month       string  `json:"month"`
}

type Income struct {
	Amount       float64 `json:"amount"`
	Source       string  `json:"source"`
	ReceivedIn   string  `json:"receivedIn"`
	ReceivedFrom string  `json:"receivedFrom"`
	Notes        string  `json:"notes,omitempty"`
	Date         string  `json:"date"`
	Month        string  `json:"month"`
}

type TimeEntry struct {
	Slot     string `json:"slot"`
	Activity string `json:"activity"`
	Category string `json:"category"`
}

type TimeLog struct {
	Date    string      `json:"date"`
	Entries []TimeEntry `json:"entries"`
}

// Command is a completed record. Exactly one of Expense, Income and TimeLog
// is set, matching Kind.
type Command struct {
	Kind     Kind
	Fields   Fields
	Expense  *Expense
	Income   *Income
	TimeLog  *TimeLog
	RawText  string
	Strategy Strategy

	seq uint64
}

// Build validates fields against the required set for kind. Missing required
// fields yield ErrIncomplete; nothing is invented for them. needWant, date
// and month are filled in when absent.
func Build(kind Kind, fields Fields, now time.Time) (*Command, error) {
	cmd := &Command{Kind: kind, Fields: make(Fields, len(fields)+3)}
	for k, v := range fields {
		cmd.Fields[k] = v
	}
	cmd.Fields["type"] = string(kind)

	date := stringField(fields, "date")
	if date == "" {
		date = now.Format(time.DateOnly)
	}
	month := stringField(fields, "month")
	if month == "" {
		month = monthOf(date, now)
	}

	var missing []string
	require := func(name string) string {
		v := stringField(fields, name)
		if v == "" {
			missing = append(missing, name)
		}
		return v
	}
	amount := func() float64 {
		v, ok := numberField(fields, "amount")
		if !ok || v <= 0 {
			missing = append(missing, "amount")
		}
		return v
	}

	switch kind {
	case KindExpense:
		e := &Expense{
			Amount:      amount(),
			Category:    require("category"),
			Description: require("description"),
			PaymentMode: require("paymentMode"),
			NeedWant:    strings.ToUpper(stringField(fields, "needWant")),
			Date:        date,
			Month:       month,
		}
		if e.NeedWant != Want {
			e.NeedWant = Need
		}
		cmd.Expense = e
		cmd.Fields["needWant"] = e.NeedWant
	case KindIncome:
		cmd.Income = &Income{
			Amount:       amount(),
			Source:       require("source"),
			ReceivedIn:   require("receivedIn"),
			ReceivedFrom: require("receivedFrom"),
			Notes:        stringField(fields, "notes"),
			Date:         date,
			Month:        month,
		}
	case KindTimeLog:
		entries, err := timeEntries(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIncomplete, err)
		}
		cmd.TimeLog = &TimeLog{Date: date, Entries: entries}
		cmd.Fields["entries"] = entriesAsFields(entries)
	default:
		return nil, fmt.Errorf("unknown command kind %q", kind)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s missing %s", ErrIncomplete, kind, strings.Join(missing, ", "))
	}
	cmd.Fields["date"] = date
	if kind != KindTimeLog {
		cmd.Fields["month"] = month
	}
	return cmd, nil
}

// Summary is a short human readable confirmation.
func (c *Command) Summary() string {
	switch c.Kind {
	case KindExpense:
		return fmt.Sprintf("Logged expense of ₹%s for %s", FormatINR(c.Expense.Amount), c.Expense.Description)
	case KindIncome:
		return fmt.Sprintf("Logged income of ₹%s from %s", FormatINR(c.Income.Amount), c.Income.ReceivedFrom)
	case KindTimeLog:
		n := len(c.TimeLog.Entries)
		if n == 1 {
			return fmt.Sprintf("Logged %s: %s", c.TimeLog.Entries[0].Slot, c.TimeLog.Entries[0].Activity)
		}
		return fmt.Sprintf("Logged %d time slots for %s", n, c.TimeLog.Date)
	}
	return "Logged " + string(c.Kind)
}

func timeEntries(fields Fields) ([]TimeEntry, error) {
	if raw, ok := fields["entries"].([]any); ok && len(raw) > 0 {
		entries := make([]TimeEntry, 0, len(raw))
		for i, r := range raw {
			m, ok := r.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("entry %d is not an object", i)
			}
			e := TimeEntry{
				Slot:     stringField(m, "slot"),
				Activity: stringField(m, "activity"),
				Category: stringField(m, "category"),
			}
			if e.Activity == "" || e.Category == "" {
				return nil, fmt.Errorf("entry %d missing activity or category", i)
			}
			if _, _, err := ParseSlot(e.Slot); err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			entries = append(entries, e)
		}
		return entries, nil
	}

	activity, category := stringField(fields, "activity"), stringField(fields, "category")
	if activity == "" || category == "" {
		return nil, errors.New("time_log missing entries")
	}
	if slot := stringField(fields, "slot"); slot != "" {
		if _, _, err := ParseSlot(slot); err != nil {
			return nil, err
		}
		return []TimeEntry{{Slot: slot, Activity: activity, Category: category}}, nil
	}
	slots, err := ExpandRange(stringField(fields, "start"), stringField(fields, "end"), DefaultSlotDuration)
	if err != nil {
		return nil, err
	}
	entries := make([]TimeEntry, len(slots))
	for i, s := range slots {
		entries[i] = TimeEntry{Slot: s, Activity: activity, Category: category}
	}
	return entries, nil
}

func entriesAsFields(entries []TimeEntry) []any {
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = map[string]any{"slot": e.Slot, "activity": e.Activity, "category": e.Category}
	}
	return out
}

func stringField(fields map[string]any, name string) string {
	switch v := fields[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// numberField reads a finite number. NaN and infinities, which ParseFloat
// accepts in string form, are rejected.
func numberField(fields map[string]any, name string) (float64, bool) {
	var f float64
	switch v := fields[name].(type) {
	case float64:
		f = v
	case int64:
		f = float64(v)
	case int:
		f = float64(v)
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", ""), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func monthOf(date string, now time.Time) string {
	if t, err := time.Parse(time.DateOnly, date); err == nil {
		return t.Month().String()
	}
	return now.Month().String()
}

// FormatINR groups digits the Indian way: 12,34,567.5.
func FormatINR(amount float64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	s := strconv.FormatFloat(amount, 'f', -1, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	if len(intPart) > 3 {
		head, tail := intPart[:len(intPart)-3], intPart[len(intPart)-3:]
		var groups []string
		for len(head) > 2 {
			groups = append([]string{head[len(head)-2:]}, groups...)
			head = head[:len(head)-2]
		}
		if head != "" {
			groups = append([]string{head}, groups...)
		}
		intPart = strings.Join(append(groups, tail), ",")
	}
	if frac != "" {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		intPart += "." + frac
	}
	if neg {
		return "-" + intPart
	}
	return intPart
}
