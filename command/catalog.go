package command

import (
	"fmt"
	"strings"
)

var ExpenseCategories = []string{
	"TRANSPORTATION",
	"FOOD & DINING",
	"ACCOMMODATION",
	"COMMUNICATION",
	"ENTERTAINMENT",
	"HEALTHCARE",
	"OFFICE SUPPLIES",
	"TRAVEL",
	"UTILITIES",
	"MISCELLANEOUS",
}

var PaymentModes = []string{
	"CASH",
	"CREDIT CARD",
	"DEBIT CARD",
	"BANK TRANSFER",
	"MOBILE PAYMENT",
	"SBM ACC",
	"IDFC",
	"OTHER",
}

var IncomeSources = []string{
	"COMPANY",
	"INVESTMENT",
	"ALLOWANCE",
	"REIMBURSEMENT",
	"BONUS",
	"OTHER",
}

// Function names advertised in function mode.
const (
	FuncLogExpense = "log_expense"
	FuncLogIncome  = "log_income"
	FuncLogTime    = "log_time"
)

// KindForFunction maps a function name to the record it produces.
func KindForFunction(name string) (Kind, bool) {
	switch name {
	case FuncLogExpense:
		return KindExpense, true
	case FuncLogIncome:
		return KindIncome, true
	case FuncLogTime:
		return KindTimeLog, true
	}
	return "", false
}

// Tool is a function schema in the shape the realtime session expects.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func FunctionTools() []Tool {
	str := func(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }
	enum := func(desc string, values []string) map[string]any {
		return map[string]any{"type": "string", "description": desc, "enum": values}
	}
	amount := map[string]any{"type": "number", "description": "Amount in rupees, greater than zero"}
	return []Tool{
		{
			Type:        "function",
			Name:        FuncLogExpense,
			Description: "Log an expense once amount, category, description and payment mode are known.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"amount":      amount,
					"category":    enum("Expense category", ExpenseCategories),
					"description": str("What the money was spent on"),
					"paymentMode": enum("How it was paid", PaymentModes),
					"needWant":    enum("NEED or WANT, defaults to NEED", []string{Need, Want}),
				},
				"required": []string{"amount", "category", "description", "paymentMode"},
			},
		},
		{
			Type:        "function",
			Name:        FuncLogIncome,
			Description: "Log income once amount, source, account and payer are known.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"amount":       amount,
					"source":       enum("Income source", IncomeSources),
					"receivedIn":   str("Account or mode the money arrived in"),
					"receivedFrom": str("Who paid"),
					"notes":        str("Optional notes"),
				},
				"required": []string{"amount", "source", "receivedIn", "receivedFrom"},
			},
		},
		{
			Type:        "function",
			Name:        FuncLogTime,
			Description: "Log what the user did during a time range today.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"start":    str("Range start, HH:MM 24h"),
					"end":      str("Range end, HH:MM 24h"),
					"activity": str("What the user did"),
					"category": str("Activity category"),
				},
				"required": []string{"start", "end", "activity", "category"},
			},
		},
	}
}

// Instructions is the system prompt for the slot-filling conversation. In
// function mode the assistant calls a tool instead of replying with JSON.
func Instructions(functionMode bool) string {
	var b strings.Builder
	b.WriteString(`You are a helpful expense tracking assistant for a personal finance app.

LANGUAGE SUPPORT:
- Understand and respond in BOTH Hindi and English seamlessly
- User may switch between languages mid-conversation, adapt naturally
- Use Hinglish when appropriate
- Always use the ₹ symbol for rupees

Your job is to CONVERSATIONALLY collect expense, income or time log information.

When the user mentions an expense, income or how they spent their time:
1. Extract: amount, category, description, payment mode, need/want (expenses) OR source, receivedIn, receivedFrom (income) OR start, end, activity, category (time log)
2. If ANY required field is missing, ask for it IN THE SAME LANGUAGE the user is speaking:
   - Missing amount: "Kitna tha?" / "How much was it?"
   - Missing category: "Kis category mein dalu?" / "What category?"
   - Missing description: "Isko kya naam du?" / "What should I call this?"
   - Missing payment mode: "Kaise pay kiya? Cash, UPI, card?" / "How did you pay?"
`)
	if functionMode {
		b.WriteString(`3. When ALL required fields are collected, call the matching function (log_expense, log_income, log_time) and read its result back to the user.
`)
	} else {
		b.WriteString(`3. When ALL required fields are collected, say: "Perfect! I've collected all the details."
4. Then IMMEDIATELY reply with ONLY the JSON, in this EXACT format:

For EXPENSE:
{"type":"expense","amount":500,"category":"FOOD & DINING","description":"Lunch","paymentMode":"UPI","needWant":"NEED"}

For INCOME:
{"type":"income","amount":10000,"source":"COMPANY","receivedIn":"Bank Transfer","receivedFrom":"Company Name"}

For TIME LOG:
{"type":"time_log","start":"10:00","end":"12:00","activity":"Client meeting","category":"WORK"}
`)
	}
	fmt.Fprintf(&b, `
REQUIRED FIELDS for expenses: amount, category, description, paymentMode
REQUIRED FIELDS for income: amount, source, receivedIn, receivedFrom
REQUIRED FIELDS for time logs: start, end, activity, category

AVAILABLE CATEGORIES: %s
AVAILABLE PAYMENT MODES: %s
AVAILABLE INCOME SOURCES: %s

Be patient and conversational. Keep responses concise, this is voice, not text.`,
		strings.Join(ExpenseCategories, ", "),
		strings.Join(PaymentModes, ", "),
		strings.Join(IncomeSources, ", "),
	)
	return b.String()
}
