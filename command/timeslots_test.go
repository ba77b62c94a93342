package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"00:00", 0, true},
		{"9:05", 545, true},
		{"23:59", 1439, true},
		{"24:00", 1440, true},
		{"24:01", 0, false},
		{"12:60", 0, false},
		{"1200", 0, false},
		{"ab:cd", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSlot(t *testing.T) {
	start, end, err := ParseSlot("10:00 - 11:00")
	require.NoError(t, err)
	assert.Equal(t, 600, start)
	assert.Equal(t, 660, end)

	_, _, err = ParseSlot("11:00 - 10:00")
	assert.Error(t, err)
	_, _, err = ParseSlot("10:00")
	assert.Error(t, err)
}

func TestExpandRange(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		want       []string
		ok         bool
	}{
		{"whole hours", "10:00", "12:00", []string{"10:00 - 11:00", "11:00 - 12:00"}, true},
		{"clipped tail", "09:30", "11:00", []string{"09:30 - 10:30", "10:30 - 11:00"}, true},
		{"short", "14:00", "14:20", []string{"14:00 - 14:20"}, true},
		{"end of day", "23:00", "24:00", []string{"23:00 - 24:00"}, true},
		{"reversed", "12:00", "10:00", nil, false},
		{"empty", "12:00", "12:00", nil, false},
		{"missing end", "12:00", "", nil, false},
		{"malformed", "noon", "13:00", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandRange(tt.start, tt.end, DefaultSlotDuration)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ExpandRange("10:00", "11:00", 0)
	assert.Error(t, err)
	got, err := ExpandRange("10:00", "11:00", 30*time.Minute)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestKindForFunction(t *testing.T) {
	k, ok := KindForFunction(FuncLogTime)
	assert.True(t, ok)
	assert.Equal(t, KindTimeLog, k)
	_, ok = KindForFunction("nope")
	assert.False(t, ok)
}

func TestFunctionToolsAndInstructions(t *testing.T) {
	tools := FunctionTools()
	require.Len(t, tools, 3)
	for _, tool := range tools {
		_, ok := KindForFunction(tool.Name)
		assert.True(t, ok, tool.Name)
		assert.Equal(t, "function", tool.Type)
	}
	text := Instructions(false)
	assert.Contains(t, text, `{"type":"expense"`)
	assert.Contains(t, text, "FOOD & DINING")
	fn := Instructions(true)
	assert.Contains(t, fn, "log_expense")
	assert.NotContains(t, fn, `{"type":"expense"`)
}
