package shared

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufHook struct {
	strings.Builder
	closed bool
	fail   bool
}

func (b *bufHook) WriteString(s string) (int, error) {
	if b.fail {
		return 0, errors.New("hook broken")
	}
	return b.Builder.WriteString(s)
}

func (b *bufHook) Close() error {
	b.closed = true
	return nil
}

func TestNewPrinter(t *testing.T) {
	_, err := NewPrinter("  ")
	assert.Error(t, err)

	var nilHook StringWriteCloser
	_, err = NewPrinter("  ", nilHook)
	assert.Error(t, err)
}

func TestPrinter_Indentation(t *testing.T) {
	a, b := new(bufHook), new(bufHook)
	p, err := NewPrinter("> ", a, b)
	require.NoError(t, err)

	require.NoError(t, p.Writeln("first\nsecond", 1))
	require.NoError(t, p.Write("inline", 0))
	require.NoError(t, p.Writef(2, "amount %d", 500))

	want := "> first\n> second\ninline> > amount 500\n"
	assert.Equal(t, want, a.String())
	assert.Equal(t, want, b.String())

	require.NoError(t, p.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestPrinter_HookError(t *testing.T) {
	p, err := NewPrinter("", &bufHook{fail: true})
	require.NoError(t, err)
	assert.Error(t, p.Writeln("x", 0))
}
