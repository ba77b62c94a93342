package agents

import (
	"bytes"
	"context"
	"testing"

	"github.com/bt-bridge/voice-ledger/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferHook struct{ bytes.Buffer }

func (*bufferHook) Close() error { return nil }

func TestCLIAgent_SpawnValidation(t *testing.T) {
	printer, err := shared.NewPrinter("  ", &bufferHook{})
	require.NoError(t, err)
	logger := shared.NewNopLogger()

	tests := []struct {
		name    string
		logger  shared.LoggerAdapter
		cfg     *shared.Config
		printer *shared.Printer
		wantErr string
	}{
		{name: "no logger", cfg: shared.DefaultConfig(), printer: printer, wantErr: shared.ErrNoLogger.Error()},
		{name: "no config", logger: logger, printer: printer, wantErr: shared.ErrNoConfig.Error()},
		{name: "no printer", logger: logger, cfg: shared.DefaultConfig(), wantErr: "no printer provided"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := new(CLIAgent)
			err := a.Spawn(context.Background(), tt.logger, tt.cfg, tt.printer, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCLIAgent_CloseWithoutSpawn(t *testing.T) {
	a := new(CLIAgent)
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
