package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/spoolscan/pkg/spooltag"
)

func TestMachine_ForwardPath(t *testing.T) {
	m := newMachine("scan-1", nil)
	for _, to := range []spooltag.ScanState{
		spooltag.StateAuthenticating,
		spooltag.StateReadingData,
		spooltag.StateParsingData,
		spooltag.StateCompleted,
	} {
		require.NoError(t, m.advance(to))
	}
	assert.Equal(t, spooltag.StateCompleted, m.state)
	assert.Len(t, m.history, 5)
}

func TestMachine_IllegalTransitionResolvesToError(t *testing.T) {
	tests := []struct {
		name string
		path []spooltag.ScanState
		to   spooltag.ScanState
	}{
		{name: "skip a state", to: spooltag.StateReadingData},
		{name: "backwards", path: []spooltag.ScanState{spooltag.StateAuthenticating}, to: spooltag.StateInitializing},
		{name: "complete early", to: spooltag.StateCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMachine("scan-1", nil)
			for _, s := range tt.path {
				require.NoError(t, m.advance(s))
			}
			assert.Error(t, m.advance(tt.to))
			assert.Equal(t, spooltag.StateError, m.state)
		})
	}
}

func TestMachine_TerminalStatesAbsorb(t *testing.T) {
	var seen []Transition
	m := newMachine("scan-1", func(tr Transition) { seen = append(seen, tr) })

	m.fail()
	m.fail()
	assert.Error(t, m.advance(spooltag.StateAuthenticating))
	assert.Error(t, m.advance(spooltag.StateError))

	assert.Equal(t, spooltag.StateError, m.state)
	assert.Len(t, seen, 1, "only the first failure is a transition")
}
