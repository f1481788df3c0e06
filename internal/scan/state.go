package scan

import (
	"fmt"
	"time"

	"github.com/dyluth/spoolscan/pkg/spooltag"
)

// Transition is reported to the Observer on every state change.
type Transition struct {
	ScanID string
	From   spooltag.ScanState
	To     spooltag.ScanState
	At     time.Time
}

// Observer receives state transitions synchronously on the scanning goroutine.
type Observer func(Transition)

// forward lists the single forward successor of each non-terminal state.
// Every non-terminal state may also move to StateError.
var forward = map[spooltag.ScanState]spooltag.ScanState{
	spooltag.StateInitializing:   spooltag.StateAuthenticating,
	spooltag.StateAuthenticating: spooltag.StateReadingData,
	spooltag.StateReadingData:    spooltag.StateParsingData,
	spooltag.StateParsingData:    spooltag.StateCompleted,
}

// machine tracks one scan's lifecycle. It is owned by a single goroutine.
type machine struct {
	scanID   string
	state    spooltag.ScanState
	observer Observer
	history  []spooltag.ScanState
}

func newMachine(scanID string, observer Observer) *machine {
	return &machine{
		scanID:   scanID,
		state:    spooltag.StateInitializing,
		observer: observer,
		history:  []spooltag.ScanState{spooltag.StateInitializing},
	}
}

// advance moves to the next state. An illegal transition puts the machine in
// StateError and returns an error.
func (m *machine) advance(to spooltag.ScanState) error {
	if m.state.IsTerminal() {
		return fmt.Errorf("illegal scan transition from terminal state %s to %s", m.state, to)
	}
	if to != spooltag.StateError && forward[m.state] != to {
		from := m.state
		m.fail()
		return fmt.Errorf("illegal scan transition %s -> %s", from, to)
	}
	m.set(to)
	return nil
}

// fail moves to StateError unless the machine is already terminal.
func (m *machine) fail() {
	if !m.state.IsTerminal() {
		m.set(spooltag.StateError)
	}
}

func (m *machine) set(to spooltag.ScanState) {
	from := m.state
	m.state = to
	m.history = append(m.history, to)
	if m.observer != nil {
		m.observer(Transition{ScanID: m.scanID, From: from, To: to, At: time.Now()})
	}
}
