package presence

import (
	"context"
	"errors"
	"time"

	"github.com/looplab/fsm"
	"github.com/septivank/fleetwatch/internal/db"
)

const (
	StateOnline  = "online"
	StateOffline = "offline"

	// EventPowerOn moves an offline board online when a sample qualifies
	EventPowerOn = "power_on"
	// EventSilence moves an online board offline when the sweep finds it quiet
	EventSilence = "silence"
)

// transition is the argument passed to every event
type transition struct {
	board  *db.Board
	sample *db.Sample
	at     time.Time
	// retransmit marks a sample whose key was already stored
	retransmit bool
}

// StateMachine applies presence transitions to a locked board row
type StateMachine struct {
	*fsm.FSM
	minVolt float64
}

// NewStateMachine creates a machine positioned at the board's current state
func NewStateMachine(b *db.Board, minVolt float64) *StateMachine {
	sm := &StateMachine{minVolt: minVolt}

	initial := StateOffline
	if b.IsOnline {
		initial = StateOnline
	}

	events := fsm.Events{
		{Name: EventPowerOn, Src: []string{StateOffline}, Dst: StateOnline},
		{Name: EventSilence, Src: []string{StateOnline}, Dst: StateOffline},
	}

	callbacks := fsm.Callbacks{
		"before_" + EventPowerOn: wrapEvent(sm.guardPowerOn),
		"enter_" + StateOnline:   wrapEvent(sm.enterOnline),
		"enter_" + StateOffline:  wrapEvent(sm.enterOffline),
	}

	sm.FSM = fsm.NewFSM(initial, events, callbacks)
	return sm
}

// guardPowerOn cancels the transition for retransmitted samples and for
// samples without signs of life
func (sm *StateMachine) guardPowerOn(_ context.Context, e *fsm.Event) error {
	t := e.Args[0].(*transition)
	if t.retransmit || !IsPowerOn(t.sample, sm.minVolt) {
		e.Cancel(fsm.NoTransitionError{})
	}
	return nil
}

func (sm *StateMachine) enterOnline(_ context.Context, e *fsm.Event) error {
	t := e.Args[0].(*transition)
	b := t.board

	since := t.at
	b.IsOnline = true
	b.OnlineSince = &since
	b.OfflineSince = nil
	b.LastOfflineNotifiedAt = nil
	b.ProlongedOfflineNotifiedAt = nil
	return nil
}

func (sm *StateMachine) enterOffline(_ context.Context, e *fsm.Event) error {
	t := e.Args[0].(*transition)
	b := t.board

	b.IsOnline = false
	b.OnlineSince = nil
	if b.OfflineSince == nil {
		since := t.at
		b.OfflineSince = &since
	}
	return nil
}

func wrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// fire runs an event and reports whether the state actually changed.
// Cancelled and no-op events are not errors.
func (sm *StateMachine) fire(ctx context.Context, event string, t *transition) (bool, error) {
	err := sm.Event(ctx, event, t)
	if err == nil {
		return true, nil
	}

	var noTransition fsm.NoTransitionError
	var canceled fsm.CanceledError
	if errors.As(err, &noTransition) || errors.As(err, &canceled) {
		return false, nil
	}
	return false, err
}
