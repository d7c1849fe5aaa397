package action

import (
	"log/slog"
	"sync"

	"codesmith/pkg/api"
)

// State is the lifecycle of an action id within a conversation.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// Terminal reports whether a state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateError
}

type ledgerEntry struct {
	state  State
	result api.ActionResult
}

// Ledger tracks every action id seen in a conversation and enforces
// at-most-once execution: once an id reaches a terminal state it is
// replay-proof, repeated sightings (model restating earlier blocks after
// re-entry) become no-ops.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*ledgerEntry
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]*ledgerEntry)}
}

// Begin claims an action id for execution, registering it first if it has
// never been seen. It returns false when the id is already in progress or
// terminal, in which case the caller must not dispatch it again.
func (l *Ledger) Begin(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		l.entries[id] = &ledgerEntry{state: StateInProgress}
		return true
	}
	if e.state == StatePending {
		e.state = StateInProgress
		return true
	}
	return false
}

// Resolve records the outcome of an in-progress action. Terminal entries
// are immutable, a late or duplicate resolve is dropped with a warning.
func (l *Ledger) Resolve(id string, res api.ActionResult) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok || e.state != StateInProgress {
		slog.Warn("⚠️ Ignoring resolve for action not in progress", "id", id)
		return
	}
	if res.Success {
		e.state = StateSuccess
	} else {
		e.state = StateError
	}
	e.result = res
}

// State returns the recorded state of an id.
func (l *Ledger) State(id string) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		return "", false
	}
	return e.state, true
}

// Result returns the recorded outcome of a terminal id.
func (l *Ledger) Result(id string) (api.ActionResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok || !e.state.Terminal() {
		return api.ActionResult{}, false
	}
	return e.result, true
}

// Executed pairs an action with its outcome for the re-entry decision.
type Executed struct {
	Action api.Action
	Result api.ActionResult
}

// DecideReentry applies the conversational re-entry policy over the actions
// executed in one turn. Command output always flows back to the model, as
// does a forwarded file read. Of the explicitly immediate actions only the
// first counts, extra immediate flags in the same turn are logged and
// ignored.
func DecideReentry(done []Executed) bool {
	reenter := false
	immediateSeen := false

	for _, d := range done {
		if d.Result.IsCommandOutput || d.Action.ForcesReentry() {
			reenter = true
		}
		if d.Action.Immediate {
			if immediateSeen {
				slog.Warn("⚠️ Multiple immediate actions in one turn, only the first takes effect", "id", d.Action.ID)
				continue
			}
			immediateSeen = true
			reenter = true
		}
	}

	return reenter
}
