package pipeline

import (
	"fmt"
	"time"
)

type State string

const (
	StateIdle              State = "Idle"
	StateConnectingIndex   State = "ConnectingIndex"
	StateSchemaRebuilt     State = "SchemaRebuilt"
	StateLoaded            State = "Loaded"
	StateEmbeddingContent  State = "EmbeddingContent"
	StateEstimatingFactors State = "EstimatingFactors"
	StateIndexing          State = "Indexing"
	StateDone              State = "Done"
	StateFailed            State = "Failed"
)

// Order is the happy path. Failed is reachable from any non-terminal state.
var Order = []State{
	StateIdle,
	StateConnectingIndex,
	StateSchemaRebuilt,
	StateLoaded,
	StateEmbeddingContent,
	StateEstimatingFactors,
	StateIndexing,
	StateDone,
}

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

func next(s State) (State, bool) {
	for i, st := range Order {
		if st == s && i+1 < len(Order) {
			return Order[i+1], true
		}
	}
	return "", false
}

// StageTiming records one stage's wall time.
type StageTiming struct {
	State      State     `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Status is the live view of a run, exposed through the workflow query.
type Status struct {
	RunID       string         `json:"run_id"`
	State       State          `json:"state"`
	FailedStage State          `json:"failed_stage,omitempty"`
	FailureKind string         `json:"failure_kind,omitempty"`
	Message     string         `json:"message,omitempty"`
	Stages      []StageTiming  `json:"stages"`
	Counts      map[string]int `json:"counts,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func NewStatus(runID string, now time.Time) *Status {
	return &Status{RunID: runID, State: StateIdle, Counts: map[string]int{}, UpdatedAt: now}
}

// Advance moves to the next state on the happy path. Any other target is
// rejected.
func (s *Status) Advance(to State, now time.Time) error {
	want, ok := next(s.State)
	if !ok || to != want {
		return fmt.Errorf("illegal transition %s -> %s", s.State, to)
	}
	s.closeStage(now)
	s.State = to
	if !to.Terminal() {
		s.Stages = append(s.Stages, StageTiming{State: to, StartedAt: now})
	}
	s.UpdatedAt = now
	return nil
}

// Fail records the failure of the current stage.
func (s *Status) Fail(kind, message string, now time.Time) error {
	if s.State.Terminal() {
		return fmt.Errorf("illegal transition %s -> %s", s.State, StateFailed)
	}
	s.closeStage(now)
	s.FailedStage = s.State
	s.FailureKind = kind
	s.Message = message
	s.State = StateFailed
	s.UpdatedAt = now
	return nil
}

func (s *Status) SetCount(name string, n int) {
	if s.Counts == nil {
		s.Counts = map[string]int{}
	}
	s.Counts[name] = n
}

func (s *Status) closeStage(now time.Time) {
	if n := len(s.Stages); n > 0 && s.Stages[n-1].FinishedAt.IsZero() {
		s.Stages[n-1].FinishedAt = now
	}
}
