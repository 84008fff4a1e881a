package controller

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidOutcome = errors.New("controller: invalid outcome")

// Stage is one discrete ordered phase of the run pipeline.
type Stage string

const (
	StageConfigure Stage = "configure"
	StageCreate    Stage = "create"
	StageRun       Stage = "run"
	StageFinish    Stage = "finish"
)

// OutcomeKind tags the terminal result of one run invocation.
type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomeInvalidRequest OutcomeKind = "invalid_request"
	OutcomeEngineError    OutcomeKind = "engine_error"
	OutcomePanic          OutcomeKind = "panic"
)

// Outcome is the terminal envelope of one run invocation. Kind and Stage
// are the machine-checkable tags; Message is the engine's diagnostic,
// surfaced verbatim.
type Outcome struct {
	RunID      string
	Kind       OutcomeKind
	Stage      Stage
	Message    string
	Years      int
	Steps      int
	StartedAt  time.Time
	FinishedAt time.Time
}

// OK reports whether the invocation completed every stage.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

func (o Outcome) Validate() error {
	if strings.TrimSpace(o.RunID) == "" {
		return fmt.Errorf("%w: missing run_id", ErrInvalidOutcome)
	}
	switch o.Kind {
	case OutcomeSuccess:
		if o.Stage != StageFinish {
			return fmt.Errorf("%w: success must carry stage finish", ErrInvalidOutcome)
		}
	case OutcomeInvalidRequest:
		if strings.TrimSpace(o.Message) == "" {
			return fmt.Errorf("%w: invalid_request missing reason", ErrInvalidOutcome)
		}
	case OutcomeEngineError:
		if o.Stage != StageConfigure && o.Stage != StageCreate && o.Stage != StageRun {
			return fmt.Errorf("%w: engine_error carries stage %q", ErrInvalidOutcome, o.Stage)
		}
		if strings.TrimSpace(o.Message) == "" {
			return fmt.Errorf("%w: engine_error missing message", ErrInvalidOutcome)
		}
	case OutcomePanic:
		if strings.TrimSpace(o.Message) == "" {
			return fmt.Errorf("%w: panic missing message", ErrInvalidOutcome)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOutcome, o.Kind)
	}
	return nil
}

// EventType tags one observable pipeline notification.
type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventStageCompleted EventType = "stage_completed"
	EventYearAdvanced   EventType = "year_advanced"
	EventStageFailed    EventType = "stage_failed"
	EventRunFinished    EventType = "run_finished"
)

// Event is one pipeline notification delivered to registered listeners.
type Event struct {
	Type    EventType
	RunID   string
	Stage   Stage
	Year    int
	Years   int
	Outcome OutcomeKind
	Message string
}

// EventFunc receives pipeline events. Listener panics are contained by the
// pipeline and never alter the run outcome.
type EventFunc func(Event)
