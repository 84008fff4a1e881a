package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/taigalab/taigactl/internal/engine"
	"github.com/taigalab/taigactl/internal/logging"
	"github.com/taigalab/taigactl/internal/runstore"
)

var ErrNilFactory = errors.New("controller: engine factory required")

const banner = "**************************************************"

// Request is the input to a single run invocation.
type Request struct {
	RunID  string
	Years  int
	Source engine.Source
}

// Controller drives one exclusively-owned engine instance per invocation
// through the fixed stage sequence configure -> create -> run -> finish.
type Controller struct {
	factory   engine.Factory
	store     runstore.Store
	listeners []EventFunc
	log       zerolog.Logger
}

// Option adjusts controller construction.
type Option func(*Controller)

// WithStore persists one history record per invocation.
func WithStore(store runstore.Store) Option {
	return func(c *Controller) { c.store = store }
}

// WithListener registers one pipeline event listener.
func WithListener(fn EventFunc) Option {
	return func(c *Controller) {
		if fn != nil {
			c.listeners = append(c.listeners, fn)
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) { c.log = logger }
}

// New constructs a run controller over one engine factory.
func New(factory engine.Factory, opts ...Option) (*Controller, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}
	c := &Controller{
		factory: factory,
		log:     logging.Component("controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run drives one fresh engine instance through the staged pipeline and
// returns the terminal outcome. A negative year count is rejected before
// any engine is constructed. The engine is advanced Years+1 steps: the
// extra step belongs to the engine's own zero-based step convention and
// is preserved deliberately, not corrected.
func (c *Controller) Run(req Request) Outcome {
	started := time.Now()
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}

	if req.Years < 0 {
		out := Outcome{
			RunID:      runID,
			Kind:       OutcomeInvalidRequest,
			Message:    fmt.Sprintf("%d is an invalid number of years to run", req.Years),
			Years:      req.Years,
			StartedAt:  started,
			FinishedAt: time.Now(),
		}
		c.log.Error().Str("run_id", runID).Int("years", req.Years).Msg(out.Message)
		c.record(req, out)
		return out
	}

	c.log.Info().
		Str("run_id", runID).
		Int("years", req.Years).
		Str("project", req.Source.Project).
		Msg("starting model run")
	c.emit(Event{Type: EventRunStarted, RunID: runID, Years: req.Years})

	out := c.execute(runID, req)
	out.Years = req.Years
	out.StartedAt = started
	out.FinishedAt = time.Now()

	if out.OK() {
		c.log.Warn().Msg(banner)
		c.log.Warn().Str("run_id", runID).Msg("model run finished")
		c.log.Warn().Msg(banner)
	}
	c.emit(Event{Type: EventRunFinished, RunID: runID, Years: req.Years, Stage: out.Stage, Outcome: out.Kind, Message: out.Message})
	c.record(req, out)
	return out
}

// execute owns stages 1-3 inside a single recover boundary. The sequence
// only moves forward: the first flagged error or panic terminates the run.
func (c *Controller) execute(runID string, req Request) (out Outcome) {
	stage := StageConfigure
	steps := 0

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		out = Outcome{
			RunID:   runID,
			Kind:    OutcomePanic,
			Stage:   stage,
			Message: engine.PanicMessage(r),
			Steps:   steps,
		}
		c.logFailure(out)
		c.emit(Event{Type: EventStageFailed, RunID: runID, Stage: stage, Outcome: OutcomePanic, Message: out.Message})
	}()

	eng := c.factory.New()
	defer c.release(runID, eng)

	eng.Configure(req.Source)
	if eng.HasError() {
		out = Outcome{RunID: runID, Kind: OutcomeEngineError, Stage: StageConfigure, Message: eng.LastError()}
		c.logFailure(out)
		c.emit(Event{Type: EventStageFailed, RunID: runID, Stage: StageConfigure, Outcome: OutcomeEngineError, Message: out.Message})
		return out
	}
	c.emit(Event{Type: EventStageCompleted, RunID: runID, Stage: StageConfigure})

	stage = StageCreate
	eng.Create()
	if eng.HasError() {
		out = Outcome{RunID: runID, Kind: OutcomeEngineError, Stage: StageCreate, Message: eng.LastError()}
		c.logFailure(out)
		c.emit(Event{Type: EventStageFailed, RunID: runID, Stage: StageCreate, Outcome: OutcomeEngineError, Message: out.Message})
		return out
	}
	c.emit(Event{Type: EventStageCompleted, RunID: runID, Stage: StageCreate})

	stage = StageRun
	steps = req.Years + 1
	c.log.Warn().Msg(banner)
	c.log.Warn().
		Str("run_id", runID).
		Int("steps", steps).
		Msg(fmt.Sprintf("running model for %d years", req.Years))
	c.log.Warn().Msg(banner)
	if reporter, ok := eng.(engine.ProgressReporter); ok {
		reporter.SetProgress(func(year int) {
			c.emit(Event{Type: EventYearAdvanced, RunID: runID, Stage: StageRun, Year: year})
		})
	}
	eng.Advance(steps)
	if eng.HasError() {
		out = Outcome{RunID: runID, Kind: OutcomeEngineError, Stage: StageRun, Message: eng.LastError(), Steps: steps}
		c.logFailure(out)
		c.emit(Event{Type: EventStageFailed, RunID: runID, Stage: StageRun, Outcome: OutcomeEngineError, Message: out.Message})
		return out
	}
	c.emit(Event{Type: EventStageCompleted, RunID: runID, Stage: StageRun})

	return Outcome{RunID: runID, Kind: OutcomeSuccess, Stage: StageFinish, Steps: steps}
}

func (c *Controller) logFailure(out Outcome) {
	c.log.Error().Msg("!!!! ERROR !!!!")
	line := c.log.Error().
		Str("run_id", out.RunID).
		Str("stage", string(out.Stage)).
		Str("kind", string(out.Kind))
	if out.Kind == OutcomePanic {
		line.Msg("unhandled engine panic: " + out.Message)
	} else {
		line.Msg(out.Message)
	}
	c.log.Error().Msg("!!!! ERROR !!!!")
}

func (c *Controller) emit(ev Event) {
	for _, fn := range c.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Warn().
						Str("run_id", ev.RunID).
						Str("event", string(ev.Type)).
						Interface("panic", r).
						Msg("event listener panicked")
				}
			}()
			fn(ev)
		}()
	}
}

func (c *Controller) record(req Request, out Outcome) {
	if c.store == nil {
		return
	}
	rec := runstore.Record{
		RunID:      out.RunID,
		Engine:     c.factory.Metadata().ID,
		Project:    req.Source.Project,
		Years:      out.Years,
		Steps:      out.Steps,
		Outcome:    string(out.Kind),
		Stage:      string(out.Stage),
		Message:    out.Message,
		StartedAt:  out.StartedAt,
		FinishedAt: out.FinishedAt,
	}
	if err := c.store.Save(context.Background(), rec); err != nil {
		c.log.Warn().Err(err).Str("run_id", out.RunID).Msg("run record not persisted")
	}
}

func (c *Controller) release(runID string, eng engine.Engine) {
	closer, ok := eng.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		c.log.Warn().Err(err).Str("run_id", runID).Msg("engine close failed")
	}
}
