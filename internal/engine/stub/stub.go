// Package stub provides a deterministic in-memory engine used by tests,
// local dry runs, and as the default hosted kind.
package stub

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/taigalab/taigactl/internal/engine"
)

const (
	// KindID is the canonical engine kind identifier for the stub engine.
	KindID = "engine.stub"

	// Call names recorded per mutating engine call and accepted by
	// Script.PanicStage.
	CallConfigure = "configure"
	CallCreate    = "create"
	CallAdvance   = "advance"
)

// Script declares deterministic behavior for one stub instance. Error
// fields set the engine error flag after the matching call; PanicStage
// makes the matching call panic instead, with a structured fault when
// PanicFault is set.
type Script struct {
	ConfigureError string
	CreateError    string
	AdvanceError   string

	PanicStage string
	PanicFault bool
	PanicValue string

	StepDelay time.Duration
}

// Engine is a scripted in-memory engine instance.
type Engine struct {
	mu       sync.Mutex
	script   Script
	source   engine.Source
	progress engine.ProgressFunc
	calls    []string
	steps    int
	hasErr   bool
	lastErr  string
	closed   bool
}

// New constructs a stub engine driven by the given script.
func New(script Script) *Engine {
	log.Debug().Str("component", "engine.stub").Msg("engine instance constructed")
	return &Engine{script: script}
}

// Configure records the configuration source and applies scripted behavior.
func (e *Engine) Configure(src engine.Source) {
	e.record(CallConfigure)
	e.mu.Lock()
	e.source = src
	e.mu.Unlock()
	e.maybePanic(CallConfigure)
	e.setError(e.script.ConfigureError)
}

// Create applies scripted model-construction behavior.
func (e *Engine) Create() {
	e.record(CallCreate)
	e.maybePanic(CallCreate)
	e.setError(e.script.CreateError)
}

// Advance steps the scripted simulation, reporting per-year progress.
func (e *Engine) Advance(steps int) {
	e.record(CallAdvance)
	e.mu.Lock()
	e.steps = steps
	fn := e.progress
	e.mu.Unlock()
	e.maybePanic(CallAdvance)

	log.Debug().Str("component", "engine.stub").Int("steps", steps).Msg("advancing")
	for year := 1; year <= steps; year++ {
		if e.script.StepDelay > 0 {
			time.Sleep(e.script.StepDelay)
		}
		if fn != nil {
			fn(year)
		}
	}
	e.setError(e.script.AdvanceError)
}

// HasError reports whether the last mutating call flagged a failure.
func (e *Engine) HasError() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasErr
}

// LastError returns the message flagged by the last failing call.
func (e *Engine) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// SetProgress installs the per-year progress sink.
func (e *Engine) SetProgress(fn engine.ProgressFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = fn
}

// Close marks the instance released.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Calls returns the ordered mutating calls seen by this instance.
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// Steps returns the step count passed to the last Advance call.
func (e *Engine) Steps() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.steps
}

// Source returns the configuration source seen at configure time.
func (e *Engine) Source() engine.Source {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.source
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) record(call string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
}

func (e *Engine) setError(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if message == "" {
		return
	}
	e.hasErr = true
	e.lastErr = message
}

func (e *Engine) maybePanic(call string) {
	if e.script.PanicStage != call {
		return
	}
	if e.script.PanicFault {
		panic(engine.NewError(call, e.script.PanicValue))
	}
	panic(e.script.PanicValue)
}

// Factory provides stub engines for registry registration.
type Factory struct {
	Script Script
}

// Metadata returns stable engine kind identity.
func (f Factory) Metadata() engine.Metadata {
	return engine.Metadata{
		ID:          KindID,
		Name:        "Stub",
		Description: "Deterministic scripted in-memory engine",
	}
}

// New constructs a fresh scripted instance.
func (f Factory) New() engine.Engine {
	return New(f.Script)
}
