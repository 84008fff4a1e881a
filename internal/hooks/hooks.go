// Package hooks loads run observer scripts interpreted with yaegi.
//
// A hook script is a plain Go file (package main) declaring any subset of
//
//	func OnStart(runID string, years int)
//	func OnCreate()
//	func OnYear(year int)
//	func OnFinish(runID string, years int)
//	func OnError(stage, message string)
//
// Missing functions are skipped. A function with the wrong signature fails
// the load. Hook calls observe the run; they never change its outcome.
package hooks

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/taigalab/taigactl/internal/controller"
	"github.com/taigalab/taigactl/internal/logging"
)

const (
	funcOnStart  = "OnStart"
	funcOnCreate = "OnCreate"
	funcOnYear   = "OnYear"
	funcOnFinish = "OnFinish"
	funcOnError  = "OnError"
)

var ErrEmptyScript = errors.New("hooks: script is empty")

// Runner holds the resolved hook functions of one loaded script.
type Runner struct {
	path string
	log  zerolog.Logger

	onStart  func(string, int)
	onCreate func()
	onYear   func(int)
	onFinish func(string, int)
	onError  func(string, string)
}

// Load interprets the script at path and resolves its hook functions.
func Load(path string) (*Runner, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hooks: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyScript, path)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("hooks: stdlib symbols: %w", err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("hooks: interpret %s: %w", path, err)
	}

	r := &Runner{
		path: path,
		log:  logging.Component("hooks"),
	}
	if err := resolve(i, path, funcOnStart, &r.onStart); err != nil {
		return nil, err
	}
	if err := resolve(i, path, funcOnCreate, &r.onCreate); err != nil {
		return nil, err
	}
	if err := resolve(i, path, funcOnYear, &r.onYear); err != nil {
		return nil, err
	}
	if err := resolve(i, path, funcOnFinish, &r.onFinish); err != nil {
		return nil, err
	}
	if err := resolve(i, path, funcOnError, &r.onError); err != nil {
		return nil, err
	}
	r.log.Debug().Str("path", path).Msg("hook script loaded")
	return r, nil
}

// resolve binds one optional script function. A missing symbol is fine;
// a symbol of the wrong type is a load failure.
func resolve[F any](i *interp.Interpreter, path, name string, target *F) error {
	v, err := i.Eval(name)
	if err != nil {
		return nil
	}
	fn, ok := v.Interface().(F)
	if !ok {
		return fmt.Errorf("hooks: %s: %s has the wrong signature", path, name)
	}
	*target = fn
	return nil
}

// Path returns the loaded script path.
func (r *Runner) Path() string {
	return r.path
}

// EventFunc adapts the script into a pipeline event listener. Calls run
// on the pipeline goroutine; the pipeline contains listener panics.
func (r *Runner) EventFunc() controller.EventFunc {
	return func(ev controller.Event) {
		switch ev.Type {
		case controller.EventRunStarted:
			if r.onStart != nil {
				r.onStart(ev.RunID, ev.Years)
			}
		case controller.EventStageCompleted:
			if ev.Stage == controller.StageCreate && r.onCreate != nil {
				r.onCreate()
			}
		case controller.EventYearAdvanced:
			if r.onYear != nil {
				r.onYear(ev.Year)
			}
		case controller.EventStageFailed:
			if r.onError != nil {
				r.onError(string(ev.Stage), ev.Message)
			}
		case controller.EventRunFinished:
			if ev.Outcome == controller.OutcomeSuccess && r.onFinish != nil {
				r.onFinish(ev.RunID, ev.Years)
			}
		}
	}
}
