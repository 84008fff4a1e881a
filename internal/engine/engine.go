package engine

// Override is one explicit engine setting override applied at configure time.
type Override struct {
	Key   string
	Value string
}

// Source carries stage-one setup parameters for a single engine instance:
// the project definition plus any setting overrides layered on top of it.
type Source struct {
	Project   string
	Overrides []Override
}

// Engine is the collaborator contract the run pipeline drives. Mutating
// calls return nothing; after every mutating call HasError and LastError
// are authoritative for whether the instance can continue. Engines that
// hold connections or child processes additionally implement io.Closer.
type Engine interface {
	Configure(src Source)
	Create()
	Advance(steps int)
	HasError() bool
	LastError() string
}

// ProgressFunc receives the one-based year index after each simulated year.
type ProgressFunc func(year int)

// ProgressReporter is an optional engine capability for per-year progress.
type ProgressReporter interface {
	SetProgress(fn ProgressFunc)
}
