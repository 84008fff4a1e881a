package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrFactoryExists   = errors.New("engine factory already exists")
	ErrFactoryNil      = errors.New("engine factory is nil")
	ErrInvalidMetadata = errors.New("invalid engine metadata")
	ErrUnknownKind     = errors.New("unknown engine kind")
)

// Metadata is the contract for engine kind identity and display data.
type Metadata struct {
	ID          string
	Name        string
	Description string
}

// Factory constructs fresh engine instances for one registered kind.
// New allocates only; adapters that acquire resources (connections, child
// processes) defer acquisition into Configure so stage attribution holds.
type Factory interface {
	Metadata() Metadata
	New() Engine
}

// Registry stores engine factories by stable kind identifier.
type Registry struct {
	items map[string]Factory
}

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Factory)}
}

// ValidateMetadata checks required metadata fields and id format.
func ValidateMetadata(meta Metadata) error {
	for _, field := range []string{meta.ID, meta.Name, meta.Description} {
		if strings.TrimSpace(field) == "" {
			return fmt.Errorf("%w: id, name, and description are required", ErrInvalidMetadata)
		}
	}
	if id := strings.TrimSpace(meta.ID); !isValidID(id) {
		return fmt.Errorf("%w: invalid id format %q", ErrInvalidMetadata, id)
	}
	return nil
}

// Register adds a factory to the registry.
func (r *Registry) Register(factory Factory) error {
	if factory == nil {
		return ErrFactoryNil
	}

	meta := factory.Metadata()
	if err := ValidateMetadata(meta); err != nil {
		return err
	}

	if _, ok := r.items[meta.ID]; ok {
		return ErrFactoryExists
	}
	r.items[meta.ID] = factory
	return nil
}

// Resolve returns a factory by kind id.
func (r *Registry) Resolve(id string) (Factory, error) {
	factory, ok := r.items[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, id)
	}
	return factory, nil
}

// ListMetadata returns deterministic metadata ordering by kind id.
func (r *Registry) ListMetadata() []Metadata {
	list := make([]Metadata, 0, len(r.items))
	for _, factory := range r.items {
		list = append(list, factory.Metadata())
	}
	slices.SortFunc(list, func(a, b Metadata) int {
		return strings.Compare(a.ID, b.ID)
	})
	return list
}

// Kind ids are dotted lowercase: alnum segments joined by single
// '.', '-', or '_' separators, no separator at either end.
func isValidID(id string) bool {
	if id == "" {
		return false
	}
	prevSep := true
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			prevSep = false
		case r == '.' || r == '-' || r == '_':
			if prevSep {
				return false
			}
			prevSep = true
		default:
			return false
		}
	}
	return !prevSep
}
