package calculator

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/verte-zerg/cellpace/internal/config"
)

var (
	ErrModelExists   = errors.New("model already registered")
	ErrModelNotFound = errors.New("model not found")
)

// Spec describes a registered model.
type Spec struct {
	Name        string
	Description string
	Variables   []string
	New         func() Calculator
	Defaults    func() config.Config
}

var modelRegistry = struct {
	mu sync.RWMutex
	m  map[string]Spec
}{
	m: make(map[string]Spec),
}

// Register adds a model to the registry.
func Register(spec Spec) error {
	if spec.Name == "" {
		return errors.New("model name is required")
	}
	if spec.New == nil || spec.Defaults == nil {
		return fmt.Errorf("model %q: constructor and defaults are required", spec.Name)
	}
	modelRegistry.mu.Lock()
	defer modelRegistry.mu.Unlock()
	if _, exists := modelRegistry.m[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrModelExists, spec.Name)
	}
	modelRegistry.m[spec.Name] = spec
	return nil
}

// MustRegister is Register for package init functions.
func MustRegister(spec Spec) {
	if err := Register(spec); err != nil {
		panic(err)
	}
}

// Lookup returns the spec registered under name.
func Lookup(name string) (Spec, error) {
	modelRegistry.mu.RLock()
	defer modelRegistry.mu.RUnlock()
	spec, ok := modelRegistry.m[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return spec, nil
}

// Names lists registered models in lexical order.
func Names() []string {
	modelRegistry.mu.RLock()
	defer modelRegistry.mu.RUnlock()
	names := make([]string, 0, len(modelRegistry.m))
	for name := range modelRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns a fresh calculator for the named model.
func New(name string) (Calculator, error) {
	spec, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return spec.New(), nil
}

// Defaults returns the default configuration of the named model.
func Defaults(name string) (config.Config, error) {
	spec, err := Lookup(name)
	if err != nil {
		return config.Config{}, err
	}
	return spec.Defaults(), nil
}
