// Package analyzer contains the observers that turn raw snapshots into
// display-ready series and beat events.
//
// Each analyzer privately owns its buffers. The runner talks to it only
// through Initialize, Aggregate and Reset, in that order, from one goroutine.
package analyzer

import (
	"github.com/verte-zerg/cellpace/internal/config"
	"github.com/verte-zerg/cellpace/internal/model"
)

// Analyzer consumes snapshots in increasing time order.
type Analyzer interface {
	Name() string
	// Initialize allocates state for a run and validates the analyzer's part
	// of cfg.
	Initialize(cfg config.Config) error
	// Aggregate observes one snapshot.
	Aggregate(snap model.Snapshot)
	// Reset discards all state and prepares for a new run with cfg.
	Reset(cfg config.Config) error
}

// Collector is implemented by analyzers that contribute outputs to a run.
// Collect must copy, never alias, its buffers.
type Collector interface {
	Collect(run *model.Run)
}

func requireDeclared(cfg config.Config, field string, names []string) error {
	for _, name := range names {
		if !cfg.Declared(name) {
			return config.Errorf(field, "variable %q is not declared in voltageVariables or currentVariables", name)
		}
	}
	return nil
}
