// Package store persists run history, stage phases and registered layers.
package store

import (
	"context"

	"github.com/sells-group/drastic-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// LayerFilter specifies criteria for listing layers.
type LayerFilter struct {
	RunID  string `json:"run_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

const defaultListLimit = 100

// Store defines the persistence interface for the vulnerability pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, inputs model.RunInputs) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, status model.RunStatus, reason string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error
	ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error)

	// Layers
	RegisterLayer(ctx context.Context, layer *model.Layer) error
	GetLayer(ctx context.Context, layerID string) (*model.Layer, error)
	ListLayers(ctx context.Context, filter LayerFilter) ([]model.Layer, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
