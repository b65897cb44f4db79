package query

import (
	"context"
	"time"

	"github.com/exphub/experiment-hub/internal/domain/experiment"
	"github.com/exphub/experiment-hub/internal/domain/shared"
	"github.com/exphub/experiment-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST / GET EXPERIMENT QUERIES
// Registry reads for the control surface.
// ══════════════════════════════════════════════════════════════════════════════

// ListExperimentsQuery lists registered experiments.
type ListExperimentsQuery struct {
	// ActiveOnly restricts the listing to experiments currently serving
	// traffic (enabled and inside their window).
	ActiveOnly bool
}

// ExperimentView is the read model for one experiment.
type ExperimentView struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Enabled     bool                 `json:"enabled"`
	Status      experiment.Status    `json:"status"`
	Variants    []experiment.Variant `json:"variants"`
	Audience    *experiment.Audience `json:"audience,omitempty"`
	Window      *experiment.Window   `json:"window,omitempty"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// ListExperimentsHandler serves registry listings.
type ListExperimentsHandler struct {
	registry experiment.Registry
	clock    timeutil.Clock
}

// NewListExperimentsHandler creates the handler.
func NewListExperimentsHandler(registry experiment.Registry) *ListExperimentsHandler {
	return &ListExperimentsHandler{registry: registry, clock: timeutil.System}
}

// WithClock overrides the clock, for tests.
func (h *ListExperimentsHandler) WithClock(clock timeutil.Clock) *ListExperimentsHandler {
	h.clock = clock
	return h
}

// Handle returns experiments sorted by name.
func (h *ListExperimentsHandler) Handle(ctx context.Context, q ListExperimentsQuery) ([]ExperimentView, error) {
	defs, err := h.registry.List(ctx, q.ActiveOnly)
	if err != nil {
		return nil, err
	}

	now := h.clock.Now()
	views := make([]ExperimentView, 0, len(defs))
	for _, def := range defs {
		views = append(views, toView(def, now))
	}
	return views, nil
}

// GetExperimentQuery fetches a single definition.
type GetExperimentQuery struct {
	ExperimentName string
}

// Validate validates the query.
func (q GetExperimentQuery) Validate() error {
	if q.ExperimentName == "" {
		return shared.ErrEmptyExperimentName
	}
	return nil
}

// GetExperimentHandler serves single-experiment reads.
type GetExperimentHandler struct {
	registry experiment.Registry
	clock    timeutil.Clock
}

// NewGetExperimentHandler creates the handler.
func NewGetExperimentHandler(registry experiment.Registry) *GetExperimentHandler {
	return &GetExperimentHandler{registry: registry, clock: timeutil.System}
}

// Handle returns the experiment view or shared.ErrExperimentNotFound.
func (h *GetExperimentHandler) Handle(ctx context.Context, q GetExperimentQuery) (ExperimentView, error) {
	if err := q.Validate(); err != nil {
		return ExperimentView{}, err
	}

	def, err := h.registry.Get(ctx, q.ExperimentName)
	if err != nil {
		return ExperimentView{}, err
	}
	return toView(def, h.clock.Now()), nil
}

func toView(def *experiment.Definition, now time.Time) ExperimentView {
	v := ExperimentView{
		Name:        def.Name,
		Description: def.Description,
		Enabled:     def.Enabled,
		Status:      def.StatusAt(now),
		Variants:    def.Variants,
		UpdatedAt:   def.UpdatedAt,
	}
	if def.Audience != nil {
		v.Audience = def.Audience
	}
	if def.Window != nil {
		v.Window = def.Window
	}
	return v
}
