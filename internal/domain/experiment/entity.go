// Package experiment contains the experiment definition aggregate: variants,
// audience targeting, active windows, and the validation rules that keep a
// bad configuration from ever reaching live traffic.
package experiment

import (
	"strings"
	"time"

	"github.com/exphub/experiment-hub/internal/domain/shared"
	"github.com/exphub/experiment-hub/pkg/timeutil"
)

// ControlVariantName is the conventional name of the control variant.
// When a definition declares no variant with this name, the first declared
// variant acts as control.
const ControlVariantName = "control"

// Variant is one treatment option within an experiment.
type Variant struct {
	// Name uniquely identifies the variant within its experiment.
	Name string `json:"name"`

	// Weight is the relative share of traffic this variant receives.
	// Must be positive. Weights do not need to sum to any particular total.
	Weight float64 `json:"weight"`

	// Description is a human-readable note about the treatment.
	Description string `json:"description,omitempty"`
}

// Audience is an optional predicate restricting which subjects participate.
// A nil Audience matches everyone. Within a field, values are OR-ed;
// across fields, conditions are AND-ed.
type Audience struct {
	// Countries restricts participation to subjects from these ISO country
	// codes. Empty means no country restriction.
	Countries []string `json:"countries,omitempty"`

	// Devices restricts participation to these device classes
	// (e.g. "mobile", "desktop"). Empty means no device restriction.
	Devices []string `json:"devices,omitempty"`

	// NewUsersOnly restricts participation to subjects flagged as new.
	NewUsersOnly bool `json:"new_users_only,omitempty"`
}

// AudienceContext carries the subject attributes the audience predicate is
// evaluated against. Supplied by the caller's identity layer.
type AudienceContext struct {
	Country string `json:"country,omitempty"`
	Device  string `json:"device,omitempty"`
	NewUser bool   `json:"new_user,omitempty"`
}

// Matches evaluates the audience predicate against the given context.
func (a *Audience) Matches(ctx AudienceContext) bool {
	if a == nil {
		return true
	}

	if len(a.Countries) > 0 && !containsFold(a.Countries, ctx.Country) {
		return false
	}

	if len(a.Devices) > 0 && !containsFold(a.Devices, ctx.Device) {
		return false
	}

	if a.NewUsersOnly && !ctx.NewUser {
		return false
	}

	return true
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

// Window is an optional active date range for an experiment.
// A nil bound is unbounded on that side.
type Window struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Contains reports whether t falls inside the window.
func (w *Window) Contains(t time.Time) bool {
	if w == nil {
		return true
	}
	return timeutil.InWindow(t, w.Start, w.End)
}

// Status describes the derived lifecycle position of an experiment.
// An enabled experiment outside its window behaves as disabled for
// resolution purposes without requiring a state transition.
type Status string

const (
	StatusDisabled  Status = "disabled"
	StatusScheduled Status = "scheduled" // enabled but window not yet open
	StatusActive    Status = "active"
	StatusExpired   Status = "expired" // enabled but window has closed
)

// Definition is a named configuration of variants under test.
type Definition struct {
	// Name uniquely identifies the experiment.
	Name string `json:"name"`

	// Description explains what is being tested.
	Description string `json:"description,omitempty"`

	// Variants is the ordered list of treatments. Order matters: the
	// cumulative weight table used for bucketing follows declared order.
	Variants []Variant `json:"variants"`

	// Enabled gates the experiment. A disabled experiment resolves every
	// subject to control, indistinguishable from "no test" for callers.
	Enabled bool `json:"enabled"`

	// Audience optionally restricts which subjects participate.
	Audience *Audience `json:"audience,omitempty"`

	// Window optionally restricts when the experiment runs.
	Window *Window `json:"window,omitempty"`

	// UpdatedAt records the last upsert time.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Validate checks the definition invariants. Called on every upsert so a bad
// configuration fails at load time, never at resolution time.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return shared.ErrEmptyExperimentName
	}

	if len(d.Variants) == 0 {
		return shared.ErrNoVariants
	}

	seen := make(map[string]struct{}, len(d.Variants))
	total := 0.0
	for _, v := range d.Variants {
		if strings.TrimSpace(v.Name) == "" {
			return shared.NewDomainError("experiment", "Validate", shared.ErrConfiguration, "variant name cannot be empty")
		}
		if _, dup := seen[v.Name]; dup {
			return shared.ErrDuplicateVariant
		}
		seen[v.Name] = struct{}{}

		if v.Weight <= 0 {
			return shared.ErrNonPositiveWeight
		}
		total += v.Weight
	}

	if total <= 0 {
		return shared.ErrNonPositiveWeight
	}

	if d.Window != nil && d.Window.Start != nil && d.Window.End != nil && !d.Window.End.After(*d.Window.Start) {
		return shared.ErrInvalidWindow
	}

	return nil
}

// TotalWeight returns the sum of all variant weights.
func (d *Definition) TotalWeight() float64 {
	total := 0.0
	for _, v := range d.Variants {
		total += v.Weight
	}
	return total
}

// HasVariant reports whether the definition declares a variant with the name.
func (d *Definition) HasVariant(name string) bool {
	for _, v := range d.Variants {
		if v.Name == name {
			return true
		}
	}
	return false
}

// ControlVariant returns the name of the control variant: the variant named
// "control" when declared, otherwise the first declared variant.
func (d *Definition) ControlVariant() string {
	for _, v := range d.Variants {
		if v.Name == ControlVariantName {
			return v.Name
		}
	}
	if len(d.Variants) > 0 {
		return d.Variants[0].Name
	}
	return ControlVariantName
}

// IsActiveAt reports whether the experiment accepts traffic at t:
// enabled and inside its window.
func (d *Definition) IsActiveAt(t time.Time) bool {
	return d.Enabled && d.Window.Contains(t)
}

// StatusAt derives the lifecycle status at t.
func (d *Definition) StatusAt(t time.Time) Status {
	if !d.Enabled {
		return StatusDisabled
	}
	if d.Window != nil {
		if d.Window.Start != nil && t.Before(*d.Window.Start) {
			return StatusScheduled
		}
		if d.Window.End != nil && t.After(*d.Window.End) {
			return StatusExpired
		}
	}
	return StatusActive
}
