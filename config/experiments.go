package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/exphub/experiment-hub/internal/domain/experiment"
)

// SeedExperiments returns the experiment catalog loaded into the registry at
// boot, with per-experiment enable overrides applied from the environment.
// Operators can edit or replace these through the admin API; a restart
// re-seeds only experiments missing from the registry backend.
func SeedExperiments() []*experiment.Definition {
	defs := []*experiment.Definition{
		{
			Name:        "landing_page_hero",
			Description: "Test different hero sections on landing page",
			Enabled:     true,
			Audience: &experiment.Audience{
				NewUsersOnly: true,
			},
			Variants: []experiment.Variant{
				{Name: "control", Weight: 50, Description: "Original hero section"},
				{Name: "video_hero", Weight: 30, Description: "Video background hero"},
				{Name: "testimonial_hero", Weight: 20, Description: "Testimonial-focused hero"},
			},
		},
		{
			Name:        "pricing_page_layout",
			Description: "Test different pricing page layouts",
			Enabled:     true,
			Variants: []experiment.Variant{
				{Name: "control", Weight: 50, Description: "Original pricing layout"},
				{Name: "feature_comparison", Weight: 50, Description: "Feature comparison table"},
			},
		},
		{
			Name:        "cta_button_text",
			Description: "Test different CTA button text",
			Enabled:     true,
			Variants: []experiment.Variant{
				{Name: "control", Weight: 25, Description: "Get Started"},
				{Name: "try_free", Weight: 25, Description: "Try Free"},
				{Name: "start_estimate", Weight: 25, Description: "Start Estimate"},
				{Name: "book_demo", Weight: 25, Description: "Book Demo"},
			},
		},
		{
			Name:        "onboarding_flow",
			Description: "Test different onboarding flows",
			Enabled:     true,
			Audience: &experiment.Audience{
				NewUsersOnly: true,
			},
			Variants: []experiment.Variant{
				{Name: "control", Weight: 50, Description: "Original onboarding"},
				{Name: "progressive", Weight: 50, Description: "Progressive disclosure"},
			},
		},
		{
			Name:        "calculator_layout",
			Description: "Test different calculator layouts",
			Enabled:     true,
			Variants: []experiment.Variant{
				{Name: "control", Weight: 50, Description: "Original calculator"},
				{Name: "wizard", Weight: 50, Description: "Step-by-step wizard"},
			},
		},
	}

	applyEnvironmentOverrides(defs)
	return defs
}

// applyEnvironmentOverrides toggles seed experiments from env vars.
// Format: EXPERIMENT_<NAME>=true|false
// Example: EXPERIMENT_LANDING_PAGE_HERO=false
func applyEnvironmentOverrides(defs []*experiment.Definition) {
	for _, def := range defs {
		val := os.Getenv(experimentNameToEnvKey(def.Name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			def.Enabled = b
		}
	}
}

// experimentNameToEnvKey converts an experiment name to its override key.
// "landing_page_hero" -> "EXPERIMENT_LANDING_PAGE_HERO"
func experimentNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	key = strings.ReplaceAll(key, "-", "_")
	return "EXPERIMENT_" + key
}

// SeedRegistry loads the catalog into the registry, skipping experiments that
// already exist so operator edits survive restarts.
func SeedRegistry(ctx context.Context, registry experiment.Registry) error {
	existing, err := registry.List(ctx, false)
	if err != nil {
		return fmt.Errorf("list experiments: %w", err)
	}

	present := make(map[string]struct{}, len(existing))
	for _, def := range existing {
		present[def.Name] = struct{}{}
	}

	for _, def := range SeedExperiments() {
		if _, ok := present[def.Name]; ok {
			continue
		}
		if err := registry.Upsert(ctx, def); err != nil {
			return fmt.Errorf("seed experiment %s: %w", def.Name, err)
		}
	}
	return nil
}
