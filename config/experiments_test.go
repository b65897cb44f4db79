package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exphub/experiment-hub/internal/domain/experiment"
)

func seedByName(t *testing.T, name string) *experiment.Definition {
	t.Helper()
	for _, def := range SeedExperiments() {
		if def.Name == name {
			return def
		}
	}
	t.Fatalf("seed catalog has no experiment %q", name)
	return nil
}

func variantWeights(def *experiment.Definition) map[string]float64 {
	out := make(map[string]float64, len(def.Variants))
	for _, v := range def.Variants {
		out[v.Name] = v.Weight
	}
	return out
}

func TestSeedExperiments_Catalog(t *testing.T) {
	defs := SeedExperiments()
	require.Len(t, defs, 5)

	for _, def := range defs {
		require.NoError(t, def.Validate(), def.Name)
		assert.True(t, def.Enabled, def.Name)
	}

	hero := seedByName(t, "landing_page_hero")
	assert.Equal(t, map[string]float64{"control": 50, "video_hero": 30, "testimonial_hero": 20}, variantWeights(hero))
	require.NotNil(t, hero.Audience)
	assert.True(t, hero.Audience.NewUsersOnly)

	pricing := seedByName(t, "pricing_page_layout")
	assert.Equal(t, map[string]float64{"control": 50, "feature_comparison": 50}, variantWeights(pricing))

	cta := seedByName(t, "cta_button_text")
	assert.Equal(t, map[string]float64{"control": 25, "try_free": 25, "start_estimate": 25, "book_demo": 25}, variantWeights(cta))

	onboarding := seedByName(t, "onboarding_flow")
	assert.Equal(t, map[string]float64{"control": 50, "progressive": 50}, variantWeights(onboarding))
	require.NotNil(t, onboarding.Audience)
	assert.True(t, onboarding.Audience.NewUsersOnly)

	calc := seedByName(t, "calculator_layout")
	assert.Equal(t, map[string]float64{"control": 50, "wizard": 50}, variantWeights(calc))
	assert.Nil(t, calc.Audience)
}

func TestSeedExperiments_EnvOverrides(t *testing.T) {
	t.Run("disable", func(t *testing.T) {
		t.Setenv("EXPERIMENT_CTA_BUTTON_TEXT", "false")
		assert.False(t, seedByName(t, "cta_button_text").Enabled)
		assert.True(t, seedByName(t, "pricing_page_layout").Enabled, "other experiments untouched")
	})

	t.Run("explicit enable", func(t *testing.T) {
		t.Setenv("EXPERIMENT_ONBOARDING_FLOW", "true")
		assert.True(t, seedByName(t, "onboarding_flow").Enabled)
	})

	t.Run("garbage value ignored", func(t *testing.T) {
		t.Setenv("EXPERIMENT_CALCULATOR_LAYOUT", "maybe")
		assert.True(t, seedByName(t, "calculator_layout").Enabled)
	})
}

func TestExperimentNameToEnvKey(t *testing.T) {
	assert.Equal(t, "EXPERIMENT_LANDING_PAGE_HERO", experimentNameToEnvKey("landing_page_hero"))
	assert.Equal(t, "EXPERIMENT_PRICING_V2_TEST", experimentNameToEnvKey("pricing.v2-test"))
}

func TestSeedRegistry(t *testing.T) {
	ctx := context.Background()
	registry := experiment.NewInMemoryRegistry()

	require.NoError(t, SeedRegistry(ctx, registry))

	defs, err := registry.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, defs, 5)

	// An operator edit survives a re-seed.
	edited := seedByName(t, "cta_button_text")
	edited.Variants = []experiment.Variant{
		{Name: "control", Weight: 50},
		{Name: "try_free", Weight: 50},
	}
	require.NoError(t, registry.Upsert(ctx, edited))

	require.NoError(t, SeedRegistry(ctx, registry))

	kept, err := registry.Get(ctx, "cta_button_text")
	require.NoError(t, err)
	assert.Len(t, kept.Variants, 2)
}
