// Package flags provides external variant override providers. An override
// pins new resolutions of an experiment to one variant without editing its
// definition, which is how rollouts are halted in a hurry.
package flags

import (
	"context"
	"os"
	"strings"
)

// EnvProvider reads overrides from environment variables of the form
// EXPERIMENT_FLAG_<NAME>=<variant>, with the experiment name upper-cased and
// non-alphanumeric characters mapped to underscores. Values are read per
// lookup so the provider sees variables set after process start in tests.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates a provider with the default EXPERIMENT_FLAG_ prefix.
func NewEnvProvider() *EnvProvider {
	return NewEnvProviderWithPrefix("EXPERIMENT_FLAG_")
}

// NewEnvProviderWithPrefix creates a provider with a custom prefix.
func NewEnvProviderWithPrefix(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = "EXPERIMENT_FLAG_"
	}
	return &EnvProvider{prefix: prefix}
}

// Lookup implements the flag provider port used by the resolver.
func (p *EnvProvider) Lookup(_ context.Context, experimentName string) (string, bool, error) {
	value, ok := os.LookupEnv(p.prefix + envName(experimentName))
	if !ok || value == "" {
		return "", false, nil
	}
	return value, true, nil
}

func envName(experimentName string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, experimentName)
	return strings.ToUpper(mapped)
}

// Provider is the lookup contract shared by all override sources.
type Provider interface {
	Lookup(ctx context.Context, experimentName string) (variant string, ok bool, err error)
}

// Chain consults providers in order and returns the first override found.
// Provider errors are skipped so one broken source cannot mask the others.
type Chain struct {
	providers []Provider
}

// NewChain creates a chained provider.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Lookup implements Provider.
func (c *Chain) Lookup(ctx context.Context, experimentName string) (string, bool, error) {
	var lastErr error
	for _, p := range c.providers {
		variant, ok, err := p.Lookup(ctx, experimentName)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return variant, true, nil
		}
	}
	return "", false, lastErr
}
