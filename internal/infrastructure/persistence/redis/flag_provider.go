package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// FlagProvider reads operator-set variant overrides from Redis. Setting
// flag:<experiment> to a variant name pins every new resolution of that
// experiment to the variant; existing assignments are unaffected.
type FlagProvider struct {
	client *Client
}

// NewFlagProvider creates a Redis-backed flag provider.
func NewFlagProvider(client *Client) *FlagProvider {
	return &FlagProvider{client: client}
}

func flagKey(experimentName string) string {
	return PrefixFlag + experimentName
}

// Lookup implements the flag provider port used by the resolver.
func (p *FlagProvider) Lookup(ctx context.Context, experimentName string) (string, bool, error) {
	variant, err := p.client.rdb.Get(ctx, flagKey(experimentName)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if variant == "" {
		return "", false, nil
	}
	return variant, true, nil
}

// Set pins an experiment to a variant. An empty variant clears the override.
func (p *FlagProvider) Set(ctx context.Context, experimentName, variant string) error {
	if variant == "" {
		return p.client.rdb.Del(ctx, flagKey(experimentName)).Err()
	}
	return p.client.rdb.Set(ctx, flagKey(experimentName), variant, 0).Err()
}
