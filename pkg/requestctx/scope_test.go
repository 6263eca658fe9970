package requestctx

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext_NoScope(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
	assert.Equal(t, DefaultTimezone, Timezone(context.Background()))
}

func TestWithScope_NormalizesTimezone(t *testing.T) {
	ctx := WithScope(context.Background(), Scope{Timezone: "Mars/Olympus_Mons"})

	scope, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, DefaultTimezone, scope.Timezone)
}

func TestWithScope_NestedShadowsOuter(t *testing.T) {
	outer := WithScope(context.Background(), Scope{Timezone: "Europe/London", FilterFree: Bool(false)})

	_, err := Run(outer, Scope{Timezone: "Asia/Tokyo"}, func(inner context.Context) (struct{}, error) {
		scope, ok := FromContext(inner)
		require.True(t, ok)
		assert.Equal(t, "Asia/Tokyo", scope.Timezone)
		assert.Nil(t, scope.FilterFree)
		return struct{}{}, nil
	})
	require.NoError(t, err)

	scope, ok := FromContext(outer)
	require.True(t, ok)
	assert.Equal(t, "Europe/London", scope.Timezone)
	require.NotNil(t, scope.FilterFree)
	assert.False(t, *scope.FilterFree)
}

func TestWithScope_CopiesFlags(t *testing.T) {
	flag := true
	ctx := WithScope(context.Background(), Scope{FilterInternal: &flag})
	flag = false

	scope, _ := FromContext(ctx)
	require.NotNil(t, scope.FilterInternal)
	assert.True(t, *scope.FilterInternal, "mutating the caller's bool must not leak into the scope")
}

func TestRun_ReturnsCallbackResult(t *testing.T) {
	got, err := Run(context.Background(), NewScope("America/Denver", nil, nil), func(ctx context.Context) (string, error) {
		return Timezone(ctx), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "America/Denver", got)
}

func TestRun_ConcurrentScopesAreIsolated(t *testing.T) {
	zones := []string{"UTC", "Europe/Berlin", "Asia/Kolkata", "America/Chicago"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		tz := zones[i%len(zones)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := Run(context.Background(), Scope{Timezone: tz}, func(ctx context.Context) (string, error) {
				return Timezone(ctx), nil
			})
			assert.NoError(t, err)
			assert.Equal(t, tz, got)
		}()
	}
	wg.Wait()
}

func TestNormalizeTimezone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"UTC", "UTC"},
		{"America/Los_Angeles", "America/Los_Angeles"},
		{"", DefaultTimezone},
		{"utc", DefaultTimezone},
		{"UTC'; DROP TABLE users; --", DefaultTimezone},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTimezone(tt.in))
		})
	}
}
