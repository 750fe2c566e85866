package env

import (
	"context"
	"testing"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(vars map[string]string) *Store {
	return &Store{
		prefix: "AF",
		lookup: func(name string) (string, bool) {
			value, ok := vars[name]
			return value, ok
		},
	}
}

func TestStoreGetReadsMappedVariable(t *testing.T) {
	t.Parallel()

	store := newTestStore(map[string]string{"AF_API_TOKEN": "  tok-123\n"})

	value, err := store.Get(context.Background(), "agentforge/api_token")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", value)
}

func TestStoreGetMissingIsNotFound(t *testing.T) {
	t.Parallel()

	store := newTestStore(map[string]string{"AF_API_TOKEN": "   "})

	_, err := store.Get(context.Background(), "agentforge/api_token")
	require.ErrorIs(t, err, domain.ErrSecretNotFound)
	assert.Contains(t, err.Error(), "AF_API_TOKEN")

	_, err = store.Get(context.Background(), "agentforge/other")
	require.ErrorIs(t, err, domain.ErrSecretNotFound)
}

func TestStoreIsReadOnly(t *testing.T) {
	t.Parallel()

	store := newTestStore(nil)

	assert.ErrorIs(t, store.Put(context.Background(), "agentforge/api_token", "x"), ErrReadOnly)
	assert.ErrorIs(t, store.Delete(context.Background(), "agentforge/api_token"), ErrReadOnly)
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestStore(nil).Get(ctx, "agentforge/api_token")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVariableName(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		prefix string
		key    string
		want   string
	}{
		{prefix: "AF", key: "agentforge/api_token", want: "AF_API_TOKEN"},
		{prefix: "af_", key: "agentforge/staging/api-token", want: "AF_STAGING_API_TOKEN"},
		{prefix: "", key: "token", want: "TOKEN"},
	}

	for _, tc := range testCases {
		got, err := (&Store{prefix: tc.prefix}).VariableName(tc.key)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := (&Store{}).VariableName("  ")
	assert.EqualError(t, err, "secret key is empty")
}
