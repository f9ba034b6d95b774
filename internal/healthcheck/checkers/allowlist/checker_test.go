package allowlistchecker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/relay/internal/auth"
	"github.com/memohai/relay/internal/healthcheck"
)

type haltFlag bool

func (h haltFlag) Halted() bool { return bool(h) }

func TestCheckerListChecks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content *string
		halted  bool
		want    string
		users   any
	}{
		{name: "missing file", want: healthcheck.StatusWarn},
		{name: "empty key", content: ptr("OTHER=1\n"), want: healthcheck.StatusWarn, users: 0},
		{name: "loaded", content: ptr("TELEGRAM_ALLOWED_USERS=1,2\n"), want: healthcheck.StatusOK, users: 2},
		{name: "restart pending", content: ptr("TELEGRAM_ALLOWED_USERS=1\n"), halted: true, want: healthcheck.StatusWarn, users: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), ".env")
			if tt.content != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tt.content), 0o600))
			}
			store := auth.NewStore(path, "TELEGRAM_ALLOWED_USERS")

			items := NewChecker(store, haltFlag(tt.halted)).ListChecks(context.Background())
			require.Len(t, items, 1)
			assert.Equal(t, tt.want, items[0].Status)
			assert.Equal(t, path, items[0].Metadata["path"])
			if tt.users != nil {
				assert.Equal(t, tt.users, items[0].Metadata["users"])
			}
		})
	}
}

func TestCheckerWithoutStore(t *testing.T) {
	t.Parallel()

	items := NewChecker(nil, nil).ListChecks(context.Background())
	require.Len(t, items, 1)
	assert.Equal(t, healthcheck.StatusWarn, items[0].Status)
}

func ptr(s string) *string { return &s }
