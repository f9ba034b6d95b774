package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatch_EmitsAfterWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("A=1\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := Watch(ctx, nil, 50*time.Millisecond, path)
	require.NoError(t, err)

	require.NoError(t, SetEnvValue(path, "A", "2"))

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("expected change notification")
	}

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected channel close after cancel")
	}
}
