package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceOrAppend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "empty content",
			content: "",
			want:    "ALLOWED=42\n",
		},
		{
			name:    "append keeps other lines",
			content: "# comment\nTOKEN=abc\n",
			want:    "# comment\nTOKEN=abc\nALLOWED=42\n",
		},
		{
			name:    "append adds missing trailing newline",
			content: "TOKEN=abc",
			want:    "TOKEN=abc\nALLOWED=42\n",
		},
		{
			name:    "replace in place",
			content: "TOKEN=abc\nALLOWED=1,2\nOTHER= spaced value \n",
			want:    "TOKEN=abc\nALLOWED=42\nOTHER= spaced value \n",
		},
		{
			name:    "replace exported and spaced assignment",
			content: "export ALLOWED = 7\nTOKEN=abc",
			want:    "ALLOWED=42\nTOKEN=abc",
		},
		{
			name:    "prefix key is not a match",
			content: "ALLOWED_ADMINS=1\n",
			want:    "ALLOWED_ADMINS=1\nALLOWED=42\n",
		},
		{
			name:    "duplicates collapse to first position",
			content: "ALLOWED=1\nTOKEN=abc\nALLOWED=2\n",
			want:    "ALLOWED=42\nTOKEN=abc\n",
		},
		{
			name:    "crlf preserved",
			content: "TOKEN=abc\r\nALLOWED=1\r\n",
			want:    "TOKEN=abc\r\nALLOWED=42\r\n",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ReplaceOrAppend(tt.content, "ALLOWED", "42")
			if got != tt.want {
				t.Fatalf("ReplaceOrAppend() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSetEnvValue_CreatesAndRewrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", ".env")
	require.NoError(t, SetEnvValue(path, "TELEGRAM_ALLOWED_USERS", "100"))

	values, err := ReadEnvFile(path)
	require.NoError(t, err)
	assert.Equal(t, "100", values["TELEGRAM_ALLOWED_USERS"])

	require.NoError(t, os.WriteFile(path, []byte("TELEGRAM_BOT_TOKEN=t\nTELEGRAM_ALLOWED_USERS=100\n"), 0o640))
	require.NoError(t, os.Chmod(path, 0o640))
	require.NoError(t, SetEnvValue(path, "TELEGRAM_ALLOWED_USERS", "200"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "TELEGRAM_BOT_TOKEN=t\nTELEGRAM_ALLOWED_USERS=200\n", string(raw))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestReadEnvFile_Missing(t *testing.T) {
	t.Parallel()

	values, err := ReadEnvFile(filepath.Join(t.TempDir(), "none.env"))
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestParseList(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"1", "2", "3"}, ParseList(" 1, 2,,3 ,2"))
	assert.Empty(t, ParseList(""))
}
