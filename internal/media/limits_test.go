package media

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBounded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		declared int64
		limit    int64
		tooLarge bool
		wantErr  bool
	}{
		{name: "unknown length under limit", body: "voice", declared: -1, limit: 10},
		{name: "exactly at limit", body: "12345", declared: 5, limit: 5},
		{name: "declared length over limit", body: "", declared: 11, limit: 10, tooLarge: true, wantErr: true},
		{name: "streamed body over limit", body: "0123456789A", declared: -1, limit: 10, tooLarge: true, wantErr: true},
		{name: "understated length still capped", body: "0123456789A", declared: 3, limit: 10, tooLarge: true, wantErr: true},
		{name: "non-positive limit", body: "x", declared: -1, limit: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, err := readBounded(strings.NewReader(tt.body), tt.declared, tt.limit)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.body, string(data))
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDownloadFailure)
			assert.Equal(t, tt.tooLarge, errors.Is(err, ErrAssetTooLarge))
			assert.Nil(t, data)
		})
	}
}

func TestReadBounded_BodyErrorIsDownloadFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	_, err := readBounded(iotest.ErrReader(boom), -1, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDownloadFailure)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrAssetTooLarge)
}

func TestTail(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", tail("short", 10))
	assert.Equal(t, "ошибка", tail("ffmpeg: ошибка", 6))
	assert.Equal(t, "", tail("", 3))
}
