package media

import (
	"fmt"
	"io"
)

const (
	// MaxAssetBytes caps any download when no smaller ceiling is configured.
	MaxAssetBytes int64 = 200 * 1024 * 1024

	stderrTailChars = 500
)

// readBounded reads an HTTP body of declared length (-1 when unknown) and
// fails with ErrDownloadFailure and ErrAssetTooLarge once more than limit
// bytes are declared or arrive.
func readBounded(body io.Reader, declared, limit int64) ([]byte, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrDownloadFailure)
	}
	if declared > limit {
		return nil, fmt.Errorf("%w: %w: declared %d bytes, max %d", ErrDownloadFailure, ErrAssetTooLarge, declared, limit)
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrDownloadFailure, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %w: max %d bytes", ErrDownloadFailure, ErrAssetTooLarge, limit)
	}
	return data, nil
}

// tail returns the last n runes of s.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
