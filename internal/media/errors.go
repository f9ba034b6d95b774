package media

import (
	"errors"
	"fmt"
)

var (
	// ErrDownloadFailure indicates the attachment could not be fetched or was rejected before fetching.
	ErrDownloadFailure = errors.New("media download failed")
	// ErrSubprocessTimeout indicates the extraction tool was killed after the hard timeout.
	ErrSubprocessTimeout = errors.New("media extraction timed out")
	// ErrEmptyTranscription indicates the transcript was blank.
	ErrEmptyTranscription = errors.New("empty transcription")
	// ErrAssetTooLarge indicates the payload exceeds the configured max asset size.
	ErrAssetTooLarge = errors.New("media asset too large")
	// ErrPathTraversal indicates a storage key attempted directory traversal.
	ErrPathTraversal = errors.New("path traversal is forbidden")
	// ErrProviderUnavailable indicates the upload storage is not configured.
	ErrProviderUnavailable = errors.New("storage provider unavailable")
)

// ExitError reports a non-zero exit of the extraction tool.
type ExitError struct {
	Code int
	// Stderr is the tail of the diagnostic stream.
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("extraction exited with code %d", e.Code)
	}
	return fmt.Sprintf("extraction exited with code %d: %s", e.Code, e.Stderr)
}
