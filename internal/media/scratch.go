package media

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// scratch creates uniquely named per-job files under one directory.
type scratch struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// name returns <kind>_<chatID>_<unixNano><ext>.
func (s *scratch) name(kind Kind, chatID, ext string) string {
	return fmt.Sprintf("%s_%s_%d%s", kind, sanitizeChatID(chatID), s.now().UnixNano(), ext)
}

func (s *scratch) write(kind Kind, chatID, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	path := filepath.Join(s.dir, s.name(kind, chatID, ext))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close scratch file: %w", err)
	}
	return path, nil
}

// remove deletes paths, logging and swallowing failures.
func (s *scratch) remove(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			s.logger.Warn("scratch cleanup failed", slog.String("path", p), slog.Any("error", err))
		}
	}
}

func sanitizeChatID(chatID string) string {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, chatID)
}
