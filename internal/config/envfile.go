package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// ReadEnvFile parses a KEY=VALUE file. A missing file yields an empty map.
func ReadEnvFile(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return map[string]string{}, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return values, nil
}

// SetEnvValue rewrites the line assigning key in path, or appends one, leaving
// every other line byte-for-byte intact. The file is created when absent.
func SetEnvValue(path, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("env key is required")
	}
	mode := os.FileMode(0o600)
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if info, statErr := os.Stat(path); statErr == nil {
			mode = info.Mode().Perm()
		}
	case os.IsNotExist(err):
		raw = nil
	default:
		return fmt.Errorf("read env file: %w", err)
	}
	updated := ReplaceOrAppend(string(raw), key, value)
	return writeFileAtomic(path, []byte(updated), mode)
}

// ReplaceOrAppend returns content with the first assignment of key replaced by
// key=value. Later duplicate assignments are dropped so the new value wins
// under any parser. Without an existing assignment the line is appended.
func ReplaceOrAppend(content, key, value string) string {
	line := key + "=" + value
	lines := strings.SplitAfter(content, "\n")
	out := make([]string, 0, len(lines)+1)
	replaced := false
	for _, l := range lines {
		if l == "" {
			continue
		}
		if assignsKey(l, key) {
			if replaced {
				continue
			}
			ending := ""
			if strings.HasSuffix(l, "\r\n") {
				ending = "\r\n"
			} else if strings.HasSuffix(l, "\n") {
				ending = "\n"
			}
			out = append(out, line+ending)
			replaced = true
			continue
		}
		out = append(out, l)
	}
	if !replaced {
		if len(out) > 0 && !strings.HasSuffix(out[len(out)-1], "\n") {
			out[len(out)-1] += "\n"
		}
		out = append(out, line+"\n")
	}
	return strings.Join(out, "")
}

func assignsKey(line, key string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	trimmed = strings.TrimPrefix(trimmed, "export ")
	if !strings.HasPrefix(trimmed, key) {
		return false
	}
	rest := strings.TrimLeft(trimmed[len(key):], " \t")
	return strings.HasPrefix(rest, "=") || strings.HasPrefix(rest, ":")
}

// ParseList splits a comma-separated value, trimming blanks and duplicates.
func ParseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create env dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp env file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp env file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp env file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp env file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace env file: %w", err)
	}
	return nil
}
