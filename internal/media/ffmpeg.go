package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	framePattern   = "frame_%03d.jpg"
	frameGlob      = "frame_*.jpg"
	killWaitDelay  = 2 * time.Second
	progressCap    = 99
	progressFinish = 100
)

// FrameExtractor samples still frames from a video with ffmpeg.
type FrameExtractor struct {
	Path     string
	Interval int
	Timeout  time.Duration
}

// RequestedFrames is floor(duration/interval), at least 1.
func (x FrameExtractor) RequestedFrames(duration time.Duration) int {
	interval := x.Interval
	if interval <= 0 {
		interval = 2
	}
	n := int(duration/time.Second) / interval
	if n < 1 {
		n = 1
	}
	return n
}

// Args builds the ffmpeg argument list.
func (x FrameExtractor) Args(input, dir string, frames int) []string {
	interval := x.Interval
	if interval <= 0 {
		interval = 2
	}
	return []string{
		"-hide_banner", "-nostats", "-y",
		"-i", input,
		"-vf", fmt.Sprintf("fps=1/%d", interval),
		"-frames:v", strconv.Itoa(frames),
		"-q:v", "2",
		"-progress", "pipe:1",
		filepath.Join(dir, framePattern),
	}
}

// Extract runs ffmpeg on input and returns the sorted frame paths written
// into dir. progress receives non-decreasing values in [0,99] while the tool
// runs and 100 once it exits cleanly.
func (x FrameExtractor) Extract(ctx context.Context, input, dir string, duration time.Duration, progress ProgressFunc) ([]string, error) {
	timeout := x.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, x.Path, x.Args(input, dir, x.RequestedFrames(duration))...)
	cmd.WaitDelay = killWaitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	tracker := newProgressTracker(duration, progress)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		tracker.observe(scanner.Text())
	}
	_, _ = io.Copy(io.Discard, stdout)

	waitErr := cmd.Wait()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w after %s", ErrSubprocessTimeout, timeout)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, &ExitError{Code: exitErr.ExitCode(), Stderr: tail(stderr.String(), stderrTailChars)}
		}
		return nil, fmt.Errorf("run ffmpeg: %w", waitErr)
	}
	tracker.finish()

	frames, err := filepath.Glob(filepath.Join(dir, frameGlob))
	if err != nil {
		return nil, err
	}
	sort.Strings(frames)
	return frames, nil
}

type progressTracker struct {
	duration time.Duration
	sink     ProgressFunc
	last     int
}

func newProgressTracker(duration time.Duration, sink ProgressFunc) *progressTracker {
	return &progressTracker{duration: duration, sink: sink, last: -1}
}

// observe handles one "key=value" line of ffmpeg's -progress output.
func (p *progressTracker) observe(line string) {
	elapsed, ok := parseProgressLine(line)
	if !ok || p.duration <= 0 {
		return
	}
	pct := int(elapsed * 100 / p.duration)
	if pct < 0 {
		pct = 0
	}
	if pct > progressCap {
		pct = progressCap
	}
	p.emit(pct)
}

func (p *progressTracker) finish() {
	p.emit(progressFinish)
}

func (p *progressTracker) emit(pct int) {
	if pct <= p.last {
		return
	}
	p.last = pct
	if p.sink != nil {
		p.sink(pct)
	}
}

// parseProgressLine extracts the output timestamp. ffmpeg reports
// out_time_ms in microseconds, the same unit as out_time_us.
func parseProgressLine(line string) (time.Duration, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return 0, false
	}
	value = strings.TrimSpace(value)
	switch key {
	case "out_time_us", "out_time_ms":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		return time.Duration(us) * time.Microsecond, true
	case "out_time":
		return parseClock(value)
	default:
		return 0, false
	}
}

// parseClock parses HH:MM:SS.micro.
func parseClock(value string) (time.Duration, bool) {
	if strings.HasPrefix(value, "-") {
		return 0, false
	}
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 {
		return 0, false
	}
	s, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || s < 0 {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s*float64(time.Second)), true
}
