// Package probe shells out to ffprobe and ffmpeg for media inspection:
// segment duration extraction and thumbnail capture. Both tools are
// optional at runtime; callers fall back to nominal values when probing
// is unavailable or fails.
package probe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FFProbe runs the ffprobe and ffmpeg binaries against segment bytes
// written to a temp file. ffprobe cannot read MPEG-TS duration from a
// pipe reliably, so the temp-file round trip is required.
type FFProbe struct {
	ffprobePath string
	ffmpegPath  string
	timeout     time.Duration
	tmpDir      string
}

// Option configures an FFProbe.
type Option func(*FFProbe)

// WithTimeout bounds each ffprobe/ffmpeg invocation.
func WithTimeout(d time.Duration) Option {
	return func(p *FFProbe) { p.timeout = d }
}

// WithBinaries overrides the ffprobe and ffmpeg paths.
func WithBinaries(ffprobe, ffmpeg string) Option {
	return func(p *FFProbe) {
		p.ffprobePath = ffprobe
		p.ffmpegPath = ffmpeg
	}
}

// WithTempDir overrides the directory used for segment temp files.
func WithTempDir(dir string) Option {
	return func(p *FFProbe) { p.tmpDir = dir }
}

// New creates an FFProbe with a 5s per-invocation timeout.
func New(opts ...Option) *FFProbe {
	p := &FFProbe{
		ffprobePath: "ffprobe",
		ffmpegPath:  "ffmpeg",
		timeout:     5 * time.Second,
		tmpDir:      os.TempDir(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Available reports whether ffprobe can be found on PATH.
func (p *FFProbe) Available() bool {
	_, err := exec.LookPath(p.ffprobePath)
	return err == nil
}

// ThumbnailAvailable reports whether ffmpeg can be found on PATH.
func (p *FFProbe) ThumbnailAvailable() bool {
	_, err := exec.LookPath(p.ffmpegPath)
	return err == nil
}

// Duration extracts the container duration in seconds from segment bytes.
func (p *FFProbe) Duration(ctx context.Context, segment []byte) (float64, error) {
	path, cleanup, err := p.writeTemp(segment, "seg-*.ts")
	if err != nil {
		return 0, err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	dur, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe duration %q: %w", strings.TrimSpace(string(output)), err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("ffprobe reported non-positive duration %v", dur)
	}
	return dur, nil
}

// Thumbnail captures the first frame of the segment as a 160x90 JPEG at
// outPath. Best effort: callers log and continue on error.
func (p *FFProbe) Thumbnail(ctx context.Context, segment []byte, outPath string) error {
	path, cleanup, err := p.writeTemp(segment, "thumb-*.ts")
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-y",
		"-v", "error",
		"-i", path,
		"-vframes", "1",
		"-vf", "scale=160:90",
		outPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg thumbnail failed: %w (%s)", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// writeTemp writes segment bytes to a temp file and returns the path and
// a cleanup func.
func (p *FFProbe) writeTemp(segment []byte, pattern string) (string, func(), error) {
	f, err := os.CreateTemp(p.tmpDir, pattern)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }

	if _, err := f.Write(segment); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to close temp file: %w", err)
	}
	return path, cleanup, nil
}

// ThumbnailName returns a stable file name for a stream's latest capture.
func ThumbnailName(dir, streamID string) string {
	return filepath.Join(dir, streamID+".jpg")
}
