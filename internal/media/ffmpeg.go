// SPDX-License-Identifier: MIT

package media

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openreelio/reelcore/internal/log"
)

// FFRunner shells out to the ffmpeg binary at FFmpegPath, which defaults
// to "ffmpeg" resolved through PATH. Probing goes through the
// package-level ffprobe wrapper; FFRunner holds no ffprobe path.
type FFRunner struct {
	FFmpegPath string
	logger     zerolog.Logger
}

// NewFFRunner builds a runner. Empty ffmpegPath selects "ffmpeg" from
// PATH.
func NewFFRunner(ffmpegPath string) *FFRunner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFRunner{
		FFmpegPath: ffmpegPath,
		logger:     log.WithComponent("media"),
	}
}

var _ Runner = (*FFRunner)(nil)

// Probe delegates to the package-level ffprobe wrapper.
func (r *FFRunner) Probe(ctx context.Context, path string) (Info, error) {
	return Probe(ctx, path)
}

// thumbnailArgs builds the ffmpeg invocation for a poster frame. Split
// out for testability; the binary itself never runs under tests.
func thumbnailArgs(path, out string, atSec float64, size int) []string {
	args := []string{
		"-y", "-loglevel", "error",
		"-ss", formatSeconds(atSec),
		"-i", path,
		"-frames:v", "1",
	}
	if size > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", size))
	}
	return append(args, out)
}

func (r *FFRunner) GenerateThumbnail(ctx context.Context, path, out string, atSec float64, size int) error {
	return r.run(ctx, thumbnailArgs(path, out, atSec, size), nil, 0)
}

func waveformArgs(path, out string, w, h int) []string {
	return []string{
		"-y", "-loglevel", "error",
		"-i", path,
		"-filter_complex", fmt.Sprintf("showwavespic=s=%dx%d:colors=white", w, h),
		"-frames:v", "1",
		out,
	}
}

func (r *FFRunner) GenerateWaveform(ctx context.Context, path, out string, w, h int) error {
	return r.run(ctx, waveformArgs(path, out, w, h), nil, 0)
}

func extractAudioArgs(path, out string) []string {
	return []string{
		"-y", "-loglevel", "error",
		"-i", path,
		"-vn", "-acodec", "pcm_s16le",
		out,
	}
}

func (r *FFRunner) ExtractAudio(ctx context.Context, path, out string) error {
	return r.run(ctx, extractAudioArgs(path, out), nil, 0)
}

func proxyArgs(path, out string, height int) []string {
	if height <= 0 {
		height = 540
	}
	return []string{
		"-y", "-loglevel", "error", "-progress", "pipe:2",
		"-i", path,
		"-vf", fmt.Sprintf("scale=-2:%d", height),
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "28",
		"-c:a", "aac", "-b:a", "128k",
		out,
	}
}

func (r *FFRunner) GenerateProxy(ctx context.Context, path, out string, height int, progress ProgressFunc) error {
	info, err := r.Probe(ctx, path)
	if err != nil {
		return err
	}
	return r.run(ctx, proxyArgs(path, out, height), progress, info.DurationSec)
}

func (r *FFRunner) Render(ctx context.Context, planJSON []byte, out string, progress ProgressFunc) error {
	// The render plan compiler lives with the host application; the core
	// only transports the plan.
	return fmt.Errorf("render execution is provided by the host application")
}

// run executes ffmpeg, optionally parsing "-progress pipe:2" key/value
// output into progress callbacks against a known total duration.
func (r *FFRunner) run(ctx context.Context, args []string, progress ProgressFunc, totalSec float64) error {
	cmd := exec.CommandContext(ctx, r.FFmpegPath, args...) // #nosec G204 -- args are built internally
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("pipe ffmpeg stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	var tail []string
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if progress != nil && totalSec > 0 {
			if p, ok := parseProgressLine(line, totalSec); ok {
				progress(p, "encoding")
				continue
			}
		}
		tail = append(tail, line)
		if len(tail) > 20 {
			tail = tail[1:]
		}
	}

	if err := cmd.Wait(); err != nil {
		r.logger.Warn().Err(err).Strs("stderr", tail).Msg("ffmpeg failed")
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.Join(tail, "; "))
	}
	if progress != nil {
		progress(1.0, "done")
	}
	return nil
}

// parseProgressLine understands the "out_time_ms=1234567" lines ffmpeg
// emits under -progress.
func parseProgressLine(line string, totalSec float64) (float64, bool) {
	value, found := strings.CutPrefix(line, "out_time_ms=")
	if !found {
		return 0, false
	}
	us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, false
	}
	p := (time.Duration(us) * time.Microsecond).Seconds() / totalSec
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p, true
}

func formatSeconds(v float64) string {
	if v < 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}
