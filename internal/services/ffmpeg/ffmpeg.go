// Package ffmpeg wraps the ffmpeg and ffprobe command-line tools for audio
// decoding, filtering, and encoding.
package ffmpeg

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

var commandContext = exec.CommandContext

// Info is the subset of ffprobe output the pipeline cares about.
type Info struct {
	DurationSec float64
	Format      string
	BitRate     string
}

// Request describes one ffmpeg transcode invocation.
type Request struct {
	Input  string
	Output string

	// StartSec and EndSec trim the input when positive.
	StartSec float64
	EndSec   float64

	// Filters is the -af chain, applied in order.
	Filters []string

	Codec      string
	Bitrate    string
	SampleRate int
	Channels   int

	// DurationHint, in seconds, drives percentage progress. Zero disables
	// percent computation; raw progress lines are still consumed.
	DurationHint float64
}

// Client defines transcode and probe behaviour.
type Client interface {
	Probe(ctx context.Context, path string) (Info, error)
	Transcode(ctx context.Context, req Request, progress func(percent float64)) error
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinaries overrides the ffmpeg and ffprobe binary names. Empty values
// keep the defaults.
func WithBinaries(ffmpegBinary, ffprobeBinary string) Option {
	return func(c *CLI) {
		if ffmpegBinary != "" {
			c.ffmpeg = ffmpegBinary
		}
		if ffprobeBinary != "" {
			c.ffprobe = ffprobeBinary
		}
	}
}

// CLI shells out to ffmpeg and ffprobe.
type CLI struct {
	ffmpeg  string
	ffprobe string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{ffmpeg: "ffmpeg", ffprobe: "ffprobe"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Probe inspects a media file with ffprobe.
func (c *CLI) Probe(ctx context.Context, path string) (Info, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		path,
	}
	output, err := commandContext(ctx, c.ffprobe, args...).Output() //nolint:gosec
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	var payload struct {
		Format struct {
			Duration   string `json:"duration"`
			FormatName string `json:"format_name"`
			BitRate    string `json:"bit_rate"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &payload); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	info := Info{Format: payload.Format.FormatName, BitRate: payload.Format.BitRate}
	if payload.Format.Duration != "" {
		if duration, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil {
			info.DurationSec = duration
		}
	}
	return info, nil
}

// Transcode runs one ffmpeg invocation described by req, reporting progress
// as a percentage of req.DurationHint when it is known.
func (c *CLI) Transcode(ctx context.Context, req Request, progress func(percent float64)) error {
	args, err := BuildArgs(req)
	if err != nil {
		return err
	}
	cmd := commandContext(ctx, c.ffmpeg, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if percent, ok := parseProgressLine(scanner.Text(), req.DurationHint); ok && progress != nil {
			progress(percent)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ffmpeg progress: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 512 {
			detail = detail[len(detail)-512:]
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, detail)
	}
	return nil
}

// BuildArgs converts a Request into the ffmpeg argument vector. Exposed so
// stage adapters can assert the exact invocation in tests.
func BuildArgs(req Request) ([]string, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, fmt.Errorf("input path required")
	}
	if strings.TrimSpace(req.Output) == "" {
		return nil, fmt.Errorf("output path required")
	}

	args := []string{
		"-y",
		"-hide_banner",
		"-nostats",
		"-loglevel", "error",
		"-progress", "pipe:1",
	}
	if req.StartSec > 0 {
		args = append(args, "-ss", formatSeconds(req.StartSec))
	}
	if req.EndSec > 0 {
		args = append(args, "-to", formatSeconds(req.EndSec))
	}
	args = append(args, "-i", req.Input, "-vn")
	if len(req.Filters) > 0 {
		args = append(args, "-af", strings.Join(req.Filters, ","))
	}
	if req.Codec != "" {
		args = append(args, "-c:a", req.Codec)
	}
	if req.Bitrate != "" {
		args = append(args, "-b:a", req.Bitrate)
	}
	if req.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(req.SampleRate))
	}
	if req.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(req.Channels))
	}
	args = append(args, req.Output)
	return args, nil
}

// parseProgressLine handles the key=value stream emitted by -progress pipe:1.
// out_time_ms is in microseconds despite the name.
func parseProgressLine(line string, durationSec float64) (float64, bool) {
	line = strings.TrimSpace(line)
	value, ok := strings.CutPrefix(line, "out_time_ms=")
	if !ok || durationSec <= 0 {
		return 0, false
	}
	micros, err := strconv.ParseInt(value, 10, 64)
	if err != nil || micros < 0 {
		return 0, false
	}
	percent := float64(micros) / 1e6 / durationSec * 100
	if percent > 100 {
		percent = 100
	}
	return percent, true
}

func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 3, 64)
}

var _ Client = (*CLI)(nil)
