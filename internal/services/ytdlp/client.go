// Package ytdlp wraps the yt-dlp command-line downloader.
package ytdlp

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

var commandContext = exec.CommandContext

// ProgressUpdate captures yt-dlp download progress events.
type ProgressUpdate struct {
	Percent float64
	Message string
}

// Client defines download behaviour.
type Client interface {
	Download(ctx context.Context, url, destDir string, progress func(ProgressUpdate)) (string, error)
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// CLI wraps the yt-dlp command-line downloader.
type CLI struct {
	binary string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "yt-dlp"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Download fetches the best audio stream for url into destDir and returns the
// downloaded file path. destDir must be empty or dedicated to this download;
// the result is located by scanning the directory afterwards.
func (c *CLI) Download(ctx context.Context, url, destDir string, progress func(ProgressUpdate)) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("url required")
	}
	if strings.TrimSpace(destDir) == "" {
		return "", fmt.Errorf("destination directory required")
	}

	args := []string{
		"--newline",
		"--no-playlist",
		"--no-part",
		"--format", "bestaudio/best",
		"--output", filepath.Join(destDir, "%(title)s.%(ext)s"),
		url,
	}
	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start yt-dlp: %w", err)
	}

	var tail []string
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		tail = appendTail(tail, line)
		if update, ok := ParseProgressLine(line); ok && progress != nil {
			progress(update)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read yt-dlp output: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		return "", fmt.Errorf("yt-dlp failed: %w: %s", err, strings.Join(tail, " | "))
	}

	return newestFile(destDir)
}

// ParseProgressLine extracts a percentage from a "[download]  42.5% of ..."
// line. Non-progress lines report ok=false.
func ParseProgressLine(line string) (ProgressUpdate, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "[download]") {
		return ProgressUpdate{}, false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, "[download]"))
	fields := strings.Fields(rest)
	if len(fields) == 0 || !strings.HasSuffix(fields[0], "%") {
		return ProgressUpdate{}, false
	}
	percent, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "%"), 64)
	if err != nil {
		return ProgressUpdate{}, false
	}
	return ProgressUpdate{Percent: percent, Message: rest}, true
}

// Unavailable reports whether the error text indicates a permanently missing
// or inaccessible source rather than a transient network failure.
func Unavailable(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, marker := range []string{
		"video unavailable",
		"private video",
		"this video is not available",
		"account has been terminated",
		"removed by the uploader",
		"unsupported url",
		"is not a valid url",
		"404",
	} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

const tailLines = 5

func appendTail(tail []string, line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return tail
	}
	tail = append(tail, line)
	if len(tail) > tailLines {
		tail = tail[1:]
	}
	return tail
}

func newestFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("scan download directory: %w", err)
	}
	var newest string
	var newestMod int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().UnixNano() > newestMod {
			newest = filepath.Join(dir, entry.Name())
			newestMod = info.ModTime().UnixNano()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("download produced no file in %s", dir)
	}
	return newest, nil
}

var _ Client = (*CLI)(nil)
