// Package acquire stages job sources into the working directory, downloading
// remote URLs with yt-dlp and copying local files verbatim.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"slowjams/internal/logging"
	"slowjams/internal/services"
	"slowjams/internal/services/ytdlp"
	"slowjams/internal/stage"
)

// sourceSubdir is where the acquired file lands inside the job work
// directory. Later stages recover the original title from this directory.
const sourceSubdir = "source"

// Handler implements the acquire stage.
type Handler struct {
	downloader ytdlp.Client
	logger     *slog.Logger
}

// New constructs the acquire handler.
func New(downloader ytdlp.Client, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{downloader: downloader, logger: logger.With(logging.String(logging.FieldComponent, "acquire"))}
}

// Kind identifies the stage.
func (h *Handler) Kind() stage.Kind { return stage.KindAcquire }

// Execute stages the job source and returns the staged file path.
func (h *Handler) Execute(ctx context.Context, req stage.Request, progress stage.ProgressFunc) (stage.Result, error) {
	destDir := filepath.Join(req.WorkDir, sourceSubdir)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return stage.Result{}, services.Wrap(services.ErrConfiguration, "acquire", "prepare", "create source directory", err)
	}

	if IsRemote(req.SourceRef) {
		return h.download(ctx, req, destDir, progress)
	}
	return h.stageLocal(req, destDir, progress)
}

// IsRemote reports whether a source reference is a downloadable URL.
func IsRemote(sourceRef string) bool {
	parsed, err := url.Parse(strings.TrimSpace(sourceRef))
	if err != nil {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}

func (h *Handler) download(ctx context.Context, req stage.Request, destDir string, progress stage.ProgressFunc) (stage.Result, error) {
	h.logger.Info("downloading source",
		logging.Int64(logging.FieldJobID, req.JobID),
		logging.String("url", req.SourceRef),
	)
	path, err := h.downloader.Download(ctx, req.SourceRef, destDir, func(update ytdlp.ProgressUpdate) {
		if progress != nil {
			progress(update.Percent, update.Message)
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return stage.Result{}, ctx.Err()
		}
		if ytdlp.Unavailable(err) {
			return stage.Result{}, services.Wrap(services.ErrNotFound, "acquire", "download", "source unavailable", err)
		}
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "acquire", "download", "", err)
	}
	return stage.Result{
		ArtifactRef: path,
		Message:     fmt.Sprintf("downloaded %s", filepath.Base(path)),
	}, nil
}

func (h *Handler) stageLocal(req stage.Request, destDir string, progress stage.ProgressFunc) (stage.Result, error) {
	source := expandPath(req.SourceRef)
	info, err := os.Stat(source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stage.Result{}, services.Wrap(services.ErrNotFound, "acquire", "stat", "source file does not exist", err)
		}
		return stage.Result{}, services.Wrap(services.ErrTransient, "acquire", "stat", "", err)
	}
	if info.IsDir() {
		return stage.Result{}, services.Wrap(services.ErrValidation, "acquire", "stat", "source is a directory", nil)
	}

	dest := filepath.Join(destDir, filepath.Base(source))
	if err := copyFile(source, dest); err != nil {
		return stage.Result{}, services.Wrap(services.ErrTransient, "acquire", "copy", "", err)
	}
	if progress != nil {
		progress(100, "staged local file")
	}
	h.logger.Info("staged local source",
		logging.Int64(logging.FieldJobID, req.JobID),
		logging.String("path", dest),
	)
	return stage.Result{
		ArtifactRef: dest,
		Message:     fmt.Sprintf("staged %s", filepath.Base(dest)),
	}, nil
}

// SourceStem returns the original title stem recovered from the staged source
// file in workDir, with ok=false when nothing was staged.
func SourceStem(workDir string) (string, bool) {
	entries, err := os.ReadDir(filepath.Join(workDir, sourceSubdir))
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		return strings.TrimSuffix(name, filepath.Ext(name)), true
	}
	return "", false
}

func copyFile(source, dest string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func expandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

var _ stage.Handler = (*Handler)(nil)
