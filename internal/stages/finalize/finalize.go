// Package finalize encodes the processed intermediate into the requested
// output format and places it in the library.
package finalize

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"slowjams/internal/logging"
	"slowjams/internal/services"
	"slowjams/internal/services/ffmpeg"
	"slowjams/internal/stage"
	"slowjams/internal/stages/acquire"
)

// Handler implements the finalize stage.
type Handler struct {
	client     ffmpeg.Client
	libraryDir string
	logger     *slog.Logger
}

// New constructs the finalize handler.
func New(client ffmpeg.Client, libraryDir string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		client:     client,
		libraryDir: libraryDir,
		logger:     logger.With(logging.String(logging.FieldComponent, "finalize")),
	}
}

// Kind identifies the stage.
func (h *Handler) Kind() stage.Kind { return stage.KindFinalize }

// Execute encodes the artifact and moves it into the library. The returned
// artifact is the final library path.
func (h *Handler) Execute(ctx context.Context, req stage.Request, progress stage.ProgressFunc) (stage.Result, error) {
	codec, ext, err := codecFor(req.Params.OutputFormat)
	if err != nil {
		return stage.Result{}, err
	}
	if err := os.MkdirAll(h.libraryDir, 0o755); err != nil {
		return stage.Result{}, services.Wrap(services.ErrConfiguration, "finalize", "prepare", "create library directory", err)
	}

	info, err := h.client.Probe(ctx, req.ArtifactRef)
	if err != nil {
		if ctx.Err() != nil {
			return stage.Result{}, ctx.Err()
		}
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "finalize", "probe", "", err)
	}

	encoded := filepath.Join(req.WorkDir, "final."+ext)
	transcode := ffmpeg.Request{
		Input:        req.ArtifactRef,
		Output:       encoded,
		Codec:        codec,
		Bitrate:      bitrateFor(codec, req.Params.OutputBitrate),
		SampleRate:   req.Params.SampleRate,
		Channels:     req.Params.Channels,
		DurationHint: info.DurationSec,
	}
	err = h.client.Transcode(ctx, transcode, func(percent float64) {
		if progress != nil {
			progress(percent, "encoding")
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return stage.Result{}, ctx.Err()
		}
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "finalize", "encode", "", err)
	}

	dest, err := h.place(encoded, LibraryName(req, ext))
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrTransient, "finalize", "place", "", err)
	}

	h.logger.Info("placed final file",
		logging.Int64(logging.FieldJobID, req.JobID),
		logging.String("path", dest),
	)
	return stage.Result{
		ArtifactRef: dest,
		Message:     fmt.Sprintf("placed %s", filepath.Base(dest)),
	}, nil
}

// LibraryName derives the output file name from the staged source title,
// falling back to the job id when no source remains in the work directory.
func LibraryName(req stage.Request, ext string) string {
	stem, ok := acquire.SourceStem(req.WorkDir)
	if !ok || strings.TrimSpace(stem) == "" {
		stem = fmt.Sprintf("job-%d", req.JobID)
	}
	return sanitize(stem) + " (slowed)." + ext
}

// place moves the encoded file into the library, suffixing the name rather
// than overwriting an existing entry.
func (h *Handler) place(encoded, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	dest := filepath.Join(h.libraryDir, name)
	for n := 2; ; n++ {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			break
		}
		dest = filepath.Join(h.libraryDir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
	}
	if err := moveFile(encoded, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func codecFor(format string) (codec, ext string, err error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "mp3":
		return "libmp3lame", "mp3", nil
	case "aac", "m4a":
		return "aac", "m4a", nil
	case "flac":
		return "flac", "flac", nil
	case "wav":
		return "pcm_s16le", "wav", nil
	case "ogg", "vorbis":
		return "libvorbis", "ogg", nil
	case "opus":
		return "libopus", "opus", nil
	default:
		return "", "", services.Wrap(services.ErrValidation, "finalize", "encode",
			fmt.Sprintf("unsupported output format %q", format), nil)
	}
}

// bitrateFor drops the bitrate for lossless codecs where it is meaningless.
func bitrateFor(codec, bitrate string) string {
	if codec == "flac" || codec == "pcm_s16le" {
		return ""
	}
	return bitrate
}

func sanitize(name string) string {
	replacer := strings.NewReplacer("/", "-", "\\", "-", ":", "-", "\x00", "")
	name = strings.TrimSpace(replacer.Replace(name))
	if name == "" {
		name = "untitled"
	}
	return name
}

// moveFile renames when possible and falls back to copy for cross-device
// library directories.
func moveFile(source, dest string) error {
	if err := os.Rename(source, dest); err == nil {
		return nil
	}
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
		os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(source)
}

var _ stage.Handler = (*Handler)(nil)
