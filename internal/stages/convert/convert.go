// Package convert decodes the acquired source into the canonical PCM
// intermediate the downstream stages operate on.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"slowjams/internal/logging"
	"slowjams/internal/services"
	"slowjams/internal/services/ffmpeg"
	"slowjams/internal/stage"
)

// Handler implements the convert stage.
type Handler struct {
	client ffmpeg.Client
	logger *slog.Logger
}

// New constructs the convert handler.
func New(client ffmpeg.Client, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{client: client, logger: logger.With(logging.String(logging.FieldComponent, "convert"))}
}

// Kind identifies the stage.
func (h *Handler) Kind() stage.Kind { return stage.KindConvert }

// Execute decodes req.ArtifactRef into a 16-bit PCM WAV at the configured
// sample rate and channel count.
func (h *Handler) Execute(ctx context.Context, req stage.Request, progress stage.ProgressFunc) (stage.Result, error) {
	info, err := h.client.Probe(ctx, req.ArtifactRef)
	if err != nil {
		if ctx.Err() != nil {
			return stage.Result{}, ctx.Err()
		}
		// A truncated download probes as garbage; a retry re-acquires it.
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "convert", "probe", "", err)
	}

	output := filepath.Join(req.WorkDir, "convert.wav")
	transcode := ffmpeg.Request{
		Input:        req.ArtifactRef,
		Output:       output,
		Codec:        "pcm_s16le",
		SampleRate:   req.Params.SampleRate,
		Channels:     req.Params.Channels,
		DurationHint: info.DurationSec,
	}
	err = h.client.Transcode(ctx, transcode, func(percent float64) {
		if progress != nil {
			progress(percent, "decoding")
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return stage.Result{}, ctx.Err()
		}
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "convert", "transcode", "", err)
	}

	h.logger.Info("decoded source",
		logging.Int64(logging.FieldJobID, req.JobID),
		logging.String("format", info.Format),
		logging.Duration("duration", time.Duration(info.DurationSec*float64(time.Second))),
	)
	return stage.Result{
		ArtifactRef: output,
		Message:     fmt.Sprintf("decoded %s (%.0fs)", info.Format, info.DurationSec),
	}, nil
}

var _ stage.Handler = (*Handler)(nil)
