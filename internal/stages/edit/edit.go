// Package edit applies the optional pre-transform touch-ups: trimming the
// clip to a time range and loudness normalization.
package edit

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"slowjams/internal/logging"
	"slowjams/internal/services"
	"slowjams/internal/services/ffmpeg"
	"slowjams/internal/stage"
)

// loudnormFilter targets streaming loudness.
const loudnormFilter = "loudnorm=I=-14:TP=-1:LRA=11"

// Handler implements the edit stage.
type Handler struct {
	client ffmpeg.Client
	logger *slog.Logger
}

// New constructs the edit handler.
func New(client ffmpeg.Client, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{client: client, logger: logger.With(logging.String(logging.FieldComponent, "edit"))}
}

// Kind identifies the stage.
func (h *Handler) Kind() stage.Kind { return stage.KindEdit }

// Execute trims and normalizes the intermediate. When the params request no
// edits the input artifact passes through untouched.
func (h *Handler) Execute(ctx context.Context, req stage.Request, progress stage.ProgressFunc) (stage.Result, error) {
	params := req.Params
	hasTrim := params.TrimStart > 0 || params.TrimEnd > 0
	if !hasTrim && !params.Normalize {
		if progress != nil {
			progress(100, "no edits requested")
		}
		return stage.Result{ArtifactRef: req.ArtifactRef, Message: "no edits requested"}, nil
	}
	if params.TrimEnd > 0 && params.TrimEnd <= params.TrimStart {
		return stage.Result{}, services.Wrap(services.ErrValidation, "edit", "trim",
			fmt.Sprintf("trim end %.2fs must be after trim start %.2fs", params.TrimEnd, params.TrimStart), nil)
	}

	info, err := h.client.Probe(ctx, req.ArtifactRef)
	if err != nil {
		if ctx.Err() != nil {
			return stage.Result{}, ctx.Err()
		}
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "edit", "probe", "", err)
	}
	if hasTrim && info.DurationSec > 0 && params.TrimStart >= info.DurationSec {
		return stage.Result{}, services.Wrap(services.ErrValidation, "edit", "trim",
			fmt.Sprintf("trim start %.2fs is beyond clip end %.2fs", params.TrimStart, info.DurationSec), nil)
	}

	var filters []string
	var applied []string
	if hasTrim {
		applied = append(applied, "trim")
	}
	if params.Normalize {
		filters = append(filters, loudnormFilter)
		applied = append(applied, "loudnorm")
	}

	hint := info.DurationSec
	if params.TrimEnd > 0 {
		hint = params.TrimEnd - params.TrimStart
	} else if params.TrimStart > 0 {
		hint -= params.TrimStart
	}

	output := filepath.Join(req.WorkDir, "edit.wav")
	transcode := ffmpeg.Request{
		Input:        req.ArtifactRef,
		Output:       output,
		StartSec:     params.TrimStart,
		EndSec:       params.TrimEnd,
		Filters:      filters,
		Codec:        "pcm_s16le",
		SampleRate:   params.SampleRate,
		Channels:     params.Channels,
		DurationHint: hint,
	}
	err = h.client.Transcode(ctx, transcode, func(percent float64) {
		if progress != nil {
			progress(percent, "editing")
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return stage.Result{}, ctx.Err()
		}
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "edit", "transcode", "", err)
	}

	h.logger.Info("applied edits",
		logging.Int64(logging.FieldJobID, req.JobID),
		logging.String("edits", strings.Join(applied, "+")),
	)
	return stage.Result{
		ArtifactRef: output,
		Message:     "applied " + strings.Join(applied, "+"),
	}, nil
}

var _ stage.Handler = (*Handler)(nil)
