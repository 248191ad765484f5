// Package transform applies the slowed-and-reverb effect chain: tempo and
// pitch manipulation plus an echo-based reverb, rendered as an ffmpeg audio
// filter graph.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"slowjams/internal/logging"
	"slowjams/internal/services"
	"slowjams/internal/services/ffmpeg"
	"slowjams/internal/stage"
)

// Speed factors outside this range produce garbage audio.
const (
	minSpeedFactor = 0.25
	maxSpeedFactor = 4.0
)

// atempo only accepts factors in [0.5, 100]; slower speeds chain filters.
const atempoMin = 0.5

// Handler implements the transform stage.
type Handler struct {
	client ffmpeg.Client
	logger *slog.Logger
}

// New constructs the transform handler.
func New(client ffmpeg.Client, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{client: client, logger: logger.With(logging.String(logging.FieldComponent, "transform"))}
}

// Kind identifies the stage.
func (h *Handler) Kind() stage.Kind { return stage.KindTransform }

// Execute renders the effect chain into a new PCM intermediate.
func (h *Handler) Execute(ctx context.Context, req stage.Request, progress stage.ProgressFunc) (stage.Result, error) {
	filters, err := BuildFilterChain(req.Params)
	if err != nil {
		return stage.Result{}, err
	}
	if len(filters) == 0 {
		if progress != nil {
			progress(100, "no effects requested")
		}
		return stage.Result{ArtifactRef: req.ArtifactRef, Message: "no effects requested"}, nil
	}

	info, err := h.client.Probe(ctx, req.ArtifactRef)
	if err != nil {
		if ctx.Err() != nil {
			return stage.Result{}, ctx.Err()
		}
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "transform", "probe", "", err)
	}

	// Slowing stretches the output, so progress is measured against the
	// stretched duration.
	hint := info.DurationSec
	if req.Params.SpeedFactor > 0 {
		hint = info.DurationSec / req.Params.SpeedFactor
	}

	output := filepath.Join(req.WorkDir, "transform.wav")
	transcode := ffmpeg.Request{
		Input:        req.ArtifactRef,
		Output:       output,
		Filters:      filters,
		Codec:        "pcm_s16le",
		SampleRate:   req.Params.SampleRate,
		Channels:     req.Params.Channels,
		DurationHint: hint,
	}
	err = h.client.Transcode(ctx, transcode, func(percent float64) {
		if progress != nil {
			progress(percent, "rendering effects")
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return stage.Result{}, ctx.Err()
		}
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "transform", "transcode", "", err)
	}

	h.logger.Info("rendered effect chain",
		logging.Int64(logging.FieldJobID, req.JobID),
		logging.Float64("speed", req.Params.SpeedFactor),
		logging.String("filters", strings.Join(filters, ",")),
	)
	return stage.Result{
		ArtifactRef: output,
		Message:     fmt.Sprintf("rendered %d filters at %.2fx", len(filters), req.Params.SpeedFactor),
	}, nil
}

// BuildFilterChain converts params into an ordered ffmpeg -af chain:
// speed, then pitch shift, then reverb.
func BuildFilterChain(params stage.Params) ([]string, error) {
	if params.SampleRate <= 0 {
		return nil, services.Wrap(services.ErrValidation, "transform", "filters", "sample rate must be positive", nil)
	}

	var filters []string
	if params.SpeedFactor != 0 && params.SpeedFactor != 1 {
		if params.SpeedFactor < minSpeedFactor || params.SpeedFactor > maxSpeedFactor {
			return nil, services.Wrap(services.ErrValidation, "transform", "filters",
				fmt.Sprintf("speed factor %.2f outside [%.2f, %.2f]", params.SpeedFactor, minSpeedFactor, maxSpeedFactor), nil)
		}
		if params.PreservePitch {
			filters = append(filters, atempoChain(params.SpeedFactor)...)
		} else {
			// Resampling slows tempo and pitch together, the tape-speed sound.
			filters = append(filters,
				fmt.Sprintf("asetrate=%d", int(float64(params.SampleRate)*params.SpeedFactor)),
				fmt.Sprintf("aresample=%d", params.SampleRate),
			)
		}
	}

	if params.PitchEnabled && params.PitchSemitones != 0 {
		if params.PitchSemitones < -12 || params.PitchSemitones > 12 {
			return nil, services.Wrap(services.ErrValidation, "transform", "filters",
				fmt.Sprintf("pitch shift %.1f semitones outside [-12, 12]", params.PitchSemitones), nil)
		}
		ratio := math.Pow(2, params.PitchSemitones/12)
		filters = append(filters,
			fmt.Sprintf("asetrate=%d", int(float64(params.SampleRate)*ratio)),
			fmt.Sprintf("aresample=%d", params.SampleRate),
		)
		// Resampling changed the tempo too; compensate to keep duration.
		filters = append(filters, atempoChain(1/ratio)...)
	}

	if params.ReverbEnabled {
		room := clamp(params.ReverbRoomSize, 0, 1)
		wet := clamp(params.ReverbWetLevel, 0, 1)
		filters = append(filters, reverbFilter(room, wet))
	}

	return filters, nil
}

// atempoChain decomposes a tempo factor into atempo filters within the
// supported range. Factors below 0.5 multiply out across several filters.
func atempoChain(factor float64) []string {
	var chain []string
	for factor < atempoMin {
		chain = append(chain, "atempo="+formatFactor(atempoMin))
		factor /= atempoMin
	}
	chain = append(chain, "atempo="+formatFactor(factor))
	return chain
}

// reverbFilter approximates a room reverb with a two-tap echo. Room size
// scales the tap delays; wet level sets the tap decays.
func reverbFilter(room, wet float64) string {
	primary := 100 + room*900
	secondary := primary * 0.6
	return fmt.Sprintf("aecho=0.8:0.88:%s|%s:%s|%s",
		formatFactor(secondary), formatFactor(primary),
		formatFactor(wet), formatFactor(wet*0.6))
}

func formatFactor(value float64) string {
	return strconv.FormatFloat(math.Round(value*1000)/1000, 'f', -1, 64)
}

func clamp(value, low, high float64) float64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

var _ stage.Handler = (*Handler)(nil)
