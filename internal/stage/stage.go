// Package stage defines the contract between the pipeline orchestrator and
// the stage adapters that do the actual acquisition, conversion, and audio
// transformation work.
package stage

import (
	"context"
	"fmt"
	"strings"
)

// Kind identifies one discrete transformation a job passes through.
type Kind string

const (
	KindAcquire   Kind = "acquire"
	KindConvert   Kind = "convert"
	KindEdit      Kind = "edit"
	KindTransform Kind = "transform"
	KindFinalize  Kind = "finalize"
)

var knownKinds = map[Kind]struct{}{
	KindAcquire:   {},
	KindConvert:   {},
	KindEdit:      {},
	KindTransform: {},
	KindFinalize:  {},
}

// Kinds returns every stage kind in canonical presentation order.
func Kinds() []Kind {
	return []Kind{KindAcquire, KindConvert, KindEdit, KindTransform, KindFinalize}
}

// ParseKind converts a string into a known Kind.
func ParseKind(value string) (Kind, bool) {
	kind := Kind(strings.ToLower(strings.TrimSpace(value)))
	_, ok := knownKinds[kind]
	return kind, ok
}

// ValidatePlan checks a caller-supplied stage plan: non-empty, known kinds,
// no duplicates. Order is preserved verbatim; the orchestrator never reorders
// a plan, including the relative order of edit and transform.
func ValidatePlan(plan []Kind) error {
	if len(plan) == 0 {
		return fmt.Errorf("stage plan is empty")
	}
	seen := make(map[Kind]struct{}, len(plan))
	for _, kind := range plan {
		if _, ok := knownKinds[kind]; !ok {
			return fmt.Errorf("unknown stage kind %q", kind)
		}
		if _, dup := seen[kind]; dup {
			return fmt.Errorf("duplicate stage kind %q", kind)
		}
		seen[kind] = struct{}{}
	}
	return nil
}

// Label returns the stage kind as a display label.
func (k Kind) Label() string {
	if k == "" {
		return ""
	}
	runes := []rune(string(k))
	return strings.ToUpper(string(runes[0])) + string(runes[1:])
}

// Request is the read-only view of a job handed to a stage handler. Handlers
// never mutate job records; the orchestrator is the sole writer.
type Request struct {
	JobID       int64
	SourceRef   string
	ArtifactRef string
	WorkDir     string
	Params      Params
}

// Result is the value a stage returns on success.
type Result struct {
	ArtifactRef string
	Message     string
}

// ProgressFunc is the side channel for progress updates during execution.
// percent is in [0, 100]; implementations must tolerate a nil func.
type ProgressFunc func(percent float64, message string)

// Handler is the uniform asynchronous contract each stage adapter satisfies.
// Execute must honor ctx cancellation promptly and classify failures with
// the services error markers.
type Handler interface {
	Kind() Kind
	Execute(ctx context.Context, req Request, progress ProgressFunc) (Result, error)
}

// HandlerSet maps stage kinds to their handlers.
type HandlerSet map[Kind]Handler

// Params is the immutable configuration snapshot captured at submission so
// concurrent settings edits never alter an in-flight job.
type Params struct {
	OutputFormat  string  `json:"output_format"`
	OutputBitrate string  `json:"output_bitrate"`
	SampleRate    int     `json:"sample_rate"`
	Channels      int     `json:"channels"`
	Normalize     bool    `json:"normalize"`
	TrimStart     float64 `json:"trim_start,omitempty"`
	TrimEnd       float64 `json:"trim_end,omitempty"`

	SpeedFactor    float64 `json:"speed_factor"`
	PreservePitch  bool    `json:"preserve_pitch"`
	ReverbEnabled  bool    `json:"reverb_enabled"`
	ReverbRoomSize float64 `json:"reverb_room_size"`
	ReverbWetLevel float64 `json:"reverb_wet_level"`
	PitchEnabled   bool    `json:"pitch_enabled"`
	PitchSemitones float64 `json:"pitch_semitones"`
}

// DefaultParams mirrors the classic slowed-and-reverb preset.
func DefaultParams() Params {
	return Params{
		OutputFormat:   "mp3",
		OutputBitrate:  "320k",
		SampleRate:     44100,
		Channels:       2,
		Normalize:      true,
		SpeedFactor:    0.8,
		PreservePitch:  true,
		ReverbEnabled:  true,
		ReverbRoomSize: 0.5,
		ReverbWetLevel: 0.3,
	}
}

// Preset returns a named parameter preset, falling back to DefaultParams.
func Preset(name string) (Params, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "slowjam":
		return DefaultParams(), true
	case "chopped":
		p := DefaultParams()
		p.SpeedFactor = 0.7
		p.ReverbRoomSize = 0.7
		p.ReverbWetLevel = 0.4
		return p, true
	case "vaporwave":
		p := DefaultParams()
		p.SpeedFactor = 0.85
		p.PreservePitch = false
		p.PitchEnabled = true
		p.PitchSemitones = -2
		return p, true
	default:
		return DefaultParams(), false
	}
}
