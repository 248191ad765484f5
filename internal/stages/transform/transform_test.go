package transform

import (
	"errors"
	"strings"
	"testing"

	"slowjams/internal/services"
	"slowjams/internal/stage"
)

func TestBuildFilterChainDefaults(t *testing.T) {
	filters, err := BuildFilterChain(stage.DefaultParams())
	if err != nil {
		t.Fatalf("BuildFilterChain: %v", err)
	}
	if len(filters) != 2 {
		t.Fatalf("filters = %v", filters)
	}
	if filters[0] != "atempo=0.8" {
		t.Fatalf("speed filter = %q", filters[0])
	}
	if !strings.HasPrefix(filters[1], "aecho=0.8:0.88:") {
		t.Fatalf("reverb filter = %q", filters[1])
	}
}

func TestBuildFilterChainTapeSpeed(t *testing.T) {
	params := stage.DefaultParams()
	params.PreservePitch = false
	params.ReverbEnabled = false

	filters, err := BuildFilterChain(params)
	if err != nil {
		t.Fatalf("BuildFilterChain: %v", err)
	}
	if len(filters) != 2 || filters[0] != "asetrate=35280" || filters[1] != "aresample=44100" {
		t.Fatalf("filters = %v", filters)
	}
}

func TestBuildFilterChainChainsSlowTempo(t *testing.T) {
	params := stage.DefaultParams()
	params.SpeedFactor = 0.3
	params.ReverbEnabled = false

	filters, err := BuildFilterChain(params)
	if err != nil {
		t.Fatalf("BuildFilterChain: %v", err)
	}
	if len(filters) != 2 || filters[0] != "atempo=0.5" || filters[1] != "atempo=0.6" {
		t.Fatalf("chained atempo = %v", filters)
	}
}

func TestBuildFilterChainPitchShift(t *testing.T) {
	params := stage.Params{SampleRate: 44100, SpeedFactor: 1, PitchEnabled: true, PitchSemitones: -2}
	filters, err := BuildFilterChain(params)
	if err != nil {
		t.Fatalf("BuildFilterChain: %v", err)
	}
	if len(filters) < 3 {
		t.Fatalf("pitch shift needs asetrate+aresample+atempo, got %v", filters)
	}
	if !strings.HasPrefix(filters[0], "asetrate=") || filters[1] != "aresample=44100" {
		t.Fatalf("filters = %v", filters)
	}
	if !strings.HasPrefix(filters[2], "atempo=1.") {
		t.Fatalf("downward pitch needs tempo compensation > 1, got %v", filters)
	}
}

func TestBuildFilterChainNoEffects(t *testing.T) {
	params := stage.Params{SampleRate: 44100, SpeedFactor: 1}
	filters, err := BuildFilterChain(params)
	if err != nil {
		t.Fatalf("BuildFilterChain: %v", err)
	}
	if len(filters) != 0 {
		t.Fatalf("identity params must produce no filters, got %v", filters)
	}
}

func TestBuildFilterChainValidation(t *testing.T) {
	params := stage.DefaultParams()
	params.SpeedFactor = 0.1
	if _, err := BuildFilterChain(params); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("absurd speed must fail validation, got %v", err)
	}

	params = stage.DefaultParams()
	params.PitchEnabled = true
	params.PitchSemitones = 30
	if _, err := BuildFilterChain(params); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("absurd pitch must fail validation, got %v", err)
	}

	params = stage.DefaultParams()
	params.SampleRate = 0
	if _, err := BuildFilterChain(params); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("zero sample rate must fail validation, got %v", err)
	}
}

func TestReverbFilterScalesWithRoom(t *testing.T) {
	small := reverbFilter(0.1, 0.3)
	large := reverbFilter(0.9, 0.3)
	if small == large {
		t.Fatal("room size must change the echo delays")
	}
	if !strings.Contains(large, "910") {
		t.Fatalf("room 0.9 primary delay = %q", large)
	}
}
