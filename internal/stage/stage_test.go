package stage_test

import (
	"testing"

	"slowjams/internal/stage"
)

func TestParseKind(t *testing.T) {
	kind, ok := stage.ParseKind(" Transform ")
	if !ok || kind != stage.KindTransform {
		t.Fatalf("ParseKind = %q, %v", kind, ok)
	}
	if _, ok := stage.ParseKind("remix"); ok {
		t.Fatal("unknown kind should not parse")
	}
}

func TestValidatePlan(t *testing.T) {
	valid := [][]stage.Kind{
		{stage.KindAcquire, stage.KindConvert, stage.KindFinalize},
		{stage.KindAcquire, stage.KindConvert, stage.KindTransform, stage.KindEdit, stage.KindFinalize},
		{stage.KindConvert},
	}
	for _, plan := range valid {
		if err := stage.ValidatePlan(plan); err != nil {
			t.Fatalf("ValidatePlan(%v): %v", plan, err)
		}
	}

	if err := stage.ValidatePlan(nil); err == nil {
		t.Fatal("empty plan should be rejected")
	}
	if err := stage.ValidatePlan([]stage.Kind{stage.KindAcquire, stage.KindAcquire}); err == nil {
		t.Fatal("duplicate stages should be rejected")
	}
	if err := stage.ValidatePlan([]stage.Kind{"remix"}); err == nil {
		t.Fatal("unknown stage should be rejected")
	}
}

func TestPresets(t *testing.T) {
	base, ok := stage.Preset("")
	if !ok || base.SpeedFactor != 0.8 || !base.ReverbEnabled {
		t.Fatalf("default preset = %+v, ok=%v", base, ok)
	}

	chopped, ok := stage.Preset("chopped")
	if !ok || chopped.SpeedFactor != 0.7 {
		t.Fatalf("chopped preset = %+v", chopped)
	}

	vapor, ok := stage.Preset("Vaporwave")
	if !ok || !vapor.PitchEnabled || vapor.PitchSemitones != -2 {
		t.Fatalf("vaporwave preset = %+v", vapor)
	}

	if _, ok := stage.Preset("nope"); ok {
		t.Fatal("unknown preset should report false")
	}
}

func TestKindLabel(t *testing.T) {
	if got := stage.KindAcquire.Label(); got != "Acquire" {
		t.Fatalf("Label = %q", got)
	}
}
