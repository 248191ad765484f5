package ffmpeg

import (
	"strings"
	"testing"
)

func TestBuildArgsMinimal(t *testing.T) {
	args, err := BuildArgs(Request{Input: "in.webm", Output: "out.wav"})
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-i in.webm") || !strings.HasSuffix(joined, "out.wav") {
		t.Fatalf("args = %v", args)
	}
	if strings.Contains(joined, "-af") || strings.Contains(joined, "-ss") {
		t.Fatalf("minimal request must not emit filters or trims: %v", args)
	}
}

func TestBuildArgsFullRequest(t *testing.T) {
	args, err := BuildArgs(Request{
		Input:      "in.wav",
		Output:     "out.mp3",
		StartSec:   1.5,
		EndSec:     10,
		Filters:    []string{"atempo=0.8", "aecho=0.8:0.9:500:0.3"},
		Codec:      "libmp3lame",
		Bitrate:    "320k",
		SampleRate: 44100,
		Channels:   2,
	})
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-ss 1.500",
		"-to 10.000",
		"-af atempo=0.8,aecho=0.8:0.9:500:0.3",
		"-c:a libmp3lame",
		"-b:a 320k",
		"-ar 44100",
		"-ac 2",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args missing %q: %v", want, args)
		}
	}
	// Trims are input options so seeking stays fast.
	if strings.Index(joined, "-ss") > strings.Index(joined, "-i ") {
		t.Fatalf("-ss must precede -i: %v", args)
	}
}

func TestBuildArgsRejectsMissingPaths(t *testing.T) {
	if _, err := BuildArgs(Request{Output: "out.wav"}); err == nil {
		t.Fatal("missing input must error")
	}
	if _, err := BuildArgs(Request{Input: "in.wav"}); err == nil {
		t.Fatal("missing output must error")
	}
}

func TestParseProgressLine(t *testing.T) {
	percent, ok := parseProgressLine("out_time_ms=30000000", 60)
	if !ok || percent != 50 {
		t.Fatalf("percent = %v ok = %v", percent, ok)
	}
	if percent, _ := parseProgressLine("out_time_ms=90000000", 60); percent != 100 {
		t.Fatalf("percent should clamp at 100, got %v", percent)
	}
	if _, ok := parseProgressLine("frame=42", 60); ok {
		t.Fatal("non-progress keys must be ignored")
	}
	if _, ok := parseProgressLine("out_time_ms=30000000", 0); ok {
		t.Fatal("unknown duration disables percent computation")
	}
}
