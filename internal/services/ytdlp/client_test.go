package ytdlp

import (
	"errors"
	"testing"
)

func TestParseProgressLine(t *testing.T) {
	cases := []struct {
		line    string
		percent float64
		ok      bool
	}{
		{"[download]  42.5% of 3.52MiB at 1.20MiB/s ETA 00:02", 42.5, true},
		{"[download] 100% of 3.52MiB in 00:03", 100, true},
		{"[download] Destination: /tmp/song.webm", 0, false},
		{"[ExtractAudio] Destination: /tmp/song.mp3", 0, false},
		{"random noise", 0, false},
	}
	for _, tc := range cases {
		update, ok := ParseProgressLine(tc.line)
		if ok != tc.ok {
			t.Fatalf("%q: ok = %v, want %v", tc.line, ok, tc.ok)
		}
		if ok && update.Percent != tc.percent {
			t.Fatalf("%q: percent = %v, want %v", tc.line, update.Percent, tc.percent)
		}
	}
}

func TestUnavailable(t *testing.T) {
	if !Unavailable(errors.New("yt-dlp failed: exit status 1: ERROR: Video unavailable")) {
		t.Fatal("unavailable source should be recognized")
	}
	if !Unavailable(errors.New("ERROR: 'not-a-url' is not a valid URL")) {
		t.Fatal("invalid URL should be recognized")
	}
	if Unavailable(errors.New("yt-dlp failed: exit status 1: ERROR: unable to download webpage: timed out")) {
		t.Fatal("network timeout must stay retryable")
	}
	if Unavailable(nil) {
		t.Fatal("nil error is not unavailable")
	}
}
