package convert_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"slowjams/internal/services"
	"slowjams/internal/services/ffmpeg"
	"slowjams/internal/stage"
	"slowjams/internal/stages/convert"
	"slowjams/internal/testsupport"
)

type fakeClient struct {
	probeInfo    ffmpeg.Info
	probeErr     error
	transcodeErr error
	lastRequest  ffmpeg.Request
}

func (f *fakeClient) Probe(ctx context.Context, path string) (ffmpeg.Info, error) {
	return f.probeInfo, f.probeErr
}

func (f *fakeClient) Transcode(ctx context.Context, req ffmpeg.Request, progress func(float64)) error {
	f.lastRequest = req
	if f.transcodeErr != nil {
		return f.transcodeErr
	}
	if progress != nil {
		progress(100)
	}
	return os.WriteFile(req.Output, []byte("wav"), 0o644)
}

func TestExecuteDecodesToCanonicalWAV(t *testing.T) {
	client := &fakeClient{probeInfo: ffmpeg.Info{DurationSec: 180, Format: "webm"}}
	handler := convert.New(client, testsupport.Logger(t))
	workDir := t.TempDir()

	var lastPercent float64
	result, err := handler.Execute(context.Background(), stage.Request{
		JobID:       1,
		ArtifactRef: filepath.Join(workDir, "source", "song.webm"),
		WorkDir:     workDir,
		Params:      stage.DefaultParams(),
	}, func(percent float64, _ string) { lastPercent = percent })
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ArtifactRef != filepath.Join(workDir, "convert.wav") {
		t.Fatalf("artifact = %q", result.ArtifactRef)
	}
	if client.lastRequest.Codec != "pcm_s16le" || client.lastRequest.SampleRate != 44100 || client.lastRequest.Channels != 2 {
		t.Fatalf("request = %+v", client.lastRequest)
	}
	if client.lastRequest.DurationHint != 180 {
		t.Fatalf("duration hint = %v", client.lastRequest.DurationHint)
	}
	if lastPercent != 100 {
		t.Fatalf("progress = %v", lastPercent)
	}
}

func TestExecuteProbeFailureIsRetryable(t *testing.T) {
	client := &fakeClient{probeErr: errors.New("invalid data found")}
	handler := convert.New(client, testsupport.Logger(t))

	_, err := handler.Execute(context.Background(), stage.Request{
		JobID:       1,
		ArtifactRef: "broken.webm",
		WorkDir:     t.TempDir(),
		Params:      stage.DefaultParams(),
	}, nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("err = %v", err)
	}
	if !services.IsRetryable(err) {
		t.Fatal("probe failure must stay retryable")
	}
}

func TestExecutePropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &fakeClient{probeErr: ctx.Err()}
	handler := convert.New(client, testsupport.Logger(t))

	_, err := handler.Execute(ctx, stage.Request{
		JobID:       1,
		ArtifactRef: "song.webm",
		WorkDir:     t.TempDir(),
		Params:      stage.DefaultParams(),
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
