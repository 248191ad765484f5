package edit_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"slowjams/internal/services"
	"slowjams/internal/services/ffmpeg"
	"slowjams/internal/stage"
	"slowjams/internal/stages/edit"
	"slowjams/internal/testsupport"
)

type fakeClient struct {
	probeInfo   ffmpeg.Info
	lastRequest ffmpeg.Request
	calls       int
}

func (f *fakeClient) Probe(ctx context.Context, path string) (ffmpeg.Info, error) {
	return f.probeInfo, nil
}

func (f *fakeClient) Transcode(ctx context.Context, req ffmpeg.Request, progress func(float64)) error {
	f.calls++
	f.lastRequest = req
	return os.WriteFile(req.Output, []byte("wav"), 0o644)
}

func TestExecutePassThroughWhenNoEditsRequested(t *testing.T) {
	client := &fakeClient{}
	handler := edit.New(client, testsupport.Logger(t))

	params := stage.DefaultParams()
	params.Normalize = false
	result, err := handler.Execute(context.Background(), stage.Request{
		JobID:       1,
		ArtifactRef: "convert.wav",
		WorkDir:     t.TempDir(),
		Params:      params,
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ArtifactRef != "convert.wav" || client.calls != 0 {
		t.Fatalf("pass-through expected, got %+v calls=%d", result, client.calls)
	}
}

func TestExecuteTrimAndNormalize(t *testing.T) {
	client := &fakeClient{probeInfo: ffmpeg.Info{DurationSec: 200}}
	handler := edit.New(client, testsupport.Logger(t))

	params := stage.DefaultParams()
	params.TrimStart = 5
	params.TrimEnd = 65
	result, err := handler.Execute(context.Background(), stage.Request{
		JobID:       1,
		ArtifactRef: "convert.wav",
		WorkDir:     t.TempDir(),
		Params:      params,
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if client.lastRequest.StartSec != 5 || client.lastRequest.EndSec != 65 {
		t.Fatalf("trim request = %+v", client.lastRequest)
	}
	if len(client.lastRequest.Filters) != 1 || !strings.HasPrefix(client.lastRequest.Filters[0], "loudnorm=") {
		t.Fatalf("filters = %v", client.lastRequest.Filters)
	}
	if client.lastRequest.DurationHint != 60 {
		t.Fatalf("hint = %v", client.lastRequest.DurationHint)
	}
	if !strings.Contains(result.Message, "trim") || !strings.Contains(result.Message, "loudnorm") {
		t.Fatalf("message = %q", result.Message)
	}
}

func TestExecuteRejectsInvertedTrimRange(t *testing.T) {
	handler := edit.New(&fakeClient{}, testsupport.Logger(t))
	params := stage.DefaultParams()
	params.TrimStart = 60
	params.TrimEnd = 10

	_, err := handler.Execute(context.Background(), stage.Request{
		JobID:       1,
		ArtifactRef: "convert.wav",
		WorkDir:     t.TempDir(),
		Params:      params,
	}, nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
}

func TestExecuteRejectsTrimBeyondClipEnd(t *testing.T) {
	client := &fakeClient{probeInfo: ffmpeg.Info{DurationSec: 30}}
	handler := edit.New(client, testsupport.Logger(t))
	params := stage.DefaultParams()
	params.TrimStart = 45

	_, err := handler.Execute(context.Background(), stage.Request{
		JobID:       1,
		ArtifactRef: "convert.wav",
		WorkDir:     t.TempDir(),
		Params:      params,
	}, nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
}
