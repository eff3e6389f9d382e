package ffprobe

import (
	"context"
	"math"
	"testing"

	"audibridge/internal/media/proc"
)

const sampleJSON = `{
  "streams": [{"index": 0, "codec_name": "aac", "codec_type": "audio", "bit_rate": "125588"}],
  "chapters": [
    {"id": 0, "start_time": "0.000000", "end_time": "12.500000", "tags": {"title": "Opening Credits"}},
    {"id": 1, "start_time": "12.500000", "end_time": "30.000000", "tags": {"title": "Chapter 1"}}
  ],
  "format": {"duration": "30.000000", "bit_rate": "128000", "tags": {"Title": "Sample", "artist": "A. Author"}}
}`

type stubRunner struct {
	res  proc.Result
	err  error
	args []string
}

func (s *stubRunner) Run(_ context.Context, cmd proc.Command) (proc.Result, error) {
	s.args = cmd.Args
	return s.res, s.err
}

func TestInspectParsesChapters(t *testing.T) {
	runner := &stubRunner{res: proc.Result{Stdout: []byte(sampleJSON)}}
	result, err := Inspect(context.Background(), runner, "", "/tmp/book.m4b")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if got := runner.args[len(runner.args)-1]; got != "/tmp/book.m4b" {
		t.Fatalf("expected path as last argument, got %q", got)
	}
	if len(result.Chapters) != 2 {
		t.Fatalf("expected 2 chapters, got %d", len(result.Chapters))
	}
	if result.Chapters[1].Start() != 12.5 || result.Chapters[1].Title() != "Chapter 1" {
		t.Fatalf("unexpected chapter: %+v", result.Chapters[1])
	}
	if result.Tag("title") != "Sample" {
		t.Fatalf("expected case-insensitive tag lookup, got %q", result.Tag("title"))
	}
	stream, ok := result.AudioStream()
	if !ok || stream.CodecName != "aac" || stream.StreamBitRate() != 125588 {
		t.Fatalf("unexpected audio stream: %+v", stream)
	}
	if result.BitRate() != 128000 {
		t.Fatalf("unexpected bitrate: %d", result.BitRate())
	}
}

func TestInspectNonZeroExit(t *testing.T) {
	runner := &stubRunner{res: proc.Result{ExitCode: 1, Stderr: []byte("x: Invalid data found\n")}}
	if _, err := Inspect(context.Background(), runner, "ffprobe", "/tmp/x"); err == nil {
		t.Fatal("expected error for non-zero exit")
	}
}

func TestResultHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{Format: Format{Duration: "bad", BitRate: "nope"}}
	if !math.IsNaN(result.DurationSeconds()) {
		t.Fatalf("expected duration NaN, got %v", result.DurationSeconds())
	}
	if result.BitRate() != 0 {
		t.Fatalf("expected bitrate 0, got %d", result.BitRate())
	}
	if !math.IsNaN((Chapter{StartTime: ""}).Start()) {
		t.Fatal("expected NaN for missing chapter start")
	}
}
