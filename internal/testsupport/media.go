package testsupport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"audibridge/internal/audible"
	"audibridge/internal/media/proc"
)

// ProbeJSON is ffprobe output for a three chapter, 90 second AAC file.
const ProbeJSON = `{
  "streams": [{"index": 0, "codec_name": "aac", "codec_type": "audio", "bit_rate": "125588", "sample_rate": "44100", "channels": 2}],
  "chapters": [
    {"id": 0, "start_time": "0.000000", "end_time": "30.000000", "tags": {"title": "Opening Credits"}},
    {"id": 1, "start_time": "30.000000", "end_time": "60.500000", "tags": {"title": "Chapter 1"}},
    {"id": 2, "start_time": "60.500000", "end_time": "90.000000", "tags": {"title": "End Credits"}}
  ],
  "format": {"duration": "90.000000", "bit_rate": "128000", "tags": {"title": "A Sample Book", "artist": "Jane Author, John Writer", "date": "2017-06-20"}}
}`

// FakeMedia stands in for ffmpeg and ffprobe. ffmpeg writes a small file to
// its output argument; ffprobe answers with Probe.
type FakeMedia struct {
	mu sync.Mutex

	Probe        string
	FFmpegExit   int
	FFmpegStderr string
	ProbeExit    int
	// BlockFFmpeg makes ffmpeg wait for cancellation; Started is closed once
	// it is waiting.
	BlockFFmpeg bool
	Started     chan struct{}

	calls []proc.Command
}

// NewFakeMedia returns a FakeMedia answering with ProbeJSON.
func NewFakeMedia() *FakeMedia {
	return &FakeMedia{Probe: ProbeJSON, Started: make(chan struct{})}
}

// Run implements proc.Runner.
func (f *FakeMedia) Run(ctx context.Context, cmd proc.Command) (proc.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	switch filepath.Base(cmd.Binary) {
	case "ffmpeg":
		if f.BlockFFmpeg {
			close(f.Started)
			<-ctx.Done()
			return proc.Result{ExitCode: -1}, ctx.Err()
		}
		if f.FFmpegExit != 0 {
			return proc.Result{ExitCode: f.FFmpegExit, Stderr: []byte(f.FFmpegStderr)}, nil
		}
		output := cmd.Args[len(cmd.Args)-1]
		if err := os.WriteFile(output, []byte("decrypted m4b payload"), 0o644); err != nil {
			return proc.Result{}, err
		}
		return proc.Result{}, nil
	case "ffprobe":
		if f.ProbeExit != 0 {
			return proc.Result{ExitCode: f.ProbeExit, Stderr: []byte("Invalid data found")}, nil
		}
		return proc.Result{Stdout: []byte(f.Probe)}, nil
	default:
		return proc.Result{ExitCode: 127, Stderr: []byte(cmd.Binary + ": not found")}, nil
	}
}

// Calls returns the commands run so far.
func (f *FakeMedia) Calls() []proc.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]proc.Command(nil), f.calls...)
}

// FFmpegArgs returns the arguments of the first ffmpeg invocation.
func (f *FakeMedia) FFmpegArgs() []string {
	for _, c := range f.Calls() {
		if filepath.Base(c.Binary) == "ffmpeg" {
			return c.Args
		}
	}
	return nil
}

// Fixed values returned by FakeDeriver.
const (
	FakeActivationBytes = "1ceb00da"
	FakeVoucherKey      = "0123456789abcdef0123456789abcdef"
	FakeVoucherIV       = "fedcba9876543210fedcba9876543210"
)

// FakeDeriver is an audible.KeyDeriver with fixed answers.
type FakeDeriver struct {
	Err error
}

// ActivationBytes implements audible.KeyDeriver.
func (d FakeDeriver) ActivationBytes(_ context.Context, material []byte) (string, error) {
	if d.Err != nil {
		return "", d.Err
	}
	if len(material) == 0 {
		return "", fmt.Errorf("empty registration material")
	}
	return FakeActivationBytes, nil
}

// Voucher implements audible.KeyDeriver.
func (d FakeDeriver) Voucher(_ context.Context, req audible.VoucherRequest) (audible.VoucherKey, error) {
	if d.Err != nil {
		return audible.VoucherKey{}, d.Err
	}
	if !strings.HasPrefix(string(req.Voucher), "voucher:") {
		return audible.VoucherKey{}, fmt.Errorf("unexpected voucher %q", req.Voucher)
	}
	return audible.VoucherKey{Key: FakeVoucherKey, IV: FakeVoucherIV}, nil
}
