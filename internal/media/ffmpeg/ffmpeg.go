// Package ffmpeg decrypts vendor containers into chaptered .m4b files by
// driving the ffmpeg CLI through a proc.Runner.
package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"audibridge/internal/logging"
	"audibridge/internal/media/proc"
	"audibridge/internal/services"
)

var (
	activationBytesPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)
	keyPattern             = regexp.MustCompile(`^[0-9a-f]{32}$`)
)

// DecryptParams carries exactly one decryption scheme: activation bytes for
// AAX, or a key/IV pair for AAXC.
type DecryptParams struct {
	ActivationBytes string
	Key             string
	IV              string
}

func (p DecryptParams) args() ([]string, error) {
	switch {
	case p.ActivationBytes != "" && (p.Key != "" || p.IV != ""):
		return nil, fmt.Errorf("activation bytes and key/iv are mutually exclusive")
	case p.ActivationBytes != "":
		if !activationBytesPattern.MatchString(p.ActivationBytes) {
			return nil, fmt.Errorf("activation bytes must be 8 lowercase hex characters")
		}
		return []string{"-activation_bytes", p.ActivationBytes}, nil
	case p.Key != "" || p.IV != "":
		key, iv := strings.ToLower(p.Key), strings.ToLower(p.IV)
		if !keyPattern.MatchString(key) || !keyPattern.MatchString(iv) {
			return nil, fmt.Errorf("audible key and iv must be 32 hex characters each")
		}
		return []string{"-audible_key", key, "-audible_iv", iv}, nil
	default:
		return nil, fmt.Errorf("no decryption parameters supplied")
	}
}

// Transcoder wraps the ffmpeg binary.
type Transcoder struct {
	runner proc.Runner
	binary string
	logger *slog.Logger
}

// New builds a Transcoder. An empty binary defaults to "ffmpeg".
func New(runner proc.Runner, binary string, logger *slog.Logger) *Transcoder {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if runner == nil {
		runner = proc.ExecRunner{}
	}
	return &Transcoder{runner: runner, binary: binary, logger: logging.NewComponentLogger(logger, "ffmpeg")}
}

// Args returns the ffmpeg argument list for a decrypt-and-remux run.
func Args(input, output string, params DecryptParams) ([]string, error) {
	decrypt, err := params.args()
	if err != nil {
		return nil, err
	}
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "error", "-y"}
	args = append(args, decrypt...)
	args = append(args,
		"-i", input,
		"-map_metadata", "0",
		"-map_chapters", "0",
		"-vn",
		"-c", "copy",
		output,
	)
	return args, nil
}

// Decrypt converts input into output. A non-zero exit is a TranscodeFailed
// error and is never retried.
func (t *Transcoder) Decrypt(ctx context.Context, input, output string, params DecryptParams) error {
	args, err := Args(input, output, params)
	if err != nil {
		return services.Wrap(services.ErrValidation, "ffmpeg", "decrypt", "invalid decryption parameters", err)
	}

	logging.WithContext(ctx, t.logger).Debug("ffmpeg decrypt starting",
		logging.String("input", input),
		logging.String("output", output),
	)
	res, err := t.runner.Run(ctx, proc.Command{Binary: t.binary, Args: args})
	if err != nil {
		return services.Wrap(services.ErrTranscodeFailed, "ffmpeg", "decrypt", "process did not complete", err)
	}
	if res.ExitCode != 0 {
		return services.Wrap(services.ErrTranscodeFailed, "ffmpeg", "decrypt",
			fmt.Sprintf("exit status %d: %s", res.ExitCode, proc.LastLine(res.Stderr)), nil)
	}
	info, err := os.Stat(output)
	if err != nil {
		return services.Wrap(services.ErrTranscodeFailed, "ffmpeg", "decrypt", "output missing", err)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrTranscodeFailed, "ffmpeg", "decrypt", "output is empty", nil)
	}
	return nil
}
