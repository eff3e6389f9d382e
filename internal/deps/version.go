package deps

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"audibridge/internal/media/proc"
)

const versionProbeTimeout = 5 * time.Second

// ProbeVersions runs each available binary that has VersionArgs and records
// the first line of its output. A probe failure marks the dependency
// unavailable because a binary that cannot report its version will not
// transcode either.
func ProbeVersions(ctx context.Context, runner proc.Runner, requirements []Requirement, statuses []Status) []Status {
	if runner == nil {
		return statuses
	}
	out := append([]Status(nil), statuses...)
	for i := range out {
		if i >= len(requirements) || len(requirements[i].VersionArgs) == 0 || !out[i].Available {
			continue
		}
		version, err := probeVersion(ctx, runner, out[i].Path, requirements[i].VersionArgs)
		if err != nil {
			out[i].Available = false
			out[i].Detail = err.Error()
			continue
		}
		out[i].Version = version
	}
	return out
}

func probeVersion(ctx context.Context, runner proc.Runner, binary string, args []string) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	res, err := runner.Run(probeCtx, proc.Command{Binary: binary, Args: args})
	if err != nil {
		return "", fmt.Errorf("version probe failed: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("version probe exited with status %d", res.ExitCode)
	}
	output := res.Stdout
	if len(bytes.TrimSpace(output)) == 0 {
		output = res.Stderr
	}
	line, _, _ := bytes.Cut(bytes.TrimSpace(output), []byte("\n"))
	return string(bytes.TrimSpace(line)), nil
}
