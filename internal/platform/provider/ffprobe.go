package provider

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Prober reads media metadata from an artifact location
type Prober interface {
	Probe(ctx context.Context, target string) (float64, error)
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// FFProbe shells out to ffprobe for the container duration
type FFProbe struct {
	path string
	run  commandRunner
}

func NewFFProbe(path string) *FFProbe {
	if path == "" {
		path = "ffprobe"
	}
	return &FFProbe{path: path, run: runCommand}
}

// Probe returns the duration of target in seconds
func (p *FFProbe) Probe(ctx context.Context, target string) (float64, error) {
	out, err := p.run(ctx, p.path,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		target,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", target, err)
	}

	raw := strings.TrimSpace(string(out))
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned unparsable duration %q: %w", raw, err)
	}
	return duration, nil
}
