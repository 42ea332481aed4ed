package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrToolUnavailable is returned by CheckTool when a binary is missing or
// does not answer -version.
var ErrToolUnavailable = errors.New("media tool unavailable")

const versionTimeout = 10 * time.Second

// CheckTool resolves path and runs it with -version, returning the first
// line of output, e.g. "ffmpeg version 6.1.1 ...".
func CheckTool(ctx context.Context, path string) (string, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrToolUnavailable, path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	// #nosec G204 - path comes from configuration, not user input
	cmd := exec.CommandContext(ctx, resolved, "-version")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s -version: %w", ErrToolUnavailable, path, err)
	}

	line, _, _ := strings.Cut(stdout.String(), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%w: %s -version printed nothing", ErrToolUnavailable, path)
	}
	return line, nil
}
