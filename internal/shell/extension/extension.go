// Package extension installs the optional memory plugin connector after a
// successful deployment. Installation is strictly best-effort: the platform
// is fully usable without it, so every failure here is a warning, never a
// run failure.
package extension

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/glaciereq/memstack/internal/shell/runlog"
)

// DefaultCommand is the plugin connector install invocation.
func DefaultCommand() []string {
	return []string{"npx", "-y", "memstack-memoryplugin", "install"}
}

// =============================================================================
// Installer
// =============================================================================

// Installer runs the plugin install command.
type Installer struct {
	command  []string
	timeout  time.Duration
	recorder runlog.Recorder
	logger   *slog.Logger
}

// New creates an installer. An empty command disables installation.
func New(command []string, recorder runlog.Recorder, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{
		command:  command,
		timeout:  2 * time.Minute,
		recorder: recorder,
		logger:   logger.With("component", "extension"),
	}
}

// Install runs the install command and reports whether it succeeded. All
// failure modes degrade to a warning.
func (i *Installer) Install(ctx context.Context) bool {
	if len(i.command) == 0 {
		i.logger.Debug("plugin install disabled")
		return false
	}

	i.recorder.Infof("installing memory plugin connector")

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, i.command[0], i.command[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(out))
		if detail == "" {
			detail = err.Error()
		}
		i.recorder.Warningf("memory plugin install failed (platform unaffected): %s", firstLine(detail))
		i.logger.Warn("plugin install failed", "error", err, "output", detail)
		return false
	}

	i.recorder.Successf("memory plugin connector installed")
	return true
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
