package config

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// GitRevision reads the checked-out branch of the working tree at Dir.
type GitRevision struct {
	Dir string

	// Command defaults to "git".
	Command string
}

var _ engine.RevisionSource = (*GitRevision)(nil)

// CurrentRevision implements engine.RevisionSource.
func (g *GitRevision) CurrentRevision(ctx context.Context) (string, error) {
	bin := g.Command
	if bin == "" {
		bin = "git"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = g.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	rev := strings.TrimSpace(stdout.String())
	// Detached checkouts have no symbolic ref.
	if rev == "" || rev == "HEAD" {
		return "", fmt.Errorf("no branch checked out in %s", g.Dir)
	}
	return rev, nil
}
