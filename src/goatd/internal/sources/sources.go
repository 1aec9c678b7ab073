// Package sources implements the Source Manager: given a
// clone URL, materialise a workspace directory containing at minimum a
// PKGBUILD. It prefers a shallow clone and falls back to a full one.
package sources

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Manager acquires kernel source workspaces via git.
type Manager struct{}

// New returns a Manager.
func New() *Manager {
	return &Manager{}
}

// Clone attempts a shallow clone (depth 1) of url into dest, falling back
// to a full clone if the shallow attempt fails.
func (m *Manager) Clone(ctx context.Context, url, dest string) error {
	shallow := exec.CommandContext(ctx, "git", "clone", "--depth", "1", url, dest)
	if err := shallow.Run(); err == nil {
		return nil
	}
	os.RemoveAll(dest)

	full := exec.CommandContext(ctx, "git", "clone", url, dest)
	if err := full.Run(); err != nil {
		return fmt.Errorf("git clone %s: %w", url, err)
	}
	return nil
}
