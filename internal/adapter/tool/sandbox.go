package tool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"realmforge/internal/domain"
)

// Sandbox confines workspace tools to a root directory.
type Sandbox struct {
	root string // absolute, symlink-resolved
}

// NewSandbox creates a sandbox rooted at root, creating it if needed.
func NewSandbox(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for workspace root: %w", err)
	}
	return &Sandbox{root: resolved}, nil
}

// Resolve maps a workspace-relative path to an absolute path inside the root.
// Symlinks are resolved before the containment check.
func (s *Sandbox) Resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", domain.NewDomainError("Sandbox.Resolve", domain.ErrPathOutsideSandbox, rel)
	}
	abs := filepath.Join(s.root, rel)

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Not created yet: check the parent instead.
		parent, perr := filepath.EvalSymlinks(filepath.Dir(abs))
		if perr != nil {
			return "", domain.NewDomainError("Sandbox.Resolve", domain.ErrPathOutsideSandbox, perr.Error())
		}
		resolved = filepath.Join(parent, filepath.Base(abs))
	}

	if resolved != s.root && !strings.HasPrefix(resolved, s.root+string(os.PathSeparator)) {
		return "", domain.NewDomainError("Sandbox.Resolve", domain.ErrPathOutsideSandbox,
			fmt.Sprintf("resolved %q is outside root %q", resolved, s.root))
	}
	return resolved, nil
}

// Root returns the resolved workspace root.
func (s *Sandbox) Root() string { return s.root }
