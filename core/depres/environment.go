package depres

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/Breadcord/Breadcord/core/logger"
)

// Environment is the shared dependency environment the resolver operates on.
// Implementations report what is installed, what versions exist, and perform
// the actual install.
type Environment interface {
	// Installed returns the installed version of a dependency, if any.
	Installed(name string) (*semver.Version, bool)
	// Candidates returns the versions of a dependency available for install,
	// including the installed one.
	Candidates(ctx context.Context, name string) ([]*semver.Version, error)
	// Install makes the given version of a dependency available, replacing a
	// previously installed version of the same name.
	Install(ctx context.Context, name string, version *semver.Version) error
}

// ExecEnvironment installs packages by shelling out to uv when available,
// falling back to pip. The installed-package view is seeded once from
// `pip list --format=freeze` and kept current as installs succeed.
type ExecEnvironment struct {
	mu        sync.Mutex
	python    string
	uv        string
	installed map[string]*semver.Version
}

// NewExecEnvironment builds an ExecEnvironment seeded with the packages
// already present in the interpreter's environment.
func NewExecEnvironment(ctx context.Context, python string) (*ExecEnvironment, error) {
	if python == "" {
		python = "python3"
	}
	env := &ExecEnvironment{
		python:    python,
		installed: make(map[string]*semver.Version),
	}
	if uv, err := exec.LookPath("uv"); err == nil {
		env.uv = uv
	} else {
		logger.Warn(ctx, "uv is not installed, falling back to pip for dependency installs")
	}

	out, err := exec.CommandContext(ctx, python, "-m", "pip", "list", "--format=freeze").Output()
	if err != nil {
		return nil, fmt.Errorf("list installed packages: %w", err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		name, rawVersion, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "==")
		if !ok {
			continue
		}
		if v, err := semver.NewVersion(rawVersion); err == nil {
			env.installed[normalizeName(name)] = v
		}
	}
	return env, nil
}

func (e *ExecEnvironment) Installed(name string) (*semver.Version, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.installed[normalizeName(name)]
	return v, ok
}

func (e *ExecEnvironment) Candidates(ctx context.Context, name string) ([]*semver.Version, error) {
	out, err := exec.CommandContext(ctx, e.python, "-m", "pip", "index", "versions", name).Output()
	if err != nil {
		return nil, fmt.Errorf("query versions for %q: %w", name, err)
	}
	// Output contains a line "Available versions: 3.9.1, 3.9.0, ...".
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		rest, found := strings.CutPrefix(line, "Available versions:")
		if !found {
			continue
		}
		var versions []*semver.Version
		for _, raw := range strings.Split(rest, ",") {
			if v, err := semver.NewVersion(strings.TrimSpace(raw)); err == nil {
				versions = append(versions, v)
			}
		}
		return versions, nil
	}
	return nil, fmt.Errorf("no versions found for %q", name)
}

func (e *ExecEnvironment) Install(ctx context.Context, name string, version *semver.Version) error {
	spec := fmt.Sprintf("%s==%s", name, version)
	var cmd *exec.Cmd
	if e.uv != "" {
		cmd = exec.CommandContext(ctx, e.uv, "pip", "install", "--python", e.python, spec)
	} else {
		cmd = exec.CommandContext(ctx, e.python, "-m", "pip", "install", spec)
	}
	logger.Info(ctx, "Installing dependency", zap.String("spec", spec))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("install %s: %w: %s", spec, err, strings.TrimSpace(string(out)))
	}
	e.mu.Lock()
	e.installed[normalizeName(name)] = version
	e.mu.Unlock()
	return nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}

// MemoryEnvironment is an in-memory Environment used in tests and by the
// development gateway setup. Candidates come from a fixed index.
type MemoryEnvironment struct {
	mu        sync.Mutex
	index     map[string][]*semver.Version
	installed map[string]*semver.Version

	// InstallErr, when set, causes the next Install calls to fail.
	InstallErr error
	// InstallCalls counts Install invocations, including failed ones.
	InstallCalls int
}

// NewMemoryEnvironment builds a MemoryEnvironment whose index maps dependency
// names to available version strings.
func NewMemoryEnvironment(index map[string][]string) *MemoryEnvironment {
	env := &MemoryEnvironment{
		index:     make(map[string][]*semver.Version, len(index)),
		installed: make(map[string]*semver.Version),
	}
	for name, raws := range index {
		for _, raw := range raws {
			env.index[normalizeName(name)] = append(env.index[normalizeName(name)], semver.MustParse(raw))
		}
	}
	return env
}

func (e *MemoryEnvironment) Installed(name string) (*semver.Version, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.installed[normalizeName(name)]
	return v, ok
}

func (e *MemoryEnvironment) Candidates(ctx context.Context, name string) ([]*semver.Version, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	versions, ok := e.index[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("unknown package %q", name)
	}
	return versions, nil
}

func (e *MemoryEnvironment) Install(ctx context.Context, name string, version *semver.Version) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.InstallCalls++
	if e.InstallErr != nil {
		return e.InstallErr
	}
	e.installed[normalizeName(name)] = version
	return nil
}
