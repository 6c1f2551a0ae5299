package depres

import (
	"context"
	"errors"
	"testing"

	"github.com/Breadcord/Breadcord/core/manifest"
)

func mustReq(t *testing.T, spec string) manifest.Requirement {
	t.Helper()
	req, err := manifest.ParseRequirement(spec)
	if err != nil {
		t.Fatalf("ParseRequirement(%q): %v", spec, err)
	}
	return req
}

func TestEnsureSharedCompatibleConstraints(t *testing.T) {
	env := NewMemoryEnvironment(map[string][]string{
		"aiohttp": {"2.5.0", "3.2.0", "3.9.1", "4.1.0"},
	})
	r := New(env)
	ctx := context.Background()

	plan, err := r.Ensure(ctx, "weather", []manifest.Requirement{mustReq(t, "aiohttp>=3.0")})
	if err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	if len(plan.Installs) != 1 {
		t.Fatalf("expected 1 install, got %d", len(plan.Installs))
	}
	if plan.Installs[0].Version.String() != "4.1.0" {
		t.Errorf("expected highest satisfying 4.1.0, got %s", plan.Installs[0].Version)
	}

	// The second module narrows the constraint; a version satisfying both
	// must be installed.
	plan, err = r.Ensure(ctx, "news", []manifest.Requirement{mustReq(t, "aiohttp<4.0")})
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if len(plan.Installs) != 1 {
		t.Fatalf("expected a replacing install, got %d", len(plan.Installs))
	}
	if plan.Installs[0].Version.String() != "3.9.1" {
		t.Errorf("expected shared version 3.9.1, got %s", plan.Installs[0].Version)
	}
}

func TestEnsureConflictNamesCollidingModule(t *testing.T) {
	env := NewMemoryEnvironment(map[string][]string{
		"lib": {"1.0.0", "2.0.0"},
	})
	r := New(env)
	ctx := context.Background()

	if _, err := r.Ensure(ctx, "first", []manifest.Requirement{mustReq(t, "lib==1.0")}); err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	_, err := r.Ensure(ctx, "second", []manifest.Requirement{mustReq(t, "lib==2.0")})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *ConflictError, got %v", err)
	}
	if conflict.CollidingModule != "first" {
		t.Errorf("expected collider first, got %q", conflict.CollidingModule)
	}
	if conflict.Dependency != "lib" {
		t.Errorf("expected dependency lib, got %q", conflict.Dependency)
	}

	// The failed module must not hold claims.
	if ids := r.Claims()["lib"]; len(ids) != 1 || ids[0] != "first" {
		t.Errorf("expected lib claimed only by first, got %v", ids)
	}
}

func TestEnsureUnchangedRequirementsIsNoop(t *testing.T) {
	env := NewMemoryEnvironment(map[string][]string{
		"requests": {"2.31.0"},
	})
	r := New(env)
	ctx := context.Background()
	reqs := []manifest.Requirement{mustReq(t, "requests")}

	if _, err := r.Ensure(ctx, "m", reqs); err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	calls := env.InstallCalls

	plan, err := r.Ensure(ctx, "m", reqs)
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if !plan.Empty() {
		t.Errorf("expected empty plan, got %+v", plan)
	}
	if env.InstallCalls != calls {
		t.Errorf("expected no further installs, got %d extra", env.InstallCalls-calls)
	}
}

func TestEnsureRetriesFailedInstallOnce(t *testing.T) {
	env := NewMemoryEnvironment(map[string][]string{
		"flaky": {"1.0.0"},
	})
	env.InstallErr = errors.New("network down")
	r := New(env)
	ctx := context.Background()

	_, err := r.Ensure(ctx, "m", []manifest.Requirement{mustReq(t, "flaky")})
	var ie *InstallError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *InstallError, got %v", err)
	}
	if env.InstallCalls != 2 {
		t.Errorf("expected 2 install attempts, got %d", env.InstallCalls)
	}
	if len(r.Claims()) != 0 {
		t.Errorf("failed module must not hold claims, got %v", r.Claims())
	}
}

func TestEnsureUnknownVersion(t *testing.T) {
	env := NewMemoryEnvironment(map[string][]string{
		"lib": {"1.0.0"},
	})
	r := New(env)
	_, err := r.Ensure(context.Background(), "m", []manifest.Requirement{mustReq(t, "lib>=9.0")})
	var ie *InstallError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *InstallError for unsatisfiable version, got %v", err)
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		t.Error("missing version must not be reported as a module conflict")
	}
}

func TestReleaseDropsClaims(t *testing.T) {
	env := NewMemoryEnvironment(map[string][]string{
		"lib": {"1.0.0", "2.0.0"},
	})
	r := New(env)
	ctx := context.Background()

	if _, err := r.Ensure(ctx, "first", []manifest.Requirement{mustReq(t, "lib==1.0")}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	r.Release("first")

	// With the old claim gone, a previously conflicting requirement resolves.
	if _, err := r.Ensure(ctx, "second", []manifest.Requirement{mustReq(t, "lib==2.0")}); err != nil {
		t.Fatalf("Ensure after Release: %v", err)
	}
	if v, ok := env.Installed("lib"); !ok || v.String() != "2.0.0" {
		t.Errorf("expected lib 2.0.0 installed, got %v %v", v, ok)
	}
}
