// Package depres resolves and installs the third-party requirements declared
// by modules. All modules share one dependency environment; the resolver is
// its single mutator. Resolution is additive and best-effort-shared: when two
// modules constrain the same dependency, one version satisfying both is
// selected, and a module whose requirements cannot coexist with the already
// claimed set is rejected without touching the other modules' claims.
package depres

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/Breadcord/Breadcord/core/logger"
	"github.com/Breadcord/Breadcord/core/manifest"
	"github.com/Breadcord/Breadcord/core/metrics"
)

// ConflictError reports a requirement whose constraint has an empty
// intersection with a constraint already claimed by another module.
type ConflictError struct {
	Dependency      string
	ModuleID        string
	CollidingModule string
	Requirement     string
	Existing        string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("dependency conflict on %q: module %q requires %q, but module %q already claims %q",
		e.Dependency, e.ModuleID, e.Requirement, e.CollidingModule, e.Existing)
}

// InstallError reports a dependency that could not be installed after a retry.
type InstallError struct {
	Dependency string
	Err        error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install dependency %q: %v", e.Dependency, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Action is a single install step in a Plan.
type Action struct {
	Name    string
	Version *semver.Version
}

// Plan is the set of installs needed to satisfy a module's requirements.
// An empty plan means the environment already satisfies them.
type Plan struct {
	Installs []Action
}

// Empty reports whether applying the plan would be a no-op.
func (p Plan) Empty() bool { return len(p.Installs) == 0 }

type claim struct {
	moduleID string
	req      manifest.Requirement
}

// Resolver owns the claims table mapping dependency names to the modules
// constraining them, and applies install plans through an Environment.
type Resolver struct {
	mu         sync.Mutex
	env        Environment
	claims     map[string][]claim
	selected   map[string]*semver.Version
	moduleReqs map[string][]manifest.Requirement
}

// New returns a Resolver operating on the given environment.
func New(env Environment) *Resolver {
	return &Resolver{
		env:        env,
		claims:     make(map[string][]claim),
		selected:   make(map[string]*semver.Version),
		moduleReqs: make(map[string][]manifest.Requirement),
	}
}

// Ensure computes and applies the install plan for one module's requirements.
// It returns the applied plan, which is empty when re-resolving an unchanged
// and still satisfied requirement set. On conflict or install failure nothing
// is claimed for the module and the environment is left usable by all
// previously resolved modules.
func (r *Resolver) Ensure(ctx context.Context, moduleID string, reqs []manifest.Requirement) (Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.moduleReqs[moduleID]; ok && sameRequirements(prev, reqs) && r.satisfiedLocked(reqs) {
		return Plan{}, nil
	}

	// Re-resolution replaces the module's previous claims.
	r.releaseLocked(moduleID)

	plan := Plan{}
	type pendingClaim struct {
		name string
		c    claim
	}
	var pending []pendingClaim

	for _, req := range reqs {
		if v, ok := r.installedVersion(req.Name); ok && req.Constraint.Check(v) {
			pending = append(pending, pendingClaim{req.Name, claim{moduleID, req}})
			continue
		}

		candidates, err := r.env.Candidates(ctx, req.Name)
		if err != nil {
			return Plan{}, &InstallError{Dependency: req.Name, Err: err}
		}

		chosen := pickVersion(candidates, append(constraintsFor(r.claims[req.Name]), req.Constraint))
		if chosen == nil {
			// Distinguish "no such version at all" from a genuine conflict
			// with another module's claim.
			if alone := pickVersion(candidates, []*semver.Constraints{req.Constraint}); alone == nil {
				return Plan{}, &InstallError{
					Dependency: req.Name,
					Err:        fmt.Errorf("no available version satisfies %q", req.Raw),
				}
			}
			collider := r.findCollider(req, candidates)
			return Plan{}, &ConflictError{
				Dependency:      req.Name,
				ModuleID:        moduleID,
				CollidingModule: collider.moduleID,
				Requirement:     req.Raw,
				Existing:        collider.req.Raw,
			}
		}

		if v, ok := r.installedVersion(req.Name); !ok || !v.Equal(chosen) {
			plan.Installs = append(plan.Installs, Action{Name: req.Name, Version: chosen})
		}
		pending = append(pending, pendingClaim{req.Name, claim{moduleID, req}})
	}

	if err := r.applyLocked(ctx, plan); err != nil {
		return Plan{}, err
	}

	for _, pc := range pending {
		r.claims[pc.name] = append(r.claims[pc.name], pc.c)
	}
	r.moduleReqs[moduleID] = append([]manifest.Requirement(nil), reqs...)
	return plan, nil
}

// Release drops a module's dependency claims. Installed packages are kept;
// the environment only grows.
func (r *Resolver) Release(moduleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(moduleID)
}

// Claims returns, for each dependency name, the ids of the modules currently
// constraining it. Intended for operator-facing status output.
func (r *Resolver) Claims() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string, len(r.claims))
	for name, cs := range r.claims {
		ids := make([]string, 0, len(cs))
		for _, c := range cs {
			ids = append(ids, c.moduleID)
		}
		sort.Strings(ids)
		out[name] = ids
	}
	return out
}

func (r *Resolver) releaseLocked(moduleID string) {
	delete(r.moduleReqs, moduleID)
	for name, cs := range r.claims {
		kept := cs[:0]
		for _, c := range cs {
			if c.moduleID != moduleID {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(r.claims, name)
		} else {
			r.claims[name] = kept
		}
	}
}

func (r *Resolver) installedVersion(name string) (*semver.Version, bool) {
	if v, ok := r.selected[name]; ok {
		return v, true
	}
	return r.env.Installed(name)
}

func (r *Resolver) satisfiedLocked(reqs []manifest.Requirement) bool {
	for _, req := range reqs {
		v, ok := r.installedVersion(req.Name)
		if !ok || !req.Constraint.Check(v) {
			return false
		}
	}
	return true
}

// findCollider returns the existing claim that cannot coexist with req.
func (r *Resolver) findCollider(req manifest.Requirement, candidates []*semver.Version) claim {
	for _, c := range r.claims[req.Name] {
		if pickVersion(candidates, []*semver.Constraints{c.req.Constraint, req.Constraint}) == nil {
			return c
		}
	}
	// No single claim collides on its own; attribute to the first claimant.
	return r.claims[req.Name][0]
}

// applyLocked installs every action in the plan, retrying each failed install
// once before giving up.
func (r *Resolver) applyLocked(ctx context.Context, plan Plan) error {
	for _, action := range plan.Installs {
		err := r.env.Install(ctx, action.Name, action.Version)
		if err != nil {
			logger.Warn(ctx, "Dependency install failed, retrying once",
				zap.String("dependency", action.Name),
				zap.String("version", action.Version.String()),
				zap.Error(err))
			err = r.env.Install(ctx, action.Name, action.Version)
		}
		if err != nil {
			metrics.DependencyInstallCounter.WithLabelValues("failed").Inc()
			return &InstallError{Dependency: action.Name, Err: err}
		}
		metrics.DependencyInstallCounter.WithLabelValues("success").Inc()
		r.selected[action.Name] = action.Version
		logger.Info(ctx, "Dependency installed",
			zap.String("dependency", action.Name),
			zap.String("version", action.Version.String()))
	}
	return nil
}

// pickVersion returns the highest candidate satisfying every constraint,
// or nil when the joint constraint set is unsatisfiable.
func pickVersion(candidates []*semver.Version, constraints []*semver.Constraints) *semver.Version {
	var best *semver.Version
	for _, v := range candidates {
		ok := true
		for _, c := range constraints {
			if !c.Check(v) {
				ok = false
				break
			}
		}
		if ok && (best == nil || v.GreaterThan(best)) {
			best = v
		}
	}
	return best
}

func constraintsFor(cs []claim) []*semver.Constraints {
	out := make([]*semver.Constraints, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.req.Constraint)
	}
	return out
}

func sameRequirements(a, b []manifest.Requirement) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Raw != b[i].Raw {
			return false
		}
	}
	return true
}
