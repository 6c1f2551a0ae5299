// Package lifecycle coordinates the module state machine: discovery on disk,
// manifest validation, dependency resolution, settings merging, entry loading
// and the enable/disable/reload/unload transitions. It is the only component
// that moves modules between states; every other package acts on its behalf.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Breadcord/Breadcord/core/config"
	"github.com/Breadcord/Breadcord/core/depres"
	"github.com/Breadcord/Breadcord/core/dispatch"
	"github.com/Breadcord/Breadcord/core/entry"
	"github.com/Breadcord/Breadcord/core/errors"
	"github.com/Breadcord/Breadcord/core/events"
	"github.com/Breadcord/Breadcord/core/gateway"
	"github.com/Breadcord/Breadcord/core/logger"
	"github.com/Breadcord/Breadcord/core/manifest"
	"github.com/Breadcord/Breadcord/core/metrics"
	"github.com/Breadcord/Breadcord/core/permissions"
	"github.com/Breadcord/Breadcord/core/settings"
)

const (
	manifestFileName = "manifest.toml"
	schemaFileName   = "settings_schema.toml"
)

// ModuleStateChangedEventType is the bus topic for lifecycle transitions.
const ModuleStateChangedEventType = "module.state_changed"

// ModuleStateChangedEvent is published on every module state transition.
type ModuleStateChangedEvent struct {
	ModuleID string
	From     State
	To       State
}

func (e ModuleStateChangedEvent) EventType() string { return ModuleStateChangedEventType }

// Status is a snapshot of one module for operator-facing output.
type Status struct {
	ID          string
	Name        string
	Version     string
	Description string
	State       State
	Permissions string
	Err         string
}

// record tracks one discovered module. Its mutex serializes lifecycle
// transitions for the module; concurrent operations on different modules
// proceed independently.
type record struct {
	mu       sync.Mutex
	id       string
	dir      string
	manifest *manifest.Manifest
	state    State
	entry    entry.ModuleEntry
	subs     []dispatch.Subscription
	lastErr  error
}

// Manager owns the module records and drives every state transition.
type Manager struct {
	mu      sync.RWMutex
	records map[string]*record

	cfg        *config.Config
	store      *settings.Store
	resolver   *depres.Resolver
	dispatcher *dispatch.Dispatcher
	bus        events.Bus
	loaders    []entry.Loader

	gwMu sync.RWMutex
	gw   gateway.Gateway
}

// New returns a Manager wired to its collaborators. Loaders are consulted in
// order when resolving a module's entry code.
func New(
	cfg *config.Config,
	store *settings.Store,
	resolver *depres.Resolver,
	dispatcher *dispatch.Dispatcher,
	bus events.Bus,
	loaders ...entry.Loader,
) *Manager {
	return &Manager{
		records:    make(map[string]*record),
		cfg:        cfg,
		store:      store,
		resolver:   resolver,
		dispatcher: dispatcher,
		bus:        bus,
		loaders:    loaders,
	}
}

// SetGateway provides the platform gateway modules act through. May be called
// before or after modules are loaded; actions fail cleanly while unset.
func (m *Manager) SetGateway(gw gateway.Gateway) {
	m.gwMu.Lock()
	defer m.gwMu.Unlock()
	m.gw = gw
}

func (m *Manager) gateway() gateway.Gateway {
	m.gwMu.RLock()
	defer m.gwMu.RUnlock()
	return m.gw
}

// Scan walks the modules directory and registers every directory carrying a
// parseable manifest. A directory whose manifest fails validation is skipped
// with a warning, as is a module whose id is already taken; neither aborts
// the scan. Returns the ids of newly discovered modules.
func (m *Manager) Scan(ctx context.Context) ([]string, error) {
	dirEntries, err := os.ReadDir(m.cfg.ModulesDir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn(ctx, "Modules directory does not exist", zap.String("dir", m.cfg.ModulesDir))
			return nil, nil
		}
		return nil, fmt.Errorf("scan modules directory: %w", err)
	}

	var discovered []string
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		dir := filepath.Join(m.cfg.ModulesDir, de.Name())
		manifestPath := filepath.Join(dir, manifestFileName)
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}

		mf, err := manifest.ParseFile(manifestPath)
		if err != nil {
			logger.Warn(ctx, "Skipping module with invalid manifest",
				zap.String("dir", dir), zap.Error(err))
			continue
		}

		m.mu.Lock()
		if existing, ok := m.records[mf.ID]; ok {
			m.mu.Unlock()
			if existing.dir != dir {
				logger.Warn(ctx, "Skipping module with duplicate id",
					zap.String("module", mf.ID),
					zap.String("dir", dir),
					zap.String("existing_dir", existing.dir))
			}
			continue
		}
		m.records[mf.ID] = &record{
			id:       mf.ID,
			dir:      dir,
			manifest: mf,
			state:    StateDiscovered,
		}
		m.mu.Unlock()

		discovered = append(discovered, mf.ID)
		logger.Info(ctx, "Module discovered",
			zap.String("module", mf.ID),
			zap.String("version", mf.Version.String()))
	}
	sort.Strings(discovered)
	return discovered, nil
}

// Load takes a discovered or unloaded module through validation, dependency
// resolution, settings merging and entry initialization, ending enabled.
// Any failure moves the module to errored with its dependency claims released.
func (m *Manager) Load(ctx context.Context, moduleID string) error {
	rec, err := m.record(moduleID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch rec.state {
	case StateDiscovered, StateUnloaded, StateErrored:
	default:
		return &RuntimeError{ModuleID: moduleID, Op: "load",
			Err: fmt.Errorf("cannot load from state %q", rec.state)}
	}

	tracer := otel.Tracer("breadcord-lifecycle")
	ctx, span := tracer.Start(ctx, "Module.Load",
		trace.WithAttributes(attribute.String("module.id", moduleID)))
	defer span.End()

	if err := m.loadLocked(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.failLocked(ctx, rec, err)
		return &RuntimeError{ModuleID: moduleID, Op: "load", Err: err}
	}
	return nil
}

// loadLocked runs the load pipeline with rec.mu held.
func (m *Manager) loadLocked(ctx context.Context, rec *record) error {
	opTimeout := time.Duration(m.cfg.Timeouts.ModuleOperation) * time.Second
	installTimeout := time.Duration(m.cfg.Timeouts.DependencyInstall) * time.Second

	// Validate: re-read the manifest so edits since discovery take effect.
	m.setStateLocked(ctx, rec, StateValidating)
	mf, err := manifest.ParseFile(filepath.Join(rec.dir, manifestFileName))
	if err != nil {
		return fmt.Errorf("validate manifest: %w", err)
	}
	if mf.ID != rec.id {
		return fmt.Errorf("manifest id changed from %q to %q", rec.id, mf.ID)
	}
	rec.manifest = mf

	// Resolve and install declared requirements.
	m.setStateLocked(ctx, rec, StateResolvingDeps)
	installCtx, installCancel := context.WithTimeout(ctx, installTimeout)
	plan, err := m.resolver.Ensure(installCtx, rec.id, mf.Requirements)
	installCancel()
	if err != nil {
		return fmt.Errorf("resolve dependencies: %w", err)
	}
	if !plan.Empty() {
		logger.Info(ctx, "Dependencies installed for module",
			zap.String("module", rec.id), zap.Int("installs", len(plan.Installs)))
	}

	// Merge the declared settings schema, if the module ships one.
	m.setStateLocked(ctx, rec, StateMergingSettings)
	schema := &settings.Schema{}
	schemaPath := filepath.Join(rec.dir, schemaFileName)
	if _, statErr := os.Stat(schemaPath); statErr == nil {
		schema, err = settings.ParseSchemaFile(schemaPath)
		if err != nil {
			return fmt.Errorf("parse settings schema: %w", err)
		}
	}
	if err := m.store.Merge(rec.id, schema); err != nil {
		return fmt.Errorf("merge settings: %w", err)
	}

	// Resolve and initialize entry code.
	m.setStateLocked(ctx, rec, StateLoading)
	loader, err := m.loaderFor(rec)
	if err != nil {
		return err
	}
	loadCtx, loadCancel := context.WithTimeout(ctx, opTimeout)
	defer loadCancel()
	me, err := loader.Load(loadCtx, rec.dir, rec.id)
	if err != nil {
		return fmt.Errorf("%s loader: %w", loader.Name(), err)
	}

	storagePath := filepath.Join(m.cfg.StorageDir, rec.id)
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return fmt.Errorf("create module storage: %w", err)
	}

	rec.subs = nil
	mc := entry.NewContext(
		rec.id,
		m.store.Namespace(rec.id),
		&moduleActions{manager: m, rec: rec},
		logger.For("module."+rec.id),
		storagePath,
		func(category string, h entry.Handler) {
			rec.subs = append(rec.subs, dispatch.Subscription{Category: category, Handler: h})
		},
	)
	if err := safelyExecute(loadCtx, rec.id, "Init", func() error {
		return me.Init(loadCtx, mc)
	}); err != nil {
		return fmt.Errorf("init entry code: %w", err)
	}
	rec.entry = me

	return m.enableLocked(ctx, rec)
}

// Enable moves a disabled module back to enabled. Dependencies are not
// re-resolved and settings are not re-merged; those belong to loading.
func (m *Manager) Enable(ctx context.Context, moduleID string) error {
	rec, err := m.record(moduleID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.state != StateDisabled {
		return &RuntimeError{ModuleID: moduleID, Op: "enable",
			Err: fmt.Errorf("cannot enable from state %q", rec.state)}
	}
	if err := m.enableLocked(ctx, rec); err != nil {
		m.failLocked(ctx, rec, err)
		return &RuntimeError{ModuleID: moduleID, Op: "enable", Err: err}
	}
	return nil
}

func (m *Manager) enableLocked(ctx context.Context, rec *record) error {
	opTimeout := time.Duration(m.cfg.Timeouts.ModuleOperation) * time.Second
	hookCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := safelyExecute(hookCtx, rec.id, "OnEnable", func() error {
		return rec.entry.OnEnable(hookCtx)
	}); err != nil {
		return fmt.Errorf("enable entry code: %w", err)
	}
	if err := m.dispatcher.Register(rec.id, rec.manifest.Permissions, rec.subs); err != nil {
		return fmt.Errorf("register with dispatcher: %w", err)
	}
	m.setStateLocked(ctx, rec, StateEnabled)
	return nil
}

// Disable stops event delivery to an enabled module without tearing it down.
func (m *Manager) Disable(ctx context.Context, moduleID string) error {
	rec, err := m.record(moduleID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.state != StateEnabled {
		return &RuntimeError{ModuleID: moduleID, Op: "disable",
			Err: fmt.Errorf("cannot disable from state %q", rec.state)}
	}

	// Unregister first so no event reaches a module mid-disable.
	m.dispatcher.Unregister(rec.id)

	opTimeout := time.Duration(m.cfg.Timeouts.ModuleOperation) * time.Second
	hookCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := safelyExecute(hookCtx, rec.id, "OnDisable", func() error {
		return rec.entry.OnDisable(hookCtx)
	}); err != nil {
		m.failLocked(ctx, rec, err)
		return &RuntimeError{ModuleID: moduleID, Op: "disable", Err: err}
	}
	m.setStateLocked(ctx, rec, StateDisabled)
	return nil
}

// Unload tears a module down: event delivery stops, the unload hook runs,
// dependency claims and the merged settings schema are released. Persisted
// settings values stay on disk for a future load.
func (m *Manager) Unload(ctx context.Context, moduleID string) error {
	rec, err := m.record(moduleID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return m.unloadLocked(ctx, rec)
}

func (m *Manager) unloadLocked(ctx context.Context, rec *record) error {
	switch rec.state {
	case StateEnabled, StateDisabled, StateErrored:
	default:
		return &RuntimeError{ModuleID: rec.id, Op: "unload",
			Err: fmt.Errorf("cannot unload from state %q", rec.state)}
	}

	m.setStateLocked(ctx, rec, StateUnloading)
	m.dispatcher.Unregister(rec.id)

	var hookErr error
	if rec.entry != nil {
		opTimeout := time.Duration(m.cfg.Timeouts.ModuleOperation) * time.Second
		hookCtx, cancel := context.WithTimeout(ctx, opTimeout)
		hookErr = safelyExecute(hookCtx, rec.id, "OnUnload", func() error {
			return rec.entry.OnUnload(hookCtx)
		})
		cancel()
		if hookErr != nil {
			// Teardown continues; a failing unload hook must not leave the
			// module holding claims or subscriptions.
			logger.Error(ctx, "Module unload hook failed",
				zap.String("module", rec.id), zap.Error(hookErr))
		}
	}

	m.resolver.Release(rec.id)
	m.store.Release(rec.id)
	rec.entry = nil
	rec.subs = nil
	rec.lastErr = nil
	m.setStateLocked(ctx, rec, StateUnloaded)

	if hookErr != nil {
		return &RuntimeError{ModuleID: rec.id, Op: "unload", Err: hookErr}
	}
	return nil
}

// Reload unloads a module and loads it fresh from disk, picking up manifest,
// schema and entry-code changes. The old instance is fully torn down before
// the new one starts; a failed reload leaves the module errored and unloaded
// rather than half-replaced.
func (m *Manager) Reload(ctx context.Context, moduleID string) error {
	rec, err := m.record(moduleID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	tracer := otel.Tracer("breadcord-lifecycle")
	ctx, span := tracer.Start(ctx, "Module.Reload",
		trace.WithAttributes(attribute.String("module.id", moduleID)))
	defer span.End()

	logger.Info(ctx, "Reloading module", zap.String("module", moduleID))

	if rec.state == StateEnabled || rec.state == StateDisabled || rec.state == StateErrored {
		if err := m.unloadLocked(ctx, rec); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	if err := m.loadLocked(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.failLocked(ctx, rec, err)
		return &RuntimeError{ModuleID: moduleID, Op: "reload", Err: err}
	}
	return nil
}

// List returns a status snapshot of every known module, sorted by id.
func (m *Manager) List() []Status {
	m.mu.RLock()
	recs := make([]*record, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	out := make([]Status, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the status of one module.
func (m *Manager) Get(moduleID string) (Status, bool) {
	m.mu.RLock()
	rec, ok := m.records[moduleID]
	m.mu.RUnlock()
	if !ok {
		return Status{}, false
	}
	return rec.status(), true
}

func (rec *record) status() Status {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	s := Status{
		ID:    rec.id,
		State: rec.state,
	}
	if rec.manifest != nil {
		s.Name = rec.manifest.Name
		s.Version = rec.manifest.Version.String()
		s.Description = rec.manifest.Description
		s.Permissions = rec.manifest.Permissions.String()
	}
	if rec.lastErr != nil {
		s.Err = rec.lastErr.Error()
	}
	return s
}

func (m *Manager) record(moduleID string) (*record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[moduleID]
	if !ok {
		return nil, errors.Wrap(errors.ErrNotFound, fmt.Sprintf("module %q", moduleID))
	}
	return rec, nil
}

// failLocked moves a record to errored and releases everything it holds so a
// broken module cannot pin dependency claims or receive events.
func (m *Manager) failLocked(ctx context.Context, rec *record, cause error) {
	m.dispatcher.Unregister(rec.id)
	m.resolver.Release(rec.id)
	rec.lastErr = cause
	metrics.ModuleTransitionCounter.WithLabelValues(rec.id, string(StateErrored), "failed").Inc()
	logger.Error(ctx, "Module errored",
		zap.String("module", rec.id),
		zap.String("from", string(rec.state)),
		zap.Error(cause))
	from := rec.state
	rec.state = StateErrored
	m.publish(ctx, rec.id, from, StateErrored)
}

// setStateLocked records a successful transition.
func (m *Manager) setStateLocked(ctx context.Context, rec *record, to State) {
	from := rec.state
	rec.state = to
	metrics.ModuleTransitionCounter.WithLabelValues(rec.id, string(to), "success").Inc()
	logger.Debug(ctx, "Module state changed",
		zap.String("module", rec.id),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	m.publish(ctx, rec.id, from, to)
}

func (m *Manager) publish(ctx context.Context, moduleID string, from, to State) {
	if m.bus != nil {
		m.bus.Publish(ctx, ModuleStateChangedEventType,
			ModuleStateChangedEvent{ModuleID: moduleID, From: from, To: to})
	}
}

func (m *Manager) loaderFor(rec *record) (entry.Loader, error) {
	for _, l := range m.loaders {
		if l.CanLoad(rec.dir, rec.id) {
			return l, nil
		}
	}
	return nil, fmt.Errorf("no loader recognizes module directory %s", rec.dir)
}

// safelyExecute runs an entry-code hook and converts a panic into an error,
// keeping module failures contained at the module boundary.
func safelyExecute(ctx context.Context, moduleID, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Panic recovered in module entry code",
				zap.String("module", moduleID),
				zap.String("operation", operation),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("panic in module %s during %s: %v", moduleID, operation, r)
		}
	}()
	return fn()
}

// moduleActions is the permission-gated action surface handed to entry code.
type moduleActions struct {
	manager *Manager
	rec     *record
}

func (a *moduleActions) SendMessage(ctx context.Context, channelID, content string) error {
	if !a.rec.manifest.Permissions.Has(permissions.SendMessages) {
		return fmt.Errorf("module %q was not granted %s", a.rec.id, permissions.SendMessages)
	}
	gw := a.manager.gateway()
	if gw == nil {
		return errors.Wrap(errors.ErrNotFound, "no gateway attached")
	}
	return gw.SendMessage(ctx, channelID, content)
}

func (a *moduleActions) HasPermission(tag permissions.Tag) bool {
	return a.rec.manifest.Permissions.Has(tag)
}
