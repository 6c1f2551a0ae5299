package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Breadcord/Breadcord/core/config"
	"github.com/Breadcord/Breadcord/core/depres"
	"github.com/Breadcord/Breadcord/core/dispatch"
	"github.com/Breadcord/Breadcord/core/entry"
	"github.com/Breadcord/Breadcord/core/events"
	"github.com/Breadcord/Breadcord/core/gateway"
	"github.com/Breadcord/Breadcord/core/settings"
)

// fakeEntry records lifecycle hook invocations and can be made to fail.
type fakeEntry struct {
	mu           sync.Mutex
	initCalls    int
	enableCalls  int
	disableCalls int
	unloadCalls  int
	failInit     bool
	subscribed   []string
}

func (f *fakeEntry) Init(ctx context.Context, mc *entry.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	if f.failInit {
		return errors.New("init refused")
	}
	mc.Subscribe(gateway.CategoryMessageCreate, func(ctx context.Context, ev gateway.Event) error {
		f.mu.Lock()
		f.subscribed = append(f.subscribed, ev.Content)
		f.mu.Unlock()
		return nil
	})
	return nil
}

func (f *fakeEntry) OnEnable(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enableCalls++
	return nil
}

func (f *fakeEntry) OnDisable(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disableCalls++
	return nil
}

func (f *fakeEntry) OnUnload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloadCalls++
	return nil
}

type harness struct {
	cfg        *config.Config
	env        *depres.MemoryEnvironment
	store      *settings.Store
	dispatcher *dispatch.Dispatcher
	bus        events.Bus
	manager    *Manager
}

func newHarness(t *testing.T, index map[string][]string) *harness {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{
		Environment:  "development",
		ModulesDir:   filepath.Join(base, "modules"),
		StorageDir:   filepath.Join(base, "storage"),
		SettingsPath: filepath.Join(base, "settings.toml"),
		Timeouts: config.TimeoutsConfig{
			ModuleOperation:   5,
			HandlerDispatch:   1,
			DependencyInstall: 5,
		},
	}
	if err := os.MkdirAll(cfg.ModulesDir, 0755); err != nil {
		t.Fatal(err)
	}
	env := depres.NewMemoryEnvironment(index)
	store := settings.NewStore(cfg.SettingsPath, "host")
	dispatcher := dispatch.New(16, time.Second)
	t.Cleanup(dispatcher.Close)
	bus := events.New()
	t.Cleanup(bus.Close)
	manager := New(cfg, store, depres.New(env), dispatcher, bus, entry.BuiltinLoader{})
	return &harness{cfg: cfg, env: env, store: store, dispatcher: dispatcher, bus: bus, manager: manager}
}

func (h *harness) writeModule(t *testing.T, id string, manifestExtra, schema string) {
	t.Helper()
	dir := filepath.Join(h.cfg.ModulesDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	doc := fmt.Sprintf(`manifest_version = 1

[module]
id = %q
name = "Test Module"
version = "1.0.0"
permissions = ["read_messages", "send_messages"]
%s`, id, manifestExtra)
	if err := os.WriteFile(filepath.Join(dir, manifestFileName), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	if schema != "" {
		if err := os.WriteFile(filepath.Join(dir, schemaFileName), []byte(schema), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func (h *harness) scanAndLoad(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.manager.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if err := h.manager.Load(ctx, id); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func registerFake(t *testing.T, id string) *fakeEntry {
	t.Helper()
	fe := &fakeEntry{}
	entry.RegisterBuiltin(id, func() entry.ModuleEntry { return fe })
	return fe
}

func TestLoadHappyPath(t *testing.T) {
	h := newHarness(t, map[string][]string{"aiohttp": {"3.9.1"}})
	fe := registerFake(t, "alpha")
	h.writeModule(t, "alpha",
		"requirements = [\"aiohttp>=3.0\"]\n",
		"[trigger]\ndefault = \"!ping\"\n")

	h.scanAndLoad(t, "alpha")

	st, ok := h.manager.Get("alpha")
	if !ok {
		t.Fatal("module not found after load")
	}
	if st.State != StateEnabled {
		t.Fatalf("expected enabled, got %s (err %q)", st.State, st.Err)
	}
	if fe.initCalls != 1 || fe.enableCalls != 1 {
		t.Errorf("expected init and enable once, got %d/%d", fe.initCalls, fe.enableCalls)
	}
	if !h.dispatcher.Registered("alpha") {
		t.Error("module not registered with dispatcher")
	}
	if v, ok := h.env.Installed("aiohttp"); !ok || v.String() != "3.9.1" {
		t.Errorf("expected aiohttp 3.9.1 installed, got %v %v", v, ok)
	}
	if v, err := h.store.Get("alpha", "trigger"); err != nil || v != "!ping" {
		t.Errorf("expected merged default !ping, got %v %v", v, err)
	}
}

func TestDisableEnableDoesNotReinstall(t *testing.T) {
	h := newHarness(t, map[string][]string{"requests": {"2.31.0"}})
	fe := registerFake(t, "bravo")
	h.writeModule(t, "bravo", "requirements = [\"requests\"]\n", "")
	h.scanAndLoad(t, "bravo")

	ctx := context.Background()
	installs := h.env.InstallCalls

	if err := h.manager.Disable(ctx, "bravo"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if st, _ := h.manager.Get("bravo"); st.State != StateDisabled {
		t.Fatalf("expected disabled, got %s", st.State)
	}
	if h.dispatcher.Registered("bravo") {
		t.Error("disabled module still registered with dispatcher")
	}

	if err := h.manager.Enable(ctx, "bravo"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if st, _ := h.manager.Get("bravo"); st.State != StateEnabled {
		t.Fatalf("expected enabled, got %s", st.State)
	}
	if h.env.InstallCalls != installs {
		t.Errorf("disable/enable cycle reinstalled dependencies: %d extra", h.env.InstallCalls-installs)
	}
	if fe.disableCalls != 1 || fe.enableCalls != 2 {
		t.Errorf("unexpected hook counts: disable=%d enable=%d", fe.disableCalls, fe.enableCalls)
	}
}

func TestLoadFailureMovesToErrored(t *testing.T) {
	h := newHarness(t, nil)
	fe := registerFake(t, "charlie")
	fe.failInit = true
	h.writeModule(t, "charlie", "", "")

	ctx := context.Background()
	if _, err := h.manager.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	err := h.manager.Load(ctx, "charlie")
	var re *RuntimeError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RuntimeError, got %v", err)
	}
	if st, _ := h.manager.Get("charlie"); st.State != StateErrored {
		t.Fatalf("expected errored, got %s", st.State)
	}
	if h.dispatcher.Registered("charlie") {
		t.Error("errored module registered with dispatcher")
	}
}

func TestMissingDependencyMovesToErrored(t *testing.T) {
	h := newHarness(t, nil)
	registerFake(t, "delta")
	h.writeModule(t, "delta", "requirements = [\"nonexistent>=1.0\"]\n", "")

	ctx := context.Background()
	if _, err := h.manager.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if err := h.manager.Load(ctx, "delta"); err == nil {
		t.Fatal("expected load failure for missing dependency")
	}
	if st, _ := h.manager.Get("delta"); st.State != StateErrored {
		t.Fatalf("expected errored, got %s", st.State)
	}
}

func TestUnloadReleasesEverything(t *testing.T) {
	h := newHarness(t, map[string][]string{"lib": {"1.0.0"}})
	fe := registerFake(t, "echo_test")
	h.writeModule(t, "echo_test",
		"requirements = [\"lib\"]\n",
		"[greeting]\ndefault = \"hi\"\n")
	h.scanAndLoad(t, "echo_test")

	ctx := context.Background()
	if err := h.manager.Unload(ctx, "echo_test"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if st, _ := h.manager.Get("echo_test"); st.State != StateUnloaded {
		t.Fatalf("expected unloaded, got %s", st.State)
	}
	if fe.unloadCalls != 1 {
		t.Errorf("expected OnUnload once, got %d", fe.unloadCalls)
	}
	if h.dispatcher.Registered("echo_test") {
		t.Error("unloaded module still registered with dispatcher")
	}
	if _, err := h.store.Get("echo_test", "greeting"); err == nil {
		t.Error("expected schema released after unload")
	}

	// Unloaded is not terminal; the module loads again.
	if err := h.manager.Load(ctx, "echo_test"); err != nil {
		t.Fatalf("Load after Unload: %v", err)
	}
	if st, _ := h.manager.Get("echo_test"); st.State != StateEnabled {
		t.Fatalf("expected enabled after re-load, got %s", st.State)
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	h := newHarness(t, nil)
	fe := registerFake(t, "foxtrot")
	h.writeModule(t, "foxtrot", "", "")
	h.scanAndLoad(t, "foxtrot")

	ctx := context.Background()
	if err := h.manager.Reload(ctx, "foxtrot"); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if st, _ := h.manager.Get("foxtrot"); st.State != StateEnabled {
		t.Fatalf("expected enabled after reload, got %s", st.State)
	}
	// The old instance was torn down before the new one started.
	if fe.unloadCalls != 1 || fe.initCalls != 2 {
		t.Errorf("unexpected hook counts: unload=%d init=%d", fe.unloadCalls, fe.initCalls)
	}
}

func TestFailedReloadLeavesModuleErrored(t *testing.T) {
	h := newHarness(t, nil)
	fe := registerFake(t, "golf")
	h.writeModule(t, "golf", "", "")
	h.scanAndLoad(t, "golf")

	fe.failInit = true
	ctx := context.Background()
	if err := h.manager.Reload(ctx, "golf"); err == nil {
		t.Fatal("expected reload failure")
	}
	st, _ := h.manager.Get("golf")
	if st.State != StateErrored {
		t.Fatalf("expected errored, got %s", st.State)
	}
	if st.Err == "" {
		t.Error("expected status to carry the failure")
	}
	if h.dispatcher.Registered("golf") {
		t.Error("failed module registered with dispatcher")
	}
}

func TestTransitionsPublishedOnBus(t *testing.T) {
	h := newHarness(t, nil)
	registerFake(t, "india")
	h.writeModule(t, "india", "", "")

	transitions, unsubscribe, err := h.bus.Subscribe(ModuleStateChangedEventType)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()

	h.scanAndLoad(t, "india")

	// The load pipeline publishes every step; collect until enabled arrives.
	var seen []State
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-transitions:
			sc, ok := ev.(ModuleStateChangedEvent)
			if !ok {
				t.Fatalf("unexpected payload %T", ev)
			}
			if sc.ModuleID != "india" {
				t.Fatalf("unexpected module %q", sc.ModuleID)
			}
			seen = append(seen, sc.To)
			if sc.To == StateEnabled {
				want := []State{StateValidating, StateResolvingDeps,
					StateMergingSettings, StateLoading, StateEnabled}
				if len(seen) != len(want) {
					t.Fatalf("expected transitions %v, got %v", want, seen)
				}
				for i := range want {
					if seen[i] != want[i] {
						t.Fatalf("expected transitions %v, got %v", want, seen)
					}
				}
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for enabled transition; saw %v", seen)
		}
	}
}

func TestScanSkipsInvalidAndDuplicate(t *testing.T) {
	h := newHarness(t, nil)
	h.writeModule(t, "hotel", "", "")

	// A second directory claiming the same id.
	dupDir := filepath.Join(h.cfg.ModulesDir, "hotel_copy")
	if err := os.MkdirAll(dupDir, 0755); err != nil {
		t.Fatal(err)
	}
	doc := "manifest_version = 1\n[module]\nid = \"hotel\"\nname = \"Copy\"\nversion = \"2.0.0\"\n"
	if err := os.WriteFile(filepath.Join(dupDir, manifestFileName), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	// A directory with a broken manifest.
	badDir := filepath.Join(h.cfg.ModulesDir, "broken")
	if err := os.MkdirAll(badDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(badDir, manifestFileName), []byte("manifest_version = 1\n[module]\nid = \"BAD\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	discovered, err := h.manager.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(discovered) != 1 || discovered[0] != "hotel" {
		t.Fatalf("expected only hotel discovered, got %v", discovered)
	}
	if st, ok := h.manager.Get("hotel"); !ok || st.Version != "1.0.0" {
		t.Errorf("expected first claimant to win, got %+v", st)
	}
}
