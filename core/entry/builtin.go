package entry

import (
	"context"
	"fmt"
	"sync"
)

// builtinFactories maps module ids to entry factories compiled into the host.
// Resolution goes through this registry rather than any ambient dynamic
// lookup, so a missing implementation fails at the loading boundary.
var (
	builtinMu        sync.RWMutex
	builtinFactories = make(map[string]func() ModuleEntry)
)

// RegisterBuiltin registers a compiled-in entry factory for a module id.
// Typically called from a module package's init function.
func RegisterBuiltin(moduleID string, factory func() ModuleEntry) {
	builtinMu.Lock()
	defer builtinMu.Unlock()
	builtinFactories[moduleID] = factory
}

// BuiltinLoader resolves entry code from the compiled-in factory registry.
type BuiltinLoader struct{}

func (BuiltinLoader) Name() string { return "builtin" }

func (BuiltinLoader) CanLoad(dir, moduleID string) bool {
	builtinMu.RLock()
	defer builtinMu.RUnlock()
	_, ok := builtinFactories[moduleID]
	return ok
}

func (BuiltinLoader) Load(ctx context.Context, dir, moduleID string) (ModuleEntry, error) {
	builtinMu.RLock()
	factory, ok := builtinFactories[moduleID]
	builtinMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no builtin entry registered for module %q", moduleID)
	}
	return factory(), nil
}
