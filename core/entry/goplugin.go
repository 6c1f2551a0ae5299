package entry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
)

// pluginFileName is the entry-code file a Go plugin module ships.
const pluginFileName = "module.so"

// GoPluginLoader loads entry code from a Go plugin binary in the module
// directory. The binary must export:
//
//	func NewModuleEntry() entry.ModuleEntry
type GoPluginLoader struct{}

func (GoPluginLoader) Name() string { return "goplugin" }

func (GoPluginLoader) CanLoad(dir, moduleID string) bool {
	_, err := os.Stat(filepath.Join(dir, pluginFileName))
	return err == nil
}

func (GoPluginLoader) Load(ctx context.Context, dir, moduleID string) (ModuleEntry, error) {
	path := filepath.Join(dir, pluginFileName)
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", path, err)
	}

	sym, err := p.Lookup("NewModuleEntry")
	if err != nil {
		return nil, fmt.Errorf("plugin %s does not export NewModuleEntry: %w", path, err)
	}
	factory, ok := sym.(func() ModuleEntry)
	if !ok {
		return nil, fmt.Errorf("plugin %s: NewModuleEntry has wrong type %T", path, sym)
	}
	return factory(), nil
}
