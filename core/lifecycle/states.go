package lifecycle

import "fmt"

// State is a module's position in the lifecycle state machine.
type State string

const (
	// StateDiscovered means the module directory was found and its manifest
	// parsed, but the module has not been loaded.
	StateDiscovered State = "discovered"
	// StateValidating means the manifest is being re-read and validated.
	StateValidating State = "validating"
	// StateResolvingDeps means declared requirements are being resolved and
	// installed into the shared dependency environment.
	StateResolvingDeps State = "resolving_deps"
	// StateMergingSettings means the declared settings schema is being merged
	// into the host settings store.
	StateMergingSettings State = "merging_settings"
	// StateLoading means entry code is being resolved and initialized.
	StateLoading State = "loading"
	// StateEnabled means the module receives events and may perform actions.
	StateEnabled State = "enabled"
	// StateDisabled means the module is loaded but receives no events.
	StateDisabled State = "disabled"
	// StateUnloading means teardown hooks are running.
	StateUnloading State = "unloading"
	// StateUnloaded means the module was torn down; it can be loaded again.
	StateUnloaded State = "unloaded"
	// StateErrored means a transition failed; the module holds no dependency
	// claims and receives no events until explicitly reloaded.
	StateErrored State = "errored"
)

// RuntimeError wraps a failure of a lifecycle operation with the module and
// operation it occurred in.
type RuntimeError struct {
	ModuleID string
	Op       string
	Err      error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("module %q: %s: %v", e.ModuleID, e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }
