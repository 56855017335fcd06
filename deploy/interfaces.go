package deploy

import (
	"errors"
	"fmt"
)

// ErrDomainNotFound is returned by a DomainResolver when an identity tag
// matches no live code domain.
var ErrDomainNotFound = errors.New("code domain not found")

// Domain is a handle to one isolated code domain (class-loader-like
// boundary) inside the target process.
type Domain interface {
	// Name is the identity tag of the domain.
	Name() string

	// IsLoaded reports whether the code unit at path is currently loaded in
	// this domain. Unloaded units need no immediate replacement; their
	// staged copy is picked up on first load.
	IsLoaded(path string) bool
}

// DomainResolver resolves an identity tag, e.g. "AppClassLoader@18b4aac2",
// to a live domain. The empty tag resolves to the default domain.
type DomainResolver interface {
	Resolve(identity string) (Domain, error)
}

// Redefiner is the external code-replacement facility. One call replaces the
// whole batch atomically or fails the whole batch. It is not safe under
// concurrent invocation; callers must serialize.
type Redefiner interface {
	Redefine(domain Domain, batch map[string][]byte) error
}

// Compiler turns source files into replacement bytecode, used for
// source-based deploy requests.
type Compiler interface {
	Compile(sources map[string][]byte) (map[string][]byte, error)
}

// TraceOptions controls call-tree capture for one run, combining the
// per-request flag with the process-wide trace configuration.
type TraceOptions struct {
	Enabled  bool
	MaxDepth int
}

// MethodInvoker runs one method in the target process.
type MethodInvoker interface {
	Invoke(domain Domain, className, methodName string, args map[string]string, trace TraceOptions) (Invocation, error)
}

// ScriptEngine evaluates a script in the target process.
type ScriptEngine interface {
	Eval(domain Domain, script string) (Invocation, error)
}

// Invocation is the observable outcome of a method or script run.
type Invocation struct {
	// TypeName is the runtime type of the returned value.
	TypeName string

	// Printed is the rendered result.
	Printed string

	// Trace is the call-tree trace, when tracing was enabled.
	Trace string
}

// NotFoundResolver is a DomainResolver with no domains, useful as a default
// before the host process wires a real one.
type NotFoundResolver struct{}

func (NotFoundResolver) Resolve(identity string) (Domain, error) {
	return nil, fmt.Errorf("%w: %q", ErrDomainNotFound, identity)
}
