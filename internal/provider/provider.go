// Package provider defines the Provider contract and a small name-keyed
// constructor registry. Exactly one provider is active per broker
// instance.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnrecognisedReference is returned by ParseReference when the
// provider cannot decompose the given string into (container, item,
// field).
var ErrUnrecognisedReference = errors.New("unrecognised reference")

// ErrNotFound is returned (wrapped or not) by Fetch when reference
// parses cleanly but names no stored value. Callers use this to tell a
// permanent miss apart from a transient backend error worth retrying.
var ErrNotFound = errors.New("secret not found")

// Reference is the parsed (container, item, field) triple. Only Container
// carries semantic meaning to the broker (open/gated classification);
// Item and Field are opaque strings threaded through to audit records and
// the standing-approval matcher.
type Reference struct {
	Container string
	Item      string
	Field     string
}

// Provider is the uniform contract over arbitrary secret backends.
// Implementations are stateless across calls from the broker's
// perspective: any backend connection handles are owned internally.
type Provider interface {
	// ParseReference decomposes a raw reference string. It returns
	// ErrUnrecognisedReference (wrapped or not) when the string does not
	// belong to this provider's reference grammar.
	ParseReference(reference string) (Reference, error)

	// Fetch retrieves the value named by reference. elevated is true for
	// every gated read (standing approval, or cache miss followed by
	// operator approval) and signals the provider to use its
	// separately stored, higher-privilege credential.
	Fetch(ctx context.Context, reference string, elevated bool) (string, error)

	// Validate is called once at startup; a non-nil error is fatal (the
	// process exits non-zero naming the provider).
	Validate(ctx context.Context) error
}

// Constructor builds a Provider from its nested configuration document
// (already decoded into a map by internal/config).
type Constructor func(config map[string]interface{}) (Provider, error)

var (
	registryMu sync.Mutex
	registry   = make(map[string]Constructor)
)

// Register adds a named provider constructor to the startup registry.
// Intended to be called from an init() in the package implementing a
// concrete provider (e.g. internal/provider/sqlitevault).
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// New constructs the named provider. Returns an error if no provider was
// registered under that name.
func New(name string, config map[string]interface{}) (Provider, error) {
	registryMu.Lock()
	ctor, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return ctor(config)
}
