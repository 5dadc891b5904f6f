// Package channel defines the Channel contract and a name-keyed
// constructor registry, mirroring internal/provider's shape.
// Any number of channels may be active simultaneously.
package channel

import (
	"context"
	"fmt"
	"sync"
)

// Prompt carries everything a channel needs to render an approval prompt.
type Prompt struct {
	RequestID string
	Item      string
	Field     string
	Container string
	Reason    string
}

// Outcome carries everything a channel needs to update a previously sent
// prompt in place once the request is resolved.
type Outcome struct {
	Item      string
	Field     string
	Container string
	Approved  bool
}

// Channel is the uniform contract over notification backends.
type Channel interface {
	// SendPrompt delivers an approval prompt and returns an opaque
	// message handle for later use by UpdateOutcome. An error means this
	// channel failed to deliver (audited as channel_error; the request
	// proceeds as long as some other channel succeeded).
	SendPrompt(ctx context.Context, p Prompt) (messageHandle string, err error)

	// UpdateOutcome best-effort edits/replies to a previously sent
	// prompt to reflect the final outcome. The orchestrator logs a
	// returned error as a warning and otherwise ignores it.
	UpdateOutcome(ctx context.Context, messageHandle string, o Outcome) error

	// Validate is called once at startup for each configured channel.
	Validate(ctx context.Context) error
}

// Constructor builds a Channel from its nested configuration document.
type Constructor func(config map[string]interface{}) (Channel, error)

var (
	registryMu sync.Mutex
	registry   = make(map[string]Constructor)
)

// Register adds a named channel constructor to the startup registry.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// New constructs the named channel.
func New(name string, config map[string]interface{}) (Channel, error) {
	registryMu.Lock()
	ctor, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", name)
	}
	return ctor(config)
}
