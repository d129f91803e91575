// Package traits models the optional capabilities of a device as small
// self-contained units. A trait knows the vendor command that queries it,
// whether the device's capability flags support it, and how to fold a
// reply into its typed state. Devices bind traits to their own send path
// at construction time, so a trait never knows which transport carries it.
package traits

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/openrovo/rovo/featureset"
)

// SendFunc issues one command to the device and returns the raw result
// payload. Devices inject their channel-backed implementation when
// building traits.
type SendFunc func(ctx context.Context, method string, params any) (json.RawMessage, error)

// Trait is one capability of a device.
type Trait interface {
	// Name identifies the trait for logging and lookups.
	Name() string

	// Command is the vendor method that queries the trait's state.
	Command() string

	// Supported reports whether the device's capability flags include
	// this trait.
	Supported(f featureset.Features) bool

	// Update folds a raw result payload into the trait's state and
	// notifies observers.
	Update(data json.RawMessage) error
}

// Builder constructs a trait bound to a send path.
type Builder func(send SendFunc) Trait

// Registry returns builders for every known trait. Devices instantiate
// all of them and filter by Supported against their own flags.
func Registry() []Builder {
	return []Builder{
		func(send SendFunc) Trait { return NewStatus(send) },
		func(send SendFunc) Trait { return NewDnD(send) },
		func(send SendFunc) Trait { return NewConsumables(send) },
		func(send SendFunc) Trait { return NewCleanSummary(send) },
		func(send SendFunc) Trait { return NewWashTowel(send) },
	}
}

// observers is the shared observer bookkeeping. Each trait wraps it with
// its own typed OnUpdate.
type observers[T any] struct {
	mu      sync.Mutex
	entries []*observerEntry[T]
}

type observerEntry[T any] struct {
	fn func(T)
}

func (o *observers[T]) add(fn func(T)) func() {
	entry := &observerEntry[T]{fn: fn}
	o.mu.Lock()
	o.entries = append(o.entries, entry)
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, e := range o.entries {
			if e == entry {
				o.entries = append(o.entries[:i:i], o.entries[i+1:]...)
				return
			}
		}
	}
}

func (o *observers[T]) notify(v T) {
	o.mu.Lock()
	entries := append([]*observerEntry[T](nil), o.entries...)
	o.mu.Unlock()
	for _, e := range entries {
		e.fn(v)
	}
}
