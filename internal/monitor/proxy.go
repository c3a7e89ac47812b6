package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/genricoloni/dropbeat/internal/domain"
	"github.com/godbus/dbus/v5"
)

// PlayerProxy is a live binding to one player's control interface.
// It caches PlaybackStatus and Metadata and forwards control calls.
type PlayerProxy struct {
	identity domain.PlayerIdentity
	bus      BusClient

	mu    sync.RWMutex
	owner string // unique bus name, e.g. ":1.45"
	props map[string]dbus.Variant
}

// newPlayerProxy loads the initial property cache. A player with no track
// loaded simply has no Metadata entry.
func newPlayerProxy(bus BusClient, identity domain.PlayerIdentity, owner string) (*PlayerProxy, error) {
	all, err := bus.GetAllProperties(string(identity), objectPath, playerInterface)
	if err != nil {
		return nil, fmt.Errorf("failed to load properties of %s: %w", identity, err)
	}

	p := &PlayerProxy{
		identity: identity,
		bus:      bus,
		owner:    owner,
		props:    make(map[string]dbus.Variant, 2),
	}
	for _, name := range []string{PropPlaybackStatus, PropMetadata} {
		if v, ok := all[name]; ok {
			p.props[name] = v
		}
	}
	return p, nil
}

// Identity returns the well-known bus name the proxy is bound to
func (p *PlayerProxy) Identity() domain.PlayerIdentity {
	return p.identity
}

// Owner returns the unique bus name currently owning the identity
func (p *PlayerProxy) Owner() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.owner
}

func (p *PlayerProxy) setOwner(owner string) {
	p.mu.Lock()
	p.owner = owner
	p.mu.Unlock()
}

// Properties returns a copy of the cached property bag
func (p *PlayerProxy) Properties() map[string]dbus.Variant {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]dbus.Variant, len(p.props))
	for k, v := range p.props {
		out[k] = v
	}
	return out
}

// apply merges a PropertiesChanged payload into the cache.
// It reports whether PlaybackStatus or Metadata was touched.
func (p *PlayerProxy) apply(changed map[string]dbus.Variant, invalidated []string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	touched := false
	for _, name := range []string{PropPlaybackStatus, PropMetadata} {
		if v, ok := changed[name]; ok {
			p.props[name] = v
			touched = true
		}
	}
	for _, name := range invalidated {
		if name == PropPlaybackStatus || name == PropMetadata {
			delete(p.props, name)
			touched = true
		}
	}
	return touched
}

// Call invokes one of the zero-argument control methods
func (p *PlayerProxy) Call(ctx context.Context, action domain.Action) error {
	method := playerInterface + "." + string(action)
	if err := p.bus.CallMethod(ctx, string(p.identity), objectPath, method); err != nil {
		return fmt.Errorf("%s on %s: %w", action, p.identity, err)
	}
	return nil
}

// matchOptions selects the PropertiesChanged signals of this player only
func (p *PlayerProxy) matchOptions() []dbus.MatchOption {
	return playerMatch(p.identity)
}

func playerMatch(identity domain.PlayerIdentity) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchSender(string(identity)),
		dbus.WithMatchObjectPath(objectPath),
		dbus.WithMatchInterface(propertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(0, playerInterface),
	}
}
