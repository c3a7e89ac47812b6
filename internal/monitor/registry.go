package monitor

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/genricoloni/dropbeat/internal/domain"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ErrPlayerNotFound is returned when controlling a player that is not registered
var ErrPlayerNotFound = errors.New("player not found")

// Registry maps active player identities to their proxies.
// It is the only place proxies are created or dropped.
type Registry struct {
	logger *zap.Logger
	bus    BusClient

	mu      sync.RWMutex
	proxies map[domain.PlayerIdentity]*PlayerProxy
	owners  map[string]domain.PlayerIdentity // unique bus name -> identity
}

// NewRegistry creates an empty registry bound to a bus connection
func NewRegistry(logger *zap.Logger, bus BusClient) *Registry {
	return &Registry{
		logger:  logger,
		bus:     bus,
		proxies: make(map[domain.PlayerIdentity]*PlayerProxy),
		owners:  make(map[string]domain.PlayerIdentity),
	}
}

// ListActivePlayers queries the bus for every name in the media-player namespace.
// A failed query yields an empty list: no players is a valid steady state.
func (r *Registry) ListActivePlayers() []domain.PlayerIdentity {
	names, err := r.bus.ListNames()
	if err != nil {
		r.logger.Warn("Failed to list bus names", zap.Error(err))
		return []domain.PlayerIdentity{}
	}

	players := lo.FilterMap(names, func(name string, _ int) (domain.PlayerIdentity, bool) {
		return domain.PlayerIdentity(name), domain.IsPlayer(name)
	})
	slices.Sort(players)

	r.logger.Debug("Player discovery complete", zap.Int("count", len(players)))
	return players
}

// Get returns the live proxy for identity, or nil
func (r *Registry) Get(identity domain.PlayerIdentity) *PlayerProxy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.proxies[identity]
}

// ByOwner resolves a unique bus name (signal sender) to its proxy, or nil
func (r *Registry) ByOwner(owner string) *PlayerProxy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.owners[owner]
	if !ok {
		return nil
	}
	return r.proxies[identity]
}

// Identities returns the registered players in sorted order
func (r *Registry) Identities() []domain.PlayerIdentity {
	r.mu.RLock()
	ids := lo.Keys(r.proxies)
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Len returns the number of live proxies
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.proxies)
}

// add creates and stores a proxy. An existing entry is replaced.
func (r *Registry) add(identity domain.PlayerIdentity, owner string) (*PlayerProxy, error) {
	p, err := newPlayerProxy(r.bus, identity, owner)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if old, ok := r.proxies[identity]; ok {
		delete(r.owners, old.Owner())
	}
	r.proxies[identity] = p
	if owner != "" {
		r.owners[owner] = identity
	}
	r.mu.Unlock()

	return p, nil
}

// remove drops the proxy for identity and reports whether one existed
func (r *Registry) remove(identity domain.PlayerIdentity) (*PlayerProxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.proxies[identity]
	if !ok {
		return nil, false
	}
	delete(r.proxies, identity)
	delete(r.owners, p.Owner())
	return p, true
}

// rekey records an ownership transfer of identity to newOwner
func (r *Registry) rekey(identity domain.PlayerIdentity, newOwner string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.proxies[identity]
	if !ok {
		return false
	}
	delete(r.owners, p.Owner())
	p.setOwner(newOwner)
	r.owners[newOwner] = identity
	return true
}

// clear drops every proxy and returns them
func (r *Registry) clear() []*PlayerProxy {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := lo.Values(r.proxies)
	r.proxies = make(map[domain.PlayerIdentity]*PlayerProxy)
	r.owners = make(map[string]domain.PlayerIdentity)
	return out
}

// Snapshot normalizes the cached properties of identity.
// Missing players, missing metadata and normalization failures all yield nil.
func (r *Registry) Snapshot(identity domain.PlayerIdentity) *domain.PlayerSnapshot {
	p := r.Get(identity)
	if p == nil {
		return nil
	}

	snap, err := Normalize(p.Properties())
	if err != nil {
		r.logger.Warn("Failed to normalize player metadata",
			zap.String("player", string(identity)),
			zap.Error(err))
		return nil
	}
	return snap
}

// Control invokes action on identity's proxy
func (r *Registry) Control(ctx context.Context, identity domain.PlayerIdentity, action domain.Action) error {
	p := r.Get(identity)
	if p == nil {
		return ErrPlayerNotFound
	}
	return p.Call(ctx, action)
}
