package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/dropbeat/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrWatcherClosed is returned when subscribing a watcher that was already torn down
var ErrWatcherClosed = errors.New("watcher already unsubscribed")

type watcherState int

const (
	stateIdle watcherState = iota
	stateSubscribed
	stateClosed
)

// Watcher tracks media players through NameOwnerChanged and their
// PropertiesChanged signals, keeping the Registry in sync and emitting
// PlayerEvents in bus order. A Watcher lives for one enable/disable cycle.
type Watcher struct {
	logger   *zap.Logger
	bus      BusClient
	registry *Registry

	events  chan domain.PlayerEvent
	signals chan *dbus.Signal

	mu              sync.Mutex
	state           watcherState
	stop            chan struct{}
	wg              sync.WaitGroup // signal loop and seeding
	lastDropWarning time.Time

	lifecycleMu sync.Mutex // serializes player start/stop handling
}

// NewWatcher creates a watcher feeding registry
func NewWatcher(logger *zap.Logger, bus BusClient, registry *Registry) *Watcher {
	return &Watcher{
		logger:   logger,
		bus:      bus,
		registry: registry,
		events:   make(chan domain.PlayerEvent, 32),
		signals:  make(chan *dbus.Signal, 32),
		stop:     make(chan struct{}),
	}
}

// Events returns the ordered stream of player lifecycle events.
// It is closed by Unsubscribe.
func (w *Watcher) Events() <-chan domain.PlayerEvent {
	return w.events
}

// Registry returns the registry this watcher maintains
func (w *Watcher) Registry() *Registry {
	return w.registry
}

// Players returns the registered players in sorted order
func (w *Watcher) Players() []domain.PlayerIdentity {
	return w.registry.Identities()
}

// Snapshot returns the normalized metadata of identity, or nil
func (w *Watcher) Snapshot(identity domain.PlayerIdentity) *domain.PlayerSnapshot {
	return w.registry.Snapshot(identity)
}

// Control forwards action to identity
func (w *Watcher) Control(ctx context.Context, identity domain.PlayerIdentity, action domain.Action) error {
	return w.registry.Control(ctx, identity, action)
}

func nameOwnerMatch() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchSender(busName),
		dbus.WithMatchInterface(busName),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg0Namespace(playerNamespace),
	}
}

// Subscribe registers the bus-wide ownership listener and starts dispatching signals
func (w *Watcher) Subscribe() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case stateSubscribed:
		return nil
	case stateClosed:
		return ErrWatcherClosed
	}

	if err := w.bus.AddMatchSignal(nameOwnerMatch()...); err != nil {
		return err
	}
	w.bus.Signal(w.signals)
	w.state = stateSubscribed

	w.wg.Add(1)
	go w.loop()

	w.logger.Info("Player tracking enabled via NameOwnerChanged")
	return nil
}

// Seed registers every player already on the bus and emits PlayerStarted
// for each newly added one. It returns the active players.
func (w *Watcher) Seed() []domain.PlayerIdentity {
	w.mu.Lock()
	if w.state != stateSubscribed {
		w.mu.Unlock()
		return nil
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	players := w.registry.ListActivePlayers()
	for _, id := range players {
		owner, err := w.bus.GetNameOwner(string(id))
		if err != nil {
			w.logger.Warn("Player vanished during discovery",
				zap.String("player", string(id)),
				zap.Error(err))
			continue
		}
		w.startPlayer(id, owner)
	}
	return w.registry.Identities()
}

// Unsubscribe removes every listener, drops every proxy and closes Events.
// It is safe to call more than once.
func (w *Watcher) Unsubscribe() error {
	w.mu.Lock()
	if w.state == stateClosed {
		w.mu.Unlock()
		return nil
	}
	wasSubscribed := w.state == stateSubscribed
	w.state = stateClosed
	close(w.stop)
	w.mu.Unlock()

	w.wg.Wait()

	var err error
	if wasSubscribed {
		w.bus.RemoveSignal(w.signals)
		err = multierr.Append(err, w.bus.RemoveMatchSignal(nameOwnerMatch()...))
	}

	w.lifecycleMu.Lock()
	for _, p := range w.registry.clear() {
		err = multierr.Append(err, w.bus.RemoveMatchSignal(p.matchOptions()...))
	}
	w.lifecycleMu.Unlock()

	close(w.events)

	w.logger.Info("Player tracking disabled")
	return err
}

// loop dispatches bus signals until Unsubscribe
func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stop:
			return
		case sig, ok := <-w.signals:
			if !ok {
				return
			}
			if sig == nil {
				continue
			}
			switch sig.Name {
			case nameOwnerChangedSignal:
				w.handleNameOwnerChanged(sig)
			case propertiesChangedSignal:
				w.handlePropertiesChanged(sig)
			}
		}
	}
}

// handleNameOwnerChanged processes NameOwnerChanged signals to track player lifecycle
func (w *Watcher) handleNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}

	name, ok := sig.Body[0].(string)
	if !ok || !strings.HasPrefix(name, domain.PlayerPrefix) {
		return
	}
	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)
	id := domain.PlayerIdentity(name)

	switch {
	case oldOwner == "" && newOwner != "":
		w.startPlayer(id, newOwner)
	case oldOwner != "" && newOwner == "":
		w.stopPlayer(id)
	case oldOwner != "" && newOwner != "":
		w.lifecycleMu.Lock()
		moved := w.registry.rekey(id, newOwner)
		w.lifecycleMu.Unlock()
		if !moved {
			// Not registered, e.g. its proxy failed earlier: retry under the new owner
			w.startPlayer(id, newOwner)
			return
		}
		w.logger.Debug("Player ownership changed",
			zap.String("player", name),
			zap.String("oldUnique", oldOwner),
			zap.String("newUnique", newOwner))
	}
}

// startPlayer creates the proxy, registers its property listener and emits PlayerStarted.
// Failures leave the player absent until its next ownership event.
func (w *Watcher) startPlayer(id domain.PlayerIdentity, owner string) {
	w.lifecycleMu.Lock()
	if w.registry.Get(id) != nil {
		w.lifecycleMu.Unlock()
		return
	}

	// Listen before loading the cache so no change slips in between
	if err := w.bus.AddMatchSignal(playerMatch(id)...); err != nil {
		w.lifecycleMu.Unlock()
		w.logger.Warn("Failed to listen to player properties",
			zap.String("player", string(id)),
			zap.Error(err))
		return
	}

	if _, err := w.registry.add(id, owner); err != nil {
		if rmErr := w.bus.RemoveMatchSignal(playerMatch(id)...); rmErr != nil {
			w.logger.Debug("Failed to remove match rule", zap.Error(rmErr))
		}
		w.lifecycleMu.Unlock()
		w.logger.Warn("Failed to create player proxy",
			zap.String("player", string(id)),
			zap.Error(err))
		return
	}
	w.lifecycleMu.Unlock()

	w.logger.Info("MPRIS player detected",
		zap.String("player", string(id)),
		zap.String("unique", owner))
	w.emit(domain.PlayerEvent{Kind: domain.PlayerStarted, Player: id})
}

// stopPlayer drops the proxy and its listener, then emits PlayerStopped
func (w *Watcher) stopPlayer(id domain.PlayerIdentity) {
	w.lifecycleMu.Lock()
	p, ok := w.registry.remove(id)
	if ok {
		if err := w.bus.RemoveMatchSignal(p.matchOptions()...); err != nil {
			w.logger.Debug("Failed to remove match rule",
				zap.String("player", string(id)),
				zap.Error(err))
		}
	}
	w.lifecycleMu.Unlock()

	w.logger.Info("MPRIS player removed", zap.String("player", string(id)))
	w.emit(domain.PlayerEvent{Kind: domain.PlayerStopped, Player: id})
}

// handlePropertiesChanged updates the sender's cache and emits PlayerChanged
func (w *Watcher) handlePropertiesChanged(sig *dbus.Signal) {
	// PropertiesChanged signal has 3 arguments:
	// 1. Interface name (string)
	// 2. Changed properties (map[string]Variant)
	// 3. Invalidated properties ([]string)
	if len(sig.Body) < 2 || sig.Path != objectPath {
		return
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != playerInterface {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	var invalidated []string
	if len(sig.Body) > 2 {
		invalidated, _ = sig.Body[2].([]string)
	}

	p := w.registry.ByOwner(sig.Sender)
	if p == nil {
		return
	}
	if !p.apply(changed, invalidated) {
		return
	}

	w.logger.Debug("Player properties changed",
		zap.String("player", string(p.Identity())),
		zap.Int("properties", len(changed)))
	w.emit(domain.PlayerEvent{Kind: domain.PlayerChanged, Player: p.Identity()})
}

// emit delivers ev in order. A full channel is waited on, not dropped,
// because losing a start or stop would desync the consumer.
func (w *Watcher) emit(ev domain.PlayerEvent) {
	select {
	case w.events <- ev:
		return
	default:
	}

	w.logChannelFullWarning()
	select {
	case w.events <- ev:
	case <-w.stop:
	}
}

// logChannelFullWarning logs a warning about channel being full, but rate-limited
func (w *Watcher) logChannelFullWarning() {
	w.mu.Lock()
	defer w.mu.Unlock()

	const warningInterval = 5 * time.Second
	now := time.Now()
	if now.Sub(w.lastDropWarning) >= warningInterval {
		w.logger.Warn("Events channel full, waiting for consumer")
		w.lastDropWarning = now
	}
}
