package monitor

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/genricoloni/dropbeat/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// fakeBus is an in-memory session bus: enough state to exercise the
// watcher without gomock expectations for every call.
type fakeBus struct {
	mu         sync.Mutex
	owners     map[string]string // well-known -> unique
	props      map[string]map[string]dbus.Variant
	failGetAll map[string]error
	matches    map[string]int
	calls      []string
	signals    chan<- *dbus.Signal
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		owners:     make(map[string]string),
		props:      make(map[string]map[string]dbus.Variant),
		failGetAll: make(map[string]error),
		matches:    make(map[string]int),
	}
}

func (f *fakeBus) addPlayer(name, owner string, props map[string]dbus.Variant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owners[name] = owner
	f.props[name] = props
}

func (f *fakeBus) activeMatches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.matches {
		n += c
	}
	return n
}

func (f *fakeBus) Close() error { return nil }

func (f *fakeBus) AddMatchSignal(options ...dbus.MatchOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches[fmt.Sprint(options)]++
	return nil
}

func (f *fakeBus) RemoveMatchSignal(options ...dbus.MatchOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprint(options)
	if f.matches[key] == 0 {
		return fmt.Errorf("no such match rule")
	}
	f.matches[key]--
	return nil
}

func (f *fakeBus) Signal(ch chan<- *dbus.Signal) {
	f.mu.Lock()
	f.signals = ch
	f.mu.Unlock()
}

func (f *fakeBus) RemoveSignal(chan<- *dbus.Signal) {
	f.mu.Lock()
	f.signals = nil
	f.mu.Unlock()
}

func (f *fakeBus) ListNames() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := []string{"org.freedesktop.DBus", ":1.1", "com.example.OtherApp"}
	for name := range f.owners {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeBus) GetNameOwner(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, ok := f.owners[name]
	if !ok {
		return "", fmt.Errorf("name has no owner")
	}
	return owner, nil
}

func (f *fakeBus) GetAllProperties(dest, _, _ string) (map[string]dbus.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failGetAll[dest]; err != nil {
		return nil, err
	}
	out := make(map[string]dbus.Variant)
	for k, v := range f.props[dest] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeBus) CallMethod(_ context.Context, dest, _, method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dest+" "+method)
	return nil
}

// send delivers a signal as if it came from the bus
func (f *fakeBus) send(sig *dbus.Signal) {
	f.mu.Lock()
	ch := f.signals
	f.mu.Unlock()
	ch <- sig
}

func nameOwnerChanged(name, oldOwner, newOwner string) *dbus.Signal {
	return &dbus.Signal{
		Sender: "org.freedesktop.DBus",
		Path:   "/org/freedesktop/DBus",
		Name:   nameOwnerChangedSignal,
		Body:   []interface{}{name, oldOwner, newOwner},
	}
}

func propertiesChanged(sender string, changed map[string]dbus.Variant, invalidated []string) *dbus.Signal {
	return &dbus.Signal{
		Sender: sender,
		Path:   objectPath,
		Name:   propertiesChangedSignal,
		Body:   []interface{}{playerInterface, changed, invalidated},
	}
}

func newTestWatcher(bus BusClient) *Watcher {
	return NewWatcher(zap.NewNop(), bus, NewRegistry(zap.NewNop(), bus))
}

func expectEvent(t *testing.T, w *Watcher, want domain.PlayerEvent) {
	t.Helper()
	select {
	case ev := <-w.Events():
		if ev != want {
			t.Errorf("expected %v %s, got %v %s", want.Kind, want.Player, ev.Kind, ev.Player)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for %v %s", want.Kind, want.Player)
	}
}

func expectNoEvent(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Errorf("unexpected event %v %s", ev.Kind, ev.Player)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestHandleNameOwnerChanged verifies player lifecycle tracking
func TestHandleNameOwnerChanged(t *testing.T) {
	const spotify = "org.mpris.MediaPlayer2.spotify"

	tests := []struct {
		name        string
		preStarted  bool
		signalBody  []interface{}
		expectAlive bool
		expectEvent *domain.EventKind
	}{
		{
			name:        "New Player Appears",
			signalBody:  []interface{}{spotify, "", ":1.50"},
			expectAlive: true,
			expectEvent: ptr(domain.PlayerStarted),
		},
		{
			name:        "Player Disappears",
			preStarted:  true,
			signalBody:  []interface{}{spotify, ":1.50", ""},
			expectAlive: false,
			expectEvent: ptr(domain.PlayerStopped),
		},
		{
			name:        "Ownership Transfer",
			preStarted:  true,
			signalBody:  []interface{}{spotify, ":1.50", ":1.77"},
			expectAlive: true,
		},
		{
			name:       "Non-MPRIS Service Ignored",
			signalBody: []interface{}{"com.example.service", "", ":1.99"},
		},
		{
			name:       "Bare Namespace Is Not A Player",
			signalBody: []interface{}{"org.mpris.MediaPlayer2", "", ":1.99"},
		},
		{
			name:       "Short Body",
			signalBody: []interface{}{spotify, ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newFakeBus()
			bus.addPlayer(spotify, ":1.50", map[string]dbus.Variant{})
			w := newTestWatcher(bus)

			if tt.preStarted {
				w.startPlayer(spotify, ":1.50")
				<-w.Events()
			}
			before := bus.activeMatches()

			w.handleNameOwnerChanged(&dbus.Signal{Name: nameOwnerChangedSignal, Body: tt.signalBody})

			alive := w.Registry().Get(spotify) != nil
			if alive != tt.expectAlive {
				t.Errorf("expected alive=%v, got %v", tt.expectAlive, alive)
			}
			if tt.expectEvent != nil {
				expectEvent(t, w, domain.PlayerEvent{Kind: *tt.expectEvent, Player: spotify})
			} else {
				expectNoEvent(t, w)
				if w.Registry().Len() != boolToInt(tt.preStarted) {
					t.Errorf("registry mutated: %v", w.Registry().Identities())
				}
				if bus.activeMatches() != before {
					t.Errorf("match rules changed: %d -> %d", before, bus.activeMatches())
				}
			}
		})
	}
}

func TestOwnershipTransfer_Rekeys(t *testing.T) {
	bus := newFakeBus()
	bus.addPlayer("org.mpris.MediaPlayer2.vlc", ":1.10", map[string]dbus.Variant{})
	w := newTestWatcher(bus)
	w.startPlayer("org.mpris.MediaPlayer2.vlc", ":1.10")
	<-w.Events()

	w.handleNameOwnerChanged(nameOwnerChanged("org.mpris.MediaPlayer2.vlc", ":1.10", ":1.11"))

	if w.Registry().ByOwner(":1.10") != nil {
		t.Error("old owner should no longer resolve")
	}
	p := w.Registry().ByOwner(":1.11")
	if p == nil || p.Identity() != "org.mpris.MediaPlayer2.vlc" {
		t.Errorf("new owner should resolve to vlc, got %v", p)
	}
}

func TestStartPlayer_ProxyFailureLeavesPlayerAbsent(t *testing.T) {
	const name = "org.mpris.MediaPlayer2.broken"
	bus := newFakeBus()
	bus.addPlayer(name, ":1.5", nil)
	bus.failGetAll[name] = fmt.Errorf("no such interface")
	w := newTestWatcher(bus)

	w.handleNameOwnerChanged(nameOwnerChanged(name, "", ":1.5"))

	if w.Registry().Get(name) != nil {
		t.Error("player with failed proxy must be absent")
	}
	if bus.activeMatches() != 0 {
		t.Errorf("property listener should be rolled back, %d rules left", bus.activeMatches())
	}
	expectNoEvent(t, w)

	// The next ownership event retries
	delete(bus.failGetAll, name)
	w.handleNameOwnerChanged(nameOwnerChanged(name, ":1.5", ""))
	expectEvent(t, w, domain.PlayerEvent{Kind: domain.PlayerStopped, Player: name})
	w.handleNameOwnerChanged(nameOwnerChanged(name, "", ":1.6"))
	expectEvent(t, w, domain.PlayerEvent{Kind: domain.PlayerStarted, Player: name})
}

func TestOwnershipTransfer_StartsUnregisteredPlayer(t *testing.T) {
	const name = "org.mpris.MediaPlayer2.broken"
	bus := newFakeBus()
	bus.addPlayer(name, ":1.5", map[string]dbus.Variant{})
	bus.failGetAll[name] = fmt.Errorf("no such interface")
	w := newTestWatcher(bus)

	w.handleNameOwnerChanged(nameOwnerChanged(name, "", ":1.5"))
	expectNoEvent(t, w)

	delete(bus.failGetAll, name)
	w.handleNameOwnerChanged(nameOwnerChanged(name, ":1.5", ":1.6"))

	expectEvent(t, w, domain.PlayerEvent{Kind: domain.PlayerStarted, Player: name})
	p := w.Registry().ByOwner(":1.6")
	if p == nil || p.Identity() != name {
		t.Errorf("expected %s registered under :1.6, got %v", name, p)
	}
	if bus.activeMatches() != 1 {
		t.Errorf("expected one property listener, got %d", bus.activeMatches())
	}
}

// TestHandlePropertiesChanged verifies cache updates and change filtering
func TestHandlePropertiesChanged(t *testing.T) {
	const name = "org.mpris.MediaPlayer2.spotify"

	tests := []struct {
		name        string
		signal      *dbus.Signal
		expectEvent bool
		check       func(*testing.T, *PlayerProxy)
	}{
		{
			name: "Metadata Change",
			signal: propertiesChanged(":1.100", map[string]dbus.Variant{
				PropMetadata: dbus.MakeVariant(map[string]dbus.Variant{
					keyTitle: dbus.MakeVariant("Bohemian Rhapsody"),
				}),
			}, nil),
			expectEvent: true,
			check: func(t *testing.T, p *PlayerProxy) {
				snap, _ := Normalize(p.Properties())
				if snap == nil || snap.Title != "Bohemian Rhapsody" {
					t.Errorf("cache not updated: %+v", snap)
				}
			},
		},
		{
			name:        "Status Change",
			signal:      propertiesChanged(":1.100", map[string]dbus.Variant{PropPlaybackStatus: dbus.MakeVariant("Paused")}, nil),
			expectEvent: true,
			check: func(t *testing.T, p *PlayerProxy) {
				if s, _ := p.Properties()[PropPlaybackStatus].Value().(string); s != "Paused" {
					t.Errorf("expected Paused, got %q", s)
				}
			},
		},
		{
			name:        "Metadata Invalidated",
			signal:      propertiesChanged(":1.100", map[string]dbus.Variant{}, []string{PropMetadata}),
			expectEvent: true,
			check: func(t *testing.T, p *PlayerProxy) {
				if _, ok := p.Properties()[PropMetadata]; ok {
					t.Error("invalidated metadata should leave the cache")
				}
			},
		},
		{
			name:   "Unrelated Property",
			signal: propertiesChanged(":1.100", map[string]dbus.Variant{"Volume": dbus.MakeVariant(0.5)}, nil),
		},
		{
			name:   "Unknown Sender",
			signal: propertiesChanged(":1.999", map[string]dbus.Variant{PropPlaybackStatus: dbus.MakeVariant("Paused")}, nil),
		},
		{
			name: "Wrong Interface",
			signal: &dbus.Signal{
				Sender: ":1.100",
				Path:   objectPath,
				Name:   propertiesChangedSignal,
				Body:   []interface{}{"org.mpris.MediaPlayer2", map[string]dbus.Variant{PropPlaybackStatus: dbus.MakeVariant("Paused")}, []string{}},
			},
		},
		{
			name: "Short Body",
			signal: &dbus.Signal{
				Sender: ":1.100",
				Path:   objectPath,
				Name:   propertiesChangedSignal,
				Body:   []interface{}{playerInterface},
			},
		},
		{
			name: "Invalid Changed Type",
			signal: &dbus.Signal{
				Sender: ":1.100",
				Path:   objectPath,
				Name:   propertiesChangedSignal,
				Body:   []interface{}{playerInterface, 12345, []string{}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newFakeBus()
			bus.addPlayer(name, ":1.100", map[string]dbus.Variant{
				PropPlaybackStatus: dbus.MakeVariant("Playing"),
				PropMetadata:       dbus.MakeVariant(map[string]dbus.Variant{keyTitle: dbus.MakeVariant("Old")}),
				"Volume":           dbus.MakeVariant(1.0),
			})
			w := newTestWatcher(bus)
			w.startPlayer(name, ":1.100")
			<-w.Events()

			w.handlePropertiesChanged(tt.signal)

			if tt.expectEvent {
				expectEvent(t, w, domain.PlayerEvent{Kind: domain.PlayerChanged, Player: name})
			} else {
				expectNoEvent(t, w)
			}
			if tt.check != nil {
				tt.check(t, w.Registry().Get(name))
			}
		})
	}
}

func TestProxy_CachesOnlyTrackedProperties(t *testing.T) {
	bus := newFakeBus()
	bus.addPlayer("org.mpris.MediaPlayer2.vlc", ":1.2", map[string]dbus.Variant{
		PropPlaybackStatus: dbus.MakeVariant("Stopped"),
		"Volume":           dbus.MakeVariant(1.0),
		"Position":         dbus.MakeVariant(int64(10)),
	})

	p, err := newPlayerProxy(bus, "org.mpris.MediaPlayer2.vlc", ":1.2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	props := p.Properties()
	if len(props) != 1 {
		t.Errorf("expected only PlaybackStatus cached, got %v", props)
	}
	if p.Owner() != ":1.2" {
		t.Errorf("expected owner :1.2, got %s", p.Owner())
	}
}

// TestWatcher_SubscribeLifecycle drives the signal loop end to end:
// start X, query, stop X, unsubscribe.
func TestWatcher_SubscribeLifecycle(t *testing.T) {
	const foo = "org.mpris.MediaPlayer2.Foo"
	bus := newFakeBus()
	w := newTestWatcher(bus)

	if err := w.Subscribe(); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if w.Registry().Get(foo) != nil {
		t.Fatal("registry must not contain Foo before it starts")
	}

	bus.addPlayer(foo, ":1.42", map[string]dbus.Variant{
		PropPlaybackStatus: dbus.MakeVariant("Playing"),
		PropMetadata: dbus.MakeVariant(map[string]dbus.Variant{
			keyTitle:  dbus.MakeVariant("X"),
			keyArtist: dbus.MakeVariant([]string{"Y"}),
			keyLength: dbus.MakeVariant(int64(207_000_000)),
		}),
	})
	bus.send(nameOwnerChanged(foo, "", ":1.42"))
	expectEvent(t, w, domain.PlayerEvent{Kind: domain.PlayerStarted, Player: foo})

	if !slices.Contains(w.Registry().ListActivePlayers(), domain.PlayerIdentity(foo)) {
		t.Error("ListActivePlayers should include Foo")
	}
	snap := w.Registry().Snapshot(foo)
	if snap == nil || snap.Title != "X" || snap.Seconds == nil || *snap.Seconds != 207 || snap.Status != domain.StatusPlaying {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	bus.send(propertiesChanged(":1.42", map[string]dbus.Variant{PropPlaybackStatus: dbus.MakeVariant("Paused")}, nil))
	expectEvent(t, w, domain.PlayerEvent{Kind: domain.PlayerChanged, Player: foo})

	bus.send(nameOwnerChanged(foo, ":1.42", ""))
	expectEvent(t, w, domain.PlayerEvent{Kind: domain.PlayerStopped, Player: foo})
	if w.Registry().Get(foo) != nil {
		t.Error("registry must not contain Foo after it stops")
	}

	if err := w.Unsubscribe(); err != nil {
		t.Errorf("unsubscribe failed: %v", err)
	}
	if _, ok := <-w.Events(); ok {
		t.Error("events channel should be closed")
	}
	if bus.activeMatches() != 0 {
		t.Errorf("expected no match rules left, got %d", bus.activeMatches())
	}
}

func TestWatcher_UnsubscribeDropsEverything(t *testing.T) {
	bus := newFakeBus()
	bus.addPlayer("org.mpris.MediaPlayer2.a", ":1.1", map[string]dbus.Variant{})
	bus.addPlayer("org.mpris.MediaPlayer2.b", ":1.2", map[string]dbus.Variant{})
	w := newTestWatcher(bus)

	if err := w.Subscribe(); err != nil {
		t.Fatal(err)
	}
	seeded := w.Seed()
	if len(seeded) != 2 {
		t.Fatalf("expected 2 seeded players, got %v", seeded)
	}

	if err := w.Unsubscribe(); err != nil {
		t.Errorf("unsubscribe failed: %v", err)
	}
	if err := w.Unsubscribe(); err != nil {
		t.Errorf("second unsubscribe should be a no-op, got %v", err)
	}
	if w.Registry().Len() != 0 {
		t.Errorf("expected zero live proxies, got %d", w.Registry().Len())
	}
	if bus.activeMatches() != 0 {
		t.Errorf("expected zero match rules, got %d", bus.activeMatches())
	}
	if err := w.Subscribe(); err != ErrWatcherClosed {
		t.Errorf("expected ErrWatcherClosed, got %v", err)
	}
}

func TestWatcher_SeedIsIdempotent(t *testing.T) {
	bus := newFakeBus()
	bus.addPlayer("org.mpris.MediaPlayer2.a", ":1.1", map[string]dbus.Variant{})
	w := newTestWatcher(bus)
	if err := w.Subscribe(); err != nil {
		t.Fatal(err)
	}
	defer w.Unsubscribe()

	w.Seed()
	expectEvent(t, w, domain.PlayerEvent{Kind: domain.PlayerStarted, Player: "org.mpris.MediaPlayer2.a"})
	w.Seed()
	expectNoEvent(t, w)

	if bus.activeMatches() != 2 { // NameOwnerChanged + one player
		t.Errorf("expected 2 match rules, got %d", bus.activeMatches())
	}
}

func ptr[T any](v T) *T { return &v }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
