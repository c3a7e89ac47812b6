package monitor

import (
	"context"

	"github.com/godbus/dbus/v5"
)

const (
	objectPath          = "/org/mpris/MediaPlayer2"
	playerInterface     = "org.mpris.MediaPlayer2.Player"
	propertiesInterface = "org.freedesktop.DBus.Properties"
	busName             = "org.freedesktop.DBus"
	playerNamespace     = "org.mpris.MediaPlayer2"

	nameOwnerChangedSignal  = "org.freedesktop.DBus.NameOwnerChanged"
	propertiesChangedSignal = "org.freedesktop.DBus.Properties.PropertiesChanged"

	// PropPlaybackStatus is the cached playback status property
	PropPlaybackStatus = "PlaybackStatus"
	// PropMetadata is the cached metadata dictionary property
	PropMetadata = "Metadata"
)

// BusClient defines the interface for session bus operations.
// This abstraction allows us to mock D-Bus interactions in tests.
//
//go:generate mockgen -destination=mocks/bus_client_mock.go -package=mocks github.com/genricoloni/dropbeat/internal/monitor BusClient
type BusClient interface {
	// Close closes the D-Bus connection
	Close() error

	// AddMatchSignal adds a signal match rule
	AddMatchSignal(options ...dbus.MatchOption) error

	// RemoveMatchSignal removes a match rule previously added with the same options
	RemoveMatchSignal(options ...dbus.MatchOption) error

	// Signal registers a channel to receive D-Bus signals
	Signal(ch chan<- *dbus.Signal)

	// RemoveSignal unregisters a channel passed to Signal
	RemoveSignal(ch chan<- *dbus.Signal)

	// ListNames returns all names on the bus
	ListNames() ([]string, error)

	// GetNameOwner returns the unique name that owns the given well-known name
	GetNameOwner(name string) (string, error)

	// GetAllProperties returns every property of iface on the object at path
	GetAllProperties(dest, path, iface string) (map[string]dbus.Variant, error)

	// CallMethod invokes a zero-argument method such as
	// "org.mpris.MediaPlayer2.Player.PlayPause"
	CallMethod(ctx context.Context, dest, path, method string) error
}

// StdBusClient is the real implementation using godbus
type StdBusClient struct {
	conn *dbus.Conn
}

// NewStdBusClient opens a private connection to the session bus
func NewStdBusClient() (*StdBusClient, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	return &StdBusClient{conn: conn}, nil
}

// Close closes the D-Bus connection
func (c *StdBusClient) Close() error {
	return c.conn.Close()
}

// AddMatchSignal adds a signal match rule
func (c *StdBusClient) AddMatchSignal(options ...dbus.MatchOption) error {
	return c.conn.AddMatchSignal(options...)
}

// RemoveMatchSignal removes a signal match rule
func (c *StdBusClient) RemoveMatchSignal(options ...dbus.MatchOption) error {
	return c.conn.RemoveMatchSignal(options...)
}

// Signal registers a channel to receive D-Bus signals
func (c *StdBusClient) Signal(ch chan<- *dbus.Signal) {
	c.conn.Signal(ch)
}

// RemoveSignal unregisters a signal channel
func (c *StdBusClient) RemoveSignal(ch chan<- *dbus.Signal) {
	c.conn.RemoveSignal(ch)
}

// ListNames returns all names on the bus
func (c *StdBusClient) ListNames() ([]string, error) {
	var names []string
	err := c.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names)
	return names, err
}

// GetNameOwner returns the unique name that owns the given well-known name
func (c *StdBusClient) GetNameOwner(name string) (string, error) {
	var owner string
	err := c.conn.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, name).Store(&owner)
	return owner, err
}

// GetAllProperties fetches the whole property bag of one interface
func (c *StdBusClient) GetAllProperties(dest, path, iface string) (map[string]dbus.Variant, error) {
	props := make(map[string]dbus.Variant)
	obj := c.conn.Object(dest, dbus.ObjectPath(path))
	err := obj.Call(propertiesInterface+".GetAll", 0, iface).Store(&props)
	return props, err
}

// CallMethod invokes a zero-argument method and waits for the reply
func (c *StdBusClient) CallMethod(ctx context.Context, dest, path, method string) error {
	obj := c.conn.Object(dest, dbus.ObjectPath(path))
	return obj.CallWithContext(ctx, method, 0).Err
}
