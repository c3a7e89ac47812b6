package main

import (
	"errors"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/quarckster/go-mpris-server/pkg/types"
)

const (
	playerName = "MockPlayer"
	trackPath  = "/org/dropbeat/MockPlayer/Track/1"

	trackSeconds = 207
	mockArtURL   = "https://external-content.duckduckgo.com/iu/?u=https%3A%2F%2Ftse3.mm." +
		"bing.net%2Fth%2Fid%2FOIP.kVjNx2oThEosDC-GPybDPQHaHa%3Fpid%3DApi&f=1&ipt=" +
		"c808b452cde05f49638bef772359332dd1aa2c16bfacb1bd03d2bc4efb6d723d&ipo=images"
)

var (
	_ types.OrgMprisMediaPlayer2Adapter       = (*mockPlayer)(nil)
	_ types.OrgMprisMediaPlayer2PlayerAdapter = (*mockPlayer)(nil)
)

var errNotSupported = errors.New("not supported")

// mockPlayer serves one fixed track. Only PlayPause changes state.
type mockPlayer struct {
	// onStatus is called after the playback status changes
	onStatus func()

	mu      sync.Mutex
	playing bool
}

func newMockPlayer() *mockPlayer {
	return &mockPlayer{playing: true}
}

func (m *mockPlayer) setPlaying(playing bool) {
	m.update(func(bool) bool { return playing })
}

func (m *mockPlayer) update(next func(playing bool) bool) {
	m.mu.Lock()
	playing := next(m.playing)
	changed := m.playing != playing
	m.playing = playing
	m.mu.Unlock()

	// The handler reads PlaybackStatus back, so mu must be released
	if changed && m.onStatus != nil {
		m.onStatus()
	}
}

func (m *mockPlayer) isPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// OrgMprisMediaPlayer2Adapter implementation

func (m *mockPlayer) Identity() (string, error) {
	return playerName, nil
}

func (m *mockPlayer) CanQuit() (bool, error) {
	return false, nil
}

func (m *mockPlayer) Quit() error {
	return errNotSupported
}

func (m *mockPlayer) CanRaise() (bool, error) {
	return false, nil
}

func (m *mockPlayer) Raise() error {
	return errNotSupported
}

func (m *mockPlayer) HasTrackList() (bool, error) {
	return false, nil
}

func (m *mockPlayer) SupportedUriSchemes() ([]string, error) {
	return nil, nil
}

func (m *mockPlayer) SupportedMimeTypes() ([]string, error) {
	return nil, nil
}

// OrgMprisMediaPlayer2PlayerAdapter implementation

func (m *mockPlayer) Next() error {
	return nil
}

func (m *mockPlayer) Previous() error {
	return nil
}

func (m *mockPlayer) Pause() error {
	m.setPlaying(false)
	return nil
}

func (m *mockPlayer) PlayPause() error {
	m.update(func(playing bool) bool { return !playing })
	return nil
}

func (m *mockPlayer) Stop() error {
	m.setPlaying(false)
	return nil
}

func (m *mockPlayer) Play() error {
	m.setPlaying(true)
	return nil
}

func (m *mockPlayer) Seek(offset types.Microseconds) error {
	return errNotSupported
}

func (m *mockPlayer) SetPosition(trackId string, position types.Microseconds) error {
	return errNotSupported
}

func (m *mockPlayer) OpenUri(uri string) error {
	return errNotSupported
}

func (m *mockPlayer) PlaybackStatus() (types.PlaybackStatus, error) {
	if m.isPlaying() {
		return types.PlaybackStatusPlaying, nil
	}
	return types.PlaybackStatusPaused, nil
}

func (m *mockPlayer) Rate() (float64, error) {
	return 1, nil
}

func (m *mockPlayer) SetRate(float64) error {
	return errNotSupported
}

func (m *mockPlayer) Metadata() (types.Metadata, error) {
	return types.Metadata{
		TrackId:        dbus.ObjectPath(trackPath),
		Length:         types.Microseconds(trackSeconds * 1_000_000),
		Title:          "Everything Is Alright",
		Album:          "Commit This to Memory",
		Artist:         []string{"Motion City Soundtrack"},
		DiscNumber:     1,
		TrackNumber:    2,
		Genre:          []string{"Pop Punk", "Emo", "Rock"},
		ContentCreated: "2005-06-07",
		ArtUrl:         mockArtURL,
	}, nil
}

func (m *mockPlayer) Volume() (float64, error) {
	return 1, nil
}

func (m *mockPlayer) SetVolume(float64) error {
	return errNotSupported
}

func (m *mockPlayer) Position() (int64, error) {
	return 0, nil
}

func (m *mockPlayer) MinimumRate() (float64, error) {
	return 1, nil
}

func (m *mockPlayer) MaximumRate() (float64, error) {
	return 1, nil
}

func (m *mockPlayer) CanGoNext() (bool, error) {
	return true, nil
}

func (m *mockPlayer) CanGoPrevious() (bool, error) {
	return true, nil
}

func (m *mockPlayer) CanPlay() (bool, error) {
	return true, nil
}

func (m *mockPlayer) CanPause() (bool, error) {
	return true, nil
}

func (m *mockPlayer) CanSeek() (bool, error) {
	return false, nil
}

func (m *mockPlayer) CanControl() (bool, error) {
	return true, nil
}
