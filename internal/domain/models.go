package domain

import "time"

// PlayerIdentity is the well-known bus name of a media player
// (e.g. "org.mpris.MediaPlayer2.spotify")
type PlayerIdentity string

// PlayerPrefix is the bus namespace every media player name lives in
const PlayerPrefix = "org.mpris.MediaPlayer2."

// IsPlayer reports whether name belongs to the media-player namespace
func IsPlayer(name string) bool {
	return len(name) > len(PlayerPrefix) && name[:len(PlayerPrefix)] == PlayerPrefix
}

// PlaybackStatus represents the current state of the media player
type PlaybackStatus string

const (
	// StatusPlaying indicates the media is currently playing
	StatusPlaying PlaybackStatus = "Playing"
	// StatusPaused indicates the media is paused
	StatusPaused PlaybackStatus = "Paused"
	// StatusStopped indicates the media is stopped
	StatusStopped PlaybackStatus = "Stopped"
	// StatusUnknown is used when the player does not expose a status at all
	StatusUnknown PlaybackStatus = ""
)

// PlayerSnapshot is an immutable projection of a player's cached metadata.
// Absent values are the zero string, a nil slice or a nil pointer.
type PlayerSnapshot struct {
	Title       string
	Artists     []string
	Album       string
	TrackNumber *int
	DiscNumber  *int
	Genres      []string
	Released    *time.Time
	ArtURL      string
	// Seconds is the track length in whole seconds
	Seconds *int64
	Status  PlaybackStatus
}

// EventKind enumerates player lifecycle notifications
type EventKind int

const (
	// PlayerStarted is emitted when a player name gains an owner
	PlayerStarted EventKind = iota
	// PlayerStopped is emitted when a player name loses its owner
	PlayerStopped
	// PlayerChanged is emitted when PlaybackStatus or Metadata changes
	PlayerChanged
)

func (k EventKind) String() string {
	switch k {
	case PlayerStarted:
		return "started"
	case PlayerStopped:
		return "stopped"
	case PlayerChanged:
		return "changed"
	}
	return "unknown"
}

// PlayerEvent is delivered in bus order over a single channel
type PlayerEvent struct {
	Kind   EventKind
	Player PlayerIdentity
}

// Action is a zero-argument player control method
type Action string

const (
	ActionPlayPause Action = "PlayPause"
	ActionPrevious  Action = "Previous"
	ActionNext      Action = "Next"
)

// ParseAction maps a user-facing action name onto an Action
func ParseAction(s string) (Action, bool) {
	switch s {
	case "playpause", "toggle", "PlayPause":
		return ActionPlayPause, true
	case "prev", "previous", "Previous":
		return ActionPrevious, true
	case "next", "Next":
		return ActionNext, true
	}
	return "", false
}

// ArtResult holds the two cache slot paths produced by one pipeline run
type ArtResult struct {
	// Reference is the art reference that was requested
	Reference string
	Standard  string
	Blurred   string
	// Fallback is true when the placeholder was used instead of Reference
	Fallback bool
}

// ScreenResolution holds the display dimensions
type ScreenResolution struct {
	Width  int
	Height int
}

// CardSize is the size of the player card shown by the presentation layer
type CardSize struct {
	Width  int
	Height int
}
