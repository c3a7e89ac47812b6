package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/genricoloni/dropbeat/internal/domain"
	"github.com/godbus/dbus/v5"
)

// Well-known metadata keys
const (
	keyTitle          = "xesam:title"
	keyArtist         = "xesam:artist"
	keyAlbum          = "xesam:album"
	keyTrackNumber    = "xesam:trackNumber"
	keyDiscNumber     = "xesam:discNumber"
	keyGenre          = "xesam:genre"
	keyContentCreated = "xesam:contentCreated"
	keyArtURL         = "mpris:artUrl"
	keyLength         = "mpris:length"
)

// ErrUnknownStatus is returned for PlaybackStatus values outside the MPRIS enum
var ErrUnknownStatus = errors.New("unknown playback status")

// contentCreated is loosely specified; players send anything from a full
// timestamp down to a bare year
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// Normalize converts a cached property bag into a snapshot.
// It returns (nil, nil) when no track is loaded and an error only when the
// player reports something that cannot be interpreted.
func Normalize(props map[string]dbus.Variant) (*domain.PlayerSnapshot, error) {
	metaVar, ok := props[PropMetadata]
	if !ok {
		return nil, nil
	}
	meta, ok := metaVar.Value().(map[string]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("metadata has type %T", metaVar.Value())
	}
	if len(meta) == 0 {
		return nil, nil
	}

	status := domain.StatusUnknown
	if statusVar, ok := props[PropPlaybackStatus]; ok {
		s, _ := statusVar.Value().(string)
		switch domain.PlaybackStatus(s) {
		case domain.StatusPlaying, domain.StatusPaused, domain.StatusStopped:
			status = domain.PlaybackStatus(s)
		default:
			return nil, fmt.Errorf("%w: %v", ErrUnknownStatus, statusVar.Value())
		}
	}

	snap := &domain.PlayerSnapshot{
		Title:   stringValue(meta, keyTitle),
		Artists: stringList(meta, keyArtist),
		Album:   stringValue(meta, keyAlbum),
		Genres:  stringList(meta, keyGenre),
		ArtURL:  stringValue(meta, keyArtURL),
		Status:  status,
	}

	if n, ok := intValue(meta, keyTrackNumber); ok {
		v := int(n)
		snap.TrackNumber = &v
	}
	if n, ok := intValue(meta, keyDiscNumber); ok {
		v := int(n)
		snap.DiscNumber = &v
	}
	if n, ok := intValue(meta, keyLength); ok && n > 0 {
		// microseconds, truncated to whole seconds
		secs := n / 1_000_000
		snap.Seconds = &secs
	}
	if s := stringValue(meta, keyContentCreated); s != "" {
		snap.Released = parseDate(s)
	}

	return snap, nil
}

// parseDate returns the calendar date of s, or nil if no layout matches
func parseDate(s string) *time.Time {
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return &d
	}
	return nil
}

func stringValue(meta map[string]dbus.Variant, key string) string {
	v, ok := meta[key]
	if !ok {
		return ""
	}
	switch s := v.Value().(type) {
	case string:
		return s
	case dbus.ObjectPath:
		return string(s)
	}
	return ""
}

// stringList also accepts a plain string, which some non-compliant players send
func stringList(meta map[string]dbus.Variant, key string) []string {
	v, ok := meta[key]
	if !ok {
		return nil
	}
	switch s := v.Value().(type) {
	case []string:
		if len(s) == 0 {
			return nil
		}
		out := make([]string, len(s))
		copy(out, s)
		return out
	case string:
		if s == "" {
			return nil
		}
		return []string{s}
	}
	return nil
}

func intValue(meta map[string]dbus.Variant, key string) (int64, bool) {
	v, ok := meta[key]
	if !ok {
		return 0, false
	}
	switch n := v.Value().(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case int16:
		return int64(n), true
	case uint16:
		return int64(n), true
	case byte:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
