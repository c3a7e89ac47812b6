package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/genricoloni/dropbeat/internal/domain"
	"github.com/genricoloni/dropbeat/internal/engine"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
)

// resolvePlayer accepts either a full bus name or its last component
func resolvePlayer(arg string) domain.PlayerIdentity {
	if domain.IsPlayer(arg) {
		return domain.PlayerIdentity(arg)
	}
	return domain.PlayerIdentity(domain.PlayerPrefix + arg)
}

func shortName(id domain.PlayerIdentity) string {
	return strings.TrimPrefix(string(id), domain.PlayerPrefix)
}

func statusLabel(s domain.PlaybackStatus) string {
	if s == domain.StatusUnknown {
		return "Unknown"
	}
	return string(s)
}

// formatLength renders seconds as m:ss, or h:mm:ss from an hour up
func formatLength(seconds *int64) string {
	if seconds == nil {
		return ""
	}
	d := time.Duration(*seconds) * time.Second
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func formatNumber(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// renderPlayers prints one row per player. Players without a usable
// snapshot are still listed.
func renderPlayers(w io.Writer, players []domain.PlayerIdentity, snapshot func(domain.PlayerIdentity) *domain.PlayerSnapshot) {
	if len(players) == 0 {
		fmt.Fprintln(w, "No players running")
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Player", "Status", "Title", "Artist"})
	for _, id := range players {
		snap := snapshot(id)
		if snap == nil {
			t.AppendRow(table.Row{shortName(id), "", "", ""})
			continue
		}
		t.AppendRow(table.Row{shortName(id), statusLabel(snap.Status), snap.Title, strings.Join(snap.Artists, ", ")})
	}
	t.Render()
}

// renderSnapshot prints every normalized field of one player
func renderSnapshot(w io.Writer, id domain.PlayerIdentity, snap *domain.PlayerSnapshot) {
	t := newTable(w)
	t.SetTitle(string(id))
	if snap == nil {
		t.AppendRow(table.Row{"Status", "No metadata"})
		t.Render()
		return
	}

	t.AppendRows([]table.Row{
		{"Status", statusLabel(snap.Status)},
		{"Title", snap.Title},
		{"Artists", strings.Join(snap.Artists, ", ")},
		{"Album", snap.Album},
		{"Track", formatNumber(snap.TrackNumber)},
		{"Disc", formatNumber(snap.DiscNumber)},
		{"Genres", strings.Join(snap.Genres, ", ")},
		{"Released", formatDate(snap.Released)},
		{"Length", formatLength(snap.Seconds)},
		{"Art", snap.ArtURL},
	})
	t.Render()
}

// renderArt prints the cache slots of one pipeline run and the card size
// they are meant to be shown at
func renderArt(w io.Writer, res domain.ArtResult, card domain.CardSize) {
	source := lo.Ternary(res.Reference == "", "(none)", res.Reference)

	t := newTable(w)
	t.AppendRows([]table.Row{
		{"Reference", source},
		{"Fallback", res.Fallback},
		{"Standard", res.Standard},
		{"Blurred", res.Blurred},
		{"Card", fmt.Sprintf("%dx%d", card.Width, card.Height)},
	})
	t.Render()
}

// formatUpdate renders one engine update as a single log-style line
func formatUpdate(now time.Time, u engine.Update) string {
	prefix := fmt.Sprintf("%s %-7s %s", now.Format(time.TimeOnly), u.Event.Kind, shortName(u.Event.Player))

	switch {
	case u.Art != nil:
		art := "art " + u.Art.Standard
		if u.Art.Fallback {
			art += " (placeholder)"
		}
		return prefix + "  " + art
	case u.Snapshot != nil:
		title := u.Snapshot.Title
		if len(u.Snapshot.Artists) > 0 {
			title = strings.Join(u.Snapshot.Artists, ", ") + " - " + title
		}
		return fmt.Sprintf("%s  [%s] %s", prefix, statusLabel(u.Snapshot.Status), title)
	}
	return prefix
}
