package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"fleetalert/internal/alert"
)

// Class returns the concern a batch belongs to: temperature batches are
// gated by working hours, connection batches are not.
func Class(b alert.Batch) alert.Kind {
	for _, ev := range b.Events {
		if ev.Kind == alert.KindTemperature {
			return alert.KindTemperature
		}
	}
	return alert.KindDisconnected
}

// Render builds the operator message for one batch: a header with the
// channel and its final state, up to maxEntries detailed event lines, and
// a "+K more" summary for the rest. The same layout is used for every
// transport; SMS additionally clips to its character budget.
func Render(b alert.Batch, maxEntries int, loc *time.Location) string {
	if maxEntries <= 0 {
		maxEntries = 3
	}

	name := b.ChannelName
	if name == "" {
		name = b.ChannelID
	}

	var sb strings.Builder
	if Class(b) == alert.KindTemperature {
		fmt.Fprintf(&sb, "[%s] temperatura fuera de rango", name)
	} else {
		fmt.Fprintf(&sb, "[%s] %s", name, b.FinalStatus)
	}

	detailed := b.Events
	extra := 0
	if len(detailed) > maxEntries {
		extra = len(detailed) - maxEntries
		detailed = detailed[:maxEntries]
	}

	for _, ev := range detailed {
		sb.WriteString("\n")
		sb.WriteString(renderEvent(ev, loc))
	}
	if extra > 0 {
		fmt.Fprintf(&sb, "\n+%d more", extra)
	}
	return sb.String()
}

func renderEvent(ev alert.Event, loc *time.Location) string {
	ts := ev.Timestamp
	if loc != nil {
		ts = ts.In(loc)
	}
	stamp := ts.Format("02/01 15:04")

	switch ev.Kind {
	case alert.KindTemperature:
		line := fmt.Sprintf("- %s: %s°C", stamp, formatTemp(ev.Temperature))
		if ev.MinThreshold != nil && ev.MaxThreshold != nil {
			line += fmt.Sprintf(" (rango %s..%s)", formatTemp(*ev.MinThreshold), formatTemp(*ev.MaxThreshold))
		}
		if len(ev.Values) > 1 {
			prev := make([]string, 0, len(ev.Values)-1)
			for _, v := range ev.Values[:len(ev.Values)-1] {
				prev = append(prev, formatTemp(v))
			}
			line += fmt.Sprintf(", previas: %s", strings.Join(prev, ", "))
		}
		return line

	case alert.KindDisconnected:
		return fmt.Sprintf("- %s: desconectado", stamp)

	case alert.KindConnected:
		line := fmt.Sprintf("- %s: conectado", stamp)
		if ev.OfflineSince != nil {
			since := *ev.OfflineSince
			if loc != nil {
				since = since.In(loc)
			}
			line += fmt.Sprintf(" (sin conexión desde %s)", since.Format("02/01 15:04"))
		}
		return line

	default:
		return fmt.Sprintf("- %s: %s", stamp, ev.Kind)
	}
}

func formatTemp(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// Clip enforces a transport's character budget, marking the cut. The cut
// never splits a multi-byte rune, so clipped output stays valid UTF-8.
func Clip(s string, budget int) string {
	if budget <= 0 || len(s) <= budget {
		return s
	}
	if budget <= 3 {
		return clipRunes(s, budget)
	}
	return clipRunes(s, budget-3) + "..."
}

func clipRunes(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
