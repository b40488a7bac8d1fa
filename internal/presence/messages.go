package presence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/septivank/fleetwatch/internal/analytics"
	"github.com/septivank/fleetwatch/internal/db"
	"github.com/septivank/fleetwatch/internal/notify"
	"github.com/septivank/fleetwatch/internal/session"
)

const timeLayout = "2006-01-02 15:04:05"

func powerOnMessage(b *db.Board, s *db.Sample, now time.Time) notify.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🟢 Board %s powered on\n", b.Label())
	fmt.Fprintf(&sb, "🕒 Time: %s UTC\n", s.TS.UTC().Format(timeLayout))
	fmt.Fprintf(&sb, "⚙️ Mode: %s\n", orDash(s.Mode))
	fmt.Fprintf(&sb, "🔒 Armed: %s\n", yesNo(s.Arm))
	fmt.Fprintf(&sb, "🔋 Voltage: %s\n", formatVolt(s.Volt))
	fmt.Fprintf(&sb, "🧭 Session: %s", orDash(s.Sess))

	lat, lon := s.Lat, s.Lon
	if !s.HasPosition() && b.LastLat != nil && b.LastLon != nil {
		lat, lon = b.LastLat, b.LastLon
	}
	if lat != nil && lon != nil {
		fmt.Fprintf(&sb, "\n📍 Position: %.6f, %.6f", *lat, *lon)
	}

	msg := notify.NewMessage(notify.KindPowerOn, b.Number, sb.String(), now)
	msg.Lat, msg.Lon = lat, lon
	return msg
}

func firstPositionMessage(b *db.Board, s *db.Sample, now time.Time) notify.Message {
	text := fmt.Sprintf("📍 Board %s first position: %.6f, %.6f (%s UTC)",
		b.Label(), *s.Lat, *s.Lon, s.TS.UTC().Format(timeLayout))

	msg := notify.NewMessage(notify.KindFirstPosition, b.Number, text, now)
	msg.Lat, msg.Lon = s.Lat, s.Lon
	return msg
}

func telemetryStoppedMessage(b *db.Board, inactive time.Duration, now time.Time) notify.Message {
	text := fmt.Sprintf("🟠 Board %s\n📡 Telemetry stopped at least %d min ago.\nCause: board powered off or link lost.",
		b.Label(), int(inactive.Minutes()))
	return notify.NewMessage(notify.KindTelemetryStopped, b.Number, text, now)
}

// prolongedReport is the data behind the stage-2 message
type prolongedReport struct {
	board   db.Board
	route   *session.Route
	summary analytics.Summary
	link    string
	now     time.Time
}

func (r prolongedReport) message() notify.Message {
	b := r.board

	sess := ""
	if r.route != nil {
		sess = r.route.Session
	}
	if sess == "" && b.CurrentSess != nil {
		sess = *b.CurrentSess
	}

	end := r.now
	if b.LastTelemetryAt != nil {
		end = *b.LastTelemetryAt
	}
	start := end
	if r.summary.Start != nil {
		start = *r.summary.Start
	}

	distanceKM := 0.0
	if r.summary.Points >= 2 {
		distanceKM = r.summary.DistanceM / 1000
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔴 Board %s has not come back online\n", b.Label())
	fmt.Fprintf(&sb, "🧭 Session: %s\n", dashIfEmpty(sess))
	fmt.Fprintf(&sb, "🕒 Activity start: %s\n", start.UTC().Format(timeLayout))
	fmt.Fprintf(&sb, "📴 Last telemetry: %s (silence %s)\n", formatLast(b.LastTelemetryAt), FormatDuration(r.now.Sub(end)))
	fmt.Fprintf(&sb, "⏱ Activity duration: %s\n", FormatDuration(r.summary.Duration))
	fmt.Fprintf(&sb, "📏 Distance: %.2f km\n", distanceKM)
	fmt.Fprintf(&sb, "🗺 Track: %s", r.link)

	msg := notify.NewMessage(notify.KindProlongedOffline, b.Number, sb.String(), r.now)
	msg.Link = r.link

	if r.route != nil && len(r.route.Points) > 0 {
		last := r.route.Points[len(r.route.Points)-1]
		msg.Lat, msg.Lon = &last.Lat, &last.Lon
		if len(r.route.Points) < 2 {
			msg.Text += fmt.Sprintf("\n📍 Last point: %.6f, %.6f", last.Lat, last.Lon)
		}
	}
	return msg
}

// TrackLink builds the public track URL for a board, per session when known
func TrackLink(baseURL string, boardID int64, sess string) string {
	base := strings.TrimSuffix(baseURL, "/")
	id := strconv.FormatInt(boardID, 10)
	if sess != "" {
		return base + "/api/v1/track/board/" + id + "/session/" + sess + "/"
	}
	return base + "/api/v1/track/board/" + id + "/last/"
}

// FormatDuration renders a duration as "1h 05m", "3m 07s" or "42s"
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		total = 0
	}
	h, rem := total/3600, total%3600
	m, s := rem/60, rem%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func formatLast(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

func formatVolt(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f V", *v)
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return dashIfEmpty(*s)
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
