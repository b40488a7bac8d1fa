package armreport

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/septivank/fleetwatch/internal/db"
)

// Limits holds the per-flight ARM usage limits a report is measured against
type Limits struct {
	Arms     int
	ArmSec   float64
	QStabSec float64
}

// DefaultLimits returns 10 arms, 5m50s under ARM and 30s in QSTAB
func DefaultLimits() Limits {
	return Limits{Arms: 10, ArmSec: 350, QStabSec: 30}
}

// Thresholds are the usage levels, in percent, reported as crossed
var Thresholds = []int{50, 75, 90, 100}

// Progress is one report measured against Limits
type Progress struct {
	Report db.ArmReport
	Limits Limits
}

// CountPct returns arm count usage in percent, capped at 100
func (p Progress) CountPct() int {
	return percent(float64(p.Report.Arms), float64(p.Limits.Arms))
}

// TimePct returns time under ARM usage in percent, capped at 100
func (p Progress) TimePct() int {
	return percent(p.Report.ArmSec, p.Limits.ArmSec)
}

// QStabPct returns time in QSTAB usage in percent, capped at 100
func (p Progress) QStabPct() int {
	return percent(p.Report.QStabSec, p.Limits.QStabSec)
}

// Violations lists every limit the report reached
func (p Progress) Violations() []string {
	r, l := p.Report, p.Limits
	var out []string
	if r.Arms >= l.Arms {
		out = append(out, fmt.Sprintf("ARM count limit reached (%s)", countPair(r.Arms, l.Arms)))
	}
	if r.ArmSec >= l.ArmSec {
		out = append(out, fmt.Sprintf("ARM time limit reached (%s)", durationPair(r.ArmSec, l.ArmSec)))
	}
	if r.QStabSec >= l.QStabSec {
		out = append(out, fmt.Sprintf("QSTAB time limit reached (%s)", durationPair(r.QStabSec, l.QStabSec)))
	}
	return out
}

// CurrentThreshold returns the highest threshold pct reached, or 0
func CurrentThreshold(pct int) int {
	for i := len(Thresholds) - 1; i >= 0; i-- {
		if pct >= Thresholds[i] {
			return Thresholds[i]
		}
	}
	return 0
}

// Text renders the technical report sent to the ARM report thread
func (p Progress) Text() string {
	r, l := p.Report, p.Limits

	var sb strings.Builder
	sb.WriteString("🛠 Technical report\n")
	fmt.Fprintf(&sb, "⏱️ Time: %s UTC\n", r.TS.UTC().Format("15:04:05 02.01.2006"))
	fmt.Fprintf(&sb, "📟 Board: #%d\n\n", r.BoardNumber)

	sb.WriteString("🟥 Violations:\n")
	violations := p.Violations()
	if len(violations) == 0 {
		sb.WriteString("- none\n")
	}
	for _, v := range violations {
		fmt.Fprintf(&sb, "• %s\n", v)
	}

	sb.WriteString("\n🟩 Usage:\n")
	fmt.Fprintf(&sb, "• ARM count: %d%% (%s), left: %d\n",
		p.CountPct(), countPair(r.Arms, l.Arms), max(0, l.Arms-r.Arms))
	fmt.Fprintf(&sb, "• Time under ARM: %d%% (%s), left: %s\n",
		p.TimePct(), durationPair(r.ArmSec, l.ArmSec), formatSeconds(l.ArmSec-r.ArmSec))
	fmt.Fprintf(&sb, "• Time in QSTAB: %d%% (%s), left: %s\n\n",
		p.QStabPct(), durationPair(r.QStabSec, l.QStabSec), formatSeconds(l.QStabSec-r.QStabSec))

	sb.WriteString("Thresholds:\n")
	fmt.Fprintf(&sb, "• ARM count threshold reached: %s\n", thresholdLabel(p.CountPct()))
	fmt.Fprintf(&sb, "• ARM time threshold reached: %s\n", thresholdLabel(p.TimePct()))
	fmt.Fprintf(&sb, "• QSTAB time threshold reached: %s", thresholdLabel(p.QStabPct()))
	return sb.String()
}

func percent(used, limit float64) int {
	if limit <= 0 {
		return 0
	}
	pct := int(math.Round(100 * used / limit))
	return min(100, max(0, pct))
}

func thresholdLabel(pct int) string {
	if th := CurrentThreshold(pct); th > 0 {
		return fmt.Sprintf("%d%%", th)
	}
	return "-"
}

func countPair(used, limit int) string {
	return fmt.Sprintf("%d / %d", used, limit)
}

func durationPair(used, limit float64) string {
	return formatSeconds(used) + " / " + formatSeconds(limit)
}

// formatSeconds renders whole seconds as "1h 2m 3s", "5m 50s" or "30s";
// negative values render as "0s"
func formatSeconds(sec float64) string {
	d := time.Duration(max(0, math.Round(sec))) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
