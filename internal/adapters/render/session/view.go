package session

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/devsession/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

type RenderOptions struct {
	Root       string
	Now        time.Time
	DeviceID   domain.DeviceID
	StaleAfter time.Duration
}

// Render draws session for a terminal. Ages are measured against opts.Now and
// left out when it is zero.
func Render(session domain.DevSession, opts RenderOptions) string {
	return renderView(session, opts, newStyles())
}

func renderView(session domain.DevSession, opts RenderOptions, s styles) string {
	header := fmt.Sprintf("files: %d", len(session.Files))
	if root := strings.TrimSpace(opts.Root); root != "" {
		header = fmt.Sprintf("root: %s  %s", root, header)
	}

	lines := []string{
		s.title.Render("Dev Session"),
		s.header.Render(header),
		s.section.Render(renderMeta(session, opts, s)),
	}

	if len(session.Files) == 0 {
		lines = append(lines, s.section.Render(s.empty.Render("No files recorded.")))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	files := make([]string, 0, len(session.Files))
	for _, file := range session.Files {
		files = append(files, fileLine(file, s))
	}
	lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, files...)))

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderMeta(session domain.DevSession, opts RenderOptions, s styles) string {
	parts := []string{
		savedLine(session.CreatedAt, opts, s),
		deviceLine(session, opts.DeviceID, s),
	}

	if note := strings.TrimSpace(session.Note); note != "" {
		parts = append(parts, s.label.Render("note:")+" "+s.detail.Render(note))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func savedLine(createdAt time.Time, opts RenderOptions, s styles) string {
	label := s.label.Render("saved:")
	stamp := createdAt.UTC().Format("2006-01-02 15:04 MST")

	if opts.Now.IsZero() {
		return label + " " + s.detail.Render(stamp)
	}

	age := opts.Now.Sub(createdAt)
	ageStyle := lipgloss.NewStyle().Foreground(ageColor(age))
	line := lipgloss.JoinHorizontal(
		lipgloss.Top,
		label,
		" ",
		s.detail.Render(stamp),
		" ",
		ageStyle.Render(fmt.Sprintf("(%s)", formatAge(age))),
	)

	if opts.StaleAfter > 0 && age > opts.StaleAfter {
		line += " " + s.warning.Render("[stale]")
	}

	return line
}

func deviceLine(session domain.DevSession, current domain.DeviceID, s styles) string {
	label := s.label.Render("device:")
	origin := string(session.DeviceID)
	if !session.DeviceID.Known() {
		origin = "-"
	}

	return label + " " + s.detail.Render(origin) + " " + ownershipLabel(session, current, s)
}

func ownershipLabel(session domain.DevSession, current domain.DeviceID, s styles) string {
	switch {
	case !session.DeviceID.Known():
		return s.empty.Render("(unknown device)")
	case session.OwnedBy(current):
		return s.owner.Render("(this device)")
	default:
		return s.foreign.Render("(other device)")
	}
}

func fileLine(file domain.SessionFile, s styles) string {
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		"  ",
		s.path.Render(file.Path),
		s.position.Render(fmt.Sprintf(":%d:%d", file.Line+1, file.Character+1)),
	)
}

func formatAge(age time.Duration) string {
	if age < time.Minute {
		return "just now"
	}

	if age < time.Hour {
		return plural(int(age.Minutes()), "minute") + " ago"
	}

	if age < 24*time.Hour {
		return plural(int(age.Hours()), "hour") + " ago"
	}

	days := int(math.Floor(age.Hours() / 24))
	return plural(days, "day") + " ago"
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// ageColor fades from bright white for a fresh snapshot to grey after a week.
func ageColor(age time.Duration) lipgloss.Color {
	week := 7 * 24 * time.Hour
	return interpolateColor(week.Seconds()-age.Seconds(), 0, week.Seconds())
}

func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	// ANSI 256 greyscale: 240 is faded, 255 is bright white.
	baseColor := 240.0
	targetColor := 255.0

	colorCode := int(baseColor + (targetColor-baseColor)*normalized)
	return lipgloss.Color(fmt.Sprintf("%d", colorCode))
}
