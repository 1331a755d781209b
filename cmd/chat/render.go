package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vultisig/chat-relay/internal/session"
	"github.com/vultisig/chat-relay/internal/types"
)

type palette struct {
	title     lipgloss.Style
	status    lipgloss.Style
	date      lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	meta      lipgloss.Style
	err       lipgloss.Style
}

func newPalette(theme session.Theme) palette {
	accent, text, muted, user, danger := "#A78BFA", "#CDD6F4", "#6C7086", "#22D3EE", "#FB7185"
	if theme == session.ThemeLight {
		accent, text, muted, user, danger = "#7C3AED", "#1F2937", "#9CA3AF", "#0891B2", "#E11D48"
	}
	return palette{
		title:     lipgloss.NewStyle().Foreground(lipgloss.Color(accent)).Bold(true),
		status:    lipgloss.NewStyle().Foreground(lipgloss.Color(muted)).Italic(true),
		date:      lipgloss.NewStyle().Foreground(lipgloss.Color(muted)).Bold(true),
		user:      lipgloss.NewStyle().Foreground(lipgloss.Color(user)).Bold(true),
		assistant: lipgloss.NewStyle().Foreground(lipgloss.Color(accent)).Bold(true),
		meta:      lipgloss.NewStyle().Foreground(lipgloss.Color(text)),
		err:       lipgloss.NewStyle().Foreground(lipgloss.Color(danger)),
	}
}

func (p palette) speaker(role types.MessageRole) string {
	if role == types.RoleUser {
		return p.user.Render("You")
	}
	return p.assistant.Render("Assistant")
}

// render draws the whole conversation. Messages are numbered from 1 in
// display order so they can be addressed by /play.
func render(v session.View) string {
	p := newPalette(v.Theme)
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", p.title.Render("chat"), p.status.Render("● "+v.StatusLabel))

	if len(v.Suggestions) > 0 {
		b.WriteString(p.meta.Render("Try one of:") + "\n")
		for _, s := range v.Suggestions {
			b.WriteString("  • " + s + "\n")
		}
	}

	n := 0
	for _, g := range v.Groups {
		b.WriteString("\n" + p.date.Render("── "+g.Label+" ──") + "\n")
		for _, m := range g.Messages {
			n++
			if m.ShowAvatar {
				b.WriteString(p.speaker(m.Role) + "\n")
			}
			b.WriteString(renderMessage(p, n, m) + "\n")
		}
	}

	if v.PreviewURL != "" {
		b.WriteString(p.status.Render("image attached") + "\n")
	}
	if v.Error != "" {
		b.WriteString(p.err.Render("! "+v.Error) + "\n")
	}
	return b.String()
}

func renderMessage(p palette, n int, m session.MessageView) string {
	var tags []string
	switch m.Status {
	case session.StatusStreaming:
		tags = append(tags, "typing")
	case session.StatusFailed:
		tags = append(tags, p.err.Render("failed"))
	}
	if m.Playing {
		tags = append(tags, "♪ playing")
	}

	line := fmt.Sprintf("%s %s", p.status.Render(fmt.Sprintf("[%d %s]", n, m.TimeLabel)), p.meta.Render(m.Content))
	for _, a := range m.Attachments {
		name := a.Name
		if name == "" {
			name = "attachment"
		}
		line += "\n    " + p.status.Render(fmt.Sprintf("📎 %s (%s)", name, a.ContentType))
	}
	if len(tags) > 0 {
		line += " " + p.status.Render("("+strings.Join(tags, ", ")+")")
	}
	return line
}
