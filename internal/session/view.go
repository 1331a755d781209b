package session

import (
	"strings"
	"time"
)

// Theme is the active color scheme.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// Toggled returns the other theme.
func (t Theme) Toggled() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

const (
	dateKeyLayout   = "2006-01-02"
	dateLabelLayout = "Monday, Jan 2"
	timeLabelLayout = "15:04"

	StatusThinking = "Thinking..."
	StatusOnline   = "Online"
)

// Suggestions are offered while the conversation is empty.
var Suggestions = []string{
	"Explain quantum computing",
	"Write a poem about nature",
	"Help me debug my code",
}

// DateGroup is a contiguous run of messages sharing a calendar date.
type DateGroup struct {
	Key      string
	Date     time.Time
	Messages []Message
}

// GroupByDate partitions messages into contiguous runs by the calendar date
// of CreatedAt in loc. Messages without a timestamp use now. Order is
// preserved within and across groups.
func GroupByDate(messages []Message, now time.Time, loc *time.Location) []DateGroup {
	if loc == nil {
		loc = time.UTC
	}
	var groups []DateGroup
	for _, m := range messages {
		ts := m.CreatedAt
		if ts.IsZero() {
			ts = now
		}
		ts = ts.In(loc)
		key := ts.Format(dateKeyLayout)

		if n := len(groups); n > 0 && groups[n-1].Key == key {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		y, mo, d := ts.Date()
		groups = append(groups, DateGroup{
			Key:      key,
			Date:     time.Date(y, mo, d, 0, 0, 0, 0, loc),
			Messages: []Message{m},
		})
	}
	return groups
}

// ShouldShowAvatar reports whether the message at index starts a run of
// messages from the same sender within its group.
func ShouldShowAvatar(group DateGroup, index int) bool {
	if index <= 0 {
		return true
	}
	return group.Messages[index-1].Role != group.Messages[index].Role
}

// LocalState is the client-only state that feeds the view.
type LocalState struct {
	Theme   Theme
	Input   string
	Pending *PendingAttachment
	Playing map[string]bool
}

// Snapshot is the controller state that feeds the view.
type Snapshot struct {
	Messages []Message
	Status   SubmissionStatus
	Err      error
}

// MessageView is a message prepared for rendering.
type MessageView struct {
	Message
	ShowAvatar bool
	Playing    bool
	TimeLabel  string
}

// GroupView is a date group prepared for rendering.
type GroupView struct {
	Key      string
	Label    string
	Messages []MessageView
}

// View is everything a renderer needs to draw the chat screen.
type View struct {
	Theme       Theme
	Groups      []GroupView
	Busy        bool
	StatusLabel string
	Error       string
	PreviewURL  string
	CanSubmit   bool
	Suggestions []string
}

// Derive computes the view from controller and local state. It is pure: the
// same inputs always produce the same view.
func Derive(snap Snapshot, local LocalState, now time.Time, loc *time.Location) View {
	if loc == nil {
		loc = time.UTC
	}
	theme := local.Theme
	if theme == "" {
		theme = ThemeDark
	}
	busy := snap.Status == InFlight

	v := View{
		Theme:       theme,
		Busy:        busy,
		StatusLabel: StatusOnline,
		CanSubmit:   !busy && (strings.TrimSpace(local.Input) != "" || local.Pending != nil),
	}
	if busy {
		v.StatusLabel = StatusThinking
	}
	if snap.Err != nil {
		v.Error = snap.Err.Error()
	}
	if local.Pending != nil {
		v.PreviewURL = local.Pending.PreviewURL
	}
	if len(snap.Messages) == 0 {
		v.Suggestions = append([]string(nil), Suggestions...)
		return v
	}

	for _, g := range GroupByDate(snap.Messages, now, loc) {
		gv := GroupView{
			Key:      g.Key,
			Label:    g.Date.Format(dateLabelLayout),
			Messages: make([]MessageView, len(g.Messages)),
		}
		for i, m := range g.Messages {
			ts := m.CreatedAt
			if ts.IsZero() {
				ts = now
			}
			gv.Messages[i] = MessageView{
				Message:    m,
				ShowAvatar: ShouldShowAvatar(g, i),
				Playing:    local.Playing[m.ID],
				TimeLabel:  ts.In(loc).Format(timeLabelLayout),
			}
		}
		v.Groups = append(v.Groups, gv)
	}
	return v
}
