package projection

import (
	"chat-core/domain/chat"
	"sort"
	"time"

	"github.com/samber/lo"
)

type EntryKind int

const (
	EntryMessage EntryKind = iota
	EntryDateSeparator
)

// Entry is one row of a conversation view: a message or a day separator.
type Entry struct {
	Kind        EntryKind
	Day         time.Time
	MessageID   string
	SenderID    string
	Body        string
	Type        chat.MessageType
	Payload     *chat.Payload
	CreatedAt   time.Time
	Outgoing    bool
	Status      chat.Status
	Edited      bool
	Tombstoned  bool
	Highlighted bool
}

// ScrollTarget is where the view should be scrolled to.
type ScrollTarget struct {
	Index    int
	Centered bool
}

type View struct {
	Conversation chat.ConversationKey
	Entries      []Entry
	Highlight    string
	Scroll       *ScrollTarget
	// AutoAdvance is false while a highlight pins the scroll position.
	AutoAdvance bool
	Blocked     bool
}

type ProjectOptions struct {
	Conversation        chat.ConversationKey
	Viewer              string
	Counterpart         string
	Location            *time.Location
	Highlight           string
	ReadReceiptsVisible bool
	Blocked             bool
}

// Project derives the view of viewer from a set of message snapshots.
// It is pure: the same messages and options always give the same view.
func Project(messages []chat.Message, opts ProjectOptions) View {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	visible := lo.Filter(messages, func(m chat.Message, _ int) bool {
		return !m.HiddenFor(opts.Viewer)
	})
	sort.SliceStable(visible, func(i, j int) bool {
		return before(visible[i], visible[j])
	})

	view := View{
		Conversation: opts.Conversation,
		Entries:      make([]Entry, 0, len(visible)),
		Highlight:    opts.Highlight,
		AutoAdvance:  opts.Highlight == "",
		Blocked:      opts.Blocked,
	}
	var lastDay time.Time
	for i, m := range visible {
		day := dayOf(m.CreatedAt, loc)
		if i > 0 && !day.Equal(lastDay) {
			view.Entries = append(view.Entries, Entry{Kind: EntryDateSeparator, Day: day})
		}
		lastDay = day
		entry := toEntry(m, day, opts)
		if entry.Highlighted {
			view.Scroll = &ScrollTarget{Index: len(view.Entries), Centered: true}
		}
		view.Entries = append(view.Entries, entry)
	}
	if view.AutoAdvance && len(view.Entries) > 0 {
		view.Scroll = &ScrollTarget{Index: len(view.Entries) - 1}
	}
	return view
}

func toEntry(m chat.Message, day time.Time, opts ProjectOptions) Entry {
	entry := Entry{
		Kind:        EntryMessage,
		Day:         day,
		MessageID:   m.ID,
		SenderID:    m.SenderID,
		Body:        m.DisplayBody(),
		Type:        m.Type,
		CreatedAt:   m.CreatedAt,
		Outgoing:    m.SenderID == opts.Viewer,
		Edited:      m.EditedBody != nil && !m.Tombstoned(),
		Tombstoned:  m.Tombstoned(),
		Highlighted: opts.Highlight != "" && m.ID == opts.Highlight,
	}
	if !m.Tombstoned() {
		entry.Payload = m.Payload
	}
	if entry.Outgoing {
		entry.Status = m.StatusFor(opts.Counterpart)
		if entry.Status == chat.StatusRead && !opts.ReadReceiptsVisible {
			entry.Status = chat.StatusDelivered
		}
	}
	return entry
}

// before orders by creation time, then by id for equal times.
func before(a, b chat.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
