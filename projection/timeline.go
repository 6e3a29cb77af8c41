// Package projection builds the local view of a conversation from store events.
// Handles ordering, deduplication, block filtering and resynchronization.
// Does not talk to the store or emit anything itself.
package projection

import (
	"chat-core/domain/chat"
	"reflect"
	"sort"
	"time"

	"github.com/samber/lo"
)

// Timeline is the state of one open conversation for its owner.
// It is not safe for concurrent use: a single goroutine owns it.
type Timeline struct {
	conv                chat.Conversation
	owner               string
	counterpart         string
	location            *time.Location
	messages            map[string]chat.Message
	block               chat.BlockState
	highlight           string
	readReceiptsVisible bool
	resyncing           bool
	seen                map[string]struct{}
}

// Outcome tells the caller what an event did to the timeline.
type Outcome struct {
	Changed   bool
	Duplicate bool
	// Dropped is set for a message from a blocked counterpart.
	Dropped bool
	// ReceiptsDue is set for a newly inserted incoming message the owner has not read.
	ReceiptsDue bool
	Message     chat.Message
}

func NewTimeline(conv chat.Conversation, owner string, location *time.Location) *Timeline {
	return &Timeline{
		conv:                conv,
		owner:               owner,
		counterpart:         conv.Counterpart(owner),
		location:            location,
		messages:            make(map[string]chat.Message),
		readReceiptsVisible: true,
	}
}

func (t *Timeline) Apply(evt chat.MessageEvent) Outcome {
	switch evt.Kind {
	case chat.Added:
		return t.add(evt.Message)
	case chat.Changed:
		if _, known := t.messages[evt.ID]; !known {
			return Outcome{}
		}
		if t.resyncing {
			t.seen[evt.ID] = struct{}{}
		}
		return t.replace(evt.Message)
	case chat.Removed:
		if _, known := t.messages[evt.ID]; !known {
			return Outcome{}
		}
		delete(t.messages, evt.ID)
		return Outcome{Changed: true}
	}
	return Outcome{}
}

func (t *Timeline) add(m chat.Message) Outcome {
	if t.resyncing {
		t.seen[m.ID] = struct{}{}
	}
	if _, known := t.messages[m.ID]; known {
		if !t.resyncing {
			return Outcome{Duplicate: true}
		}
		if t.filtered(m) {
			delete(t.messages, m.ID)
			return Outcome{Changed: true, Dropped: true, Message: m}
		}
		return t.replace(m)
	}
	if t.filtered(m) {
		return Outcome{Dropped: true}
	}
	t.messages[m.ID] = m
	return Outcome{
		Changed:     true,
		ReceiptsDue: m.SenderID != t.owner && !m.HiddenFor(t.owner) && m.ReceiptFor(t.owner).ReadAt == nil,
		Message:     m,
	}
}

func (t *Timeline) replace(m chat.Message) Outcome {
	changed := !reflect.DeepEqual(t.messages[m.ID], m)
	t.messages[m.ID] = m
	return Outcome{Changed: changed, Message: m}
}

// filtered hides messages the counterpart sent once a block is in place.
// Earlier history stays readable.
func (t *Timeline) filtered(m chat.Message) bool {
	return t.block.Blocked && m.SenderID == t.counterpart && !m.CreatedAt.Before(t.block.Since)
}

// BeginResync starts replaying a fresh subscription snapshot.
func (t *Timeline) BeginResync() {
	t.resyncing = true
	t.seen = make(map[string]struct{})
}

// EndResync purges every message the snapshot did not contain and returns their ids.
func (t *Timeline) EndResync() []string {
	if !t.resyncing {
		return nil
	}
	var purged []string
	for id := range t.messages {
		if _, ok := t.seen[id]; !ok {
			delete(t.messages, id)
			purged = append(purged, id)
		}
	}
	sort.Strings(purged)
	t.resyncing = false
	t.seen = nil
	return purged
}

func (t *Timeline) Resyncing() bool {
	return t.resyncing
}

// SetBlock updates the effective block state and reports whether it changed.
// Counterpart messages already held that the new state hides are purged and
// their ids returned sorted.
func (t *Timeline) SetBlock(state chat.BlockState) (bool, []string) {
	if t.block.Blocked == state.Blocked && t.block.Since.Equal(state.Since) {
		return false, nil
	}
	t.block = state
	var purged []string
	for id, m := range t.messages {
		if t.filtered(m) {
			delete(t.messages, id)
			purged = append(purged, id)
		}
	}
	sort.Strings(purged)
	return true, purged
}

func (t *Timeline) Highlight(messageID string) {
	t.highlight = messageID
}

func (t *Timeline) ClearHighlight() {
	t.highlight = ""
}

func (t *Timeline) SetReadReceiptsVisible(visible bool) bool {
	if t.readReceiptsVisible == visible {
		return false
	}
	t.readReceiptsVisible = visible
	return true
}

func (t *Timeline) Message(id string) (chat.Message, bool) {
	m, ok := t.messages[id]
	return m, ok
}

func (t *Timeline) Len() int {
	return len(t.messages)
}

// Unread returns the incoming messages the owner still has to read, oldest first.
func (t *Timeline) Unread() []chat.Message {
	unread := lo.Filter(lo.Values(t.messages), func(m chat.Message, _ int) bool {
		return m.SenderID != t.owner && !m.HiddenFor(t.owner) && m.ReceiptFor(t.owner).ReadAt == nil
	})
	sort.Slice(unread, func(i, j int) bool {
		return before(unread[i], unread[j])
	})
	return unread
}

func (t *Timeline) View() View {
	return Project(lo.Values(t.messages), ProjectOptions{
		Conversation:        t.conv.Key,
		Viewer:              t.owner,
		Counterpart:         t.counterpart,
		Location:            t.location,
		Highlight:           t.highlight,
		ReadReceiptsVisible: t.readReceiptsVisible,
		Blocked:             t.block.Blocked,
	})
}
