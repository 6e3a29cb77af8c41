package main

import (
	"chat-core/domain/chat"
	"chat-core/projection"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

type renderer struct {
	colours  bool
	location *time.Location
}

func (r renderer) paint(style color.Style, s string) string {
	if !r.colours {
		return s
	}
	return style.Render(s)
}

func (r renderer) header(w io.Writer, title string) {
	fmt.Fprintln(w, r.paint(color.New(color.BgBlack, color.FgGreen), fmt.Sprintf("  ====== %s ======", title)))
}

func (r renderer) newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

// View prints a conversation as seen by its owner.
func (r renderer) View(w io.Writer, owner string, view projection.View) {
	title := fmt.Sprintf("%s @ %s", owner, view.Conversation)
	if view.Blocked {
		title += " (blocked)"
	}
	r.header(w, title)

	table := r.newTable(w, "#", "Time", "From", "Message", "Status")
	for i, e := range view.Entries {
		if e.Kind == projection.EntryDateSeparator {
			table.Append([]string{"", "", "", r.paint(color.New(color.FgCyan), "-- "+e.Day.In(r.location).Format("Mon 02 Jan 2006")+" --"), ""})
			continue
		}
		row := []string{
			strconv.Itoa(i),
			e.CreatedAt.In(r.location).Format("15:04"),
			e.SenderID,
			r.body(e),
			status(e),
		}
		if e.Highlighted {
			for j := range row {
				row[j] = r.paint(color.New(color.FgYellow, color.OpBold), row[j])
			}
		}
		table.Append(row)
	}
	table.Render()
	if view.Scroll != nil {
		fmt.Fprintf(w, "scroll: %d (centered: %t, follow: %t)\n", view.Scroll.Index, view.Scroll.Centered, view.AutoAdvance)
	}
}

func (r renderer) body(e projection.Entry) string {
	if e.Tombstoned {
		return r.paint(color.New(color.FgGray), e.Body)
	}
	body := e.Body
	if e.Type != chat.TypeText && e.Payload != nil {
		body = fmt.Sprintf("[%s %s] %s", e.Type, e.Payload.MIME, e.Payload.URL)
	}
	if e.Edited {
		body += " (edited)"
	}
	return body
}

func status(e projection.Entry) string {
	if !e.Outgoing {
		return ""
	}
	return e.Status.String()
}

// Conversations prints the conversation list with its unread badges.
func (r renderer) Conversations(w io.Writer, summaries []chat.ConversationSummary, unread map[chat.ConversationKey]int, total int) {
	r.header(w, fmt.Sprintf("conversations (%d unread)", total))
	table := r.newTable(w, "With", "Last message", "Unread")
	for _, s := range summaries {
		table.Append([]string{s.Counterpart, s.LastMessageAt.In(r.location).Format("02 Jan 15:04"), strconv.Itoa(unread[s.Key])})
	}
	table.Render()
}

func (r renderer) Blocked(w io.Writer, relations []chat.BlockRelation) {
	r.header(w, "blocked")
	table := r.newTable(w, "Participant", "Since")
	for _, b := range relations {
		table.Append([]string{b.Blocked, b.CreatedAt.In(r.location).Format(time.DateTime)})
	}
	table.Render()
}
