package main

import (
	"bufio"
	"chat-core/auth"
	"chat-core/contract"
	"chat-core/domain/chat"
	"chat-core/errors"
	"chat-core/projection"
	"chat-core/repositories"
	"chat-core/runtime"
	"chat-core/runtime/workers"
	"chat-core/services"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gookit/color"
)

// shell drives the core from text commands, one per line.
type shell struct {
	in       io.Reader
	out      io.Writer
	issuer   auth.TokenIssuer
	clock    contract.Clock
	messages services.IMessageService
	unread   services.IUnreadService
	blocks   services.IBlockService
	presence services.IPresenceService
	profiles repositories.IUserRepository
	views    *runtime.Registry
	colours  bool
	location *time.Location

	// mu guards out: views and watches print from their own goroutines.
	mu      sync.Mutex
	session auth.Session
	watches []func()
}

type command struct {
	usage string
	args  int
	run   func(ctx context.Context, args []string) error
}

func (s *shell) commands() map[string]command {
	return map[string]command{
		"login":       {"login <participant>", 1, s.login},
		"open":        {"open <peer>", 1, s.open},
		"close":       {"close <peer>", 1, s.close},
		"send":        {"send <peer> <text...>", 2, s.send},
		"media":       {"media <peer> <image|video|audio|document> <url> <mime>", 4, s.media},
		"edit":        {"edit <peer> <message id> <text...>", 3, s.edit},
		"delete":      {"delete <peer> <message id> [everyone]", 2, s.delete},
		"focus":       {"focus <peer>", 1, s.focus(true)},
		"blur":        {"blur <peer>", 1, s.focus(false)},
		"find":        {"find <peer> <query...> [--from <id>] [--limit <n>]", 2, s.find},
		"highlight":   {"highlight <peer> <message id>", 2, s.highlight},
		"unhighlight": {"unhighlight <peer>", 1, s.unhighlight},
		"clear":       {"clear <peer>", 1, s.clear},
		"forget":      {"forget <peer>", 1, s.forget},
		"block":       {"block <peer>", 1, s.block},
		"unblock":     {"unblock <peer>", 1, s.unblock},
		"blocked":     {"blocked", 0, s.blocked},
		"online":      {"online", 0, s.setOnline(true)},
		"offline":     {"offline", 0, s.setOnline(false)},
		"typing":      {"typing <peer> [stop]", 1, s.typing},
		"watch":       {"watch <peer>", 1, s.watch},
		"inbox":       {"inbox", 0, s.inbox},
		"history":     {"history <peer> [limit]", 1, s.history},
		"privacy":     {"privacy <lastseen|receipts> <on|off>", 2, s.privacy},
	}
}

// run reads commands until quit, end of input or ctx is done.
func (s *shell) run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()
	defer s.stopWatches()

	commands := s.commands()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			if fields[0] == "quit" || fields[0] == "exit" {
				return nil
			}
			if err := s.exec(ctx, commands, fields); err != nil {
				s.printf("%s\n", s.paint(color.New(color.FgRed), "error: "+err.Error()))
			}
		}
	}
}

func (s *shell) exec(ctx context.Context, commands map[string]command, fields []string) error {
	if fields[0] == "help" {
		names := make([]string, 0, len(commands))
		for name := range commands {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s.printf("  %s\n", commands[name].usage)
		}
		return nil
	}
	cmd, ok := commands[fields[0]]
	if !ok {
		return fmt.Errorf("unknown command %q, try help", fields[0])
	}
	args := fields[1:]
	if len(args) < cmd.args {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	if fields[0] != "login" {
		if err := s.session.Require(s.clock.Now()); err != nil {
			return fmt.Errorf("%w, login first", err)
		}
	}
	if strings.HasPrefix(cmd.usage, fields[0]+" <peer>") {
		if err := auth.ValidateParticipantID(args[0]); err != nil {
			return err
		}
	}
	return cmd.run(ctx, args)
}

func (s *shell) printf(format string, a ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, a...)
}

func (s *shell) paint(style color.Style, text string) string {
	return s.renderer().paint(style, text)
}

func (s *shell) renderer() renderer {
	return renderer{colours: s.colours, location: s.location}
}

func (s *shell) with(peer string) chat.Conversation {
	return chat.NewConversation(s.session.ParticipantID, peer)
}

// viewPrinter prints every view pushed by an open conversation.
type viewPrinter struct {
	shell *shell
	owner string
}

func (p viewPrinter) Consume(_ context.Context, view projection.View) error {
	p.shell.mu.Lock()
	defer p.shell.mu.Unlock()
	p.shell.renderer().View(p.shell.out, p.owner, view)
	return nil
}

func (s *shell) login(_ context.Context, args []string) error {
	token, err := s.issuer.GenerateToken(args[0], s.clock.Now())
	if err != nil {
		return err
	}
	session, err := s.issuer.Session(token)
	if err != nil {
		return err
	}
	s.session = session
	s.printf("logged in as %s until %s\n", session.ParticipantID, session.ExpiresAt.In(s.location).Format(time.DateTime))
	return nil
}

func (s *shell) open(_ context.Context, args []string) error {
	_, err := s.views.Open(s.session, s.with(args[0]), viewPrinter{shell: s, owner: s.session.ParticipantID})
	return err
}

func (s *shell) close(_ context.Context, args []string) error {
	s.views.Close(s.session.ParticipantID, s.with(args[0]).Key)
	return nil
}

func (s *shell) send(ctx context.Context, args []string) error {
	msg, err := s.messages.Send(ctx, s.session, s.with(args[0]), services.SendRequest{
		Type: chat.TypeText,
		Body: strings.Join(args[1:], " "),
	})
	if err != nil {
		return err
	}
	s.printf("sent %s\n", msg.ID)
	return nil
}

func (s *shell) media(ctx context.Context, args []string) error {
	msg, err := s.messages.Send(ctx, s.session, s.with(args[0]), services.SendRequest{
		Type:    chat.MessageType(args[1]),
		Payload: &chat.Payload{URL: args[2], MIME: args[3]},
	})
	if err != nil {
		return err
	}
	s.printf("sent %s\n", msg.ID)
	return nil
}

func (s *shell) edit(ctx context.Context, args []string) error {
	return s.messages.Edit(ctx, s.session, s.with(args[0]), args[1], strings.Join(args[2:], " "))
}

func (s *shell) delete(ctx context.Context, args []string) error {
	if len(args) > 2 && args[2] == "everyone" {
		return s.messages.DeleteForEveryone(ctx, s.session, s.with(args[0]), args[1])
	}
	return s.messages.DeleteForUser(ctx, s.session, s.with(args[0]), args[1])
}

func (s *shell) focus(focused bool) func(ctx context.Context, args []string) error {
	return func(ctx context.Context, args []string) error {
		return s.views.Send(ctx, s.session.ParticipantID, s.with(args[0]).Key, workers.SetFocused{Focused: focused})
	}
}

func (s *shell) find(ctx context.Context, args []string) error {
	return s.views.Send(ctx, s.session.ParticipantID, s.with(args[0]).Key, workers.Search{Input: strings.Join(args[1:], " ")})
}

func (s *shell) highlight(ctx context.Context, args []string) error {
	return s.views.Send(ctx, s.session.ParticipantID, s.with(args[0]).Key, workers.Highlight{MessageID: args[1]})
}

func (s *shell) unhighlight(ctx context.Context, args []string) error {
	return s.views.Send(ctx, s.session.ParticipantID, s.with(args[0]).Key, workers.ClearHighlight{})
}

func (s *shell) clear(ctx context.Context, args []string) error {
	return s.messages.ClearConversation(ctx, s.session, s.with(args[0]))
}

func (s *shell) forget(ctx context.Context, args []string) error {
	conv := s.with(args[0])
	s.views.Close(s.session.ParticipantID, conv.Key)
	return s.messages.DeleteConversation(ctx, s.session, conv)
}

func (s *shell) block(ctx context.Context, args []string) error {
	return s.blocks.Block(ctx, s.session, args[0])
}

func (s *shell) unblock(ctx context.Context, args []string) error {
	return s.blocks.Unblock(ctx, s.session, args[0])
}

func (s *shell) blocked(ctx context.Context, _ []string) error {
	relations, err := s.blocks.Blocked(ctx, s.session)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renderer().Blocked(s.out, relations)
	return nil
}

func (s *shell) setOnline(online bool) func(ctx context.Context, args []string) error {
	return func(ctx context.Context, _ []string) error {
		return s.presence.SetOnline(ctx, s.session, online, s.clock.Now())
	}
}

func (s *shell) typing(ctx context.Context, args []string) error {
	isTyping := len(args) < 2 || args[1] != "stop"
	return s.presence.SetTyping(ctx, s.session, s.with(args[0]), isTyping, s.clock.Now())
}

// watch follows the peer's presence and typing until the shell stops.
func (s *shell) watch(ctx context.Context, args []string) error {
	peer := args[0]
	presence, err := s.presence.Observe(ctx, s.session, peer)
	if err != nil {
		return err
	}
	typing, err := s.presence.ObserveTyping(ctx, s.session, s.with(peer))
	if err != nil {
		presence.Close()
		return err
	}
	s.watches = append(s.watches, presence.Close, typing.Close)
	if presence.Hidden() {
		s.printf("presence of %s is not visible\n", peer)
	}
	go func() {
		for p := range presence.Updates() {
			state := "offline, last seen " + p.LastSeenAt.In(s.location).Format(time.DateTime)
			if p.Online {
				state = "online"
			}
			s.printf("%s is %s\n", peer, state)
		}
	}()
	go func() {
		for t := range typing.Updates() {
			if t.Typing {
				s.printf("%s is typing...\n", peer)
			}
		}
	}()
	return nil
}

func (s *shell) stopWatches() {
	for _, stop := range s.watches {
		stop()
	}
	s.watches = nil
}

func (s *shell) inbox(ctx context.Context, _ []string) error {
	summaries, err := s.messages.Conversations(ctx, s.session)
	if err != nil {
		return err
	}
	unread := make(map[chat.ConversationKey]int, len(summaries))
	for _, summary := range summaries {
		n, err := s.unread.Resolve(ctx, s.session, s.with(summary.Counterpart))
		if err != nil {
			return err
		}
		unread[summary.Key] = n
	}
	total, err := s.unread.Total(ctx, s.session)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renderer().Conversations(s.out, summaries, unread, total)
	return nil
}

// history prints the last messages once, without opening a view.
func (s *shell) history(ctx context.Context, args []string) error {
	limit := 20
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: limit %q is not a positive number", errors.ErrPolicyViolation, args[1])
		}
		limit = n
	}
	conv := s.with(args[0])
	recent, err := s.messages.Recent(ctx, s.session, conv, limit)
	if err != nil {
		return err
	}
	peer, err := s.profiles.Privacy(ctx, args[0])
	if err != nil {
		return err
	}
	view := projection.Project(recent, projection.ProjectOptions{
		Conversation:        conv.Key,
		Viewer:              s.session.ParticipantID,
		Counterpart:         args[0],
		Location:            s.location,
		ReadReceiptsVisible: peer.ReadReceiptsEnabled,
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renderer().View(s.out, s.session.ParticipantID, view)
	return nil
}

func (s *shell) privacy(ctx context.Context, args []string) error {
	var enabled bool
	switch args[1] {
	case "on":
		enabled = true
	case "off":
	default:
		return fmt.Errorf("%w: %q is not on or off", errors.ErrPolicyViolation, args[1])
	}
	privacy, err := s.profiles.Privacy(ctx, s.session.ParticipantID)
	if err != nil {
		return err
	}
	switch args[0] {
	case "lastseen":
		privacy.LastSeenVisible = enabled
	case "receipts":
		privacy.ReadReceiptsEnabled = enabled
	default:
		return fmt.Errorf("%w: unknown privacy flag %q", errors.ErrPolicyViolation, args[0])
	}
	return s.profiles.SavePrivacy(ctx, s.session.ParticipantID, privacy)
}
