package workers

import (
	"chat-core/auth"
	"chat-core/contract"
	"chat-core/domain/chat"
	dsearch "chat-core/domain/search"
	"chat-core/errors"
	"chat-core/internal"
	"chat-core/observability"
	"chat-core/projection"
	"chat-core/repositories"
	"chat-core/services"
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/samber/lo"
)

// Command changes how the owner looks at the conversation.
type Command interface {
	isCommand()
}

// SetFocused tells whether the conversation is on screen.
// Gaining focus reads every unread incoming message.
type SetFocused struct{ Focused bool }

// Highlight pins the view on a message.
type Highlight struct{ MessageID string }

// ClearHighlight lets the view follow new messages again.
type ClearHighlight struct{}

// Search highlights the newest message matching a query typed by the owner.
type Search struct{ Input string }

func (SetFocused) isCommand()     {}
func (Highlight) isCommand()      {}
func (ClearHighlight) isCommand() {}
func (Search) isCommand()         {}

// Indexer receives every message the owner can see.
type Indexer interface {
	Put(owner string, key chat.ConversationKey, m chat.Message) error
	Delete(owner string, key chat.ConversationKey, messageID string) error
	Search(ctx context.Context, owner string, key chat.ConversationKey, q dsearch.Query) ([]string, error)
}

type receiptKind int

const (
	receiptDelivery receiptKind = iota
	receiptRead
	countersReset
)

// job is a batch of store writes run off the event sequence.
type job struct {
	kind receiptKind
	ids  []string
}

// completion is the result of a job, fed back to the event sequence.
type completion struct {
	job
	changed int
	err     error
}

type ConversationDeps struct {
	Store    contract.Store
	Messages services.IMessageService
	Unread   services.IUnreadService
	Blocks   services.IBlockService
	Profiles contract.ProfileService
	Index    Indexer
	Clock    contract.Clock
	Log      *slog.Logger
	Metrics  *observability.Metrics
	Config   internal.Config
}

// ConversationWorker owns the view of one conversation for one participant.
// Store events, block changes, write completions and commands are all
// handled on the single goroutine running Run, so the timeline needs no lock.
// Store writes never run on that goroutine.
type ConversationWorker struct {
	ConversationDeps
	session     auth.Session
	conv        chat.Conversation
	counterpart string
	sink        contract.ViewSink[projection.View]
	timeline    *projection.Timeline
	commands    chan Command
	completions chan completion
	writes      *writeQueue
	pending     map[string]receiptKind
	// deliveries collects the snapshot messages to acknowledge in one batch.
	deliveries  []string
	focused     bool
}

func NewConversationWorker(
	deps ConversationDeps,
	session auth.Session,
	conv chat.Conversation,
	sink contract.ViewSink[projection.View],
) (*ConversationWorker, error) {
	loc, err := deps.Config.Location()
	if err != nil {
		return nil, err
	}
	return &ConversationWorker{
		ConversationDeps: deps,
		session:          session,
		conv:             conv,
		counterpart:      conv.Counterpart(session.ParticipantID),
		sink:             sink,
		timeline:         projection.NewTimeline(conv, session.ParticipantID, loc),
		commands:         make(chan Command, deps.Config.CommandBufferSize),
		completions:      make(chan completion, deps.Config.CommandBufferSize),
	}, nil
}

// Send queues a command for the worker.
func (w *ConversationWorker) Send(ctx context.Context, cmd Command) error {
	select {
	case w.commands <- cmd:
		return nil
	case <-ctx.Done():
		return errors.FromContext(ctx.Err())
	}
}

// Run follows the conversation until ctx is done. A subscription dropped by
// the store is re-established with exponential backoff; the fresh snapshot
// then resynchronizes the timeline.
func (w *ConversationWorker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.pending = make(map[string]receiptKind)
	w.writes = newWriteQueue()
	go w.writes.run(ctx, w.write, w.completions)

	b := w.newBackOff()
	for {
		err := w.follow(ctx, b)
		switch {
		case ctx.Err() != nil:
			w.Log.Debug("Stopping conversation worker", "conversation", w.conv.Key, "owner", w.session.ParticipantID)
			return nil
		case err == nil:
			return nil
		case stderrors.Is(err, errors.ErrCancelled), stderrors.Is(err, errors.ErrStoreClosed):
			w.Log.Info("Store went away, stopping conversation worker", "conversation", w.conv.Key)
			return nil
		case stderrors.Is(err, errors.ErrInvalidPath), stderrors.Is(err, errors.ErrPolicyViolation):
			// a restart would fail the same way
			w.Log.Error("Conversation cannot be followed, stopping worker", "conversation", w.conv.Key, "error", err)
			return nil
		case !errors.IsRetryable(err):
			return err
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		w.Metrics.Resubscribes.Inc()
		w.Log.Warn("Conversation subscription lost, subscribing again", "conversation", w.conv.Key, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (w *ConversationWorker) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.Config.ResubscribeMinInterval
	b.MaxInterval = w.Config.ResubscribeMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// follow runs one subscription lifetime.
func (w *ConversationWorker) follow(ctx context.Context, b backoff.BackOff) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	blocks, err := w.Blocks.Observe(subCtx, w.session.ParticipantID, w.counterpart)
	if err != nil {
		return err
	}
	defer blocks.Close()
	// the block state must be known before any message is let through
	select {
	case state, ok := <-blocks.Updates():
		if !ok {
			return closedWatchErr(blocks.Err())
		}
		if _, purged := w.timeline.SetBlock(state); len(purged) > 0 {
			w.forget(purged)
			w.publish(ctx)
		}
	case <-ctx.Done():
		return nil
	}

	if privacy, err := w.Profiles.Privacy(subCtx, w.counterpart); err != nil {
		w.Log.Warn("Unable to read counterpart privacy", "participant", w.counterpart, "error", err)
	} else {
		w.timeline.SetReadReceiptsVisible(privacy.ReadReceiptsEnabled)
	}

	sub, err := w.Store.SubscribeChildEvents(subCtx, repositories.MessagesPath(w.conv.Key))
	if err != nil {
		return err
	}
	defer sub.Close()
	w.timeline.BeginResync()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-sub.Events():
			if !ok {
				return closedWatchErr(sub.Err())
			}
			if evt.Kind == chat.Synced {
				b.Reset()
			}
			w.onChild(ctx, evt)
		case state, ok := <-blocks.Updates():
			if !ok {
				return closedWatchErr(blocks.Err())
			}
			if changed, purged := w.timeline.SetBlock(state); changed {
				w.forget(purged)
				w.publish(ctx)
			}
		case cmd := <-w.commands:
			w.onCommand(ctx, cmd)
		case c := <-w.completions:
			w.onCompletion(c)
		}
	}
}

// closedWatchErr makes a subscription that ended without a reason retryable.
func closedWatchErr(err error) error {
	if err == nil {
		return errors.ErrTransient
	}
	return err
}

func (w *ConversationWorker) onChild(ctx context.Context, evt contract.ChildEvent) {
	w.Metrics.Events.WithLabelValues(evt.Kind.String()).Inc()
	if evt.Kind == chat.Synced {
		purged := w.timeline.EndResync()
		for _, id := range purged {
			w.index(chat.MessageEvent{Kind: chat.Removed, ID: id})
		}
		if len(purged) > 0 {
			w.Log.Debug("Purged messages missing from snapshot", "conversation", w.conv.Key, "count", len(purged))
		}
		w.publish(ctx)
		if w.focused {
			w.readAll()
		} else if len(w.deliveries) > 0 {
			w.dispatch(job{kind: receiptDelivery, ids: w.deliveries})
		}
		w.deliveries = nil
		return
	}

	msgEvt := chat.MessageEvent{Kind: evt.Kind, ID: evt.Key}
	if evt.Kind != chat.Removed {
		m, err := repositories.ToMessage(evt.Key, evt.Value)
		if err != nil {
			w.Log.Warn("Skipping undecodable message", "conversation", w.conv.Key, "id", evt.Key, "error", err)
			return
		}
		msgEvt.Message = m
	}

	outcome := w.timeline.Apply(msgEvt)
	switch {
	case outcome.Duplicate:
		w.Metrics.Duplicates.Inc()
		return
	case outcome.Dropped && outcome.Changed:
		w.forget([]string{evt.Key})
		if !w.timeline.Resyncing() {
			w.publish(ctx)
		}
		return
	case outcome.Dropped:
		w.Metrics.BlockedDropped.Inc()
		return
	case !outcome.Changed:
		return
	}

	w.index(msgEvt)
	if outcome.ReceiptsDue {
		w.acknowledge(outcome.Message)
	}
	if !w.timeline.Resyncing() {
		w.publish(ctx)
	}
}

// forget drops messages the block now hides from the index and from the
// pending delivery batch.
func (w *ConversationWorker) forget(ids []string) {
	for _, id := range ids {
		w.index(chat.MessageEvent{Kind: chat.Removed, ID: id})
	}
	w.deliveries = lo.Without(w.deliveries, ids...)
	w.Metrics.BlockedDropped.Add(float64(len(ids)))
}

func (w *ConversationWorker) index(evt chat.MessageEvent) {
	var err error
	if evt.Kind == chat.Removed {
		err = w.Index.Delete(w.session.ParticipantID, w.conv.Key, evt.ID)
	} else {
		err = w.Index.Put(w.session.ParticipantID, w.conv.Key, evt.Message)
	}
	if err != nil {
		w.Log.Warn("Unable to index message", "conversation", w.conv.Key, "id", evt.ID, "error", err)
	}
}

// acknowledge writes the receipt an incoming message is due: a read when
// the conversation is focused, a delivery otherwise. Deliveries found in a
// snapshot wait for its end so the unread counter moves once.
func (w *ConversationWorker) acknowledge(m chat.Message) {
	if w.focused {
		if !w.timeline.Resyncing() {
			w.dispatch(job{kind: receiptRead, ids: []string{m.ID}})
		}
		return
	}
	if m.ReceiptFor(w.session.ParticipantID).DeliveredAt != nil {
		return
	}
	if w.timeline.Resyncing() {
		w.deliveries = append(w.deliveries, m.ID)
		return
	}
	w.dispatch(job{kind: receiptDelivery, ids: []string{m.ID}})
}

func (w *ConversationWorker) readAll() {
	ids := lo.Map(w.timeline.Unread(), func(m chat.Message, _ int) string { return m.ID })
	w.dispatch(job{kind: receiptRead, ids: ids})
	w.dispatch(job{kind: countersReset})
}

// dispatch queues a job for the writer. Messages with a write of the same
// or a stronger kind already in flight are left out.
func (w *ConversationWorker) dispatch(j job) {
	ids := j.ids[:0:0]
	for _, id := range j.ids {
		if inFlight, ok := w.pending[id]; ok && inFlight >= j.kind {
			continue
		}
		w.pending[id] = j.kind
		ids = append(ids, id)
	}
	if j.kind != countersReset && len(ids) == 0 {
		return
	}
	j.ids = ids
	w.writes.push(j)
}

// write runs on the writer goroutine, one job at a time.
func (w *ConversationWorker) write(ctx context.Context, j job) completion {
	c := completion{job: j}
	var errs []error
	for _, id := range j.ids {
		now := w.Clock.Now()
		var changed bool
		var err error
		if j.kind == receiptRead {
			changed, err = w.Messages.MarkRead(ctx, w.session, w.conv, id, now)
		} else {
			changed, err = w.Messages.MarkDelivered(ctx, w.session, w.conv, id, now)
		}
		if err != nil {
			errs = append(errs, err)
		}
		if changed {
			c.changed++
		}
	}
	switch {
	case j.kind == receiptDelivery && c.changed > 0:
		errs = append(errs, w.Unread.IncrementUserLevelBy(ctx, w.session, w.conv, c.changed))
	case j.kind == receiptRead && c.changed > 0, j.kind == countersReset:
		errs = append(errs, w.Unread.MarkRead(ctx, w.session, w.conv))
	}
	c.err = stderrors.Join(errs...)
	return c
}

func (w *ConversationWorker) onCompletion(c completion) {
	for _, id := range c.ids {
		if w.pending[id] == c.kind {
			delete(w.pending, id)
		}
	}
	if c.err != nil {
		if errors.IsUserVisible(c.err) {
			w.Log.Warn("Receipt write failed", "conversation", w.conv.Key, "messages", len(c.ids), "error", c.err)
		}
		return
	}
	if c.changed > 0 {
		w.Log.Debug("Receipts written", "conversation", w.conv.Key, "count", c.changed, "read", c.kind == receiptRead)
	}
}

func (w *ConversationWorker) onCommand(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case SetFocused:
		if w.focused == c.Focused {
			return
		}
		w.focused = c.Focused
		if c.Focused && !w.timeline.Resyncing() {
			w.readAll()
		}
	case Highlight:
		w.timeline.Highlight(c.MessageID)
		w.publish(ctx)
	case ClearHighlight:
		w.timeline.ClearHighlight()
		w.publish(ctx)
	case Search:
		ids, err := w.Index.Search(ctx, w.session.ParticipantID, w.conv.Key, dsearch.NewSearchQuery(c.Input))
		if err != nil {
			w.Log.Warn("Search failed", "conversation", w.conv.Key, "error", err)
			return
		}
		if len(ids) == 0 {
			w.timeline.ClearHighlight()
		} else {
			w.timeline.Highlight(ids[0])
		}
		w.publish(ctx)
	}
}

func (w *ConversationWorker) publish(ctx context.Context) {
	if err := w.sink.Consume(ctx, w.timeline.View()); err != nil && errors.IsUserVisible(errors.FromContext(err)) {
		w.Log.Warn("View sink rejected view", "conversation", w.conv.Key, "error", err)
	}
}
