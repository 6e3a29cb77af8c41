package runtime

import (
	"chat-core/auth"
	"chat-core/contract"
	"chat-core/domain/chat"
	"chat-core/errors"
	"chat-core/projection"
	"chat-core/runtime/workers"
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type viewKey struct {
	owner        string
	conversation chat.ConversationKey
}

type openView struct {
	worker *workers.ConversationWorker
	cancel context.CancelFunc
}

// Registry keeps one supervised ConversationWorker per open view, keyed by
// owner and conversation.
type Registry struct {
	mu         sync.Mutex
	ctx        context.Context
	supervisor contract.ISupervisor
	deps       workers.ConversationDeps
	log        *slog.Logger
	views      map[viewKey]openView
}

func NewRegistry(ctx context.Context, supervisor contract.ISupervisor, deps workers.ConversationDeps) *Registry {
	return &Registry{
		ctx:        ctx,
		supervisor: supervisor,
		deps:       deps,
		log:        deps.Log,
		views:      make(map[viewKey]openView),
	}
}

// Open starts following conv for the session's participant. Every recomputed
// view goes to sink. Opening an already open view returns the running worker.
func (r *Registry) Open(session auth.Session, conv chat.Conversation, sink contract.ViewSink[projection.View]) (*workers.ConversationWorker, error) {
	if err := session.Require(r.deps.Clock.Now()); err != nil {
		return nil, err
	}
	if !conv.Valid() || !conv.Has(session.ParticipantID) {
		return nil, fmt.Errorf("%w: %q is not part of %s", errors.ErrPolicyViolation, session.ParticipantID, conv.Key)
	}
	for _, p := range conv.Participants {
		if err := auth.ValidateParticipantID(p); err != nil {
			return nil, err
		}
	}

	key := viewKey{owner: session.ParticipantID, conversation: conv.Key}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.views[key]; ok {
		return v.worker, nil
	}
	worker, err := workers.NewConversationWorker(r.deps, session, conv, sink)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.views[key] = openView{worker: worker, cancel: cancel}
	r.supervisor.Start(ctx, worker)
	r.log.Debug("Conversation opened", "owner", session.ParticipantID, "conversation", conv.Key)
	return worker, nil
}

// Send forwards a command to an open view.
func (r *Registry) Send(ctx context.Context, owner string, key chat.ConversationKey, cmd workers.Command) error {
	r.mu.Lock()
	v, ok := r.views[viewKey{owner: owner, conversation: key}]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s for %s", errors.ErrWorkerNotFound, key, owner)
	}
	return v.worker.Send(ctx, cmd)
}

// Close stops the view and releases its subscriptions. Closing a view that
// is not open is a no-op.
func (r *Registry) Close(owner string, key chat.ConversationKey) {
	r.mu.Lock()
	v, ok := r.views[viewKey{owner: owner, conversation: key}]
	delete(r.views, viewKey{owner: owner, conversation: key})
	r.mu.Unlock()
	if ok {
		v.cancel()
		r.log.Debug("Conversation closed", "owner", owner, "conversation", key)
	}
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	views := r.views
	r.views = make(map[viewKey]openView)
	r.mu.Unlock()
	for _, v := range views {
		v.cancel()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}
