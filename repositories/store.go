package repositories

import (
	"chat-core/contract"
	"chat-core/domain/chat"
	"chat-core/errors"
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// BadgerStore is an embedded implementation of contract.Store.
// Every leaf of the value tree is one Badger key "node:{path}" holding a
// protobuf encoded structpb.Value, so a subtree is a prefix scan and children
// come back in key order. Writes are serialized: watchers observe changes in
// commit order.
type BadgerStore struct {
	db       *badger.DB
	log      *slog.Logger
	mu       sync.Mutex
	watchers map[uint64]*watcher
	nextID   uint64
	closed   bool
}

type watcher struct {
	segments []string
	children *subscription[contract.ChildEvent]
	value    *subscription[any]
}

// assignment replaces the subtree at segments with value.
type assignment struct {
	segments []string
	leaves   map[string]*structpb.Value
}

// scope is the part of a watched node a write can change.
type scope struct {
	all   bool
	names []string
}

type snapshot struct {
	children map[string]any
	value    any
}

func NewBadgerStore(db *badger.DB, log *slog.Logger) *BadgerStore {
	return &BadgerStore{db: db, log: log, watchers: make(map[uint64]*watcher)}
}

// AppendChild stores value under a new time-ordered id and returns the id.
func (s *BadgerStore) AppendChild(ctx context.Context, path string, value any) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.Transient(err)
	}
	if err = s.SetValue(ctx, joinPath(path, id.String()), value); err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s *BadgerStore) SetValue(ctx context.Context, path string, value any) error {
	a, err := newAssignment(path, value)
	if err != nil {
		return err
	}
	return s.write(ctx, []assignment{a})
}

// UpdateFields applies every field atomically. Keys are relative paths,
// a nil value removes the field.
func (s *BadgerStore) UpdateFields(ctx context.Context, path string, fields map[string]any) error {
	keys := lo.Keys(fields)
	sort.Strings(keys)
	assignments := make([]assignment, 0, len(keys))
	for _, k := range keys {
		a, err := newAssignment(joinPath(path, k), fields[k])
		if err != nil {
			return err
		}
		assignments = append(assignments, a)
	}
	return s.write(ctx, assignments)
}

func (s *BadgerStore) ReadOnce(ctx context.Context, path string, opts ...contract.ReadOption) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	var options contract.ReadOptions
	for _, opt := range opts {
		opt(&options)
	}

	var value any
	err = s.db.View(func(txn *badger.Txn) error {
		if options.LimitToLast > 0 {
			children, err := readChildren(txn, segments, options.LimitToLast)
			if err != nil {
				return err
			}
			if len(children) > 0 {
				value = children
			}
			return nil
		}
		value, err = readValue(txn, segments)
		return err
	})
	if err != nil {
		return nil, errors.Transient(err)
	}
	return value, nil
}

// SubscribeChildEvents first replays the current children as Added events
// followed by a Synced marker, then streams live changes.
func (s *BadgerStore) SubscribeChildEvents(ctx context.Context, path string) (contract.Subscription[contract.ChildEvent], error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.ErrStoreClosed
	}

	var children map[string]any
	err = s.db.View(func(txn *badger.Txn) error {
		children, err = readChildren(txn, segments, 0)
		return err
	})
	if err != nil {
		return nil, errors.Transient(err)
	}

	id := s.register()
	sub := newSubscription[contract.ChildEvent](func() { s.unregister(id) })
	s.watchers[id] = &watcher{segments: segments, children: sub}
	for _, name := range sortedKeys(children) {
		sub.push(contract.ChildEvent{Kind: chat.Added, Key: name, Value: children[name]})
	}
	sub.push(contract.ChildEvent{Kind: chat.Synced})
	go closeOnDone(ctx, sub)
	return sub, nil
}

// SubscribeValue emits the current value (nil when absent) then every change.
func (s *BadgerStore) SubscribeValue(ctx context.Context, path string) (contract.Subscription[any], error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.ErrStoreClosed
	}

	var value any
	err = s.db.View(func(txn *badger.Txn) error {
		value, err = readValue(txn, segments)
		return err
	})
	if err != nil {
		return nil, errors.Transient(err)
	}

	id := s.register()
	sub := newSubscription[any](func() { s.unregister(id) })
	s.watchers[id] = &watcher{segments: segments, value: sub}
	sub.push(value)
	go closeOnDone(ctx, sub)
	return sub, nil
}

// Disconnect drops every live subscription with ErrTransient, the way a lost
// sync connection does. Subscribers are expected to subscribe again.
func (s *BadgerStore) Disconnect() {
	s.mu.Lock()
	watchers := lo.Values(s.watchers)
	s.mu.Unlock()
	for _, w := range watchers {
		w.end(errors.ErrTransient)
	}
}

// Close ends all subscriptions. The Badger handle stays owned by the caller.
func (s *BadgerStore) Close() {
	s.mu.Lock()
	s.closed = true
	watchers := lo.Values(s.watchers)
	s.mu.Unlock()
	for _, w := range watchers {
		w.end(errors.ErrCancelled)
	}
}

func (w *watcher) end(err error) {
	if w.children != nil {
		w.children.end(err)
	}
	if w.value != nil {
		w.value.end(err)
	}
}

func (s *BadgerStore) register() uint64 {
	s.nextID++
	return s.nextID
}

func (s *BadgerStore) unregister(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers, id)
}

type closer interface {
	end(err error)
	isDone() <-chan struct{}
}

func (s *subscription[T]) isDone() <-chan struct{} {
	return s.done
}

func closeOnDone(ctx context.Context, sub closer) {
	select {
	case <-ctx.Done():
		sub.end(errors.ErrCancelled)
	case <-sub.isDone():
	}
}

func (s *BadgerStore) write(ctx context.Context, assignments []assignment) error {
	if err := ctx.Err(); err != nil {
		return errors.FromContext(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrStoreClosed
	}

	affected := s.affected(assignments)
	before, err := s.capture(affected)
	if err != nil {
		return errors.Transient(err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, a := range assignments {
			if err := applyAssignment(txn, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Transient(err)
	}

	after, err := s.capture(affected)
	if err != nil {
		s.log.Warn("Cannot read back written nodes, watchers not notified", "error", err)
		return nil
	}
	for id := range affected {
		s.dispatch(s.watchers[id], before[id], after[id])
	}
	return nil
}

// affected returns, per watcher, which of its children the write can touch.
func (s *BadgerStore) affected(assignments []assignment) map[uint64]scope {
	result := make(map[uint64]scope)
	for id, w := range s.watchers {
		sc, related := scope{}, false
		for _, a := range assignments {
			switch {
			case hasPrefix(w.segments, a.segments):
				// the write replaces the watched node or one of its ancestors
				sc.all, related = true, true
			case hasPrefix(a.segments, w.segments):
				related = true
				sc.names = append(sc.names, a.segments[len(w.segments)])
			}
		}
		if related {
			sc.names = lo.Uniq(sc.names)
			result[id] = sc
		}
	}
	return result
}

func (s *BadgerStore) capture(affected map[uint64]scope) (map[uint64]snapshot, error) {
	result := make(map[uint64]snapshot, len(affected))
	err := s.db.View(func(txn *badger.Txn) error {
		for id, sc := range affected {
			w := s.watchers[id]
			if w.value != nil {
				v, err := readValue(txn, w.segments)
				if err != nil {
					return err
				}
				result[id] = snapshot{value: v}
				continue
			}
			if sc.all {
				children, err := readChildren(txn, w.segments, 0)
				if err != nil {
					return err
				}
				result[id] = snapshot{children: children}
				continue
			}
			children := make(map[string]any, len(sc.names))
			for _, name := range sc.names {
				v, err := readValue(txn, childOf(w.segments, name))
				if err != nil {
					return err
				}
				if v != nil {
					children[name] = v
				}
			}
			result[id] = snapshot{children: children}
		}
		return nil
	})
	return result, err
}

func (s *BadgerStore) dispatch(w *watcher, before, after snapshot) {
	if w.value != nil {
		if !reflect.DeepEqual(before.value, after.value) {
			w.value.push(after.value)
		}
		return
	}
	names := lo.Uniq(append(lo.Keys(before.children), lo.Keys(after.children)...))
	sort.Strings(names)
	for _, name := range names {
		old, hadOld := before.children[name]
		cur, hasCur := after.children[name]
		switch {
		case hadOld && !hasCur:
			w.children.push(contract.ChildEvent{Kind: chat.Removed, Key: name})
		case !hadOld && hasCur:
			w.children.push(contract.ChildEvent{Kind: chat.Added, Key: name, Value: cur})
		case !reflect.DeepEqual(old, cur):
			w.children.push(contract.ChildEvent{Kind: chat.Changed, Key: name, Value: cur})
		}
	}
}

func newAssignment(path string, value any) (assignment, error) {
	segments, err := splitPath(path)
	if err != nil {
		return assignment{}, err
	}
	leaves := make(map[string]*structpb.Value)
	if err = flatten(segments, value, leaves); err != nil {
		return assignment{}, err
	}
	return assignment{segments: segments, leaves: leaves}, nil
}

func flatten(segments []string, value any, leaves map[string]*structpb.Value) error {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		for k, child := range v {
			if err := validateSegment(k); err != nil {
				return fmt.Errorf("%w: field %q", err, k)
			}
			if err := flatten(childOf(segments, k), child, leaves); err != nil {
				return err
			}
		}
		return nil
	default:
		pv, err := structpb.NewValue(v)
		if err != nil {
			return fmt.Errorf("%w: %v", errors.ErrPolicyViolation, err)
		}
		leaves[nodeKey(segments)] = pv
		return nil
	}
}

func applyAssignment(txn *badger.Txn, a assignment) error {
	// an ancestor holding a scalar is replaced by the new subtree
	for i := 1; i < len(a.segments); i++ {
		if err := txn.Delete([]byte(nodeKey(a.segments[:i]))); err != nil {
			return err
		}
	}
	stale, err := subtreeKeys(txn, a.segments)
	if err != nil {
		return err
	}
	for _, k := range stale {
		if err = txn.Delete(k); err != nil {
			return err
		}
	}
	for k, v := range a.leaves {
		bytes, err := proto.Marshal(v)
		if err != nil {
			return err
		}
		if err = txn.Set([]byte(k), bytes); err != nil {
			return err
		}
	}
	return nil
}

func subtreeKeys(txn *badger.Txn, segments []string) ([][]byte, error) {
	exact := []byte(nodeKey(segments))
	keys := [][]byte{exact}
	prefix := []byte(nodeKey(segments) + "/")
	options := badger.DefaultIteratorOptions
	options.PrefetchValues = false
	it := txn.NewIterator(options)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

// readValue returns the scalar stored at segments, the assembled subtree, or nil.
func readValue(txn *badger.Txn, segments []string) (any, error) {
	item, err := txn.Get([]byte(nodeKey(segments)))
	switch {
	case err == nil:
		return decodeItem(item)
	case err != badger.ErrKeyNotFound:
		return nil, err
	}
	children, err := readChildren(txn, segments, 0)
	if err != nil || len(children) == 0 {
		return nil, err
	}
	return children, nil
}

// readChildren assembles the direct children of segments.
// With limit > 0 only the last limit children in key order are kept.
func readChildren(txn *badger.Txn, segments []string, limit int) (map[string]any, error) {
	prefix := []byte(nodeKey(segments) + "/")
	options := badger.DefaultIteratorOptions
	options.Reverse = limit > 0
	it := txn.NewIterator(options)
	defer it.Close()

	seek := prefix
	if options.Reverse {
		seek = append(append([]byte{}, prefix...), 0xFF)
	}
	children := make(map[string]any)
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		rel := string(item.Key()[len(prefix):])
		name, rest, _ := strings.Cut(rel, "/")
		if _, seen := children[name]; !seen && limit > 0 && len(children) == limit {
			break
		}
		v, err := decodeItem(item)
		if err != nil {
			return nil, err
		}
		setNested(children, name, rest, v)
	}
	return children, nil
}

func setNested(into map[string]any, name, rest string, v any) {
	if rest == "" {
		into[name] = v
		return
	}
	child, ok := into[name].(map[string]any)
	if !ok {
		child = make(map[string]any)
		into[name] = child
	}
	next, remaining, _ := strings.Cut(rest, "/")
	setNested(child, next, remaining, v)
}

func decodeItem(item *badger.Item) (any, error) {
	var pv structpb.Value
	err := item.Value(func(val []byte) error {
		return proto.Unmarshal(val, &pv)
	})
	if err != nil {
		return nil, err
	}
	return pv.AsInterface(), nil
}

func childOf(segments []string, name string) []string {
	return append(append(make([]string, 0, len(segments)+1), segments...), name)
}

func sortedKeys(m map[string]any) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
