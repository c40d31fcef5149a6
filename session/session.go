// Package session implements the Session State component described in
// spec.md §4.6: authoritative in-memory state for every active session,
// the append-only message/part tree, and the tool part state machine.
//
// Grounded on the teacher's runtime/agent/session/session.go for the
// Session lifecycle shape (ID, Status, CreatedAt/EndedAt) and
// runtime/agent/transcript/ledger.go for the ordered, append-only Part
// sequence and its sealed marker-interface family — generalized here from a
// provider-precise replay ledger into the richer session-level Part set
// spec.md §3 names (text/reasoning/step-start/step-finish/tool/file),
// since this core has no Temporal replay boundary to round-trip through.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loopwire/agentcore/bus"
	"github.com/loopwire/agentcore/model"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	// ErrNotFound indicates a session id does not exist in the Store.
	ErrNotFound = errors.New("session: not found")
	// ErrPartNotFound indicates a part id does not exist on the message.
	ErrPartNotFound = errors.New("session: part not found")
	// ErrPartTerminal indicates an attempt to mutate a part already in a
	// terminal state (spec §3: "A part, once in a terminal state, is
	// immutable").
	ErrPartTerminal = errors.New("session: part is terminal")
)

// Message is either `user` or `assistant` and owns an ordered, append-only
// sequence of Parts.
type Message struct {
	ID    string
	Role  model.ConversationRole
	Parts []Part
}

// Session is the durable (for the process lifetime) conversational
// container: creation/update times, an optional parent link for forked
// sessions, model selection, and the owned message history.
type Session struct {
	ID          string
	ParentID    string
	Status      Status
	CreatedAt   time.Time
	LastUpdated time.Time
	Provider    string
	Model       string
	System      string
	Messages    []Message
}

// clone deep-copies s, including every message's part slice, so callers
// that receive a snapshot (every component but Session State itself, per
// spec §3's ownership rule) cannot observe or cause mutation races.
func (s Session) clone() Session {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		cm := m
		cm.Parts = append([]Part(nil), m.Parts...)
		out.Messages[i] = cm
	}
	return out
}

// ForkOptions configures Store.Fork.
type ForkOptions struct {
	// SharedCache opts out of the default deep-copy fork semantics for
	// tool-result state (spec §9 Open Question). When false (the
	// default), Fork produces a fully independent copy of the message
	// tree; when true, the forked session is marked as sharing its
	// parent's resolved tool-result cache, for callers that explicitly
	// want a forked conversation to see a sibling's freshly computed
	// idempotent tool results rather than recomputing them.
	//
	// This core has no standalone tool-result cache component (the spec
	// has no Non-goal requiring one), so SharedCache only controls
	// whether the forked Session's ParentID-linked lineage is considered
	// a cache-sharing group by a caller-supplied cache layered on top —
	// the flag is plumbed through and recorded, not enforced internally.
	SharedCache bool
}

// ForkOption mutates ForkOptions.
type ForkOption func(*ForkOptions)

// WithSharedCache opts a Fork call into sharing its parent's tool-result
// cache instead of the safe, independent default.
func WithSharedCache() ForkOption {
	return func(o *ForkOptions) { o.SharedCache = true }
}

// Store is the authoritative, in-memory session registry. It is safe for
// concurrent use: a per-session lock serializes mutation of one session's
// message tree, while a short-lived registry lock guards the session map
// itself, matching spec §5's "session-scoped lock plus short-lived registry
// lock" concurrency model.
type Store struct {
	bus *bus.Bus

	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	session Session
	cache   sharedCache
}

// sharedCache is a placeholder correlation handle for ForkOptions.SharedCache
// lineage grouping; it carries no behavior of its own today, only the
// parent pointer a caller-supplied cache layer can key off.
type sharedCache struct {
	parentID string
	shared   bool
}

// NewStore constructs an empty Store publishing lifecycle and part-update
// events to b.
func NewStore(b *bus.Bus) *Store {
	return &Store{bus: b, sessions: make(map[string]*entry)}
}

// Create starts a new, empty, active Session.
func (s *Store) Create(provider, modelID, system string) Session {
	now := time.Now()
	sess := Session{
		ID:          uuid.NewString(),
		Status:      StatusActive,
		CreatedAt:   now,
		LastUpdated: now,
		Provider:    provider,
		Model:       modelID,
		System:      system,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = &entry{session: sess}
	s.mu.Unlock()

	return sess.clone()
}

// Get returns a snapshot of the session with the given id.
func (s *Store) Get(id string) (Session, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.clone(), nil
}

// Fork deep-copies id's history into a new session id, preserving the
// parent link, per spec §4.6. Sharing behavior for tool-result state is
// controlled by opts; see ForkOptions.SharedCache.
func (s *Store) Fork(id string, opts ...ForkOption) (Session, error) {
	cfg := ForkOptions{}
	for _, opt := range opts {
		opt(&cfg)
	}

	e, err := s.lookup(id)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	parent := e.session.clone()
	e.mu.Unlock()

	now := time.Now()
	forked := parent
	forked.ID = uuid.NewString()
	forked.ParentID = id
	forked.CreatedAt = now
	forked.LastUpdated = now
	forked.Status = StatusActive

	s.mu.Lock()
	s.sessions[forked.ID] = &entry{
		session: forked,
		cache:   sharedCache{parentID: id, shared: cfg.SharedCache},
	}
	s.mu.Unlock()

	return forked.clone(), nil
}

// ListRecent returns every session ordered by LastUpdated descending.
func (s *Store) ListRecent() []Session {
	s.mu.RLock()
	out := make([]Session, 0, len(s.sessions))
	for _, e := range s.sessions {
		e.mu.Lock()
		out = append(out, e.session.clone())
		e.mu.Unlock()
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out
}

// AppendMessage appends a new message to the session and publishes
// message.created.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role model.ConversationRole) (Message, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return Message{}, err
	}

	e.mu.Lock()
	msg := Message{ID: uuid.NewString(), Role: role}
	e.session.Messages = append(e.session.Messages, msg)
	e.session.LastUpdated = time.Now()
	e.mu.Unlock()

	s.bus.Publish(ctx, bus.Event{
		Type:      bus.EventMessageCreated,
		SessionID: sessionID,
		Payload:   msg,
	})
	return msg, nil
}

// AppendPart appends part to messageID's part sequence and publishes
// message.part.updated. Ordering is append-only: a part's position, once
// assigned, never changes.
func (s *Store) AppendPart(ctx context.Context, sessionID, messageID string, part Part) error {
	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	idx, ferr := findMessage(e.session.Messages, messageID)
	if ferr != nil {
		e.mu.Unlock()
		return ferr
	}
	e.session.Messages[idx].Parts = append(e.session.Messages[idx].Parts, part)
	e.session.LastUpdated = time.Now()
	e.mu.Unlock()

	s.bus.Publish(ctx, bus.Event{
		Type:      bus.EventMessagePartUpdate,
		SessionID: sessionID,
		Payload:   part,
	})
	return nil
}

// UpdatePart merges patch into an existing, non-terminal part identified by
// partID within messageID, and publishes message.part.updated. patch
// receives the current part and returns the replacement; patch must not
// change the part's ID or dynamic type.
//
// For ToolPart specifically, callers must go through TransitionTool instead
// so the status state machine in part.go is enforced; UpdatePart rejects any
// patch that changes a ToolPart's Status directly.
func (s *Store) UpdatePart(ctx context.Context, sessionID, messageID, partID string, patch func(Part) (Part, error)) error {
	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	midx, ferr := findMessage(e.session.Messages, messageID)
	if ferr != nil {
		e.mu.Unlock()
		return ferr
	}
	parts := e.session.Messages[midx].Parts
	pidx := -1
	for i, p := range parts {
		if p.PartID() == partID {
			pidx = i
			break
		}
	}
	if pidx < 0 {
		e.mu.Unlock()
		return ErrPartNotFound
	}
	current := parts[pidx]
	if tp, ok := current.(ToolPart); ok && terminalToolStatus(tp.Status) {
		e.mu.Unlock()
		return ErrPartTerminal
	}

	updated, perr := patch(current)
	if perr != nil {
		e.mu.Unlock()
		return perr
	}
	if updatedTool, ok := updated.(ToolPart); ok {
		currentTool, wasTool := current.(ToolPart)
		if wasTool && updatedTool.Status != currentTool.Status {
			e.mu.Unlock()
			return fmt.Errorf("session: use TransitionTool to change tool status")
		}
	}

	parts[pidx] = updated
	e.session.LastUpdated = time.Now()
	e.mu.Unlock()

	s.bus.Publish(ctx, bus.Event{
		Type:      bus.EventMessagePartUpdate,
		SessionID: sessionID,
		Payload:   updated,
	})
	return nil
}

// TransitionTool moves a ToolPart identified by partID to newStatus,
// validating the edge against the fixed tool part state machine (spec
// §4.6), then applies mutate to the transitioned part (e.g. to attach
// Output/Err/FinishedAt) before publishing message.part.updated.
func (s *Store) TransitionTool(ctx context.Context, sessionID, messageID, partID string, newStatus ToolStatus, mutate func(ToolPart) ToolPart) error {
	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	midx, ferr := findMessage(e.session.Messages, messageID)
	if ferr != nil {
		e.mu.Unlock()
		return ferr
	}
	parts := e.session.Messages[midx].Parts
	pidx := -1
	for i, p := range parts {
		if p.PartID() == partID {
			pidx = i
			break
		}
	}
	if pidx < 0 {
		e.mu.Unlock()
		return ErrPartNotFound
	}
	tp, ok := parts[pidx].(ToolPart)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("session: part %q is not a tool part", partID)
	}
	if err := validateToolTransition(tp.Status, newStatus); err != nil {
		e.mu.Unlock()
		return err
	}
	tp.Status = newStatus
	if mutate != nil {
		tp = mutate(tp)
	}
	parts[pidx] = tp
	e.session.LastUpdated = time.Now()
	e.mu.Unlock()

	s.bus.Publish(ctx, bus.Event{
		Type:      bus.EventMessagePartUpdate,
		SessionID: sessionID,
		Payload:   tp,
	})
	return nil
}

// End marks a session as ended. Idempotent.
func (s *Store) End(sessionID string) error {
	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.session.Status = StatusEnded
	e.session.LastUpdated = time.Now()
	e.mu.Unlock()
	return nil
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func findMessage(msgs []Message, id string) (int, error) {
	for i, m := range msgs {
		if m.ID == id {
			return i, nil
		}
	}
	return 0, fmt.Errorf("session: message %q not found", id)
}
