// Package calendar owns the CalendarState and applies every mutation to it.
// Each public method runs as one critical section; a mutation is persisted
// through the store before it becomes visible, and subscribers are told
// about it after the lock is released.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"sevcal/internal/index"
	appLog "sevcal/internal/log"
	"sevcal/internal/metrics"
	"sevcal/internal/model"
	"sevcal/internal/normalize"
	"sevcal/internal/store"
)

var (
	// ErrNoSelection means an event or blackout form targeted no valid date.
	ErrNoSelection   = errors.New("select at least one date")
	ErrEventNotFound = errors.New("event not found")
	ErrEntryNotFound = errors.New("date entry not found")
	ErrGroupNotFound = errors.New("blackout group not found")
	ErrInvalidDate   = errors.New("date must be YYYY-MM-DD")
)

// errUnchanged lets a mutation report that it was a no-op so nothing is
// written or announced.
var errUnchanged = errors.New("unchanged")

// Change is handed to subscribers after every committed state change.
type Change struct {
	Revision uint64
	// External is true when the change came from the store (another
	// device) rather than from a local mutation.
	External bool
	State    model.CalendarState
}

// Calendar is the mutation engine.
type Calendar struct {
	mu       sync.Mutex
	state    model.CalendarState
	idx      *index.Index
	revision uint64

	store   store.Store
	metrics *metrics.Metrics
	newID   normalize.IDFunc

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// Option configures a Calendar.
type Option func(*Calendar)

// WithMetrics records mutations on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Calendar) { c.metrics = m }
}

// WithIDFunc replaces the UUID generator, mostly for tests.
func WithIDFunc(fn normalize.IDFunc) Option {
	return func(c *Calendar) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// New returns an empty calendar persisting to s. A nil store keeps the
// calendar in memory only.
func New(s store.Store, opts ...Option) *Calendar {
	c := &Calendar{
		state: model.EmptyState(),
		store: s,
		newID: normalize.NewID,
		subs:  make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.idx = index.Build(c.state)
	return c
}

// mutate runs fn on a copy of the state and commits the copy only after it
// has been saved. fn returning errUnchanged turns the call into a no-op.
func (c *Calendar) mutate(ctx context.Context, op string, fn func(st *model.CalendarState) error) error {
	c.mu.Lock()
	next := c.state.Clone()
	if err := fn(&next); err != nil {
		c.mu.Unlock()
		if errors.Is(err, errUnchanged) {
			return nil
		}
		c.metrics.Mutation(op, err)
		return err
	}
	if err := c.save(ctx, next); err != nil {
		c.mu.Unlock()
		c.metrics.Mutation(op, err)
		appLog.Error("calendar: save failed, state rolled back", err, "op", op)
		return fmt.Errorf("save calendar: %w", err)
	}
	change := c.commitLocked(next, false)
	c.mu.Unlock()

	c.metrics.Mutation(op, nil)
	appLog.Debug("calendar: mutation applied", "op", op, "revision", change.Revision)
	c.notify(change)
	return nil
}

// commitLocked swaps in next, rebuilds the index and bumps the revision.
func (c *Calendar) commitLocked(next model.CalendarState, external bool) Change {
	c.state = next
	c.idx = index.Build(next)
	c.revision++
	c.metrics.StateSize(len(next.Events), len(next.Blackouts))
	return Change{Revision: c.revision, External: external, State: next.Clone()}
}

func (c *Calendar) save(ctx context.Context, st model.CalendarState) error {
	if c.store == nil {
		return nil
	}
	p, err := EncodePayload(st)
	if err != nil {
		return err
	}
	return c.store.Save(ctx, p)
}

// Subscribe registers fn for state changes. The returned func removes it.
func (c *Calendar) Subscribe(fn func(Change)) (cancel func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Calendar) notify(change Change) {
	c.subMu.Lock()
	fns := make([]func(Change), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

// State returns a deep copy of the current state.
func (c *Calendar) State() model.CalendarState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Index returns the index of the current state. Indexes are never modified
// after they are built, so the pointer can be shared.
func (c *Calendar) Index() *index.Index {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idx
}

// Revision counts committed changes since the calendar was created.
func (c *Calendar) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// Day is everything placed on one date.
type Day struct {
	Date      string                `json:"date"`
	Entries   []index.Entry         `json:"entries"`
	Blackout  bool                  `json:"blackout"`
	Blackouts []model.BlackoutGroup `json:"blackouts"`
}

// Day answers a day query from the index.
func (c *Calendar) Day(date string) (Day, error) {
	if !normalize.IsISODate(date) {
		return Day{}, ErrInvalidDate
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	d := Day{
		Date:      date,
		Entries:   append([]index.Entry{}, c.idx.On(date)...),
		Blackout:  c.idx.IsBlackout(date),
		Blackouts: []model.BlackoutGroup{},
	}
	for _, id := range c.idx.BlackoutGroups(date) {
		if i := c.state.FindBlackout(id); i >= 0 {
			d.Blackouts = append(d.Blackouts, c.state.Blackouts[i].Clone())
		}
	}
	return d, nil
}

// Load replaces the in-memory state with what the store holds. An empty
// store leaves the calendar empty.
func (c *Calendar) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	p, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load calendar: %w", err)
	}
	if p == nil {
		appLog.Info("calendar: store is empty, starting fresh")
		return nil
	}
	st := DecodePayload(*p, c.newID)

	c.mu.Lock()
	change := c.commitLocked(st, false)
	c.mu.Unlock()

	appLog.Info("calendar: loaded", "events", len(st.Events), "blackouts", len(st.Blackouts))
	c.notify(change)
	return nil
}

// ApplyExternal replaces the state with a payload that another writer put
// in the store. Nothing is written back.
func (c *Calendar) ApplyExternal(p store.Payload) {
	st := DecodePayload(p, c.newID)

	c.mu.Lock()
	change := c.commitLocked(st, true)
	c.mu.Unlock()

	c.metrics.Mutation("apply_external", nil)
	appLog.Info("calendar: applied external change", "events", len(st.Events), "blackouts", len(st.Blackouts), "revision", change.Revision)
	c.notify(change)
}
