// Package memory holds in-memory implementations of the store and
// transport seams. They back unit tests across the repo and keep the
// same visible semantics as the postgres/rabbitmq/kafka adapters:
// transactional rollback, NEW->CLAIMED->PUBLISHED gating, and
// first-insert-wins inbox dedupe.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/acme/reliable/internal/domain"
	"github.com/google/uuid"
)

type commandRec struct {
	domain.Command
}

type outboxRec struct {
	domain.OutboxRow
	Status    domain.OutboxStatus
	NextAt    *time.Time
	ClaimedBy string
	LastError string
	Seq       int64
}

type state struct {
	commands map[uuid.UUID]*commandRec
	byIdem   map[string]uuid.UUID
	byBiz    map[string]uuid.UUID
	inbox    map[string]struct{}
	outbox   map[uuid.UUID]*outboxRec
	dlq      []domain.DlqEntry
	seq      int64
}

func newState() *state {
	return &state{
		commands: map[uuid.UUID]*commandRec{},
		byIdem:   map[string]uuid.UUID{},
		byBiz:    map[string]uuid.UUID{},
		inbox:    map[string]struct{}{},
		outbox:   map[uuid.UUID]*outboxRec{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.commands {
		rec := *v
		c.commands[k] = &rec
	}
	for k, v := range s.byIdem {
		c.byIdem[k] = v
	}
	for k, v := range s.byBiz {
		c.byBiz[k] = v
	}
	for k := range s.inbox {
		c.inbox[k] = struct{}{}
	}
	for k, v := range s.outbox {
		rec := *v
		c.outbox[k] = &rec
	}
	c.dlq = append(c.dlq, s.dlq...)
	c.seq = s.seq
	return c
}

// Store is an in-memory unit of work plus pool-bound store views.
type Store struct {
	mu sync.Mutex
	st *state
}

func NewStore() *Store {
	return &Store{st: newState()}
}

// WithinTx runs fn against a copy of the state; the copy replaces the
// live state only when fn returns nil, mirroring a database rollback
// otherwise. Transactions are serialized: the lock is held for the
// whole closure, which stands in for the row/constraint locking the
// real database does. AfterCommit hooks run after the swap, outside
// the lock.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	s.mu.Lock()
	unlocked := false
	defer func() {
		if p := recover(); p != nil {
			if !unlocked {
				s.mu.Unlock()
			}
			panic(p)
		}
	}()

	work := s.st.clone()
	t := &tx{st: work}
	if err := fn(t); err != nil {
		s.mu.Unlock()
		unlocked = true
		return err
	}

	s.st = work
	s.mu.Unlock()
	unlocked = true

	for _, h := range t.hooks {
		h()
	}
	return nil
}

// Pool-bound views. Each call takes the lock for its single operation.

func (s *Store) Commands() domain.CommandStore { return &commandStore{s: s} }
func (s *Store) Inbox() domain.InboxStore      { return &inboxStore{s: s} }
func (s *Store) Outbox() domain.OutboxStore    { return &outboxStore{s: s} }
func (s *Store) Dlq() domain.DlqStore          { return &dlqStore{s: s} }

// Inspection helpers for tests.

func (s *Store) Command(id uuid.UUID) (domain.Command, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.st.commands[id]
	if !ok {
		return domain.Command{}, false
	}
	return rec.Command, true
}

func (s *Store) DlqEntries() []domain.DlqEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DlqEntry, len(s.st.dlq))
	copy(out, s.st.dlq)
	return out
}

// OutboxSnapshot returns (row, status) pairs for every outbox row.
func (s *Store) OutboxSnapshot() map[uuid.UUID]domain.OutboxStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[uuid.UUID]domain.OutboxStatus{}
	for id, rec := range s.st.outbox {
		out[id] = rec.Status
	}
	return out
}

func (s *Store) OutboxRow(id uuid.UUID) (domain.OutboxRow, domain.OutboxStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.st.outbox[id]
	if !ok {
		return domain.OutboxRow{}, "", false
	}
	return rec.OutboxRow, rec.Status, true
}

func (s *Store) OutboxNextAt(id uuid.UUID) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.st.outbox[id]; ok {
		return rec.NextAt
	}
	return nil
}

func (s *Store) InboxSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.inbox)
}

// tx implements domain.Tx over a cloned state. No locking: the clone is
// private to the transaction.
type tx struct {
	st    *state
	hooks []func()
}

func (t *tx) Commands() domain.CommandStore { return &commandStore{st: t.st} }
func (t *tx) Inbox() domain.InboxStore      { return &inboxStore{st: t.st} }
func (t *tx) Outbox() domain.OutboxStore    { return &outboxStore{st: t.st} }
func (t *tx) Dlq() domain.DlqStore          { return &dlqStore{st: t.st} }
func (t *tx) AfterCommit(fn func())         { t.hooks = append(t.hooks, fn) }

// store views work either over the shared Store (pool-bound, locked)
// or over a transaction-private state.

type commandStore struct {
	s  *Store
	st *state
}

func (c *commandStore) with(fn func(st *state) error) error {
	if c.st != nil {
		return fn(c.st)
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return fn(c.s.st)
}

func (c *commandStore) SavePending(ctx context.Context, name, idem, bizKey, payload, replyJSON string) (uuid.UUID, error) {
	id := uuid.New()
	err := c.with(func(st *state) error {
		if _, dup := st.byIdem[idem]; dup {
			return domain.ErrDuplicateIdempotencyKey
		}
		if _, dup := st.byBiz[name+"\x00"+bizKey]; dup {
			return domain.ErrDuplicateBusinessKey
		}
		now := time.Now().UTC()
		st.commands[id] = &commandRec{Command: domain.Command{
			ID:             id,
			Name:           name,
			BusinessKey:    bizKey,
			Payload:        payload,
			IdempotencyKey: idem,
			Status:         domain.StatusPending,
			Reply:          replyJSON,
			RequestedAt:    now,
			UpdatedAt:      now,
		}}
		st.byIdem[idem] = id
		st.byBiz[name+"\x00"+bizKey] = id
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (c *commandStore) Find(ctx context.Context, id uuid.UUID) (*domain.Command, error) {
	var out *domain.Command
	err := c.with(func(st *state) error {
		rec, ok := st.commands[id]
		if !ok {
			return domain.ErrCommandNotFound
		}
		cp := rec.Command
		out = &cp
		return nil
	})
	return out, err
}

func (c *commandStore) mutate(id uuid.UUID, fn func(cmd *domain.Command)) error {
	return c.with(func(st *state) error {
		rec, ok := st.commands[id]
		if !ok {
			return domain.ErrCommandNotFound
		}
		fn(&rec.Command)
		rec.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (c *commandStore) MarkRunning(ctx context.Context, id uuid.UUID, leaseUntil time.Time) error {
	return c.mutate(id, func(cmd *domain.Command) {
		cmd.Status = domain.StatusRunning
		cmd.ProcessingLeaseUntil = &leaseUntil
	})
}

func (c *commandStore) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	return c.mutate(id, func(cmd *domain.Command) { cmd.Status = domain.StatusSucceeded })
}

func (c *commandStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	return c.mutate(id, func(cmd *domain.Command) {
		cmd.Status = domain.StatusFailed
		cmd.LastError = errMsg
	})
}

func (c *commandStore) MarkTimedOut(ctx context.Context, id uuid.UUID, reason string) error {
	return c.mutate(id, func(cmd *domain.Command) {
		cmd.Status = domain.StatusTimedOut
		cmd.LastError = reason
	})
}

func (c *commandStore) BumpRetry(ctx context.Context, id uuid.UUID, errMsg string) error {
	return c.mutate(id, func(cmd *domain.Command) {
		cmd.Retries++
		cmd.LastError = errMsg
	})
}

func (c *commandStore) ExistsByIdempotencyKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := c.with(func(st *state) error {
		_, exists = st.byIdem[key]
		return nil
	})
	return exists, err
}

func (c *commandStore) TimeOutExpiredLeases(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := c.with(func(st *state) error {
		for id, rec := range st.commands {
			if rec.Status == domain.StatusRunning &&
				rec.ProcessingLeaseUntil != nil &&
				rec.ProcessingLeaseUntil.Before(now) {
				rec.Status = domain.StatusTimedOut
				rec.LastError = "processing lease expired"
				rec.UpdatedAt = now
				ids = append(ids, id)
			}
		}
		return nil
	})
	return ids, err
}

type inboxStore struct {
	s  *Store
	st *state
}

func (i *inboxStore) MarkIfAbsent(ctx context.Context, messageID, handler string) (bool, error) {
	key := messageID + "\x00" + handler
	fn := func(st *state) (bool, error) {
		if _, dup := st.inbox[key]; dup {
			return false, nil
		}
		st.inbox[key] = struct{}{}
		return true, nil
	}
	if i.st != nil {
		return fn(i.st)
	}
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	return fn(i.s.st)
}

type outboxStore struct {
	s  *Store
	st *state
}

func (o *outboxStore) with(fn func(st *state) error) error {
	if o.st != nil {
		return fn(o.st)
	}
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	return fn(o.s.st)
}

func (o *outboxStore) Add(ctx context.Context, row domain.OutboxRow) (uuid.UUID, error) {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	err := o.with(func(st *state) error {
		st.seq++
		st.outbox[row.ID] = &outboxRec{OutboxRow: row, Status: domain.OutboxNew, Seq: st.seq}
		return nil
	})
	return row.ID, err
}

func (o *outboxStore) ClaimOne(ctx context.Context, id uuid.UUID) (*domain.OutboxRow, error) {
	var out *domain.OutboxRow
	err := o.with(func(st *state) error {
		rec, ok := st.outbox[id]
		if !ok || rec.Status != domain.OutboxNew {
			return nil
		}
		rec.Status = domain.OutboxClaimed
		cp := rec.OutboxRow
		out = &cp
		return nil
	})
	return out, err
}

func (o *outboxStore) Claim(ctx context.Context, max int, claimer string) ([]domain.OutboxRow, error) {
	var out []domain.OutboxRow
	err := o.with(func(st *state) error {
		now := time.Now().UTC()
		var eligible []*outboxRec
		for _, rec := range st.outbox {
			if rec.Status == domain.OutboxNew && (rec.NextAt == nil || !rec.NextAt.After(now)) {
				eligible = append(eligible, rec)
			}
		}
		// created_at order
		for i := 0; i < len(eligible); i++ {
			for j := i + 1; j < len(eligible); j++ {
				if eligible[j].Seq < eligible[i].Seq {
					eligible[i], eligible[j] = eligible[j], eligible[i]
				}
			}
		}
		for _, rec := range eligible {
			if len(out) >= max {
				break
			}
			rec.Status = domain.OutboxClaimed
			rec.ClaimedBy = claimer
			out = append(out, rec.OutboxRow)
		}
		return nil
	})
	return out, err
}

func (o *outboxStore) MarkPublished(ctx context.Context, id uuid.UUID) error {
	return o.with(func(st *state) error {
		if rec, ok := st.outbox[id]; ok && rec.Status != domain.OutboxPublished {
			rec.Status = domain.OutboxPublished
		}
		return nil
	})
}

func (o *outboxStore) Reschedule(ctx context.Context, id uuid.UUID, backoff time.Duration, errMsg string) error {
	return o.with(func(st *state) error {
		rec, ok := st.outbox[id]
		if !ok {
			return nil
		}
		next := time.Now().UTC().Add(backoff)
		rec.Status = domain.OutboxNew
		rec.Attempts++
		rec.NextAt = &next
		rec.LastError = errMsg
		rec.ClaimedBy = ""
		return nil
	})
}

type dlqStore struct {
	s  *Store
	st *state
}

func (d *dlqStore) Park(ctx context.Context, e domain.DlqEntry) error {
	if d.st != nil {
		d.st.dlq = append(d.st.dlq, e)
		return nil
	}
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	d.s.st.dlq = append(d.s.st.dlq, e)
	return nil
}
