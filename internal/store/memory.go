// internal/store/memory.go
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"broadcast-dispatch/internal/common/errors"
	"broadcast-dispatch/internal/models"
)

// MemoryStore is an in-process Store for tests, demos and the memory driver.
// WithTx serializes transactions and restores a snapshot on error.
type MemoryStore struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	now  func() time.Time
	seq  int64

	broadcasts map[string]*models.Broadcast
	contacts   map[string]*models.Contact
	phones     map[string]string
	deliveries map[string]*models.BroadcastContact
	templates  map[string]*models.Template
	order      map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:        func() time.Time { return time.Now().UTC() },
		broadcasts: map[string]*models.Broadcast{},
		contacts:   map[string]*models.Contact{},
		phones:     map[string]string{},
		deliveries: map[string]*models.BroadcastContact{},
		templates:  map[string]*models.Template{},
		order:      map[string]int64{},
	}
}

func deliveryKey(broadcastID, contactID string) string {
	return broadcastID + "/" + contactID
}

// stamp records insertion order so equal timestamps still sort stably.
func (m *MemoryStore) stamp(id string) {
	m.seq++
	m.order[id] = m.seq
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) WithTx(ctx context.Context, fn func(Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(memoryTx{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// memoryTx is the view handed to WithTx callbacks; nested WithTx joins the outer one.
type memoryTx struct {
	*MemoryStore
}

func (t memoryTx) WithTx(_ context.Context, fn func(Store) error) error {
	return fn(t)
}

type memorySnapshot struct {
	seq        int64
	broadcasts map[string]models.Broadcast
	contacts   map[string]models.Contact
	phones     map[string]string
	deliveries map[string]models.BroadcastContact
	templates  map[string]models.Template
	order      map[string]int64
}

func (m *MemoryStore) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := memorySnapshot{
		seq:        m.seq,
		broadcasts: make(map[string]models.Broadcast, len(m.broadcasts)),
		contacts:   make(map[string]models.Contact, len(m.contacts)),
		phones:     make(map[string]string, len(m.phones)),
		deliveries: make(map[string]models.BroadcastContact, len(m.deliveries)),
		templates:  make(map[string]models.Template, len(m.templates)),
		order:      make(map[string]int64, len(m.order)),
	}
	for k, v := range m.broadcasts {
		s.broadcasts[k] = *v
	}
	for k, v := range m.contacts {
		s.contacts[k] = *v
	}
	for k, v := range m.phones {
		s.phones[k] = v
	}
	for k, v := range m.deliveries {
		s.deliveries[k] = *v
	}
	for k, v := range m.templates {
		s.templates[k] = *v
	}
	for k, v := range m.order {
		s.order[k] = v
	}
	return s
}

func (m *MemoryStore) restore(s memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq = s.seq
	m.broadcasts = make(map[string]*models.Broadcast, len(s.broadcasts))
	for k, v := range s.broadcasts {
		v := v
		m.broadcasts[k] = &v
	}
	m.contacts = make(map[string]*models.Contact, len(s.contacts))
	for k, v := range s.contacts {
		v := v
		m.contacts[k] = &v
	}
	m.phones = s.phones
	m.deliveries = make(map[string]*models.BroadcastContact, len(s.deliveries))
	for k, v := range s.deliveries {
		v := v
		m.deliveries[k] = &v
	}
	m.templates = make(map[string]*models.Template, len(s.templates))
	for k, v := range s.templates {
		v := v
		m.templates[k] = &v
	}
	m.order = s.order
}

// ====================== Broadcasts ======================

func (m *MemoryStore) CreateBroadcast(_ context.Context, b *models.Broadcast) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = models.BroadcastDraft
	}
	now := m.now()
	b.CreatedAt, b.UpdatedAt = now, now

	cp := *b
	m.broadcasts[b.ID] = &cp
	m.stamp(b.ID)
	return nil
}

func (m *MemoryStore) GetBroadcast(_ context.Context, id string) (*models.Broadcast, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.broadcasts[id]
	if !ok {
		return nil, errors.NewBroadcastNotFoundError(id)
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) TransitionBroadcast(_ context.Context, id string, from, to models.BroadcastStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.broadcasts[id]
	if !ok || b.Status != from || b.IsDeleted() {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) CancelBroadcast(_ context.Context, id string, from models.BroadcastStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.broadcasts[id]
	if !ok || b.Status != from || b.IsDeleted() {
		return false, nil
	}
	b.Status = models.BroadcastCanceled
	b.DeletedAt = &at
	b.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) DeleteBroadcast(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.broadcasts[id]; !ok {
		return errors.NewBroadcastNotFoundError(id)
	}
	for k, bc := range m.deliveries {
		if bc.BroadcastID == id {
			delete(m.deliveries, k)
			delete(m.order, bc.ID)
		}
	}
	for k, t := range m.templates {
		if t.BroadcastID == id {
			delete(m.templates, k)
			delete(m.order, k)
		}
	}
	delete(m.broadcasts, id)
	delete(m.order, id)
	return nil
}

func (m *MemoryStore) ListDueBroadcasts(_ context.Context, now time.Time) ([]*models.Broadcast, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Broadcast
	for _, b := range m.broadcasts {
		if b.IsDue(now) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(*out[j].StartDate) {
			return out[i].StartDate.Before(*out[j].StartDate)
		}
		return m.order[out[i].ID] < m.order[out[j].ID]
	})
	return out, nil
}

// ====================== Contacts ======================

func (m *MemoryStore) UpsertContact(_ context.Context, c *models.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.phones[c.Phone]; ok {
		*c = *m.contacts[id]
		return nil
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := m.now()
	c.CreatedAt, c.UpdatedAt = now, now

	cp := *c
	m.contacts[c.ID] = &cp
	m.phones[c.Phone] = c.ID
	return nil
}

func (m *MemoryStore) AddBroadcastContact(_ context.Context, bc *models.BroadcastContact) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := deliveryKey(bc.BroadcastID, bc.ContactID)
	if _, ok := m.deliveries[key]; ok {
		return false, nil
	}
	if bc.ID == "" {
		bc.ID = uuid.NewString()
	}
	if bc.Status == "" {
		bc.Status = models.ContactPending
	}
	now := m.now()
	bc.CreatedAt, bc.UpdatedAt = now, now

	cp := *bc
	cp.Contact = nil
	m.deliveries[key] = &cp
	m.stamp(bc.ID)
	return true, nil
}

// withContact copies bc and attaches a copy of its contact. Callers hold mu.
func (m *MemoryStore) withContact(bc *models.BroadcastContact) *models.BroadcastContact {
	cp := *bc
	if c, ok := m.contacts[bc.ContactID]; ok {
		cc := *c
		cp.Contact = &cc
	}
	return &cp
}

func (m *MemoryStore) GetBroadcastContact(_ context.Context, broadcastID, contactID string) (*models.BroadcastContact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bc, ok := m.deliveries[deliveryKey(broadcastID, contactID)]
	if !ok {
		return nil, errors.NewContactNotFoundError(broadcastID, contactID)
	}
	return m.withContact(bc), nil
}

func (m *MemoryStore) ListBroadcastContacts(_ context.Context, broadcastID string, statuses ...models.ContactStatus) ([]*models.BroadcastContact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.BroadcastContact
	for _, bc := range m.deliveries {
		if bc.BroadcastID != broadcastID || !hasStatus(statuses, bc.Status) {
			continue
		}
		out = append(out, m.withContact(bc))
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out, nil
}

func hasStatus(filter []models.ContactStatus, s models.ContactStatus) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == s {
			return true
		}
	}
	return false
}

func (m *MemoryStore) ResetBroadcastContacts(_ context.Context, broadcastID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	now := m.now()
	for _, bc := range m.deliveries {
		if bc.BroadcastID != broadcastID {
			continue
		}
		bc.Status = models.ContactPending
		bc.MessageID = ""
		bc.Error = ""
		bc.UpdatedAt = now
		n++
	}
	return n, nil
}

func (m *MemoryStore) UpdateContactStatus(_ context.Context, broadcastID, contactID string, to models.ContactStatus, messageID, errMsg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bc, ok := m.deliveries[deliveryKey(broadcastID, contactID)]
	if !ok || !models.CanAdvance(bc.Status, to) {
		return false, nil
	}
	bc.Status = to
	if messageID != "" {
		bc.MessageID = messageID
	}
	bc.Error = errMsg
	bc.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) CountByStatus(_ context.Context, broadcastID string) (models.StatusCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := models.NewStatusCounts()
	for _, bc := range m.deliveries {
		if bc.BroadcastID == broadcastID {
			counts[bc.Status]++
		}
	}
	return counts, nil
}

func (m *MemoryStore) CountOutstanding(ctx context.Context, broadcastID string) (int, error) {
	counts, err := m.CountByStatus(ctx, broadcastID)
	if err != nil {
		return 0, err
	}
	return counts.Outstanding(), nil
}

// ====================== Templates ======================

func (m *MemoryStore) CreateTemplate(_ context.Context, t *models.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := m.now()
	t.CreatedAt, t.UpdatedAt = now, now

	cp := *t
	m.templates[t.ID] = &cp
	m.stamp(t.ID)
	return nil
}

func (m *MemoryStore) GetTemplate(_ context.Context, id string) (*models.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.templates[id]
	if !ok {
		return nil, errors.NewTemplateNotFoundError(id)
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) LatestTemplate(_ context.Context, broadcastID string) (*models.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.Template
	for _, t := range m.templates {
		if t.BroadcastID != broadcastID {
			continue
		}
		if latest == nil || m.order[t.ID] > m.order[latest.ID] {
			latest = t
		}
	}
	if latest == nil {
		return nil, errors.NewTemplateNotFoundError("latest of "+broadcastID).WithMetadata("broadcastId", broadcastID)
	}
	cp := *latest
	return &cp, nil
}

var _ Store = (*MemoryStore)(nil)
