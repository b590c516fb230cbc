package store

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcast-dispatch/internal/common/errors"
	"broadcast-dispatch/internal/models"
)

func seedBroadcast(t *testing.T, s *MemoryStore, status models.BroadcastStatus, contacts ...string) *models.Broadcast {
	t.Helper()
	ctx := context.Background()
	b := &models.Broadcast{Name: "Promo A", Status: status}
	require.NoError(t, s.CreateBroadcast(ctx, b))
	for _, phone := range contacts {
		c := &models.Contact{Name: "n" + phone, Phone: phone}
		require.NoError(t, s.UpsertContact(ctx, c))
		_, err := s.AddBroadcastContact(ctx, &models.BroadcastContact{BroadcastID: b.ID, ContactID: c.ID})
		require.NoError(t, err)
	}
	return b
}

func TestMemory_TransitionIsCompareAndSet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	b := seedBroadcast(t, s, models.BroadcastInProgress)

	var wg sync.WaitGroup
	wins := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TransitionBroadcast(ctx, b.ID, models.BroadcastInProgress, models.BroadcastCompleted)
			assert.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	n := 0
	for ok := range wins {
		if ok {
			n++
		}
	}
	assert.Equal(t, 1, n)

	got, err := s.GetBroadcast(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastCompleted, got.Status)
}

func TestMemory_ContactsDedupAndCounts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	b := seedBroadcast(t, s, models.BroadcastDraft, "+1", "+2", "+3")

	again := &models.Contact{Name: "other", Phone: "+1"}
	require.NoError(t, s.UpsertContact(ctx, again))
	assert.Equal(t, "n+1", again.Name)
	added, err := s.AddBroadcastContact(ctx, &models.BroadcastContact{BroadcastID: b.ID, ContactID: again.ID})
	require.NoError(t, err)
	assert.False(t, added)

	list, err := s.ListBroadcastContacts(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "+1", list[0].Contact.Phone)

	ok, err := s.UpdateContactStatus(ctx, b.ID, list[0].ContactID, models.ContactSent, "m-1", "")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.UpdateContactStatus(ctx, b.ID, list[1].ContactID, models.ContactRead, "", "")
	require.NoError(t, err)
	assert.False(t, ok, "pending cannot jump to read")

	counts, err := s.CountByStatus(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total())
	assert.Equal(t, 1, counts[models.ContactSent])

	outstanding, err := s.CountOutstanding(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, outstanding)

	sent, err := s.ListBroadcastContacts(ctx, b.ID, models.ContactSent)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "m-1", sent[0].MessageID)

	n, err := s.ResetBroadcastContacts(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	counts, _ = s.CountByStatus(ctx, b.ID)
	assert.Equal(t, 3, counts[models.ContactPending])
}

func TestMemory_LatestTemplate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	b := seedBroadcast(t, s, models.BroadcastDraft)

	_, err := s.LatestTemplate(ctx, b.ID)
	assert.True(t, errors.HasCode(err, errors.ErrCodeTemplateNotFound))

	require.NoError(t, s.CreateTemplate(ctx, &models.Template{BroadcastID: b.ID, Content: "v1"}))
	require.NoError(t, s.CreateTemplate(ctx, &models.Template{BroadcastID: b.ID, Content: "v2"}))

	tpl, err := s.LatestTemplate(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", tpl.Content)
}

func TestMemory_DeleteAndCancel(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	b := seedBroadcast(t, s, models.BroadcastPaused, "+1")
	require.NoError(t, s.CreateTemplate(ctx, &models.Template{BroadcastID: b.ID, Content: "x"}))

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ok, err := s.CancelBroadcast(ctx, b.ID, models.BroadcastInProgress, at)
	require.NoError(t, err)
	assert.False(t, ok, "stale expected status")

	ok, err = s.CancelBroadcast(ctx, b.ID, models.BroadcastPaused, at)
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ := s.GetBroadcast(ctx, b.ID)
	assert.Equal(t, models.BroadcastCanceled, got.Status)
	assert.True(t, got.IsDeleted())

	require.NoError(t, s.DeleteBroadcast(ctx, b.ID))
	_, err = s.GetBroadcast(ctx, b.ID)
	assert.True(t, errors.IsNotFound(err))
	list, _ := s.ListBroadcastContacts(ctx, b.ID)
	assert.Empty(t, list)
	assert.True(t, errors.IsNotFound(s.DeleteBroadcast(ctx, b.ID)))
}

func TestMemory_ListDueBroadcasts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Minute), now.Add(time.Hour)

	for _, b := range []*models.Broadcast{
		{Name: "due", Status: models.BroadcastScheduled, StartDate: &past},
		{Name: "later", Status: models.BroadcastScheduled, StartDate: &future},
		{Name: "draft", Status: models.BroadcastDraft, StartDate: &past},
		{Name: "deleted", Status: models.BroadcastScheduled, StartDate: &past, DeletedAt: &past},
	} {
		require.NoError(t, s.CreateBroadcast(ctx, b))
	}

	due, err := s.ListDueBroadcasts(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].Name)
}

func TestMemory_WithTxRollsBack(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	boom := stderrors.New("boom")

	var id string
	err := s.WithTx(ctx, func(tx Store) error {
		b := &models.Broadcast{Name: "x"}
		require.NoError(t, tx.CreateBroadcast(ctx, b))
		id = b.ID
		return tx.WithTx(ctx, func(Store) error { return boom })
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetBroadcast(ctx, id)
	assert.True(t, errors.IsNotFound(err))
}
