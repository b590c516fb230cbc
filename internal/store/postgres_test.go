package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcast-dispatch/internal/common/errors"
	"broadcast-dispatch/internal/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

var broadcastCols = []string{
	"id", "name", "description", "status", "channel", "start_date", "timezone", "created_at", "updated_at", "deleted_at",
}

// ==========================
// Broadcasts
// ==========================

func TestPostgres_GetBroadcast(t *testing.T) {
	s, mock := newMockStore(t)
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, name, description, status, channel, start_date, timezone, created_at, updated_at, deleted_at FROM broadcasts WHERE id = \$1`).
		WithArgs("b-1").
		WillReturnRows(sqlmock.NewRows(broadcastCols).
			AddRow("b-1", "Promo A", "", "scheduled", "sms", start, "America/Sao_Paulo", created, created, nil))

	b, err := s.GetBroadcast(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastScheduled, b.Status)
	require.NotNil(t, b.StartDate)
	assert.True(t, start.Equal(*b.StartDate))
	assert.Nil(t, b.DeletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetBroadcast_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode errors.ErrorCode
	}{
		{"not found", sql.ErrNoRows, errors.ErrCodeBroadcastNotFound},
		{"query failure", stderrors.New("connection reset"), errors.ErrCodeQueryExecutionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectQuery(`FROM broadcasts WHERE id = \$1`).WithArgs("b-x").WillReturnError(tt.err)

			_, err := s.GetBroadcast(context.Background(), "b-x")
			assert.True(t, errors.HasCode(err, tt.wantCode))
		})
	}
}

func TestPostgres_CreateBroadcast(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO broadcasts`).
		WithArgs(sqlmock.AnyArg(), "Promo A", "", "draft", "sms", nil, "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	b := &models.Broadcast{Name: "Promo A", Channel: "sms"}
	require.NoError(t, s.CreateBroadcast(context.Background(), b))
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, models.BroadcastDraft, b.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_TransitionBroadcast(t *testing.T) {
	tests := []struct {
		name string
		rows int64
		want bool
	}{
		{"won the race", 1, true},
		{"status already moved", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectExec(`UPDATE broadcasts SET status = \$1, updated_at = NOW\(\) WHERE id = \$2 AND status = \$3 AND deleted_at IS NULL`).
				WithArgs("completed", "b-1", "in_progress").
				WillReturnResult(sqlmock.NewResult(0, tt.rows))

			ok, err := s.TransitionBroadcast(context.Background(), "b-1", models.BroadcastInProgress, models.BroadcastCompleted)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgres_CancelBroadcast(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE broadcasts SET status = \$1, deleted_at = \$2`).
		WithArgs("canceled", at, "b-1", "paused").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.CancelBroadcast(context.Background(), "b-1", models.BroadcastPaused, at)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgres_DeleteBroadcast(t *testing.T) {
	t.Run("purges in one transaction", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM broadcast_contacts WHERE broadcast_id = \$1`).WithArgs("b-1").WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec(`DELETE FROM templates WHERE broadcast_id = \$1`).WithArgs("b-1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM broadcasts WHERE id = \$1`).WithArgs("b-1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.DeleteBroadcast(context.Background(), "b-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown broadcast rolls back", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM broadcast_contacts`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`DELETE FROM templates`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`DELETE FROM broadcasts`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := s.DeleteBroadcast(context.Background(), "b-x")
		assert.True(t, errors.IsNotFound(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgres_ListDueBroadcasts(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM broadcasts\s+WHERE status = \$1 AND start_date <= \$2 AND deleted_at IS NULL`).
		WithArgs("scheduled", now).
		WillReturnRows(sqlmock.NewRows(broadcastCols).
			AddRow("b-1", "A", "", "scheduled", "sms", now.Add(-time.Minute), "UTC", now, now, nil).
			AddRow("b-2", "B", "", "scheduled", "sms", now, "UTC", now, now, nil))

	due, err := s.ListDueBroadcasts(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "b-1", due[0].ID)
}

// ==========================
// Contacts
// ==========================

func TestPostgres_UpsertContact_ReturnsExisting(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO contacts .* ON CONFLICT \(phone\) DO UPDATE SET phone = EXCLUDED.phone RETURNING id, name, created_at, updated_at`).
		WithArgs(sqlmock.AnyArg(), "Ana", "+5511999", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at", "updated_at"}).
			AddRow("c-existing", "Ana Maria", created, created))

	c := &models.Contact{Name: "Ana", Phone: "+5511999"}
	require.NoError(t, s.UpsertContact(context.Background(), c))
	assert.Equal(t, "c-existing", c.ID)
	assert.Equal(t, "Ana Maria", c.Name)
}

func TestPostgres_AddBroadcastContact(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO broadcast_contacts .* ON CONFLICT \(broadcast_id, contact_id\) DO NOTHING`).
		WithArgs(sqlmock.AnyArg(), "b-1", "c-1", "Ana", "pending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	added, err := s.AddBroadcastContact(context.Background(), &models.BroadcastContact{BroadcastID: "b-1", ContactID: "c-1", DisplayName: "Ana"})
	require.NoError(t, err)
	assert.False(t, added)
}

func TestPostgres_ListBroadcastContacts(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	cols := []string{
		"id", "broadcast_id", "contact_id", "display_name", "status", "message_id", "error", "created_at", "updated_at",
		"id", "name", "phone", "created_at", "updated_at",
	}
	mock.ExpectQuery(`FROM broadcast_contacts bc JOIN contacts c ON c.id = bc.contact_id\s+WHERE bc.broadcast_id = \$1 AND bc.status = ANY\(\$2\)`).
		WithArgs("b-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("bc-1", "b-1", "c-1", "", "pending", "", "", now, now, "c-1", "Ana", "+5511", now, now))

	list, err := s.ListBroadcastContacts(context.Background(), "b-1", models.ContactPending, models.ContactSent)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Ana", list[0].RecipientName())
	assert.Equal(t, "+5511", list[0].Contact.Phone)
}

func TestPostgres_UpdateContactStatus(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE broadcast_contacts\s+SET status = \$1, message_id = COALESCE\(NULLIF\(\$2, ''\), message_id\)`).
		WithArgs("sent", "msg-1", "", "b-1", "c-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.UpdateContactStatus(context.Background(), "b-1", "c-1", models.ContactSent, "msg-1", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgres_CountByStatus(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM broadcast_contacts WHERE broadcast_id = \$1 GROUP BY status`).
		WithArgs("b-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("pending", 2).AddRow("read", 1))

	counts, err := s.CountByStatus(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Len(t, counts, len(models.AllContactStatuses))
	assert.Equal(t, 2, counts[models.ContactPending])
	assert.Equal(t, 1, counts[models.ContactRead])
	assert.Equal(t, 0, counts[models.ContactFailed])
	assert.Equal(t, 3, counts.Total())
}

func TestPostgres_CountOutstanding(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM broadcast_contacts WHERE broadcast_id = \$1 AND status = ANY\(\$2\)`).
		WithArgs("b-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	n, err := s.CountOutstanding(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

// ==========================
// Templates
// ==========================

func TestPostgres_LatestTemplate(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`FROM templates\s+WHERE broadcast_id = \$1\s+ORDER BY created_at DESC, id DESC LIMIT 1`).
		WithArgs("b-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "broadcast_id", "name", "content", "variables", "created_at", "updated_at"}).
			AddRow("t-2", "b-1", "promo", "Hi {{name}}", []byte(`{"name":{"type":"text","required":true}}`), now, now))

	tpl, err := s.LatestTemplate(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, "t-2", tpl.ID)
	require.True(t, tpl.HasMetadata())
	assert.True(t, tpl.Variables["name"].Required)
}

func TestPostgres_LatestTemplate_None(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM templates`).WithArgs("b-1").WillReturnError(sql.ErrNoRows)

	_, err := s.LatestTemplate(context.Background(), "b-1")
	assert.True(t, errors.HasCode(err, errors.ErrCodeTemplateNotFound))
}

func TestPostgres_CreateTemplate_NullVariables(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO templates`).
		WithArgs(sqlmock.AnyArg(), "b-1", "", "Hi {{name}}", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.CreateTemplate(context.Background(), &models.Template{BroadcastID: "b-1", Content: "Hi {{name}}"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Transactions
// ==========================

func TestPostgres_WithTx_RollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO broadcasts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := stderrors.New("template rejected")
	err := s.WithTx(context.Background(), func(tx Store) error {
		if err := tx.CreateBroadcast(context.Background(), &models.Broadcast{Name: "x"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
