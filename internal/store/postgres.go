// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"broadcast-dispatch/internal/common/database"
	"broadcast-dispatch/internal/common/errors"
	"broadcast-dispatch/internal/models"
)

//go:embed schema.sql
var Schema string

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresStore implements Store on lib/pq.
type PostgresStore struct {
	db   *sql.DB
	q    querier
	inTx bool
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return errors.NewQueryExecutionFailedError("migrate", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.NewDatabaseConnectionFailedError(err)
	}
	return nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(&PostgresStore{db: s.db, q: tx, inTx: true})
	})
}

// ====================== Broadcasts ======================

const broadcastColumns = `id, name, description, status, channel, start_date, timezone, created_at, updated_at, deleted_at`

func (s *PostgresStore) CreateBroadcast(ctx context.Context, b *models.Broadcast) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = models.BroadcastDraft
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO broadcasts (id, name, description, status, channel, start_date, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.Name, b.Description, string(b.Status), b.Channel, b.StartDate, b.Timezone, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return errors.NewQueryExecutionFailedError("create_broadcast", err)
	}
	return nil
}

func (s *PostgresStore) GetBroadcast(ctx context.Context, id string) (*models.Broadcast, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+broadcastColumns+` FROM broadcasts WHERE id = $1`, id)
	b, err := scanBroadcast(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewBroadcastNotFoundError(id)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get_broadcast", err)
	}
	return b, nil
}

func (s *PostgresStore) TransitionBroadcast(ctx context.Context, id string, from, to models.BroadcastStatus) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE broadcasts SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3 AND deleted_at IS NULL`,
		string(to), id, string(from),
	)
	if err != nil {
		return false, errors.NewQueryExecutionFailedError("transition_broadcast", err)
	}
	return affected(res)
}

func (s *PostgresStore) CancelBroadcast(ctx context.Context, id string, from models.BroadcastStatus, at time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE broadcasts SET status = $1, deleted_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4 AND deleted_at IS NULL`,
		string(models.BroadcastCanceled), at, id, string(from),
	)
	if err != nil {
		return false, errors.NewQueryExecutionFailedError("cancel_broadcast", err)
	}
	return affected(res)
}

func (s *PostgresStore) DeleteBroadcast(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(st Store) error {
		q := st.(*PostgresStore).q
		for _, stmt := range []string{
			`DELETE FROM broadcast_contacts WHERE broadcast_id = $1`,
			`DELETE FROM templates WHERE broadcast_id = $1`,
		} {
			if _, err := q.ExecContext(ctx, stmt, id); err != nil {
				return errors.NewQueryExecutionFailedError("delete_broadcast", err)
			}
		}
		res, err := q.ExecContext(ctx, `DELETE FROM broadcasts WHERE id = $1`, id)
		if err != nil {
			return errors.NewQueryExecutionFailedError("delete_broadcast", err)
		}
		ok, err := affected(res)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NewBroadcastNotFoundError(id)
		}
		return nil
	})
}

func (s *PostgresStore) ListDueBroadcasts(ctx context.Context, now time.Time) ([]*models.Broadcast, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+broadcastColumns+` FROM broadcasts
		WHERE status = $1 AND start_date <= $2 AND deleted_at IS NULL
		ORDER BY start_date`,
		string(models.BroadcastScheduled), now.UTC(),
	)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("list_due_broadcasts", err)
	}
	defer rows.Close()

	var out []*models.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, errors.NewQueryExecutionFailedError("list_due_broadcasts", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("list_due_broadcasts", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBroadcast(row scanner) (*models.Broadcast, error) {
	var b models.Broadcast
	var startDate, deletedAt sql.NullTime
	if err := row.Scan(&b.ID, &b.Name, &b.Description, &b.Status, &b.Channel, &startDate, &b.Timezone,
		&b.CreatedAt, &b.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	if startDate.Valid {
		t := startDate.Time.UTC()
		b.StartDate = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		b.DeletedAt = &t
	}
	return &b, nil
}

// ====================== Contacts ======================

func (s *PostgresStore) UpsertContact(ctx context.Context, c *models.Contact) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	// The no-op update makes RETURNING yield the existing row on conflict.
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO contacts (id, name, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (phone) DO UPDATE SET phone = EXCLUDED.phone
		RETURNING id, name, created_at, updated_at`,
		c.ID, c.Name, c.Phone, now,
	).Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return errors.NewQueryExecutionFailedError("upsert_contact", err)
	}
	return nil
}

func (s *PostgresStore) AddBroadcastContact(ctx context.Context, bc *models.BroadcastContact) (bool, error) {
	if bc.ID == "" {
		bc.ID = uuid.NewString()
	}
	if bc.Status == "" {
		bc.Status = models.ContactPending
	}
	now := time.Now().UTC()
	bc.CreatedAt, bc.UpdatedAt = now, now

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO broadcast_contacts (id, broadcast_id, contact_id, display_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (broadcast_id, contact_id) DO NOTHING`,
		bc.ID, bc.BroadcastID, bc.ContactID, bc.DisplayName, string(bc.Status), now,
	)
	if err != nil {
		return false, errors.NewQueryExecutionFailedError("add_broadcast_contact", err)
	}
	return affected(res)
}

const broadcastContactColumns = `bc.id, bc.broadcast_id, bc.contact_id, bc.display_name, bc.status, bc.message_id, bc.error,
		bc.created_at, bc.updated_at, c.id, c.name, c.phone, c.created_at, c.updated_at`

func (s *PostgresStore) GetBroadcastContact(ctx context.Context, broadcastID, contactID string) (*models.BroadcastContact, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+broadcastContactColumns+`
		FROM broadcast_contacts bc JOIN contacts c ON c.id = bc.contact_id
		WHERE bc.broadcast_id = $1 AND bc.contact_id = $2`,
		broadcastID, contactID,
	)
	bc, err := scanBroadcastContact(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewContactNotFoundError(broadcastID, contactID)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get_broadcast_contact", err)
	}
	return bc, nil
}

func (s *PostgresStore) ListBroadcastContacts(ctx context.Context, broadcastID string, statuses ...models.ContactStatus) ([]*models.BroadcastContact, error) {
	query := `
		SELECT ` + broadcastContactColumns + `
		FROM broadcast_contacts bc JOIN contacts c ON c.id = bc.contact_id
		WHERE bc.broadcast_id = $1`
	args := []interface{}{broadcastID}
	if len(statuses) > 0 {
		query += ` AND bc.status = ANY($2)`
		args = append(args, pq.Array(contactStatusStrings(statuses)))
	}
	query += ` ORDER BY bc.created_at, bc.id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("list_broadcast_contacts", err)
	}
	defer rows.Close()

	var out []*models.BroadcastContact
	for rows.Next() {
		bc, err := scanBroadcastContact(rows)
		if err != nil {
			return nil, errors.NewQueryExecutionFailedError("list_broadcast_contacts", err)
		}
		out = append(out, bc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("list_broadcast_contacts", err)
	}
	return out, nil
}

func scanBroadcastContact(row scanner) (*models.BroadcastContact, error) {
	var bc models.BroadcastContact
	var c models.Contact
	if err := row.Scan(&bc.ID, &bc.BroadcastID, &bc.ContactID, &bc.DisplayName, &bc.Status, &bc.MessageID, &bc.Error,
		&bc.CreatedAt, &bc.UpdatedAt, &c.ID, &c.Name, &c.Phone, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	bc.Contact = &c
	return &bc, nil
}

func (s *PostgresStore) ResetBroadcastContacts(ctx context.Context, broadcastID string) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE broadcast_contacts SET status = $1, message_id = '', error = '', updated_at = NOW()
		WHERE broadcast_id = $2`,
		string(models.ContactPending), broadcastID,
	)
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("reset_broadcast_contacts", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("reset_broadcast_contacts", err)
	}
	return int(n), nil
}

func (s *PostgresStore) UpdateContactStatus(ctx context.Context, broadcastID, contactID string, to models.ContactStatus, messageID, errMsg string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE broadcast_contacts
		SET status = $1, message_id = COALESCE(NULLIF($2, ''), message_id), error = $3, updated_at = NOW()
		WHERE broadcast_id = $4 AND contact_id = $5 AND status = ANY($6)`,
		string(to), messageID, errMsg, broadcastID, contactID, pq.Array(contactStatusStrings(to.AdvanceableFrom())),
	)
	if err != nil {
		return false, errors.NewQueryExecutionFailedError("update_contact_status", err)
	}
	return affected(res)
}

func (s *PostgresStore) CountByStatus(ctx context.Context, broadcastID string) (models.StatusCounts, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM broadcast_contacts WHERE broadcast_id = $1 GROUP BY status`, broadcastID)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("count_by_status", err)
	}
	defer rows.Close()

	counts := models.NewStatusCounts()
	for rows.Next() {
		var status models.ContactStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.NewQueryExecutionFailedError("count_by_status", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("count_by_status", err)
	}
	return counts, nil
}

func (s *PostgresStore) CountOutstanding(ctx context.Context, broadcastID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM broadcast_contacts WHERE broadcast_id = $1 AND status = ANY($2)`,
		broadcastID, pq.Array(contactStatusStrings(models.OutstandingContactStatuses)),
	).Scan(&n)
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("count_outstanding", err)
	}
	return n, nil
}

// ====================== Templates ======================

const templateColumns = `id, broadcast_id, name, content, variables, created_at, updated_at`

func (s *PostgresStore) CreateTemplate(ctx context.Context, t *models.Template) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	var variables interface{}
	if t.Variables != nil {
		raw, err := json.Marshal(t.Variables)
		if err != nil {
			return errors.NewValidationError(fmt.Sprintf("template variables: %v", err))
		}
		variables = raw
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO templates (id, broadcast_id, name, content, variables, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		t.ID, t.BroadcastID, t.Name, t.Content, variables, now,
	)
	if err != nil {
		return errors.NewQueryExecutionFailedError("create_template", err)
	}
	return nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewTemplateNotFoundError(id)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get_template", err)
	}
	return t, nil
}

func (s *PostgresStore) LatestTemplate(ctx context.Context, broadcastID string) (*models.Template, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+templateColumns+` FROM templates
		WHERE broadcast_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 1`, broadcastID)
	t, err := scanTemplate(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewTemplateNotFoundError("latest of " + broadcastID).WithMetadata("broadcastId", broadcastID)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("latest_template", err)
	}
	return t, nil
}

func scanTemplate(row scanner) (*models.Template, error) {
	var t models.Template
	var variables []byte
	if err := row.Scan(&t.ID, &t.BroadcastID, &t.Name, &t.Content, &variables, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if len(variables) > 0 && string(variables) != "null" {
		if err := json.Unmarshal(variables, &t.Variables); err != nil {
			return nil, fmt.Errorf("decode template variables: %w", err)
		}
	}
	return &t, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewQueryExecutionFailedError("rows_affected", err)
	}
	return n > 0, nil
}

var _ Store = (*PostgresStore)(nil)
