package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcast-dispatch/internal/broadcast"
	"broadcast-dispatch/internal/common/logger"
	"broadcast-dispatch/internal/models"
	"broadcast-dispatch/internal/queue"
	"broadcast-dispatch/internal/store"
)

func testConnector(t *testing.T) (connector, *queue.RedisQueue) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := queue.NewRedisQueue(client, queue.Config{Name: "message-dispatch", KeyPrefix: "ctl"}, queue.WithLogger(logger.NewTestLogger(t)))
	svc := broadcast.NewService(store.NewMemoryStore(), q, broadcast.WithLogger(logger.NewTestLogger(t)))
	e := &env{svc: svc}
	return func(context.Context) (*env, func(), error) { return e, func() {}, nil }, q
}

func writeFile(t *testing.T, name string, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func runCmd(t *testing.T, open connector, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out, open)
	return out.String(), err
}

// ==========================
// Broadcast commands
// ==========================

func TestBroadcastctl_CreateStartPause(t *testing.T) {
	open, q := testConnector(t)
	contacts := writeFile(t, "contacts.json", []models.NewContactInput{
		{Name: "Ana Souza", Phone: "+5511900000001"},
		{Name: "Bruno Lima", Phone: "+5511900000002"},
	})

	out, err := runCmd(t, open, "create", "-name", "Promo A", "-contacts", contacts, "-template", "Hi {{name}}")
	require.NoError(t, err)
	var created broadcast.CreateResult
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, 2, created.ContactsCount)
	assert.Equal(t, models.BroadcastDraft, created.Broadcast.Status)
	require.NotNil(t, created.Template)
	assert.Equal(t, "Promo A", created.Template.Name)
	id := created.Broadcast.ID

	out, err = runCmd(t, open, "start", "-id", id)
	require.NoError(t, err)
	assert.Contains(t, out, `"success": true`)

	jobs, err := q.Jobs(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	out, err = runCmd(t, open, "pause", "-id", id)
	require.NoError(t, err)
	assert.Contains(t, out, `"success": true`)

	out, err = runCmd(t, open, "stats", "-id", id)
	require.NoError(t, err)
	var stats broadcast.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, models.BroadcastPaused, stats.Broadcast.Status)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Counts[models.ContactPending])
}

func TestBroadcastctl_CreateFromFile(t *testing.T) {
	open, _ := testConnector(t)
	req := writeFile(t, "req.json", broadcast.CreateInput{
		Name:      "Promo B",
		StartDate: "2999-01-01T09:00:00",
		Timezone:  "America/Sao_Paulo",
		Contacts:  []models.NewContactInput{{Name: "Ana", Phone: "+5511900000001"}},
	})

	out, err := runCmd(t, open, "create", "-file", req)
	require.NoError(t, err)
	var created broadcast.CreateResult
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, models.BroadcastScheduled, created.Broadcast.Status)
}

func TestBroadcastctl_RejectedCommandFails(t *testing.T) {
	open, _ := testConnector(t)
	out, err := runCmd(t, open, "create", "-name", "No template")
	require.NoError(t, err)
	var created broadcast.CreateResult
	require.NoError(t, json.Unmarshal([]byte(out), &created))

	out, err = runCmd(t, open, "resume", "-id", created.Broadcast.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resume rejected")
	assert.Contains(t, out, `"success": false`)
}

func TestBroadcastctl_ArgumentErrors(t *testing.T) {
	open, _ := testConnector(t)
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no command", nil, "missing command"},
		{"unknown command", []string{"launch"}, "unknown command"},
		{"missing id", []string{"start"}, "-id is required"},
		{"contacts missing id", []string{"contacts"}, "-id is required"},
		{"add-contacts missing file", []string{"add-contacts", "-id", "x"}, "-id and -file are required"},
		{"migrate on memory", []string{"migrate"}, "requires the postgres driver"},
		{"unknown broadcast", []string{"stats", "-id", "nope"}, "BROADCAST_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCmd(t, open, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// ==========================
// Registry
// ==========================

func TestBroadcastctl_Registry(t *testing.T) {
	noConnect := func(context.Context) (*env, func(), error) {
		t.Fatal("registry commands must not connect")
		return nil, nil, nil
	}

	out, err := runCmd(t, noConnect, "registry", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Registry validation passed (2 tasks)")

	out, err = runCmd(t, noConnect, "registry", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "message-dispatch")
	assert.Contains(t, out, "scheduled-campaign-check")

	bad := writeFile(t, "registry.json", map[string]interface{}{
		"version": "1.0.0",
		"tasks":   []map[string]interface{}{{"id": "a", "displayName": "A"}},
	})
	_, err = runCmd(t, noConnect, "registry", "validate", "-path", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required field: Queue")
}
