package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/order-consumer/internal/storage/postgres"
)

type stubMigrationStore struct {
	upSteps   []int
	downSteps []int
	upErr     error
	status    postgres.MigrationStatus
	closed    bool
}

func (s *stubMigrationStore) MigrateUp(_ context.Context, steps int) error {
	s.upSteps = append(s.upSteps, steps)
	return s.upErr
}

func (s *stubMigrationStore) MigrateDown(_ context.Context, steps int) error {
	s.downSteps = append(s.downSteps, steps)
	return nil
}

func (s *stubMigrationStore) Status(context.Context) (postgres.MigrationStatus, error) {
	return s.status, nil
}

func (s *stubMigrationStore) Close() error {
	s.closed = true
	return nil
}

func withMigrationStore(t *testing.T, store migrationStore) {
	t.Helper()
	old := openMigrationStore
	openMigrationStore = func(context.Context, string) (migrationStore, error) { return store, nil }
	t.Cleanup(func() { openMigrationStore = old })
}

func TestMigrateCommand_Up(t *testing.T) {
	store := &stubMigrationStore{status: postgres.MigrationStatus{Version: 3, Applied: 3}}
	withMigrationStore(t, store)

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"migrate", "up", "--dsn", "postgres://stub", "--steps", "2"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, []int{2}, store.upSteps)
	assert.True(t, store.closed)
	assert.Contains(t, buf.String(), "migrate up ok: version=3 applied=3 pending=0")
}

func TestMigrateCommand_DownDefaultsToOneStep(t *testing.T) {
	store := &stubMigrationStore{status: postgres.MigrationStatus{Version: 2, Applied: 2, Pending: 1}}
	withMigrationStore(t, store)

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"migrate", "down", "--dsn", "postgres://stub"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, []int{1}, store.downSteps)
	assert.Contains(t, buf.String(), "pending=1")
}

func TestMigrateCommand_Errors(t *testing.T) {
	t.Setenv("ORDERS_POSTGRES_DSN", "")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"migrate", "status"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORDERS_POSTGRES_DSN")

	store := &stubMigrationStore{upErr: errors.New("lock timeout")}
	withMigrationStore(t, store)
	cmd = newRootCmd()
	cmd.SetArgs([]string{"migrate", "up", "--dsn", "postgres://stub"})
	err = cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate up failed")

	require.Error(t, runMigrate(context.Background(), store, "sideways", 0, new(bytes.Buffer)))
}

func TestMigrateCommand_Postgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("ORDERS_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	store, err := postgres.Open(ctx, dsn)
	cancel()
	if err != nil {
		t.Skipf("postgres is not reachable: %v", err)
	}
	_ = store.Close()

	for _, args := range [][]string{
		{"migrate", "status", "--dsn", dsn},
		{"migrate", "up", "--dsn", dsn},
		{"migrate", "status", "--dsn", dsn},
	} {
		cmd := newRootCmd()
		buf := new(bytes.Buffer)
		cmd.SetOut(buf)
		cmd.SetArgs(args)
		require.NoError(t, cmd.Execute(), "args: %v", args)
		assert.Contains(t, buf.String(), "ok: version=")
	}
}
