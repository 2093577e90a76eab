package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greplay/internal/config"
	"greplay/internal/logger"
	"greplay/internal/storage"
	"greplay/pkg/health"
	"greplay/pkg/models"
)

type fakeStore struct {
	exists     bool
	setups     []bool
	tornDown   bool
	saved      []*models.NotificationMessage
	cleanHours int
	closed     bool
}

func (s *fakeStore) Setup(_ context.Context, force bool) (storage.SetupStatus, error) {
	s.setups = append(s.setups, force)
	if s.exists {
		return storage.SetupRecreated, nil
	}
	s.exists = true
	return storage.SetupCreated, nil
}

func (s *fakeStore) Teardown(context.Context) error {
	s.tornDown = true
	s.exists = false
	return nil
}

func (s *fakeStore) Save(_ context.Context, msg *models.NotificationMessage) error {
	s.saved = append(s.saved, msg)
	return nil
}

func (s *fakeStore) Exists(context.Context) (bool, error) { return s.exists, nil }

func (s *fakeStore) RecordExists(context.Context, string) (bool, error) { return false, nil }

func (s *fakeStore) Clean(_ context.Context, hours int) (int64, error) {
	s.cleanHours = hours
	return 7, nil
}

func (s *fakeStore) HealthChecker() health.Checker { return nil }

func (s *fakeStore) Close(context.Context) error {
	s.closed = true
	return nil
}

func (s *fakeStore) Name() string { return "wis2-notification-messages" }

func (s *fakeStore) Query(context.Context, storage.FeatureQuery) (*storage.FeaturePage, error) {
	return &storage.FeaturePage{}, nil
}

func run(t *testing.T, store *fakeStore, stdin string, args ...string) (string, error) {
	t.Helper()
	c := &cli{
		cfg:    &config.Config{Storage: config.StorageConfig{RetentionHours: 24}},
		logger: logger.NopLogger(),
		openStore: func(context.Context, *config.Config, logger.Logger) (storage.Store, error) {
			return store, nil
		},
	}
	cmd := newRootCmd(c)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSetup(t *testing.T) {
	store := &fakeStore{}
	out, err := run(t, store, "", "setup")
	require.NoError(t, err)
	assert.Contains(t, out, "Setting up backend")
	assert.Contains(t, out, "Done")
	assert.Equal(t, []bool{false}, store.setups)
	assert.True(t, store.closed)

	out, err = run(t, store, "", "setup")
	require.NoError(t, err)
	assert.Contains(t, out, "Backend already exists")
	assert.Len(t, store.setups, 1)
}

func TestSetup_ForcePrompts(t *testing.T) {
	store := &fakeStore{exists: true}
	out, err := run(t, store, "n\n", "setup", "--force")
	require.ErrorIs(t, err, errAborted)
	assert.Contains(t, out, "Recreate backend?")
	assert.Empty(t, store.setups)

	out, err = run(t, store, "y\n", "setup", "-f")
	require.NoError(t, err)
	assert.Contains(t, out, "Reinitializing backend")
	assert.Equal(t, []bool{true}, store.setups)

	out, err = run(t, store, "", "setup", "-f", "-y")
	require.NoError(t, err)
	assert.NotContains(t, out, "Recreate backend?")
	assert.Len(t, store.setups, 2)
}

func TestTeardown(t *testing.T) {
	store := &fakeStore{exists: true}
	_, err := run(t, store, "", "teardown")
	require.ErrorIs(t, err, errAborted)
	assert.False(t, store.tornDown)

	_, err = run(t, store, "yes\n", "teardown")
	require.NoError(t, err)
	assert.True(t, store.tornDown)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	msg := `{"id":"31e9d66a-cd83-4174-9429-b932f1abe1be","type":"Feature","geometry":null,` +
		`"properties":{"data_id":"ch-meteoswiss/data/A_SMCH01","pubtime":"2024-04-12T10:00:00Z","datetime":"2024-04-12T09:50:00Z"},` +
		`"links":[{"href":"https://example.org/A_SMCH01.bufr4","rel":"canonical"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(msg), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{"broken"`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	store := &fakeStore{}
	out, err := run(t, store, "", "load", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 1 of 2 file(s), 1 failed")
	require.Len(t, store.saved, 1)

	_, err = run(t, store, "", "load")
	assert.Error(t, err)
}

func TestClean(t *testing.T) {
	store := &fakeStore{}
	out, err := run(t, store, "", "clean")
	require.NoError(t, err)
	assert.Equal(t, 24, store.cleanHours)
	assert.Contains(t, out, "Deleting messages > 24 hour(s) old from wis2-notification-messages")
	assert.Contains(t, out, "Deleted 7 message(s)")

	store = &fakeStore{}
	_, err = run(t, store, "", "clean", "--hours", "3")
	require.NoError(t, err)
	assert.Equal(t, 3, store.cleanHours)

	store = &fakeStore{}
	out, err = run(t, store, "", "clean", "--hours", "-1")
	require.NoError(t, err)
	assert.Contains(t, out, "No data retention set. Skipping")
	assert.Zero(t, store.cleanHours)
}
