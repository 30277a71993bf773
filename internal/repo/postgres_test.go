package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresManager_VendsRepositories(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m, err := NewPostgresManager()
	require.NoError(t, err)

	assert.NotNil(t, m.Employees(db))
	assert.NotNil(t, m.Payments(db))
	assert.NotNil(t, m.Runs(db))
	assert.NotNil(t, m.Scores(db))
	assert.NotNil(t, m.Oracles(db))
	assert.NotNil(t, m.Events(db))
}

func TestRunMigrations_UsesGooseSeam(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	called := false
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		called = true
		assert.Equal(t, ".", dir)
		return nil
	}

	m := &PostgresManager{}
	require.NoError(t, m.RunMigrations(context.Background(), db))
	assert.True(t, called)
}

func TestRunMigrations_PropagatesError(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	boom := errors.New("migrate-fail")
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return boom
	}

	m := &PostgresManager{}
	assert.ErrorIs(t, m.RunMigrations(context.Background(), db), boom)
}

func TestInMemoryManager(t *testing.T) {
	m := NewInMemoryManager()

	require.NoError(t, m.RunMigrations(context.Background(), nil))

	// repositories are shared instances, not per-call
	assert.Same(t, m.Employees(nil), m.Employees(nil))
	assert.Same(t, m.Payments(nil), m.Payments(nil))
	assert.NotNil(t, m.Scores(nil))
	assert.NotNil(t, m.Oracles(nil))
	assert.NotNil(t, m.Events(nil))
}
