package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrator struct {
	calls   []string
	steps   int
	forced  int
	version uint
	dirty   bool
	err     error
	closed  bool
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	return f.err
}

func (f *fakeMigrator) Down() error {
	f.calls = append(f.calls, "down")
	return f.err
}

func (f *fakeMigrator) Steps(n int) error {
	f.calls = append(f.calls, "steps")
	f.steps = n
	return f.err
}

func (f *fakeMigrator) Force(v int) error {
	f.calls = append(f.calls, "force")
	f.forced = v
	return f.err
}

func (f *fakeMigrator) Version() (uint, bool, error) { return f.version, f.dirty, f.err }

func (f *fakeMigrator) Close() (error, error) {
	f.closed = true
	return nil, nil
}

func execute(t *testing.T, m *fakeMigrator, args ...string) (string, string, error) {
	t.Helper()
	var source string
	cmd := newRootCmd(func(sourceURL string) (migrator, error) {
		source = sourceURL
		return m, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), source, err
}

func TestMigrate_Up(t *testing.T) {
	m := &fakeMigrator{err: migrate.ErrNoChange}
	out, source, err := execute(t, m, "up")
	require.NoError(t, err)
	assert.Equal(t, []string{"up"}, m.calls)
	assert.Equal(t, "file://db/migrations", source)
	assert.Contains(t, out, "migrations applied")
	assert.True(t, m.closed)
}

func TestMigrate_PathFromEnvAndFlag(t *testing.T) {
	t.Setenv("DOCPIPE_MIGRATIONS_PATH", "/srv/migrations")
	_, source, err := execute(t, &fakeMigrator{}, "down")
	require.NoError(t, err)
	assert.Equal(t, "file:///srv/migrations", source)

	_, source, err = execute(t, &fakeMigrator{}, "--path", "sql", "down")
	require.NoError(t, err)
	assert.Equal(t, "file://sql", source)
}

func TestMigrate_Steps(t *testing.T) {
	m := &fakeMigrator{}
	_, _, err := execute(t, m, "steps", "-2")
	require.NoError(t, err)
	assert.Equal(t, -2, m.steps)

	for _, bad := range []string{"0", "two"} {
		m := &fakeMigrator{}
		_, _, err := execute(t, m, "steps", bad)
		assert.Error(t, err, bad)
		assert.Empty(t, m.calls, bad)
	}
}

func TestMigrate_Force(t *testing.T) {
	m := &fakeMigrator{}
	out, _, err := execute(t, m, "force", "3")
	require.NoError(t, err)
	assert.Equal(t, 3, m.forced)
	assert.Contains(t, out, "forced version 3")

	_, _, err = execute(t, &fakeMigrator{}, "force", "-5")
	assert.Error(t, err)
}

func TestMigrate_Version(t *testing.T) {
	out, _, err := execute(t, &fakeMigrator{version: 1, dirty: true}, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "version: 1, dirty: true")

	out, _, err = execute(t, &fakeMigrator{err: migrate.ErrNilVersion}, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "version: none")
}

func TestMigrate_FailurePropagates(t *testing.T) {
	m := &fakeMigrator{err: errors.New("dirty database version 2")}
	_, _, err := execute(t, m, "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration up failed")
	assert.True(t, m.closed)
}
