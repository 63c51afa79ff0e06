package datastore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

type record struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "nested", "data.json"))
	cfg.AutoSaveInterval = 0
	cfg.BackupCount = 1
	cfg.Logger = zaptest.NewLogger(t)
	return cfg
}

func TestOpenCreatesEmptyFile(t *testing.T) {
	cfg := testConfig(t)
	s, err := Open[record](cfg)
	require.NoError(t, err)
	defer s.Close()

	raw, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
	assert.Equal(t, 0, s.Len())
}

func TestCloseWritesAndReopenLoads(t *testing.T) {
	cfg := testConfig(t)
	s, err := Open[record](cfg)
	require.NoError(t, err)

	require.NoError(t, s.Put("b", record{Name: "bee"}))
	require.NoError(t, s.Update("a", func(cur record, ok bool) (record, bool) {
		assert.False(t, ok)
		cur.Name = "ay"
		cur.Items = append(cur.Items, "x")
		return cur, true
	}))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Put("c", record{}), ErrClosed)

	again, err := Open[record](cfg)
	require.NoError(t, err)
	defer again.Close()

	assert.Equal(t, []string{"a", "b"}, again.Keys())
	a, ok := again.Get("a")
	require.True(t, ok)
	assert.Equal(t, record{Name: "ay", Items: []string{"x"}}, a)
}

func TestUpdateCanDelete(t *testing.T) {
	s, err := Open[record](testConfig(t))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put("k", record{Name: "v"}))
	require.NoError(t, s.Update("k", func(cur record, ok bool) (record, bool) { return cur, false }))
	_, ok := s.Get("k")
	assert.False(t, ok)
	assert.False(t, s.Delete("k"))
}

func TestOpenRejectsInvalidJSON(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755))
	require.NoError(t, os.WriteFile(cfg.FilePath, []byte("{nope"), 0o644))

	_, err := Open[record](cfg)
	assert.Error(t, err)
}

func TestAutoSaveStopsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	cfg.AutoSaveInterval = 5 * time.Millisecond
	s, err := Open[record](cfg)
	require.NoError(t, err)
	require.NoError(t, s.Put("k", record{Name: "v"}))
	require.NoError(t, s.Close())
}
