package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedStore(t *testing.T, at time.Time) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "logs"))
	s.now = func() time.Time { return at }
	return s
}

func TestSaveBatch_NeverOverwrites(t *testing.T) {
	s := fixedStore(t, time.Date(2025, 6, 13, 10, 0, 0, 0, time.UTC))

	first, err := s.SaveBatch([]byte("add blocked_ips 1.1.1.1 -exist\n"), false)
	require.NoError(t, err)
	second, err := s.SaveBatch([]byte("add blocked_ips 2.2.2.2 -exist\n"), true)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, "ipset_rules-2025-06-13_10-00-00.txt", filepath.Base(first))
	assert.True(t, strings.HasSuffix(second, ".failed.txt"))

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "add blocked_ips 1.1.1.1 -exist\n", string(data))
}

func TestLatest(t *testing.T) {
	s := fixedStore(t, time.Date(2025, 6, 13, 10, 0, 0, 0, time.UTC))
	_, err := s.Latest("block-ips-run")
	require.Error(t, err)

	older, err := s.OpenRunLog("block-ips")
	require.NoError(t, err)
	require.NoError(t, older.Close())

	s.now = func() time.Time { return time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC) }
	newer, err := s.OpenRunLog("block-ips")
	require.NoError(t, err)
	require.NoError(t, newer.Close())

	other, err := s.OpenRunLog("bot")
	require.NoError(t, err)
	require.NoError(t, other.Close())

	latest, err := s.Latest("block-ips-run")
	require.NoError(t, err)
	assert.Equal(t, newer.Name(), latest)
}
