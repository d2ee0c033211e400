package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *Store {
	s, err := NewStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestSaveAndLoadReport(t *testing.T) {
	s := newTestStore(t)

	path, err := s.SaveReport("task-1", "report.md", []byte("# Findings\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, filepath.Join("task-1", "report.md")))

	data, err := s.Load("task-1", "report.md")
	require.NoError(t, err)
	assert.Equal(t, "# Findings\n", string(data))
}

func TestSaveReportOverwritesAtomically(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SaveReport("task-1", "report.md", []byte("v1"))
	require.NoError(t, err)
	_, err = s.SaveReport("task-1", "report.md", []byte("v2"))
	require.NoError(t, err)

	data, err := s.Load("task-1", "report.md")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	// No temp files left behind
	names, err := s.List("task-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"report.md"}, names)
}

func TestSaveManifest(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveManifest(Manifest{
		TaskID:     "task-1",
		Files:      []string{"report.md"},
		Degraded:   true,
		FinalScore: 0.72,
	}))

	data, err := s.Load("task-1", "manifest.json")
	require.NoError(t, err)

	var m Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "task-1", m.TaskID)
	assert.True(t, m.Degraded)
	assert.Equal(t, 0.72, m.FinalScore)
	assert.False(t, m.CreatedAt.IsZero())
}

func TestListUnknownTask(t *testing.T) {
	s := newTestStore(t)
	names, err := s.List("nope")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSaveReportRequiresTaskID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SaveReport("", "report.md", nil)
	assert.Error(t, err)
}

func TestEnsureTaskID(t *testing.T) {
	assert.Equal(t, "caller-id", EnsureTaskID("caller-id"))

	generated := EnsureTaskID("")
	_, err := uuid.Parse(generated)
	assert.NoError(t, err)
}

func TestNewStoreCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "artifacts")
	_, err := NewStore(root, zaptest.NewLogger(t))
	require.NoError(t, err)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
