package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manifest describes one stored report artifact.
type Manifest struct {
	TaskID     string    `json:"task_id"`
	Files      []string  `json:"files"`
	Degraded   bool      `json:"degraded"`
	Approved   bool      `json:"approved"`
	FinalScore float64   `json:"final_score"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists finished reports on the local filesystem, one
// directory per task keyed by the caller-supplied task id.
type Store struct {
	root   string
	logger *zap.Logger
}

// NewStore creates the artifact root directory if needed.
func NewStore(root string, logger *zap.Logger) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &Store{root: root, logger: logger}, nil
}

// EnsureTaskID returns the caller-supplied id unchanged, or a generated
// one when the caller did not provide any.
func EnsureTaskID(taskID string) string {
	if taskID != "" {
		return taskID
	}
	return uuid.New().String()
}

// SaveReport writes one named artifact file for the task. Writes are
// atomic: content lands in a temp file first and is renamed into place,
// so a crashed writer never leaves a half-written report.
func (s *Store) SaveReport(taskID, name string, content []byte) (string, error) {
	if taskID == "" {
		return "", fmt.Errorf("task id must not be empty")
	}
	dir := filepath.Join(s.root, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create task artifact dir: %w", err)
	}

	final := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to finalize artifact: %w", err)
	}

	s.logger.Info("Artifact saved",
		zap.String("task_id", taskID),
		zap.String("path", final),
		zap.Int("bytes", len(content)),
	)
	return final, nil
}

// SaveManifest writes the task's manifest.json next to its artifacts.
func (s *Store) SaveManifest(m Manifest) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	_, err = s.SaveReport(m.TaskID, "manifest.json", data)
	return err
}

// Load reads one named artifact for the task.
func (s *Store) Load(taskID, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, taskID, name))
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact %s/%s: %w", taskID, name, err)
	}
	return data, nil
}

// List returns the artifact file names stored for the task.
func (s *Store) List(taskID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list artifacts for %q: %w", taskID, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
