// Package store persists trained detector artifacts as immutable, versioned
// snapshots. The forest, the scaler, and the threshold profile are one atomic
// unit: a snapshot missing any of them is unusable, never partially recovered.
package store

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/chainwatch/internal/detector"
	"github.com/yourorg/chainwatch/internal/feature"
)

// Artifact file names inside a snapshot directory.
const (
	forestFile     = "forest.gob"
	scalerFile     = "scaler.gob"
	thresholdsFile = "thresholds.gob"
	manifestFile   = "manifest.json"

	// currentFile points at the active snapshot and is swapped atomically
	// via rename.
	currentFile = "CURRENT"

	// schemaVersion guards against loading artifacts written by an
	// incompatible detector configuration.
	schemaVersion = 1
)

var artifactFiles = []string{forestFile, scalerFile, thresholdsFile}

// ErrNoModel means no snapshot is active at the given directory. This is a
// normal outcome for callers, not a failure.
var ErrNoModel = errors.New("store: no persisted model")

// IncompleteArtifactError reports a snapshot missing one or more of its three
// artifact files.
type IncompleteArtifactError struct {
	Snapshot string
	Missing  []string
}

func (e *IncompleteArtifactError) Error() string {
	return fmt.Sprintf("store: snapshot %s missing artifacts: %s", e.Snapshot, strings.Join(e.Missing, ", "))
}

// CorruptArtifactError reports a snapshot that exists but cannot be trusted:
// checksum mismatch, schema mismatch, or a failed decode.
type CorruptArtifactError struct {
	Snapshot string
	Reason   string
	Err      error
}

func (e *CorruptArtifactError) Error() string {
	return fmt.Sprintf("store: snapshot %s corrupt: %s", e.Snapshot, e.Reason)
}

func (e *CorruptArtifactError) Unwrap() error { return e.Err }

// manifest records what a snapshot contains and how to verify it.
type manifest struct {
	SchemaVersion int               `json:"schema_version"`
	Columns       []string          `json:"columns"`
	CreatedAt     time.Time         `json:"created_at"`
	Checksums     map[string]string `json:"checksums"`
}

// Save persists a trained scorer as a new snapshot under dir and atomically
// makes it the active one. Saving an untrained scorer fails before any write.
func Save(s *detector.Scorer, dir string) error {
	if !s.Trained() {
		return detector.ErrNotTrained
	}

	id := fmt.Sprintf("snap-%d", time.Now().UnixNano())
	snapDir := filepath.Join(dir, id)
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return fmt.Errorf("store: creating snapshot dir: %w", err)
	}

	m := manifest{
		SchemaVersion: schemaVersion,
		Columns:       feature.Columns,
		CreatedAt:     time.Now().UTC(),
		Checksums:     make(map[string]string, len(artifactFiles)),
	}

	artifacts := map[string]any{
		forestFile:     s.Forest,
		scalerFile:     s.Scaler,
		thresholdsFile: s.Thresholds,
	}
	for name, artifact := range artifacts {
		data, err := encodeArtifact(artifact)
		if err != nil {
			return fmt.Errorf("store: encoding %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(snapDir, name), data, 0o644); err != nil {
			return fmt.Errorf("store: writing %s: %w", name, err)
		}
		m.Checksums[name] = checksum(data)
	}

	manifestData, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(snapDir, manifestFile), manifestData, 0o644); err != nil {
		return fmt.Errorf("store: writing manifest: %w", err)
	}

	if err := swapCurrent(dir, id); err != nil {
		return err
	}

	pruneStale(dir, id)
	logrus.WithField("snapshot", id).Infof("Model saved to %s", dir)
	return nil
}

// Load reads the active snapshot under dir and reassembles a trained scorer.
//
// Outcomes are typed: ErrNoModel when nothing is persisted,
// IncompleteArtifactError when artifact files are missing, and
// CorruptArtifactError when verification or decoding fails. Callers decide
// recovery; Load never returns a partial model.
func Load(dir string) (*detector.Scorer, error) {
	id, err := readCurrent(dir)
	if err != nil {
		return nil, err
	}
	snapDir := filepath.Join(dir, id)

	var missing []string
	for _, name := range artifactFiles {
		if _, err := os.Stat(filepath.Join(snapDir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &IncompleteArtifactError{Snapshot: id, Missing: missing}
	}

	m, err := readManifest(snapDir)
	if err != nil {
		return nil, &CorruptArtifactError{Snapshot: id, Reason: "unreadable manifest", Err: err}
	}
	if m.SchemaVersion != schemaVersion {
		return nil, &CorruptArtifactError{
			Snapshot: id,
			Reason:   fmt.Sprintf("schema version %d, expected %d", m.SchemaVersion, schemaVersion),
		}
	}
	if !columnsMatch(m.Columns) {
		return nil, &CorruptArtifactError{Snapshot: id, Reason: "feature columns do not match"}
	}

	var forest detector.Forest
	var scaler detector.StandardScaler
	var thresholds detector.Profile

	targets := map[string]any{
		forestFile:     &forest,
		scalerFile:     &scaler,
		thresholdsFile: &thresholds,
	}
	for name, target := range targets {
		data, err := os.ReadFile(filepath.Join(snapDir, name))
		if err != nil {
			return nil, &CorruptArtifactError{Snapshot: id, Reason: "unreadable " + name, Err: err}
		}
		if sum, ok := m.Checksums[name]; !ok || sum != checksum(data) {
			return nil, &CorruptArtifactError{Snapshot: id, Reason: "checksum mismatch on " + name}
		}
		if err := decodeArtifact(data, target); err != nil {
			return nil, &CorruptArtifactError{Snapshot: id, Reason: "cannot decode " + name, Err: err}
		}
	}

	logrus.WithField("snapshot", id).Debug("Model loaded")
	return detector.Restore(&forest, &scaler, thresholds), nil
}

// Purge removes the active pointer and every snapshot under dir. Used when
// persisted state is corrupt and a retrain is about to replace it.
func Purge(dir string) error {
	if err := os.Remove(filepath.Join(dir, currentFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: removing pointer: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: reading %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "snap-") {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				logrus.Warnf("Could not remove stale snapshot %s: %v", e.Name(), err)
			}
		}
	}
	logrus.Infof("Purged model artifacts in %s", dir)
	return nil
}

// Exists reports whether an active snapshot pointer is present. It says
// nothing about artifact validity.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, currentFile))
	return err == nil
}

func readCurrent(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, currentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoModel
		}
		return "", fmt.Errorf("store: reading pointer: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", ErrNoModel
	}
	return id, nil
}

// swapCurrent atomically repoints CURRENT at the new snapshot.
func swapCurrent(dir, id string) error {
	tmp := filepath.Join(dir, currentFile+".tmp")
	if err := os.WriteFile(tmp, []byte(id+"\n"), 0o644); err != nil {
		return fmt.Errorf("store: writing pointer: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, currentFile)); err != nil {
		return fmt.Errorf("store: swapping pointer: %w", err)
	}
	return nil
}

// pruneStale removes snapshots superseded by keep. Failures are logged, not
// fatal; the active pointer no longer references them.
func pruneStale(dir, keep string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "snap-") && e.Name() != keep {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				logrus.Warnf("Could not prune snapshot %s: %v", e.Name(), err)
			}
		}
	}
}

func readManifest(snapDir string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(snapDir, manifestFile))
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func columnsMatch(cols []string) bool {
	if len(cols) != len(feature.Columns) {
		return false
	}
	for i, c := range cols {
		if c != feature.Columns[i] {
			return false
		}
	}
	return true
}

func encodeArtifact(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeArtifact(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// checksum returns the keccak256 digest of artifact bytes, hex encoded.
func checksum(data []byte) string {
	return crypto.Keccak256Hash(data).Hex()
}
