package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"
)

const (
	collectionFile = "assistants.json"
	knowledgeDir   = "knowledge"
	imagesDir      = "images"

	// storeVersion is the schema version written to new collections. Loads
	// accept any v1 artifact.
	storeVersion = "v1.0.0"
)

// ErrVersionMismatch reports a collection written by an incompatible schema.
var ErrVersionMismatch = errors.New("assistant: unsupported collection version")

// collection is the persisted artifact shape. TitleSettings is host-owned
// and round-tripped untouched.
type collection struct {
	Version       string          `json:"version,omitempty"`
	Agents        []*Assistant    `json:"agents"`
	TitleSettings json.RawMessage `json:"titleSettings,omitempty"`
}

// Store persists the assistant collection as one JSON document: a full
// round trip on every save, last write wins. The store is the single writer
// in this design; the mutex only serializes concurrent API handlers.
type Store struct {
	backend Backend
	log     *zap.Logger

	mu            sync.Mutex
	titleSettings json.RawMessage
}

// NewStore wires a Store over the given backend. A nil logger disables
// logging.
func NewStore(backend Backend, log *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("assistant: backend is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{backend: backend, log: log}, nil
}

// Load reads the full collection. A missing file is an empty collection,
// not an error.
func (s *Store) Load() ([]*Assistant, error) {
	data, err := s.backend.Read(collectionFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("assistant: read collection: %w", err)
	}
	var col collection
	if err := json.Unmarshal(data, &col); err != nil {
		return nil, fmt.Errorf("assistant: decode collection: %w", err)
	}
	if v := col.Version; v != "" {
		if !semver.IsValid(v) || semver.Major(v) != semver.Major(storeVersion) {
			return nil, fmt.Errorf("%w: %s", ErrVersionMismatch, v)
		}
	}
	s.mu.Lock()
	s.titleSettings = col.TitleSettings
	s.mu.Unlock()
	return col.Agents, nil
}

// Save overwrites the persisted collection with agents.
func (s *Store) Save(agents []*Assistant) error {
	s.mu.Lock()
	col := collection{
		Version:       storeVersion,
		Agents:        agents,
		TitleSettings: s.titleSettings,
	}
	s.mu.Unlock()
	data, err := json.MarshalIndent(col, "", "  ")
	if err != nil {
		return fmt.Errorf("assistant: encode collection: %w", err)
	}
	if err := s.backend.Write(collectionFile, data); err != nil {
		return fmt.Errorf("assistant: write collection: %w", err)
	}
	return nil
}

// Export writes the collection to w. When includeHistory is false each
// assistant's turn list is cleared, matching the partial-export flag of the
// host application.
func (s *Store) Export(w io.Writer, agents []*Assistant, includeHistory bool) error {
	out := make([]*Assistant, len(agents))
	for i, a := range agents {
		cp := a.Clone()
		if !includeHistory {
			cp.Turns = nil
		}
		out[i] = cp
	}
	s.mu.Lock()
	col := collection{Version: storeVersion, Agents: out, TitleSettings: s.titleSettings}
	s.mu.Unlock()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(col)
}

// SaveImage stores a generated image artifact and returns its stored path.
func (s *Store) SaveImage(data []byte) (string, error) {
	p := path.Join(imagesDir, uuid.NewString()+".png")
	if err := s.backend.Write(p, data); err != nil {
		return "", fmt.Errorf("assistant: write image: %w", err)
	}
	return p, nil
}

// Delete removes an assistant from agents and cascades deletion of its
// knowledge files, then persists the shrunk collection. Knowledge deletion
// failures are logged, not fatal: the collection write is the source of
// truth.
func (s *Store) Delete(agents []*Assistant, id string) ([]*Assistant, error) {
	kept := make([]*Assistant, 0, len(agents))
	var removed *Assistant
	for _, a := range agents {
		if a.ID == id {
			removed = a
			continue
		}
		kept = append(kept, a)
	}
	if removed == nil {
		return agents, fmt.Errorf("assistant: unknown id %s", id)
	}
	for _, path := range removed.KnowledgeFiles {
		if err := s.backend.Delete(path); err != nil {
			s.log.Warn("delete knowledge file", zap.String("path", path), zap.Error(err))
		}
	}
	if err := s.Save(kept); err != nil {
		return agents, err
	}
	return kept, nil
}
