package assistant

import (
	"encoding/base64"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// CopyKnowledgeFile copies a host file into the store's knowledge area for
// the given assistant and returns the stored path. The returned path is
// what the assistant records in KnowledgeFiles.
func (s *Store) CopyKnowledgeFile(assistantID, srcPath string) (string, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", fmt.Errorf("assistant: read source file: %w", err)
	}
	dest := path.Join(knowledgeDir, assistantID, filepath.Base(srcPath))
	if err := s.backend.Write(dest, data); err != nil {
		return "", fmt.Errorf("assistant: store knowledge file: %w", err)
	}
	return dest, nil
}

// ReadKnowledgeFile returns the stored file encoded as base64, the shape
// completion attachments expect.
func (s *Store) ReadKnowledgeFile(storedPath string) (string, error) {
	data, err := s.backend.Read(storedPath)
	if err != nil {
		return "", fmt.Errorf("assistant: read knowledge file: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DeleteKnowledgeFile removes one stored file.
func (s *Store) DeleteKnowledgeFile(storedPath string) error {
	return s.backend.Delete(storedPath)
}
