package infrastructure

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/course-extract-go/internal/domain"
)

// FileArtifactStore keeps assembled artifacts as files in one directory
type FileArtifactStore struct {
	dir string
}

// NewFileArtifactStore creates the output directory if needed
func NewFileArtifactStore(dir string) (*FileArtifactStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &FileArtifactStore{dir: abs}, nil
}

// Dir returns the output directory
func (s *FileArtifactStore) Dir() string {
	return s.dir
}

// Create opens <dir>/<jobID><ext>, truncating any previous artifact
func (s *FileArtifactStore) Create(jobID, ext string) (domain.ArtifactWriter, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || strings.Contains(jobID, "..") {
		return nil, domain.NewError(domain.KindInternal, "create artifact", "invalid job id")
	}
	path := filepath.Join(s.dir, jobID+ext)
	f, err := os.Create(path)
	if err != nil {
		return nil, domain.WrapError(domain.KindInternal, "create artifact", err)
	}
	return &fileArtifact{file: f, buf: bufio.NewWriterSize(f, 1<<20), path: path}, nil
}

// Remove deletes an artifact. References outside the store are rejected and
// a missing file is not an error.
func (s *FileArtifactStore) Remove(ref string) error {
	if ref == "" {
		return nil
	}
	rel, err := filepath.Rel(s.dir, ref)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return domain.NewError(domain.KindInternal, "remove artifact", "artifact is outside the output directory")
	}
	if err := os.Remove(ref); err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.WrapError(domain.KindInternal, "remove artifact", err)
	}
	return nil
}

type fileArtifact struct {
	file *os.File
	buf  *bufio.Writer
	path string
}

func (a *fileArtifact) Write(p []byte) (int, error) {
	return a.buf.Write(p)
}

func (a *fileArtifact) Close() error {
	flushErr := a.buf.Flush()
	closeErr := a.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (a *fileArtifact) Ref() string {
	return a.path
}
