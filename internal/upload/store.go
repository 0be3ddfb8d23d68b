// Package upload owns the transient attachment lifecycle: writing multipart
// file parts to temporary storage, sanitizing their names, validating their
// content, and guaranteeing removal. No file created here may outlive its
// submission's terminal state.
package upload

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"

	"github.com/meridianedu/go-admissions-backend/internal/domain"
)

// ErrTooManyFiles is returned by Save when a batch exceeds the per-submission
// attachment cap. Callers treat it as malformed input, not a server fault.
var ErrTooManyFiles = errors.New("too many attachments")

// Store writes incoming multipart file parts to a temp directory.
type Store struct {
	Dir      string // temp directory; must exist
	MaxFiles int    // attachments accepted per submission
}

// Save writes each part to a fresh temp file and returns the resulting
// transient files. On any mid-batch error the files written so far are
// removed before returning, so the caller never owns a partial batch.
func (s *Store) Save(headers []*multipart.FileHeader) ([]domain.UploadedFile, error) {
	if len(headers) > s.MaxFiles {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrTooManyFiles, len(headers), s.MaxFiles)
	}

	files := make([]domain.UploadedFile, 0, len(headers))
	for _, h := range headers {
		f, err := s.saveOne(h)
		if err != nil {
			s.Remove(files)
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func (s *Store) saveOne(h *multipart.FileHeader) (domain.UploadedFile, error) {
	src, err := h.Open()
	if err != nil {
		return domain.UploadedFile{}, fmt.Errorf("open part %q: %w", h.Filename, err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(s.Dir, "intake-*")
	if err != nil {
		return domain.UploadedFile{}, fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(dst, src)
	cerr := dst.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst.Name())
		return domain.UploadedFile{}, fmt.Errorf("write %q: %w", h.Filename, err)
	}

	return domain.UploadedFile{
		DiskPath:      dst.Name(),
		OriginalName:  h.Filename,
		SanitizedName: SanitizeFilename(h.Filename),
		DeclaredMime:  h.Header.Get("Content-Type"),
		SizeBytes:     n,
	}, nil
}

// Remove deletes every file in the batch from disk. Delete errors are logged
// and never escalated: by the time cleanup runs the user-facing outcome is
// already finalized.
func (s *Store) Remove(files []domain.UploadedFile) {
	for _, f := range files {
		if f.DiskPath == "" {
			continue
		}
		if err := os.Remove(f.DiskPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", f.DiskPath).Msg("temp file cleanup failed")
		}
	}
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename normalizes a client-supplied filename into something safe
// for logs and mail attachments: Unicode NFC, path components stripped,
// unsafe characters collapsed to underscores, bounded length.
func SanitizeFilename(name string) string {
	name = norm.NFC.String(name)
	// Strip both unix and windows path components.
	name = name[strings.LastIndexByte(name, '\\')+1:]
	name = filepath.Base(name)
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if len(name) > 100 {
		ext := filepath.Ext(name)
		name = name[:100-len(ext)] + ext
	}
	if name == "" {
		return "attachment"
	}
	return name
}
