package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/meridianedu/go-admissions-backend/internal/domain"
)

// Validation stage identifiers, reported in itemized file errors. These are
// structural facts about the file and safe to disclose to the caller.
const (
	StageExtension = "extension"
	StageTypeMatch = "type_mismatch"
	StageSignature = "signature"
	StageContent   = "content"
	StageSize      = "size"
)

// FileError describes why one file failed validation.
type FileError struct {
	FileName string `json:"file_name"`
	Stage    string `json:"stage"`
	Reason   string `json:"reason"`
}

// Error implements the error interface.
func (e FileError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.FileName, e.Reason, e.Stage)
}

// BatchError aggregates the per-file failures of one submission. Validation
// is all-or-nothing: a BatchError means the whole batch was rejected and
// every file purged.
type BatchError struct {
	Files []FileError
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if len(e.Files) == 1 {
		return e.Files[0].Error()
	}
	return fmt.Sprintf("%d files failed validation", len(e.Files))
}

// dangerousExtensions is the fixed denylist: executables, scripts, archives,
// and markup capable of script execution. Checked before anything else, so a
// payload.exe is rejected no matter what content type it declares.
var dangerousExtensions = map[string]struct{}{
	".exe": {}, ".com": {}, ".msi": {}, ".scr": {}, ".pif": {}, ".bat": {},
	".cmd": {}, ".sh": {}, ".ps1": {}, ".vbs": {}, ".js": {}, ".jar": {},
	".php": {}, ".asp": {}, ".aspx": {}, ".jsp": {}, ".py": {}, ".rb": {},
	".pl": {}, ".cgi": {}, ".zip": {}, ".rar": {}, ".7z": {}, ".tar": {},
	".gz": {}, ".html": {}, ".htm": {}, ".xhtml": {}, ".svg": {},
}

// extensionTypes maps allowed extensions to their canonical content type.
// jpg and jpeg are equivalent by mapping to the same type.
var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".txt":  "text/plain",
}

// fileSignatures lists the known magic-byte prefixes per canonical type.
// Plain text has no signature and is accepted at the signature stage.
var fileSignatures = map[string][][]byte{
	"application/pdf": {{0x25, 0x50, 0x44, 0x46}}, // %PDF
	"image/jpeg":      {{0xFF, 0xD8, 0xFF}},
	"image/png":       {{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	"application/msword": {
		{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, // OLE compound file
	},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {
		{0x50, 0x4B, 0x03, 0x04}, // ZIP local file header
		{0x50, 0x4B, 0x05, 0x06}, // empty archive
		{0x50, 0x4B, 0x07, 0x08}, // spanned archive
	},
}

const signatureReadLen = 16

// maliciousPatterns are scanned against the full content of non-image files:
// script tags, inline event handlers, script-capable URLs, code-execution
// calls, and base64-decode markers.
var maliciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[\s>]`),
	regexp.MustCompile(`(?i)\bon(load|error|click|mouseover|focus|submit)\s*=`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)\b(exec|system|popen|shell_exec|passthru)\s*\(`),
	regexp.MustCompile(`(?i)\b(base64_decode|atob)\s*\(`),
	regexp.MustCompile(`(?i)data:[^,]*;base64`),
}

// Validator runs the five-stage security validation over a submission's
// attachment batch.
type Validator struct {
	MaxFileBytes int64 // per-file size cap
	Parallelism  int   // bounded parallelism for the batch
}

// ValidateBatch validates every file of a submission with bounded
// parallelism and joins before deciding. Files are independent, but the
// verdict is all-or-nothing: any failure yields a *BatchError itemizing each
// failed file, and the caller must purge the entire batch. A nil return
// means every file passed every stage.
func (v *Validator) ValidateBatch(ctx context.Context, files []domain.UploadedFile) error {
	if len(files) == 0 {
		return nil
	}

	limit := v.Parallelism
	if limit < 1 {
		limit = 1
	}

	results := make([]*FileError, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, f := range files {
		g.Go(func() error {
			// Short-circuit: a sibling already failed the batch.
			if ctx.Err() != nil {
				return nil
			}
			if ferr := v.validateFile(f); ferr != nil {
				results[i] = ferr
				return ferr
			}
			return nil
		})
	}
	_ = g.Wait()

	var failed []FileError
	for _, r := range results {
		if r != nil {
			failed = append(failed, *r)
		}
	}
	if len(failed) > 0 {
		return &BatchError{Files: failed}
	}
	return nil
}

// validateFile runs the stages in order and stops at the first failure.
func (v *Validator) validateFile(f domain.UploadedFile) *FileError {
	ext := strings.ToLower(filepath.Ext(f.OriginalName))

	// 1) Dangerous-extension denylist.
	if _, bad := dangerousExtensions[ext]; bad {
		return &FileError{FileName: f.OriginalName, Stage: StageExtension,
			Reason: fmt.Sprintf("extension %q is not allowed", ext)}
	}

	// 2) Extension must map to the declared content type.
	canonical, ok := extensionTypes[ext]
	if !ok {
		return &FileError{FileName: f.OriginalName, Stage: StageTypeMatch,
			Reason: fmt.Sprintf("unsupported extension %q", ext)}
	}
	declared := f.DeclaredMime
	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		declared = mt
	}
	if !strings.EqualFold(declared, canonical) {
		return &FileError{FileName: f.OriginalName, Stage: StageTypeMatch,
			Reason: fmt.Sprintf("declared type %q does not match extension %q", f.DeclaredMime, ext)}
	}

	// 3) Magic bytes must match the declared type. Plain text has none.
	if sigs, has := fileSignatures[canonical]; has {
		head, err := readHead(f.DiskPath, signatureReadLen)
		if err != nil {
			return &FileError{FileName: f.OriginalName, Stage: StageSignature,
				Reason: "file is unreadable"}
		}
		if !matchesAnySignature(head, sigs) {
			return &FileError{FileName: f.OriginalName, Stage: StageSignature,
				Reason: fmt.Sprintf("content does not match the %s signature", canonical)}
		}
	}

	// 4) Malicious-pattern scan of the full content for non-image types.
	if !strings.HasPrefix(canonical, "image/") {
		content, err := os.ReadFile(f.DiskPath)
		if err != nil {
			return &FileError{FileName: f.OriginalName, Stage: StageContent,
				Reason: "file is unreadable"}
		}
		for _, re := range maliciousPatterns {
			if re.Match(content) {
				return &FileError{FileName: f.OriginalName, Stage: StageContent,
					Reason: "content contains a disallowed pattern"}
			}
		}
	}

	// 5) Size bounds.
	if f.SizeBytes == 0 {
		return &FileError{FileName: f.OriginalName, Stage: StageSize,
			Reason: "file is empty"}
	}
	if f.SizeBytes > v.MaxFileBytes {
		return &FileError{FileName: f.OriginalName, Stage: StageSize,
			Reason: fmt.Sprintf("file exceeds the %d byte limit", v.MaxFileBytes)}
	}

	return nil
}

func readHead(path string, n int) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	buf := make([]byte, n)
	read, err := io.ReadFull(fh, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:read], nil
}

func matchesAnySignature(head []byte, sigs [][]byte) bool {
	for _, sig := range sigs {
		if bytes.HasPrefix(head, sig) {
			return true
		}
	}
	return false
}
