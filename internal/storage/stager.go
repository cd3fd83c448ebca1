// Package storage stages uploaded contract attachments and removes them again
// when the contract they were meant for is rejected or deleted.
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/nurpe/brokerage/internal/config"
	"github.com/nurpe/brokerage/internal/model"
)

const contractsFolder = "contracts"

// ErrRejected marks an upload that failed the size or type policy.
var ErrRejected = errors.New("attachment rejected")

type Stager interface {
	Stage(ctx context.Context, file *multipart.FileHeader) (model.Attachment, error)
	Delete(ctx context.Context, path string) error
}

// New picks the backend named in the configuration.
func New(ctx context.Context, cfg config.AttachmentsConfig) (Stager, error) {
	policy := Policy{MaxBytes: cfg.MaxBytes, AllowedExt: cfg.AllowedExt}
	switch cfg.Backend {
	case config.AttachmentsBackendLocal:
		return NewLocalStager(cfg.Dir, cfg.URLPrefix, policy)
	case config.AttachmentsBackendS3:
		return NewS3Stager(ctx, cfg.S3Bucket, cfg.S3Prefix, policy)
	default:
		return nil, fmt.Errorf("unknown attachments backend %q", cfg.Backend)
	}
}

type Policy struct {
	MaxBytes   int64
	AllowedExt []string
}

func (p Policy) Check(file *multipart.FileHeader) error {
	if file == nil {
		return fmt.Errorf("%w: empty upload", ErrRejected)
	}
	if p.MaxBytes > 0 && file.Size > p.MaxBytes {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrRejected, file.Filename, p.MaxBytes)
	}
	if len(p.AllowedExt) == 0 {
		return nil
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(file.Filename)), ".")
	for _, allowed := range p.AllowedExt {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s has a disallowed file type", ErrRejected, file.Filename)
}

func storedName(original string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(original))
	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("contract_%d_%s_%s%s", now.UnixMilli(), token, safeBase(base), ext)
}

// safeBase keeps ASCII letters, digits, '_' and Arabic-script letters.
func safeBase(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'):
			b.WriteRune(r)
		case r >= 0x0600 && r <= 0x06FF:
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}

func attachmentFor(file *multipart.FileHeader, name, path string) model.Attachment {
	mimeType := file.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return model.Attachment{
		OriginalName: file.Filename,
		FileName:     name,
		Path:         path,
		Size:         file.Size,
		MimeType:     mimeType,
	}
}
