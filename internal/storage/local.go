package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/nurpe/brokerage/internal/model"
)

// LocalStager keeps attachments on disk under dir and hands out paths below
// urlPrefix, which the router serves statically.
type LocalStager struct {
	dir       string
	urlPrefix string
	policy    Policy
}

func NewLocalStager(dir, urlPrefix string, policy Policy) (*LocalStager, error) {
	if err := os.MkdirAll(filepath.Join(dir, contractsFolder), 0o755); err != nil {
		return nil, fmt.Errorf("create attachments dir: %w", err)
	}
	return &LocalStager{
		dir:       dir,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		policy:    policy,
	}, nil
}

func (s *LocalStager) Stage(_ context.Context, file *multipart.FileHeader) (model.Attachment, error) {
	if err := s.policy.Check(file); err != nil {
		return model.Attachment{}, err
	}

	name := storedName(file.Filename, time.Now())
	src, err := file.Open()
	if err != nil {
		return model.Attachment{}, err
	}
	defer src.Close()

	target := filepath.Join(s.dir, contractsFolder, name)
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return model.Attachment{}, err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(target)
		return model.Attachment{}, err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(target)
		return model.Attachment{}, err
	}

	return attachmentFor(file, name, path.Join(s.urlPrefix, contractsFolder, name)), nil
}

// Delete removes a file previously returned by Stage. A file that is already
// gone is not an error.
func (s *LocalStager) Delete(_ context.Context, stored string) error {
	prefix := path.Join(s.urlPrefix, contractsFolder) + "/"
	if !strings.HasPrefix(stored, prefix) {
		return fmt.Errorf("path %q is outside the attachments area", stored)
	}
	name := strings.TrimPrefix(stored, prefix)
	if name == "" || name != filepath.Base(name) || name == ".." {
		return fmt.Errorf("path %q is outside the attachments area", stored)
	}

	err := os.Remove(filepath.Join(s.dir, contractsFolder, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
