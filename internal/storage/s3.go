package storage

import (
	"context"
	"fmt"
	"mime/multipart"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nurpe/brokerage/internal/model"
)

type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Stager stores attachments as objects. The attachment path is the object
// key with a leading slash.
type S3Stager struct {
	client objectAPI
	bucket string
	prefix string
	policy Policy
}

func NewS3Stager(ctx context.Context, bucket, prefix string, policy Policy) (*S3Stager, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return newS3Stager(s3.NewFromConfig(cfg), bucket, prefix, policy), nil
}

func newS3Stager(client objectAPI, bucket, prefix string, policy Policy) *S3Stager {
	return &S3Stager{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		policy: policy,
	}
}

func (s *S3Stager) Stage(ctx context.Context, file *multipart.FileHeader) (model.Attachment, error) {
	if err := s.policy.Check(file); err != nil {
		return model.Attachment{}, err
	}

	name := storedName(file.Filename, time.Now())
	key := path.Join(s.prefix, contractsFolder, name)

	src, err := file.Open()
	if err != nil {
		return model.Attachment{}, err
	}
	defer src.Close()

	attachment := attachmentFor(file, name, "/"+key)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          src,
		ContentLength: aws.Int64(file.Size),
		ContentType:   aws.String(attachment.MimeType),
	})
	if err != nil {
		return model.Attachment{}, fmt.Errorf("failed to put object %s to bucket %s: %w", key, s.bucket, err)
	}
	return attachment, nil
}

// Delete removes the object behind stored. S3 treats missing keys as deleted.
func (s *S3Stager) Delete(ctx context.Context, stored string) error {
	key := strings.TrimPrefix(stored, "/")
	expected := path.Join(s.prefix, contractsFolder) + "/"
	if !strings.HasPrefix(key, expected) || strings.Contains(key, "..") {
		return fmt.Errorf("path %q is outside the attachments area", stored)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete object %s from bucket %s: %w", key, s.bucket, err)
	}
	return nil
}
