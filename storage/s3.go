package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	log "github.com/sirupsen/logrus"
)

// S3 is an implementation of Store backed by AWS S3 (or any service speaking
// its API, see WithEndpoint). Keys map to object names, optionally prefixed.
// Large values are uploaded in parts.
type S3 struct {
	bucket   string
	opts     options
	client   *s3.S3
	uploader *s3manager.Uploader
}

func NewS3(profile, region, bucket string, opts ...Option) (*S3, error) {
	s := &S3{bucket: bucket}
	for _, o := range opts {
		o(&s.opts)
	}
	sess, err := newAWSSession(profile, region, s.opts)
	if err != nil {
		return nil, err
	}
	s.client = s3.New(sess)
	s.uploader = s3manager.NewUploaderWithClient(s.client)
	return s, nil
}

func (s *S3) Get(ctx context.Context, key string) (value []byte, err error) {
	objectKey := s.objectKey(key)
	output, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%.40q: %w", key, ErrNotFound)
		}
		return nil, err
	}
	defer func() {
		if err := output.Body.Close(); err != nil {
			log.WithFields(log.Fields{
				"op":  "get",
				"key": objectKey,
			}).Warning("Could not close response body")
		}
	}()
	return io.ReadAll(output.Body)
}

func (s *S3) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(value),
	})
	return err
}

// Delete relies on S3 reporting success for objects that don't exist.
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	return err
}

func (s *S3) objectKey(key string) string {
	return s.opts.prefix + key
}

func isS3NotFound(err error) bool {
	var rfErr awserr.RequestFailure
	if errors.As(err, &rfErr) && rfErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aErr awserr.Error
	return errors.As(err, &aErr) && aErr.Code() == s3.ErrCodeNoSuchKey
}
