// Package s3 implements a gridkit.SegmentStore backed by Amazon S3. Segments
// are written to <prefix>/<entity>/<partition>/<name>; S3 PutObject replaces
// whole objects, so retrying a batch under the same name is idempotent.
package s3

import (
	"bytes"
	"context"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"
)

// Store writes segments to an S3 bucket.
type Store struct {
	bucket string
	prefix string
	region string

	s3   *s3.S3
	sess *session.Session
}

// StoreOption is a functional option for the S3 Store.
type StoreOption func(s *Store)

// OptStoreBucket sets the bucket segments are written to.
func OptStoreBucket(bucket string) StoreOption {
	return func(s *Store) {
		s.bucket = bucket
	}
}

// OptStoreRegion sets the AWS region for the S3 bucket.
func OptStoreRegion(region string) StoreOption {
	return func(s *Store) {
		s.region = region
	}
}

// OptStorePrefix sets a key prefix under which all segments are written.
func OptStorePrefix(prefix string) StoreOption {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// NewStore creates a Store from the given options. Credentials come from the
// usual AWS SDK chain (environment, shared config, instance role).
func NewStore(opts ...StoreOption) (*Store, error) {
	s := &Store{
		region: "us-east-1",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bucket == "" {
		return nil, errors.New("bucket is required")
	}
	var err error
	s.sess, err = session.NewSession(&aws.Config{
		Region: aws.String(s.region)},
	)
	if err != nil {
		return nil, errors.Wrap(err, "getting new session")
	}
	s.s3 = s3.New(s.sess)
	return s, nil
}

// Put uploads data to <prefix>/<entity>/<partition>/<name> in the store's
// bucket, replacing any existing object at that key.
func (s *Store) Put(ctx context.Context, entity, partition, name string, data []byte) error {
	key := path.Join(s.prefix, entity, partition, name)
	_, err := s.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errors.Wrapf(err, "putting s3://%s/%s", s.bucket, key)
	}
	return nil
}
