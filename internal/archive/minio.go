// Package archive keeps long-term copies of document snapshots in object
// storage. Git history already records every save; the archive samples
// every Nth committed save into a bucket for offsite retention.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store uploads sampled snapshots to a MinIO (or S3-compatible) bucket.
type Store struct {
	client *minio.Client
	bucket string
	every  int
}

// New connects to the object store and ensures the bucket exists.
// every controls sampling: a snapshot is archived when the document's
// committed-save sequence number is a multiple of it.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool, every int) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	if every <= 0 {
		every = 10
	}
	return &Store{client: client, bucket: bucket, every: every}, nil
}

// ShouldArchive reports whether the given committed-save sequence number
// falls on a sampling boundary.
func (s *Store) ShouldArchive(seq int64) bool {
	return seq > 0 && seq%int64(s.every) == 0
}

// Put uploads one snapshot under documentID/seq.json.
func (s *Store) Put(ctx context.Context, documentID string, seq int64, content []byte) error {
	name := objectName(documentID, seq)
	_, err := s.client.PutObject(ctx, s.bucket, name,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("archive snapshot %s: %w", name, err)
	}
	return nil
}

// Get retrieves an archived snapshot.
func (s *Store) Get(ctx context.Context, documentID string, seq int64) ([]byte, error) {
	name := objectName(documentID, seq)
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("open archived snapshot %s: %w", name, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read archived snapshot %s: %w", name, err)
	}
	return data, nil
}

func objectName(documentID string, seq int64) string {
	return fmt.Sprintf("%s/%08d.json", documentID, seq)
}
