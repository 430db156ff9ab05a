// Package archive uploads the output of finished jobs to an S3-compatible
// bucket. The Archiver is an extension: register it with the scheduler's
// extension registry and every finished job is stored as jobs/<id>.log.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	samson "github.com/zendesk/samson-sub001"
	"github.com/zendesk/samson-sub001/job"
)

// DefaultBucket is used when the configuration names none.
const DefaultBucket = "samson-job-logs"

// ObjectStore is the subset of *minio.Client the Archiver uses.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archiver stores job logs in a bucket.
type Archiver struct {
	client ObjectStore
	bucket string
	logger *slog.Logger
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Archiver) { a.logger = l }
}

// New connects to the endpoint in cfg.
func New(cfg samson.ArchiveConfig, opts ...Option) (*Archiver, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("archive: endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return NewWithClient(client, cfg.Bucket, opts...), nil
}

// NewWithClient creates an Archiver on an existing client.
func NewWithClient(client ObjectStore, bucket string, opts ...Option) *Archiver {
	if strings.TrimSpace(bucket) == "" {
		bucket = DefaultBucket
	}
	a := &Archiver{client: client, bucket: bucket, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Bucket returns the target bucket.
func (a *Archiver) Bucket() string { return a.bucket }

// EnsureBucket creates the bucket if it does not exist.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("archive: bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("archive: create bucket %s: %w", a.bucket, err)
	}
	a.logger.Info("archive bucket created", slog.String("bucket", a.bucket))
	return nil
}

// ObjectName is the key a job's log is stored under.
func ObjectName(jobID string) string {
	return "jobs/" + jobID + ".log"
}

// Name implements ext.Extension.
func (a *Archiver) Name() string { return "archive" }

// OnJobFinished implements ext.JobFinished.
func (a *Archiver) OnJobFinished(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	body := j.Output
	info, err := a.client.PutObject(ctx, a.bucket, ObjectName(j.ID), strings.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{
			ContentType: "text/plain; charset=utf-8",
			UserMetadata: map[string]string{
				"project": j.ProjectID,
				"status":  string(j.Status),
				"user":    j.User,
				"elapsed": elapsed.Round(time.Millisecond).String(),
			},
		})
	if err != nil {
		return fmt.Errorf("archive job %s: %w", j.ID, err)
	}
	a.logger.Debug("job output archived",
		slog.String("job_id", j.ID),
		slog.String("object", info.Key),
		slog.Int64("size", info.Size),
	)
	return nil
}
