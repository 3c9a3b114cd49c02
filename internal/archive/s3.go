package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// jsonlContentType is the content type for journal snapshot objects.
const jsonlContentType = "application/x-ndjson"

// S3Destination writes journal snapshots to an S3-compatible bucket. Each
// export becomes its own time-stamped object under the configured prefix, so
// successive snapshots never overwrite each other and the bucket doubles as
// export history.
type S3Destination struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Destination creates an S3 destination. If endpoint is non-empty,
// path-style addressing is enabled (for MinIO and similar).
func NewS3Destination(ctx context.Context, bucket, prefix, region, endpoint string) (*S3Destination, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Destination{
		client: s3.NewFromConfig(cfg, s3opts...),
		bucket: bucket,
		prefix: strings.TrimSuffix(prefix, "/"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// objectKey names one snapshot: <prefix>/<yyyy/mm/dd>/events-<hhmmss>.jsonl.
// The date segment keeps listings browsable by day.
func (d *S3Destination) objectKey(t time.Time) string {
	return fmt.Sprintf("%s/%s/events-%s.jsonl",
		d.prefix, t.Format("2006/01/02"), t.Format("150405"))
}

// Write uploads one journal snapshot as a new time-stamped object.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	key := d.objectKey(d.now())
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(jsonlContentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s: %w", key, err)
	}
	return nil
}
