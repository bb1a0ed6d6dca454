// Package archive keeps a compressed copy of every verified webhook body in
// S3 for audit and replay.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"coachkit/internal/types"
)

// S3API is the subset of the S3 client used by S3Archiver.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver stores raw event payloads.
type Archiver interface {
	Archive(ctx context.Context, eventID string, created time.Time, payload []byte) (string, error)
}

// S3Archiver writes zstd-compressed payloads under
// events/YYYY/MM/DD/<event_id>.json.zst, dated by the event's creation time.
type S3Archiver struct {
	api     S3API
	bucket  string
	encoder *zstd.Encoder
	clock   types.Clock
	logger  *slog.Logger
}

// NewS3Archiver creates an S3Archiver for bucket.
func NewS3Archiver(api S3API, bucket string, clock types.Clock, logger *slog.Logger) (*S3Archiver, error) {
	// EncodeAll on a shared encoder is safe for concurrent use.
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("archive: failed to create zstd encoder: %w", err)
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Archiver{
		api:     api,
		bucket:  bucket,
		encoder: enc,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Archive compresses payload and uploads it, returning the object key.
// Redelivered events overwrite the same key.
func (a *S3Archiver) Archive(ctx context.Context, eventID string, created time.Time, payload []byte) (string, error) {
	if created.IsZero() {
		created = a.clock.Now()
	}
	key := ObjectKey(eventID, created)

	compressed := a.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))

	_, err := a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(compressed),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("zstd"),
		Metadata: map[string]string{
			"event-id": eventID,
		},
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("failed to archive event %s", eventID), err)
	}

	a.logger.DebugContext(ctx, "event archived",
		"key", key,
		"raw_bytes", len(payload),
		"stored_bytes", len(compressed),
	)
	return key, nil
}

// ObjectKey builds the archive key. Ids that are empty or contain a path
// separator are replaced with a random uuid.
func ObjectKey(eventID string, created time.Time) string {
	if eventID == "" || strings.ContainsAny(eventID, "/\\") {
		eventID = "unknown-" + uuid.NewString()
	}
	return path.Join("events", created.UTC().Format("2006/01/02"), eventID+".json.zst")
}

// NopArchiver is used when no archive bucket is configured.
type NopArchiver struct{}

func (NopArchiver) Archive(context.Context, string, time.Time, []byte) (string, error) {
	return "", nil
}
