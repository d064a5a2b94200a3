package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mcdev12/pitchside/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Archiver stores the final state of a completed match.
type Archiver interface {
	Archive(ctx context.Context, st *models.MatchState) error
}

// NoopArchiver keeps nothing.
type NoopArchiver struct{}

func (NoopArchiver) Archive(context.Context, *models.MatchState) error { return nil }

// ObjectPutter is the part of the S3 client the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes matches/<matchId>/final.json to a bucket.
type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
}

func NewS3Archiver(client ObjectPutter, bucket, prefix string) *S3Archiver {
	if prefix == "" {
		prefix = "matches"
	}
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// NewS3ArchiverFromEnv builds the client from the default AWS credential chain.
func NewS3ArchiverFromEnv(ctx context.Context, region, bucket string) (*S3Archiver, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewS3Archiver(s3.NewFromConfig(cfg), bucket, ""), nil
}

func (a *S3Archiver) Key(matchID string) string {
	return fmt.Sprintf("%s/%s/final.json", a.prefix, matchID)
}

func (a *S3Archiver) Archive(ctx context.Context, st *models.MatchState) error {
	body, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal match state: %w", err)
	}

	key := a.Key(st.MatchID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"home-score": fmt.Sprint(st.HomeScore),
			"away-score": fmt.Sprint(st.AwayScore),
		},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	log.Info().
		Str("match_id", st.MatchID).
		Str("bucket", a.bucket).
		Str("key", key).
		Int("bytes", len(body)).
		Msg("match archived to S3")
	return nil
}
