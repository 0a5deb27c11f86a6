// Package storage exports completed conversation transcripts to
// S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vadim/igflow/internal/domain/conversation/entity"
)

// S3Config holds S3/MinIO configuration
type S3Config struct {
	Endpoint        string // e.g., "http://localhost:9000" for MinIO
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
}

// TranscriptArchive uploads conversation transcripts as JSON objects
type TranscriptArchive struct {
	client *s3.Client
	bucket string
}

// NewTranscriptArchive creates a new S3 transcript archive
func NewTranscriptArchive(cfg S3Config) *TranscriptArchive {
	client := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		UsePathStyle: true, // Required for MinIO
	})

	return &TranscriptArchive{
		client: client,
		bucket: cfg.Bucket,
	}
}

// transcript is the exported object shape
type transcript struct {
	ConversationID string               `json:"conversation_id"`
	AccountID      string               `json:"account_id"`
	ExternalUserID string               `json:"external_user_id"`
	State          entity.State         `json:"state"`
	Collected      entity.CollectedData `json:"collected_data"`
	Messages       []entity.Message     `json:"messages"`
	ArchivedAt     time.Time            `json:"archived_at"`
}

// Archive uploads a completed conversation's transcript. The object key
// is stable per conversation so repeated completions overwrite rather
// than accumulate.
func (a *TranscriptArchive) Archive(ctx context.Context, conv *entity.Conversation, history []entity.Message) error {
	body, err := json.Marshal(transcript{
		ConversationID: conv.ID,
		AccountID:      conv.AccountID,
		ExternalUserID: conv.ExternalUserID,
		State:          conv.State,
		Collected:      conv.Collected,
		Messages:       history,
		ArchivedAt:     time.Now(),
	})
	if err != nil {
		return fmt.Errorf("encoding transcript: %w", err)
	}

	key := fmt.Sprintf("archive/%s/%s.json", conv.AccountID, conv.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("uploading transcript: %w", err)
	}

	return nil
}
