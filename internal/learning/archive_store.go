package learning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/wolfman30/support-hitl/pkg/logging"
)

// S3API is the subset of the S3 client used by ArchiveStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ManifestEntry is one line of the monthly JSONL manifest.
type ManifestEntry struct {
	SignalID       string       `json:"signal_id"`
	ConversationID string       `json:"conversation_id"`
	S3Key          string       `json:"s3_key"`
	EditType       EditType     `json:"edit_type"`
	LearningType   LearningType `json:"learning_type"`
	Approved       bool         `json:"approved"`
	AverageGrade   float64      `json:"average_grade"`
	ArchivedAt     string       `json:"archived_at"`
}

// ArchiveStore writes each signal as a JSON object to S3 for offline training.
type ArchiveStore struct {
	bucket string
	client S3API
	logger *logging.Logger
}

var _ Store = (*ArchiveStore)(nil)

// NewArchiveStore returns a store that is a no-op when bucket is empty.
func NewArchiveStore(client S3API, bucket string, logger *logging.Logger) *ArchiveStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &ArchiveStore{bucket: bucket, client: client, logger: logger}
}

func (s *ArchiveStore) Enabled() bool {
	return s != nil && s.bucket != "" && s.client != nil
}

func (s *ArchiveStore) Save(ctx context.Context, sig Signal) error {
	if !s.Enabled() {
		return nil
	}
	data, err := json.Marshal(Scrubbed(sig))
	if err != nil {
		return fmt.Errorf("learning: marshal signal: %w", err)
	}

	at := sig.CreatedAt.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}
	key := fmt.Sprintf("learning-signals/v1/by-date/%d/%02d/%02d/%s.json", at.Year(), at.Month(), at.Day(), sig.ID)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("learning: s3 put %s: %w", key, err)
	}

	entry := ManifestEntry{
		SignalID:       sig.ID,
		ConversationID: sig.ConversationID,
		S3Key:          key,
		EditType:       sig.EditType,
		LearningType:   sig.LearningType,
		Approved:       sig.Approved,
		AverageGrade:   sig.Grading.Average(),
		ArchivedAt:     at.Format(time.RFC3339),
	}
	if err := s.appendManifest(ctx, at, entry); err != nil {
		s.logger.Warn("failed to append learning manifest", "signal_id", sig.ID, "error", err)
	}
	return nil
}

// appendManifest rewrites the monthly manifest with one more line. S3 has no append.
func (s *ArchiveStore) appendManifest(ctx context.Context, at time.Time, entry ManifestEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("learning: marshal manifest entry: %w", err)
	}
	key := fmt.Sprintf("learning-signals/v1/manifests/%d-%02d.jsonl", at.Year(), at.Month())

	var existing []byte
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("learning: read manifest: %w", err)
		}
	case !isNoSuchKey(err):
		return fmt.Errorf("learning: get manifest: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("learning: put manifest: %w", err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound")
}

// MultiStore saves to a primary store and mirrors to secondaries. Only the
// primary's error is returned; mirror failures are logged.
type MultiStore struct {
	primary Store
	mirrors []Store
	logger  *logging.Logger
}

var _ Store = (*MultiStore)(nil)

func NewMultiStore(primary Store, logger *logging.Logger, mirrors ...Store) *MultiStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &MultiStore{primary: primary, mirrors: mirrors, logger: logger}
}

func (m *MultiStore) Save(ctx context.Context, sig Signal) error {
	if err := m.primary.Save(ctx, sig); err != nil {
		return err
	}
	for _, mirror := range m.mirrors {
		if mirror == nil {
			continue
		}
		if err := mirror.Save(ctx, sig); err != nil {
			m.logger.Warn("learning mirror save failed", "signal_id", sig.ID, "error", err)
		}
	}
	return nil
}
