package archive

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

	"github.com/wolfman30/machinery-leadbot/internal/leads"
	"github.com/wolfman30/machinery-leadbot/internal/session"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store archives converted conversation transcripts to S3.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger, now: time.Now}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// ArchiveConversation snapshots the session transcript next to the lead it produced.
func (s *Store) ArchiveConversation(ctx context.Context, sess *session.Session, lead *leads.Lead) error {
	if !s.Enabled() || sess == nil || lead == nil {
		return nil
	}
	return s.PutRecord(ctx, BuildRecord(sess, lead, s.now().UTC()))
}

// BuildRecord converts a session and its lead into a scrubbed ConversationRecord.
func BuildRecord(sess *session.Session, lead *leads.Lead, archivedAt time.Time) *ConversationRecord {
	msgs := make([]Message, 0, len(sess.History))
	for _, turn := range sess.History {
		role := "user"
		if turn.Direction == session.DirectionOutbound {
			role = "assistant"
		}
		msgs = append(msgs, Message{Role: role, Content: turn.Body, Timestamp: turn.At})
	}
	ScrubMessages(msgs)

	record := &ConversationRecord{
		Version:       recordVersion,
		SessionID:     sess.ID,
		LeadID:        lead.ID,
		RecipientHash: HashRecipient(sess.RecipientID),
		Decision:      string(lead.Decision),
		Category:      lead.Category,
		ProductName:   lead.ProductName,
		ContextRef:    sess.ContextRef,
		ArchivedAt:    archivedAt,
		MessageCount:  len(msgs),
		Messages:      msgs,
	}
	if lead.ProductID != nil {
		record.ProductID = *lead.ProductID
	}
	if !sess.CreatedAt.IsZero() && archivedAt.After(sess.CreatedAt) {
		record.DurationSeconds = int(archivedAt.Sub(sess.CreatedAt).Seconds())
	}
	return record
}

// PutRecord writes a ConversationRecord as JSON to S3 and appends it to the manifest.
func (s *Store) PutRecord(ctx context.Context, record *ConversationRecord) error {
	if !s.Enabled() {
		return nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	at := record.ArchivedAt
	if at.IsZero() {
		at = s.now().UTC()
	}
	s3Key := fmt.Sprintf("transcripts/v1/by-date/%d/%02d/%02d/%s.json",
		at.Year(), at.Month(), at.Day(), record.SessionID)

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s3Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", s3Key, err)
	}

	s.logger.Info("archived transcript",
		"session_id", record.SessionID,
		"lead_id", record.LeadID,
		"s3_key", s3Key,
		"message_count", record.MessageCount,
	)

	entry := ManifestEntry{
		SessionID:    record.SessionID,
		LeadID:       record.LeadID,
		S3Key:        s3Key,
		Decision:     record.Decision,
		Category:     record.Category,
		ArchivedAt:   at.Format(time.RFC3339),
		MessageCount: record.MessageCount,
	}
	if err := s.AppendManifest(ctx, at, entry); err != nil {
		// the transcript itself is stored
		s.logger.Warn("failed to append manifest", "error", err, "session_id", record.SessionID)
	}
	return nil
}

// AppendManifest appends a JSONL line to the monthly manifest file.
// S3 has no append, so this is a read-modify-write.
func (s *Store) AppendManifest(ctx context.Context, at time.Time, entry ManifestEntry) error {
	if !s.Enabled() {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}
	manifestKey := fmt.Sprintf("transcripts/v1/manifests/%d-%02d.jsonl", at.Year(), at.Month())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(getResp.Body)
		getResp.Body.Close()
		if err != nil {
			return fmt.Errorf("archive: read manifest: %w", err)
		}
	case isNotFound(err):
		s.logger.Debug("manifest not found, creating new", "key", manifestKey)
	default:
		return fmt.Errorf("archive: get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	return errors.As(err, &nf)
}
