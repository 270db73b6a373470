package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/machinery-leadbot/internal/leads"
	"github.com/wolfman30/machinery-leadbot/internal/session"
)

// mockS3Client records PutObject/GetObject calls for testing.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte
	getErr   error
}

type putCall struct {
	bucket string
	key    string
	body   []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{bucket: *input.Bucket, key: *input.Key, body: body})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func convertedSession(now time.Time) (*session.Session, *leads.Lead) {
	sess := session.New("919876543210", session.Seed{DisplayName: "Asha", ContextRef: "inq-7"}, now.Add(-90*time.Second))
	sess.AppendTurn(session.DirectionOutbound, "Hi Asha, welcome!", now.Add(-80*time.Second))
	sess.AppendTurn(session.DirectionInbound, "reach me on +91 98765 43210", now.Add(-60*time.Second))
	sess.AppendTurn(session.DirectionInbound, "interest_yes", now.Add(-10*time.Second))

	productID := "machine_rmg"
	lead := &leads.Lead{
		ID:              "lead-1",
		RecipientID:     sess.RecipientID,
		Category:        "cat_mixing",
		ProductID:       &productID,
		ProductName:     "Rapid Mixer Granulator (RMG)",
		Decision:        leads.DecisionInterested,
		OriginSessionID: sess.ID,
	}
	return sess, lead
}

func TestStore_ArchiveConversation(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)
	now := time.Date(2026, 2, 12, 15, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	sess, lead := convertedSession(now)

	require.NoError(t, store.ArchiveConversation(context.Background(), sess, lead))

	// transcript + manifest
	require.Len(t, mock.putCalls, 2)
	assert.Equal(t, "test-bucket", mock.putCalls[0].bucket)
	assert.Equal(t, "transcripts/v1/by-date/2026/02/12/"+sess.ID+".json", mock.putCalls[0].key)

	var decoded ConversationRecord
	require.NoError(t, json.Unmarshal(mock.putCalls[0].body, &decoded))
	assert.Equal(t, "lead-1", decoded.LeadID)
	assert.Equal(t, HashRecipient("919876543210"), decoded.RecipientHash)
	assert.Equal(t, "machine_rmg", decoded.ProductID)
	assert.Equal(t, "INTERESTED", decoded.Decision)
	assert.Equal(t, 90, decoded.DurationSeconds)
	require.Len(t, decoded.Messages, 3)
	assert.Equal(t, "assistant", decoded.Messages[0].Role)
	assert.Equal(t, "reach me on [PHONE]", decoded.Messages[1].Content)
	assert.NotContains(t, string(mock.putCalls[0].body), "919876543210")

	assert.Equal(t, "transcripts/v1/manifests/2026-02.jsonl", mock.putCalls[1].key)
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(mock.putCalls[1].body), &entry))
	assert.Equal(t, sess.ID, entry.SessionID)
	assert.Equal(t, "lead-1", entry.LeadID)
}

func TestStore_Disabled(t *testing.T) {
	store := NewStore(nil, "", nil)
	assert.False(t, store.Enabled())

	sess, lead := convertedSession(time.Now())
	assert.NoError(t, store.ArchiveConversation(context.Background(), sess, lead))
}

func TestStore_ManifestAppend(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendManifest(context.Background(), at, ManifestEntry{SessionID: "s-1"}))
	require.NoError(t, store.AppendManifest(context.Background(), at, ManifestEntry{SessionID: "s-2"}))

	lastPut := mock.putCalls[len(mock.putCalls)-1]
	lines := bytes.Split(bytes.TrimSpace(lastPut.body), []byte("\n"))
	assert.Len(t, lines, 2)
}

func TestStore_ManifestReadFailureDoesNotFailArchive(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("access denied")
	store := NewStore(mock, "test-bucket", nil)
	sess, lead := convertedSession(time.Now())

	require.NoError(t, store.ArchiveConversation(context.Background(), sess, lead))
	// only the transcript was written
	assert.Len(t, mock.putCalls, 1)

	err := store.AppendManifest(context.Background(), time.Now(), ManifestEntry{})
	assert.ErrorContains(t, err, "access denied")
}
