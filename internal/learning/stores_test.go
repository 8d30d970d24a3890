package learning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSignal() Signal {
	return Signal{
		ID:             "sig-1",
		ConversationID: "conv-1",
		ApprovalID:     "appr-1",
		DraftReply:     "Thanks for your order",
		HumanReply:     "Thanks for your order!",
		EditDistance:   1,
		EditRatio:      1.0 / 22,
		EditType:       EditMinor,
		LearningType:   LearningTemplateRefinement,
		Changes:        []Change{{Type: ChangeModification, Original: "order", Revised: "order!", Position: 3}},
		Grading:        Grading{Tone: 5, Accuracy: 5, Policy: 4},
		RAGSources:     []string{"kb/orders.md"},
		Confidence:     0.9,
		Approved:       true,
		CreatedAt:      time.Date(2026, 7, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestPostgresStoreSave(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	sig := sampleSignal()

	mock.ExpectExec("INSERT INTO learning_signals").
		WithArgs(
			"sig-1", "conv-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sig.DraftReply, sig.HumanReply,
			1, sig.EditRatio, "minor", "template_refinement", sqlmock.AnyArg(),
			5, 5, 4, sqlmock.AnyArg(),
			sqlmock.AnyArg(), 0.9, true, sqlmock.AnyArg(), sig.CreatedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Save(context.Background(), sig))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSaveError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO learning_signals").WillReturnError(errors.New("duplicate key"))
	err = NewPostgresStore(db).Save(context.Background(), sampleSignal())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "learning: insert signal")
}

func TestPostgresStoreListApproved(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sig := sampleSignal()
	changes, _ := json.Marshal(sig.Changes)
	sources, _ := pq.Array(sig.RAGSources).Value()
	rows := sqlmock.NewRows([]string{
		"id", "conversation_id", "approval_id", "customer_message", "draft_reply", "human_reply",
		"edit_distance", "edit_ratio", "edit_type", "learning_type", "changes",
		"grade_tone", "grade_accuracy", "grade_policy", "grade_notes",
		"rag_sources", "confidence", "approved", "graded_by", "created_at",
	}).AddRow(
		sig.ID, sig.ConversationID, sig.ApprovalID, "", sig.DraftReply, sig.HumanReply,
		sig.EditDistance, sig.EditRatio, string(sig.EditType), string(sig.LearningType), changes,
		5, 5, 4, "",
		sources, 0.9, true, "", sig.CreatedAt,
	)
	since := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, conversation_id").WithArgs(since, 1000).WillReturnRows(rows)

	got, err := NewPostgresStore(db).ListApproved(context.Background(), since, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"kb/orders.md"}, got[0].RAGSources)
	assert.Equal(t, sig.Changes, got[0].Changes)
	assert.Equal(t, EditMinor, got[0].EditType)
	require.NoError(t, mock.ExpectationsWereMet())
}

type mockS3Client struct {
	objects map[string][]byte
	putErr  error
	getErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: map[string][]byte{}}
}

func (m *mockS3Client) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	body, _ := io.ReadAll(in.Body)
	m.objects[*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestArchiveStoreWritesObjectAndManifest(t *testing.T) {
	mock := newMockS3()
	store := NewArchiveStore(mock, "training-bucket", nil)
	ctx := context.Background()

	first := sampleSignal()
	second := sampleSignal()
	second.ID = "sig-2"
	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, second))

	obj, ok := mock.objects["learning-signals/v1/by-date/2026/07/04/sig-1.json"]
	require.True(t, ok)
	var stored Signal
	require.NoError(t, json.Unmarshal(obj, &stored))
	assert.Equal(t, "conv-1", stored.ConversationID)

	manifest := string(mock.objects["learning-signals/v1/manifests/2026-07.jsonl"])
	lines := strings.Split(strings.TrimSpace(manifest), "\n")
	require.Len(t, lines, 2)
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "sig-2", entry.SignalID)
	assert.InDelta(t, 14.0/3, entry.AverageGrade, 1e-9)
}

func TestArchiveStoreManifestFailureIsNotFatal(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("access denied")
	store := NewArchiveStore(mock, "training-bucket", nil)

	require.NoError(t, store.Save(context.Background(), sampleSignal()))
	_, hasManifest := mock.objects["learning-signals/v1/manifests/2026-07.jsonl"]
	assert.False(t, hasManifest)
}

func TestArchiveStoreDisabled(t *testing.T) {
	store := NewArchiveStore(nil, "", nil)
	assert.False(t, store.Enabled())
	assert.NoError(t, store.Save(context.Background(), sampleSignal()))
}

func TestMultiStoreMirrors(t *testing.T) {
	primary := NewMemoryStore()
	mirror := newMockS3()
	mirror.putErr = errors.New("s3 down")
	multi := NewMultiStore(primary, nil, NewArchiveStore(mirror, "bucket", nil))

	require.NoError(t, multi.Save(context.Background(), sampleSignal()))
	assert.Len(t, primary.Signals(), 1)

	assert.ErrorIs(t, multi.Save(context.Background(), sampleSignal()), ErrDuplicateSignal)
}
