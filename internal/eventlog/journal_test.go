package eventlog

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"listingflow/internal/security"
)

func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type memStore struct {
	entries []Entry
}

func (m *memStore) Load(context.Context) ([]Entry, error) {
	return append([]Entry(nil), m.entries...), nil
}

func (m *memStore) Save(_ context.Context, e []Entry) error {
	m.entries = append([]Entry(nil), e...)
	return nil
}

type recordingNotifier struct {
	messages []string
	details  []map[string]any
}

func (r *recordingNotifier) Notify(_ context.Context, msg string, d map[string]any) {
	r.messages = append(r.messages, msg)
	r.details = append(r.details, d)
}

func TestJournal_CapsAtMaxEntries(t *testing.T) {
	store := &memStore{}
	j := NewJournal(store, zap.NewNop(), WithClock(steppingClock()))
	ctx := context.Background()

	for i := 1; i <= MaxEntries+1; i++ {
		j.Info(ctx, fmt.Sprintf("event %d", i), nil)
	}

	entries, err := j.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, MaxEntries)
	assert.Equal(t, fmt.Sprintf("event %d", MaxEntries+1), entries[0].Message)
	assert.Equal(t, "event 2", entries[MaxEntries-1].Message)
	for _, e := range entries {
		assert.NotEqual(t, "event 1", e.Message)
	}
}

func TestJournal_ListSortsNewestFirst(t *testing.T) {
	store := &memStore{entries: []Entry{
		{ID: "a", Timestamp: "2024-01-01T00:00:01Z", Message: "old"},
		{ID: "b", Timestamp: "2024-01-03T00:00:00Z", Message: "newest"},
		{ID: "c", Timestamp: "2024-01-02T00:00:00Z", Message: "middle"},
	}}
	j := NewJournal(store, zap.NewNop())

	entries, err := j.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"newest", "middle", "old"}, []string{entries[0].Message, entries[1].Message, entries[2].Message})

	empty, err := NewJournal(&memStore{}, zap.NewNop()).List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestJournal_ErrorSealsRawBodyAndAlerts(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32))
	sealer, err := security.NewSealerFromBase64(key)
	require.NoError(t, err)

	store := &memStore{}
	notifier := &recordingNotifier{}
	j := NewJournal(store, zap.NewNop(), WithSealer(sealer), WithNotifier(notifier))

	details := map[string]any{"order_id": "123", RawBodyKey: `{"id":123}`}
	j.Error(context.Background(), "Order sync failed", details)

	require.Len(t, store.entries, 1)
	e := store.entries[0]
	assert.Equal(t, LevelError, e.Level)
	assert.NotContains(t, e.Details, RawBodyKey)
	require.Contains(t, e.Details, RawBodyEncKey)
	// caller's map is untouched
	assert.Contains(t, details, RawBodyKey)

	body, err := RawBody(&e, sealer)
	require.NoError(t, err)
	assert.Equal(t, `{"id":123}`, string(body))

	_, err = RawBody(&e, nil)
	assert.Error(t, err)

	require.Len(t, notifier.messages, 1)
	assert.Equal(t, "Order sync failed", notifier.messages[0])
	assert.NotContains(t, notifier.details[0], RawBodyKey)

	found, err := j.Find(context.Background(), e.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, e.Message, found.Message)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "webhook-logs.json")
	fs := &FileStore{Path: path}
	ctx := context.Background()

	entries, err := fs.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	j := NewJournal(fs, zap.NewNop(), WithClock(steppingClock()))
	j.Info(ctx, "first", nil)
	j.Success(ctx, "second", map[string]any{"sales_order": "SAL-ORD-00001"})

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "SAL-ORD-00001")

	entries, err = j.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Message)
	assert.Equal(t, LevelSuccess, entries[0].Level)

	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))
	_, err = fs.Load(ctx)
	assert.Error(t, err)
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}}
	store := &S3Store{Client: client, Bucket: "ops", Key: "logs/webhook-logs.json"}
	ctx := context.Background()

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	j := NewJournal(store, zap.NewNop(), WithClock(steppingClock()))
	j.Info(ctx, "Order webhook received", map[string]any{"topic": "orders/create"})

	require.Contains(t, client.objects, "ops/logs/webhook-logs.json")
	entries, err = j.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "orders/create", entries[0].Details["topic"])
}

func TestJournal_AppendRecoversFromCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhook-logs.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"x"`), 0o600))
	j := NewJournal(&FileStore{Path: path}, zap.NewNop(), WithClock(steppingClock()))
	ctx := context.Background()

	_, err := j.List(ctx)
	require.ErrorIs(t, err, ErrCorrupt)

	j.Error(ctx, "Order sync failed", map[string]any{"order_id": "1"})

	entries, err := j.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Order sync failed", entries[0].Message)

	moved, err := os.ReadFile(path + ".corrupt")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"x"`, string(moved))
}

func TestJournal_AppendRecoversFromCorruptObject(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{"ops/logs.json": []byte("{truncated")}}
	j := NewJournal(&S3Store{Client: client, Bucket: "ops", Key: "logs.json"}, zap.NewNop())
	ctx := context.Background()

	j.Info(ctx, "Order webhook received", nil)

	entries, err := j.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Order webhook received", entries[0].Message)
}

func TestJournal_WarnDoesNotAlert(t *testing.T) {
	store := &memStore{}
	notifier := &recordingNotifier{}
	j := NewJournal(store, zap.NewNop(), WithNotifier(notifier))

	j.Warn(context.Background(), "Order webhook rejected: invalid HMAC", map[string]any{"body_bytes": 12})

	require.Len(t, store.entries, 1)
	assert.Equal(t, LevelWarning, store.entries[0].Level)
	assert.Empty(t, notifier.messages)
}

func TestReplayable(t *testing.T) {
	cases := []struct {
		name  string
		entry Entry
		want  bool
	}{
		{"verified failure", Entry{Level: LevelError, Details: map[string]any{RawBodyKey: "{}", VerifiedKey: true}}, true},
		{"verified sealed failure", Entry{Level: LevelError, Details: map[string]any{RawBodyEncKey: "abc", VerifiedKey: true}}, true},
		{"unverified body", Entry{Level: LevelError, Details: map[string]any{RawBodyKey: "{}"}}, false},
		{"marked false", Entry{Level: LevelError, Details: map[string]any{RawBodyKey: "{}", VerifiedKey: false}}, false},
		{"no body", Entry{Level: LevelError, Details: map[string]any{VerifiedKey: true}}, false},
		{"not an error", Entry{Level: LevelWarning, Details: map[string]any{RawBodyKey: "{}", VerifiedKey: true}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Replayable(&tc.entry))
		})
	}
}
