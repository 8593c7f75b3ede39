package eventlog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"listingflow/internal/alerts"
	"listingflow/internal/security"
)

// MaxEntries caps the log; the oldest entries are dropped first.
const MaxEntries = 200

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Entry struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// RawBodyKey holds the received webhook body in error details so a failed
// delivery can be replayed. With a sealer configured it is stored encrypted
// under RawBodyEncKey instead.
const (
	RawBodyKey    = "raw_body"
	RawBodyEncKey = "raw_body_enc"
	// VerifiedKey marks details whose raw body passed HMAC verification.
	VerifiedKey = "hmac_verified"
)

// Journal is the append-only diagnostic log of sync events.
type Journal struct {
	store    Store
	sealer   *security.Sealer
	notifier alerts.Notifier
	log      *zap.Logger
	now      func() time.Time

	// serializes read-modify-write inside this process only
	mu sync.Mutex
}

type Option func(*Journal)

func WithSealer(s *security.Sealer) Option {
	return func(j *Journal) { j.sealer = s }
}

func WithNotifier(n alerts.Notifier) Option {
	return func(j *Journal) { j.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

func NewJournal(store Store, log *zap.Logger, opts ...Option) *Journal {
	j := &Journal{
		store:    store,
		notifier: alerts.Nop{},
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

func (j *Journal) Info(ctx context.Context, msg string, details map[string]any) {
	j.record(ctx, LevelInfo, msg, details)
}

func (j *Journal) Success(ctx context.Context, msg string, details map[string]any) {
	j.record(ctx, LevelSuccess, msg, details)
}

// Warn records the entry without alerting.
func (j *Journal) Warn(ctx context.Context, msg string, details map[string]any) {
	j.record(ctx, LevelWarning, msg, details)
}

// Error records the entry and forwards it to the alert notifier.
func (j *Journal) Error(ctx context.Context, msg string, details map[string]any) {
	j.record(ctx, LevelError, msg, details)
	j.notifier.Notify(ctx, msg, withoutRawBody(details))
}

// record never fails the caller: the log is diagnostic only.
func (j *Journal) record(ctx context.Context, level Level, msg string, details map[string]any) {
	fields := []zap.Field{zap.String("level", string(level)), zap.Any("details", withoutRawBody(details))}
	switch level {
	case LevelError:
		j.log.Error(msg, fields...)
	case LevelWarning:
		j.log.Warn(msg, fields...)
	default:
		j.log.Info(msg, fields...)
	}

	if err := j.Append(ctx, level, msg, details); err != nil {
		j.log.Warn("event log append failed", zap.Error(err))
	}
}

func (j *Journal) Append(ctx context.Context, level Level, msg string, details map[string]any) error {
	e := Entry{
		ID:        uuid.NewString(),
		Timestamp: j.now().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Details:   j.sealDetails(details),
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.store.Load(ctx)
	if errors.Is(err, ErrCorrupt) {
		j.log.Warn("event log is unreadable, starting a new one", zap.Error(err))
		if q, ok := j.store.(quarantiner); ok {
			if qerr := q.Quarantine(ctx); qerr != nil {
				j.log.Warn("moving corrupt event log aside failed", zap.Error(qerr))
			}
		}
		entries, err = nil, nil
	}
	if err != nil {
		return err
	}
	entries = append([]Entry{e}, entries...)
	if len(entries) > MaxEntries {
		entries = entries[:MaxEntries]
	}
	return j.store.Save(ctx, entries)
}

// List returns the stored entries newest first.
func (j *Journal) List(ctx context.Context) ([]Entry, error) {
	entries, err := j.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	sort.SliceStable(entries, func(a, b int) bool {
		return parseTime(entries[a].Timestamp).After(parseTime(entries[b].Timestamp))
	})
	return entries, nil
}

func (j *Journal) Find(ctx context.Context, id string) (*Entry, error) {
	entries, err := j.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i], nil
		}
	}
	return nil, nil
}

func (j *Journal) sealDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = v
	}
	raw, ok := out[RawBodyKey].(string)
	if !ok || j.sealer == nil {
		return out
	}
	enc, err := j.sealer.Seal([]byte(raw))
	if err != nil {
		// never keep the plain body when encryption was asked for
		delete(out, RawBodyKey)
		j.log.Warn("sealing raw body failed", zap.Error(err))
		return out
	}
	delete(out, RawBodyKey)
	out[RawBodyEncKey] = enc
	return out
}

func withoutRawBody(details map[string]any) map[string]any {
	if _, ok := details[RawBodyKey]; !ok {
		return details
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if k != RawBodyKey {
			out[k] = v
		}
	}
	return out
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var errNoRawBody = errors.New("entry carries no raw body")

// Replayable reports whether the entry holds a body that passed HMAC
// verification when it was received.
func Replayable(e *Entry) bool {
	if e.Level != LevelError {
		return false
	}
	if v, _ := e.Details[VerifiedKey].(bool); !v {
		return false
	}
	_, plain := e.Details[RawBodyKey].(string)
	_, sealed := e.Details[RawBodyEncKey].(string)
	return plain || sealed
}

// RawBody recovers the webhook body stored on an entry, decrypting it when
// it was sealed.
func RawBody(e *Entry, sealer *security.Sealer) ([]byte, error) {
	if s, ok := e.Details[RawBodyKey].(string); ok {
		return []byte(s), nil
	}
	enc, ok := e.Details[RawBodyEncKey].(string)
	if !ok {
		return nil, errNoRawBody
	}
	if sealer == nil {
		return nil, errors.New("raw body is encrypted and no key is configured")
	}
	return sealer.Open(enc)
}
