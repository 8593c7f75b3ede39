package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Store persists the whole log as one JSON array.
type Store interface {
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
}

// ErrCorrupt wraps decode failures of a stored log.
var ErrCorrupt = errors.New("event log is corrupt")

// quarantiner is implemented by stores that can keep an unreadable log
// around for inspection before it is replaced.
type quarantiner interface {
	Quarantine(ctx context.Context) error
}

type FileStore struct {
	Path string
}

func (s *FileStore) Load(ctx context.Context) ([]Entry, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(b)
}

func (s *FileStore) Save(ctx context.Context, entries []Entry) error {
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	// write then rename so a crash never leaves half a file behind
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

// Quarantine renames the current file to <path>.corrupt.
func (s *FileStore) Quarantine(ctx context.Context) error {
	err := os.Rename(s.Path, s.Path+".corrupt")
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps the log in a single object, for Lambda where the local
// filesystem does not survive between invocations.
type S3Store struct {
	Client S3API
	Bucket string
	Key    string
}

func (s *S3Store) Load(ctx context.Context) ([]Entry, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3 GetObject %s/%s: %w", s.Bucket, s.Key, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	return decode(b)
}

func (s *S3Store) Save(ctx context.Context, entries []Entry) error {
	b, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(s.Key),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 PutObject %s/%s: %w", s.Bucket, s.Key, err)
	}
	return nil
}

func decode(b []byte) ([]Entry, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return entries, nil
}
