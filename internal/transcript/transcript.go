// Package transcript keeps append-only JSONL logs of lifecycle messages.
package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ghostwriter/internal/protocol"
)

const (
	transcriptFileExt = ".jsonl"
	maxJSONLLineSize  = 1024 * 1024
)

var (
	ErrDirRequired = errors.New("transcript directory is required")
	ErrIDRequired  = errors.New("transcript id is required")
	ErrInvalidID   = errors.New("invalid transcript id")
	ErrNotFound    = errors.New("transcript not found")
)

// Entry is one lifecycle message as observed on the bus.
type Entry struct {
	Seq     int64            `json:"seq"`
	TS      int64            `json:"ts"`
	Message protocol.Message `json:"message"`
}

// Info describes one transcript file on disk.
type Info struct {
	ID        string
	Path      string
	UpdatedAt time.Time
	SizeBytes int64
}

// Store persists transcripts as append-only JSONL files.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore constructs a transcript store rooted at dir.
func NewStore(dir string) (*Store, error) {
	root := strings.TrimSpace(dir)
	if root == "" {
		return nil, ErrDirRequired
	}
	return &Store{dir: root}, nil
}

// Dir returns the store root.
func (s *Store) Dir() string {
	return s.dir
}

// NewID returns a transcript id that sorts by creation time.
func NewID(now time.Time) string {
	return now.UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

// Append appends one entry to a transcript file.
func (s *Store) Append(ctx context.Context, id string, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.path(id)
	if err != nil {
		return err
	}
	if entry.TS <= 0 {
		entry.TS = time.Now().UnixMilli()
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create transcript dir %s: %w", s.dir, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append transcript entry: %w", err)
	}
	return nil
}

// Load reads all entries from one transcript.
func (s *Store) Load(ctx context.Context, id string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.path(id)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(id))
		}
		return nil, fmt.Errorf("open transcript file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxJSONLLineSize)

	entries := make([]Entry, 0, 64)
	lineNum := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("decode transcript line %d: %w", lineNum, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("decode transcript line too large (> %d bytes): %w", maxJSONLLineSize, err)
		}
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		return nil, fmt.Errorf("scan transcript file: %w", err)
	}

	return entries, nil
}

// List returns known transcripts sorted by newest first.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read transcript dir %s: %w", s.dir, err)
	}

	out := make([]Info, 0, len(items))
	for _, item := range items {
		if item.IsDir() || filepath.Ext(item.Name()) != transcriptFileExt {
			continue
		}

		info, err := item.Info()
		if err != nil {
			return nil, fmt.Errorf("read transcript file info %s: %w", item.Name(), err)
		}

		out = append(out, Info{
			ID:        strings.TrimSuffix(item.Name(), transcriptFileExt),
			Path:      filepath.Join(s.dir, item.Name()),
			UpdatedAt: info.ModTime(),
			SizeBytes: info.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *Store) path(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrIDRequired
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: %s", ErrInvalidID, id)
	}
	return filepath.Join(s.dir, id+transcriptFileExt), nil
}
