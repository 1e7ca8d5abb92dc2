// Package storage persists the per-subscriber sets of listing URLs already reported.
//
// All subscribers share one JSON document mapping email to seen URLs. The
// document lives on the local filesystem or in a Cloud Storage object and is
// rewritten whole whenever a subscriber gains new links.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
)

// DefaultObject is the document name used when none is configured.
const DefaultObject = "db.json"

// Store is the dedup store. It is safe for concurrent use.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string // Full path of the local document; empty when using Cloud Storage
	bucket    string
	object    string

	mu    sync.RWMutex // guards seen and index
	seen  map[string][]string
	index map[string]map[string]struct{}

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	writeMu sync.Mutex // serializes whole-document writes
}

// New creates a store. When localPath is non-empty the document is kept on
// disk at that path and client may be nil; otherwise it is kept in
// bucket/object on Cloud Storage.
func New(client *storage.Client, bucket, object, localPath string, logger *slog.Logger) *Store {
	if object == "" {
		object = DefaultObject
	}
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
		object:    object,
		seen:      make(map[string][]string),
		index:     make(map[string]map[string]struct{}),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Load reads the persisted document into memory, replacing any state held.
// A missing or unparsable document loads as an empty store.
func (s *Store) Load(ctx context.Context) error {
	data, err := s.read(ctx)
	if err != nil {
		if IsNotFound(err) {
			s.logger.Warn("Seen store not found, starting empty", "location", s.location())
			s.replace(nil)
			return nil
		}
		return fmt.Errorf("load seen store: %w", err)
	}

	var doc map[string][]string
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("Seen store is corrupt, starting empty", "location", s.location(), "error", err)
		s.replace(nil)
		return nil
	}

	s.replace(doc)
	s.logger.Info("Seen store loaded", "location", s.location(), "subscribers", len(doc))
	return nil
}

func (s *Store) replace(doc map[string][]string) {
	seen := make(map[string][]string, len(doc))
	index := make(map[string]map[string]struct{}, len(doc))
	for email, urls := range doc {
		set := make(map[string]struct{}, len(urls))
		list := make([]string, 0, len(urls))
		for _, u := range urls {
			if _, dup := set[u]; dup {
				continue
			}
			set[u] = struct{}{}
			list = append(list, u)
		}
		seen[email] = list
		index[email] = set
	}

	s.mu.Lock()
	s.seen = seen
	s.index = index
	s.mu.Unlock()
}

// HasSeen reports whether url was already reported to email.
func (s *Store) HasSeen(email, url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[email][url]
	return ok
}

// Seen returns a copy of the URLs recorded for email.
func (s *Store) Seen(email string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.seen[email]...)
}

// RecordAll adds urls to email's seen set and persists the whole document.
// Nothing is committed in memory unless the write succeeds.
func (s *Store) RecordAll(ctx context.Context, email string, urls []string) error {
	lock := s.subscriberLock(email)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	known := s.index[email]
	var fresh []string
	pending := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, ok := known[u]; ok {
			continue
		}
		if _, ok := pending[u]; ok {
			continue
		}
		pending[u] = struct{}{}
		fresh = append(fresh, u)
	}
	s.mu.RUnlock()

	if len(fresh) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc := s.snapshot()
	doc[email] = append(doc[email], fresh...)

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal seen store: %w", err)
	}
	if err := s.write(ctx, data); err != nil {
		return fmt.Errorf("persist seen links for %s: %w", email, err)
	}

	s.mu.Lock()
	set := s.index[email]
	if set == nil {
		set = make(map[string]struct{}, len(fresh))
		s.index[email] = set
	}
	for _, u := range fresh {
		set[u] = struct{}{}
	}
	s.seen[email] = append(s.seen[email], fresh...)
	s.mu.Unlock()

	s.logger.Info("Seen links recorded", "email", email, "added", len(fresh), "total", len(doc[email]))
	return nil
}

func (s *Store) snapshot() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc := make(map[string][]string, len(s.seen)+1)
	for email, urls := range s.seen {
		doc[email] = append([]string(nil), urls...)
	}
	return doc
}

func (s *Store) subscriberLock(email string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[email]
	if !ok {
		l = &sync.Mutex{}
		s.locks[email] = l
	}
	return l
}

func (s *Store) location() string {
	if s.localPath != "" {
		return s.localPath
	}
	return "gs://" + s.bucket + "/" + s.object
}

var errNotFound = errors.New("storage: object doesn't exist")

// IsNotFound checks if an error indicates the document does not exist yet.
func IsNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}

func (s *Store) read(ctx context.Context) ([]byte, error) {
	// Local filesystem storage
	if s.localPath != "" {
		data, err := os.ReadFile(s.localPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errNotFound
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	// Cloud Storage with retry logic for reliability
	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(errNotFound)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "object", s.object, "error", retryErr)
		}),
	)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) write(ctx context.Context, data []byte) error {
	// Local filesystem storage: write a sibling temp file, then rename over the document.
	if s.localPath != "" {
		dir := filepath.Dir(s.localPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create local storage directory: %w", err)
		}
		tmp, err := os.CreateTemp(dir, ".seen-*.json")
		if err != nil {
			return fmt.Errorf("create temp file: %w", err)
		}
		tmpName := tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return fmt.Errorf("write to local storage: %w", err)
		}
		if err := tmp.Close(); err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("close temp file: %w", err)
		}
		if err := os.Rename(tmpName, s.localPath); err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("replace local document: %w", err)
		}
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "object", s.object, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}
