// Package journal keeps a record of every dev-service run in a docstore
// collection.
package journal

import (
	"cmp"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"gocloud.dev/docstore"
	"gocloud.dev/docstore/memdocstore"
	"gocloud.dev/gcerrors"
)

var ErrNotFound = errors.New("run not found")

const (
	collectionFile = "runs.json"
	lockFile       = "runs.lock"
	lockRetry      = 20 * time.Millisecond
)

// memdocstore saves its documents with gob as maps of interface values.
func init() {
	gob.Register(time.Time{})
	gob.Register([]any{})
	gob.Register(map[string]any{})
}

// Entry is the docstore document for one run.
type Entry struct {
	ID         string            `docstore:"id"`
	Service    string            `docstore:"service"`
	State      string            `docstore:"state"`
	Mode       string            `docstore:"mode,omitempty"`
	Network    string            `docstore:"network,omitempty"`
	Containers []string          `docstore:"containers,omitempty"`
	Config     map[string]string `docstore:"config,omitempty"`
	Failure    string            `docstore:"failure,omitempty"`
	CreateTime time.Time         `docstore:"create_time"`
	UpdateTime time.Time         `docstore:"update_time"`
}

// Journal stores run entries. A journal backed by a file reloads the file
// for every operation and writes it back before releasing the file lock,
// so several processes can share one directory.
type Journal struct {
	runs *docstore.Collection

	file string
	lock *flock.Flock
}

// Open opens the runs collection at url. For mem:// with dir set the
// collection lives in dir, otherwise only in memory.
func Open(ctx context.Context, url, dir string) (*Journal, error) {
	if strings.HasPrefix(url, "mem://") {
		if dir == "" {
			runs, err := memdocstore.OpenCollection("id", nil)
			if err != nil {
				return nil, fmt.Errorf("failed to open runs collection: %w", err)
			}
			return New(runs), nil
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		j := &Journal{
			file: filepath.Join(dir, collectionFile),
			lock: flock.New(filepath.Join(dir, lockFile)),
		}
		// fail early on an unreadable file
		if err := j.with(ctx, func(*docstore.Collection) error { return nil }); err != nil {
			return nil, err
		}
		return j, nil
	}

	runs, err := docstore.OpenCollection(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open runs collection: %w", err)
	}
	return New(runs), nil
}

func New(runs *docstore.Collection) *Journal {
	return &Journal{runs: runs}
}

func (j *Journal) Close() error {
	if j.runs == nil {
		return nil
	}
	return j.runs.Close()
}

// with runs fn against the collection. For a file journal fn sees the
// current file contents and its changes are saved before with returns.
func (j *Journal) with(ctx context.Context, fn func(*docstore.Collection) error) (err error) {
	if j.runs != nil {
		return fn(j.runs)
	}

	ok, err := j.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("failed to lock journal: %w", err)
	}
	if !ok {
		return fmt.Errorf("failed to lock journal %s", j.lock.Path())
	}
	defer j.lock.Unlock()

	runs, err := memdocstore.OpenCollection("id", &memdocstore.Options{Filename: j.file})
	if err != nil {
		return fmt.Errorf("failed to open runs collection: %w", err)
	}
	defer func() {
		if cerr := runs.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to save runs collection: %w", cerr)
		}
	}()
	return fn(runs)
}

// Record creates or replaces the entry for e.ID.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	now := time.Now().UTC()
	if e.CreateTime.IsZero() {
		e.CreateTime = now
	}
	e.UpdateTime = now
	return j.with(ctx, func(runs *docstore.Collection) error {
		if err := runs.Put(ctx, &e); err != nil {
			return fmt.Errorf("record run %s: %w", e.ID, err)
		}
		return nil
	})
}

func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	e := &Entry{ID: id}
	err := j.with(ctx, func(runs *docstore.Collection) error {
		return runs.Get(ctx, e)
	})
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

// List returns the runs of service, newest first. An empty service lists
// every run.
func (j *Journal) List(ctx context.Context, service string) ([]*Entry, error) {
	var entries []*Entry
	err := j.with(ctx, func(runs *docstore.Collection) error {
		q := runs.Query()
		if service != "" {
			q = q.Where("service", "=", service)
		}
		iter := q.Get(ctx)
		defer iter.Stop()
		for {
			e := &Entry{}
			if err := iter.Next(ctx, e); err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
			entries = append(entries, e)
		}
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b *Entry) int {
		return cmp.Compare(b.CreateTime.UnixNano(), a.CreateTime.UnixNano())
	})
	return entries, nil
}
