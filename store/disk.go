package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/nomis52/flowmaster/flow"
)

const (
	lockFileName = ".flowmaster.lock"
	// lockRetryDelay is how often a blocked call polls the directory lock.
	lockRetryDelay = 10 * time.Millisecond
)

// DiskStore persists each flow as a JSON file named <flow id>.json.
//
// Every call reads the files it needs from disk while holding an OS lock on
// the directory, so stores opened by separate processes on one directory see
// each other's writes and their compare-and-swap checks stay correct. Files
// are written to a temporary name and renamed into place so a crash never
// leaves a partial record.
type DiskStore struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	// mu serializes goroutines of this process; lock serializes processes.
	mu   sync.Mutex
	lock *flock.Flock
}

// NewDiskStore opens a disk-backed store in dir, creating the directory if
// needed.
func NewDiskStore(dir string, logger *slog.Logger) (*DiskStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	s := &DiskStore{
		dir:    dir,
		logger: logger.With("component", "disk_store"),
		now:    time.Now,
		lock:   flock.New(filepath.Join(dir, lockFileName)),
	}

	var count int
	err := s.locked(context.Background(), false, func() error {
		flows, err := s.load()
		count = len(flows)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("opened disk store", "dir", dir, "flows", count)
	return s, nil
}

// locked runs fn holding the directory lock, shared for reads and exclusive
// for writes.
func (s *DiskStore) locked(ctx context.Context, exclusive bool, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	try := s.lock.TryRLockContext
	if exclusive {
		try = s.lock.TryLockContext
	}
	ok, err := try(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock state directory: %w", err)
	}
	if !ok {
		return fmt.Errorf("failed to lock state directory %s", s.dir)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("failed to unlock state directory", "error", err)
		}
	}()
	return fn()
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && !strings.HasPrefix(id, ".")
}

func (s *DiskStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// read returns the flow stored under id.
func (s *DiskStore) read(id string) (*flow.Flow, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	f, err := flow.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse flow file %s: %w", id, err)
	}
	return f, nil
}

// write stores f under its id using write-then-rename.
func (s *DiskStore) write(f *flow.Flow) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+f.ID()+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write flow file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync flow file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close flow file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(f.ID())); err != nil {
		return fmt.Errorf("failed to rename flow file: %w", err)
	}

	s.logger.Debug("saved flow to disk", "flow_id", f.ID(), "version", f.Master.Version)
	return nil
}

// Create stores a new flow.
func (s *DiskStore) Create(ctx context.Context, f *flow.Flow) error {
	stored, err := prepareCreate(f, s.now())
	if err != nil {
		return err
	}
	if !validID(stored.ID()) {
		return fmt.Errorf("invalid flow id %q", stored.ID())
	}

	return s.locked(ctx, true, func() error {
		if _, err := os.Stat(s.path(stored.ID())); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to stat flow file: %w", err)
		}
		if err := s.write(stored); err != nil {
			return err
		}
		commit(f, stored)
		return nil
	})
}

// Get reads the flow from disk.
func (s *DiskStore) Get(ctx context.Context, id string) (*flow.Flow, error) {
	var f *flow.Flow
	err := s.locked(ctx, false, func() error {
		var err error
		f, err = s.read(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Update replaces the flow if the version on disk matches.
func (s *DiskStore) Update(ctx context.Context, f *flow.Flow) error {
	stored, err := prepareUpdate(f, s.now())
	if err != nil {
		return err
	}

	return s.locked(ctx, true, func() error {
		current, err := s.read(stored.ID())
		if err != nil {
			return err
		}
		if current.Master.Version != f.Master.Version {
			return ErrVersionConflict
		}
		if err := s.write(stored); err != nil {
			return err
		}
		commit(f, stored)
		return nil
	})
}

// Delete removes the flow's file.
func (s *DiskStore) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	return s.locked(ctx, true, func() error {
		err := os.Remove(s.path(id))
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to remove flow file: %w", err)
		}
		return nil
	})
}

// List reads every flow file and returns the matching flows.
func (s *DiskStore) List(ctx context.Context, filter Filter) ([]*flow.Flow, error) {
	var out []*flow.Flow
	err := s.locked(ctx, false, func() error {
		flows, err := s.load()
		if err != nil {
			return err
		}
		for _, f := range flows {
			if filter.Match(f) {
				out = append(out, f)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortAndLimit(out, filter.Limit), nil
}

// Close releases the lock file handle.
func (s *DiskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Close()
}

// load reads every flow file in the directory. Unreadable files are logged
// and skipped so one corrupt record does not take the store down.
func (s *DiskStore) load() ([]*flow.Flow, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	flows := make([]*flow.Flow, 0, len(files))
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, ".") {
			continue
		}

		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("failed to read flow file", "file", path, "error", err)
			continue
		}

		f, err := flow.Decode(data)
		if err != nil {
			s.logger.Warn("failed to parse flow file", "file", path, "error", err)
			continue
		}
		if f.ID()+".json" != name {
			s.logger.Warn("flow file name does not match flow id", "file", path, "flow_id", f.ID())
			continue
		}
		flows = append(flows, f)
	}
	return flows, nil
}
