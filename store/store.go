// Package store persists flows.
//
// A flow's master and child records are always read and written together as
// one flow.Flow, so a single write can never leave them out of step. Every
// Update is a compare-and-swap on Master.Version: the write succeeds only if
// the stored version still equals the version the caller read, and the store
// then bumps it. Concurrent writers therefore never silently overwrite each
// other; the loser gets ErrVersionConflict and must re-read.
//
// Backends: MemoryStore, DiskStore (JSON files), RedisStore and PostgresStore.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nomis52/flowmaster/flow"
)

var (
	// ErrNotFound is returned when no flow has the requested id.
	ErrNotFound = errors.New("flow not found")
	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("flow already exists")
	// ErrVersionConflict is returned by Update when the stored version no
	// longer matches the version being written over.
	ErrVersionConflict = errors.New("flow version conflict")
)

// Store persists flows. Implementations must be safe for concurrent use.
type Store interface {
	// Create stores a new flow. On success f.Master.Version is 1 and the
	// timestamps are set.
	Create(ctx context.Context, f *flow.Flow) error
	// Get returns a copy of the stored flow.
	Get(ctx context.Context, id string) (*flow.Flow, error)
	// Update replaces the stored flow if its version equals f.Master.Version.
	// On success f.Master.Version and f.Master.UpdatedAt are advanced.
	Update(ctx context.Context, f *flow.Flow) error
	// Delete removes both records of a flow.
	Delete(ctx context.Context, id string) error
	// List returns copies of the flows matching filter, oldest first.
	List(ctx context.Context, filter Filter) ([]*flow.Flow, error)
	Close() error
}

// Filter selects flows in List. Zero fields match everything.
type Filter struct {
	ClientAccountID string
	EngagementID    string
	FlowType        string
	Statuses        []flow.Status
	// Limit caps the number of results when positive.
	Limit int
}

// Match reports whether f satisfies the filter.
func (fl Filter) Match(f *flow.Flow) bool {
	m := &f.Master
	if fl.ClientAccountID != "" && m.Scope.ClientAccountID != fl.ClientAccountID {
		return false
	}
	if fl.EngagementID != "" && m.Scope.EngagementID != fl.EngagementID {
		return false
	}
	if fl.FlowType != "" && m.FlowType != fl.FlowType {
		return false
	}
	if len(fl.Statuses) > 0 {
		for _, s := range fl.Statuses {
			if m.Status == s {
				return true
			}
		}
		return false
	}
	return true
}

// checkWrite rejects flows that must never reach storage.
func checkWrite(f *flow.Flow) error {
	if f == nil {
		return fmt.Errorf("flow is nil")
	}
	if f.Master.FlowID == "" {
		return fmt.Errorf("flow id is required")
	}
	if f.Child.FlowID != f.Master.FlowID {
		return fmt.Errorf("child flow id %q does not match master %q", f.Child.FlowID, f.Master.FlowID)
	}
	return flow.Consistent(f)
}

// prepareCreate returns the copy to store for a new flow.
func prepareCreate(f *flow.Flow, now time.Time) (*flow.Flow, error) {
	if err := checkWrite(f); err != nil {
		return nil, err
	}
	stored, err := f.Clone()
	if err != nil {
		return nil, err
	}
	if stored.Master.CreatedAt.IsZero() {
		stored.Master.CreatedAt = now
	}
	stored.Master.UpdatedAt = now
	stored.Master.Version = 1
	return stored, nil
}

// prepareUpdate returns the copy to store when replacing a flow at f's version.
func prepareUpdate(f *flow.Flow, now time.Time) (*flow.Flow, error) {
	if err := checkWrite(f); err != nil {
		return nil, err
	}
	stored, err := f.Clone()
	if err != nil {
		return nil, err
	}
	stored.Master.UpdatedAt = now
	stored.Master.Version = f.Master.Version + 1
	return stored, nil
}

// commit copies the store-assigned fields back to the caller's flow.
func commit(f, stored *flow.Flow) {
	f.Master.CreatedAt = stored.Master.CreatedAt
	f.Master.UpdatedAt = stored.Master.UpdatedAt
	f.Master.Version = stored.Master.Version
}

// sortAndLimit orders flows oldest first, ties broken by id.
func sortAndLimit(flows []*flow.Flow, limit int) []*flow.Flow {
	sort.Slice(flows, func(i, j int) bool {
		a, b := flows[i].Master, flows[j].Master
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.FlowID < b.FlowID
	})
	if limit > 0 && len(flows) > limit {
		flows = flows[:limit]
	}
	return flows
}
