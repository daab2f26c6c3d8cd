package api

import (
	"context"

	"github.com/mattjoyce/tandem/internal/controller"
	"github.com/mattjoyce/tandem/internal/state"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/tandem/internal/api SessionStore

// SessionStore persists session snapshots between restarts.
type SessionStore interface {
	Save(ctx context.Context, snap controller.Snapshot) (string, bool, error)
	Load(ctx context.Context, id string) (*state.Record, error)
	Revisions(ctx context.Context, id string) ([]state.Revision, error)
	Delete(ctx context.Context, id string) error
}
