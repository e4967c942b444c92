package poller

import (
	"context"

	"github.com/mattjoyce/devbench/internal/devbench"
)

//go:generate mockgen -destination=mocks/mock_poller.go -package=mocks github.com/mattjoyce/devbench/internal/poller TrackedLister,StatusRefresher

// TrackedLister lists devbenches whose external resource is known.
type TrackedLister interface {
	ListTracked(ctx context.Context) ([]*devbench.Devbench, error)
}

// StatusRefresher re-checks one devbench and applies any state change.
type StatusRefresher interface {
	Refresh(ctx context.Context, id string) (devbench.State, error)
}
