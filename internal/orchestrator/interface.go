package orchestrator

import (
	"context"

	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/transport"
)

// Remote is the row-store as seen by the orchestrator.
//
// Implementations must surface failures as errors rather than hang: the
// orchestrator applies no timeouts of its own. *transport.Client is the
// production implementation.
type Remote interface {
	// Configured reports whether a row-store endpoint is set. When false the
	// orchestrator skips network work entirely.
	Configured() bool

	// GetTasks pulls the whole active-task collection.
	GetTasks(ctx context.Context) ([]schema.Task, error)

	// SyncTasks overwrites the whole active-task collection.
	SyncTasks(ctx context.Context, tasks []schema.Task) error

	GetCompletedTasks(ctx context.Context, day string) ([]schema.CompletedTask, error)
	SyncCompletedTasks(ctx context.Context, tasks []schema.CompletedTask) error
	GetWorkSessions(ctx context.Context, day string) ([]schema.WorkSession, error)
	SyncWorkSessions(ctx context.Context, sessions []schema.WorkSession) error
	GetArchivedTasks(ctx context.Context) ([]schema.ArchivedTask, error)
	SyncArchivedTasks(ctx context.Context, tasks []schema.ArchivedTask) error

	// DeleteTask removes one id from the active collection.
	DeleteTask(ctx context.Context, id string) error

	// CompleteTask removes task from the active collection, inserts it into
	// the completed collection and records session (if non-nil) in one
	// request.
	CompleteTask(ctx context.Context, task schema.CompletedTask, session *schema.WorkSession) error

	// GetVersion returns the row-store schema version.
	GetVersion(ctx context.Context) (transport.Version, error)
}

var _ Remote = (*transport.Client)(nil)
