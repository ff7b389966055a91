package agent

import (
	"context"

	"github.com/entrhq/keeper/pkg/session"
)

// PostTurnHook runs after a successful turn, under the session lock.
// Errors are logged and do not affect the turn.
type PostTurnHook func(ctx context.Context, id session.Identity, result *TurnResult) error

// ArchiveHook snapshots the session into the lifecycle's archive after every
// successful turn. It is a no-op without an archive.
func ArchiveHook(sessions *session.Lifecycle) PostTurnHook {
	return func(ctx context.Context, id session.Identity, _ *TurnResult) error {
		archive := sessions.Archive()
		if archive == nil {
			return nil
		}
		sess, err := sessions.Store().Get(ctx, id)
		if err != nil {
			return err
		}
		return archive.Add(ctx, sess)
	}
}
