package sync

import (
	"github.com/shelfwise/shelfsync/internal/schema"
	"github.com/shelfwise/shelfsync/internal/store"
)

// Resolution describes how a concurrent local/remote divergence was settled.
type Resolution struct {
	// Strategy is recorded on the conflict row for audit.
	Strategy string

	// ConflictType distinguishes update/update races from delete races.
	ConflictType string

	// RemoteWins reports whether the remote version replaces the local one.
	RemoteWins bool
}

// Resolver settles conflicts between a local row and its remote counterpart.
//
// The policy is last-writer-wins on updated_at with two overrides: a deletion
// on either side always wins, and a local row with no usable timestamp defers
// to the remote. Ties also defer to the remote, since the server is the
// shared source of truth every other client converges on.
type Resolver struct{}

// Resolve decides the winner between a pending local row and a remote change
// for the same record.
func (Resolver) Resolve(local, remote schema.Record) Resolution {
	if local.Deleted || remote.Deleted {
		res := Resolution{
			ConflictType: store.ConflictDelete,
			RemoteWins:   !local.Deleted,
		}
		if res.RemoteWins {
			res.Strategy = store.StrategyRemoteWins
		} else {
			res.Strategy = store.StrategyLocalWins
		}
		return res
	}

	res := Resolution{ConflictType: store.ConflictUpdate}
	switch {
	case local.UpdatedAt.IsZero() || remote.UpdatedAt.IsZero():
		// A missing timestamp on either side leaves nothing to compare;
		// the remote is authoritative.
		res.RemoteWins = true
	case local.UpdatedAt.After(remote.UpdatedAt):
		res.RemoteWins = false
	default:
		// Equal timestamps fall through to the remote.
		res.RemoteWins = true
	}

	if res.RemoteWins {
		res.Strategy = store.StrategyRemoteWins
	} else {
		res.Strategy = store.StrategyLocalWins
	}
	return res
}
