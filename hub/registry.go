package hub

import (
	"context"

	"taskr/domain"
)

// Registry tracks which username owns which live connection. Records are
// persisted through the Store so a restarted server can still resolve actors
// for connections that survive in the transport layer.
type Registry struct {
	store Store
	bcast Broadcaster
}

func NewRegistry(store Store, bcast Broadcaster) *Registry {
	return &Registry{store: store, bcast: bcast}
}

// Register creates the ConnectedUser record for connectionID unless one
// already exists, and joins the connection to the broadcast group named after
// the username. A reconnect under the same connection id before teardown does
// not create duplicates and keeps the original username.
func (r *Registry) Register(ctx context.Context, connectionID, username string) error {
	existing, err := r.store.GetConnectedUser(ctx, connectionID)
	if err != nil {
		return err
	}
	if existing == nil {
		cu := domain.ConnectedUser{ConnectionID: connectionID, Username: username}
		if err := r.store.InsertConnectedUser(ctx, cu); err != nil {
			return err
		}
	} else {
		username = existing.Username
	}
	return r.bcast.Join(connectionID, username)
}

// Lookup resolves the username registered for connectionID. The second return
// is false when the connection never logged in.
func (r *Registry) Lookup(ctx context.Context, connectionID string) (string, bool, error) {
	cu, err := r.store.GetConnectedUser(ctx, connectionID)
	if err != nil {
		return "", false, err
	}
	if cu == nil {
		return "", false, nil
	}
	return cu.Username, true, nil
}

// Remove deletes the record for connectionID. Removing an unknown connection
// is a no-op.
func (r *Registry) Remove(ctx context.Context, connectionID string) error {
	return r.store.RemoveConnectedUser(ctx, connectionID)
}
