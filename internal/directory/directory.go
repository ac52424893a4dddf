// Package directory resolves user ids to display names.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/PumpeDie/teamup/internal/domain"
	"github.com/PumpeDie/teamup/internal/remote"
)

// Directory looks up display names. ok is false when the user has no
// profile or no name.
type Directory interface {
	DisplayName(ctx context.Context, userID string) (name string, ok bool, err error)
}

// Updater is implemented by directories that can change a display name.
type Updater interface {
	SetDisplayName(ctx context.Context, userID, name string) error
}

// MaxNameLength bounds display names.
const MaxNameLength = 64

// Store reads profiles kept at users/<id>/username.
type Store struct {
	store remote.Store
}

// New returns a Directory over store.
func New(store remote.Store) *Store {
	return &Store{store: store}
}

func usernamePath(userID string) string {
	return remote.Join("users", userID, "username")
}

// DisplayName implements Directory.
func (d *Store) DisplayName(ctx context.Context, userID string) (string, bool, error) {
	if remote.ValidateKey(userID) != nil {
		return "", false, nil
	}
	raw, err := d.store.Get(ctx, usernamePath(userID))
	if errors.Is(err, remote.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", false, domain.Wrap(domain.CodeDecodeFailure, "decode username", err)
	}
	name = strings.TrimSpace(name)
	return name, name != "", nil
}

// SetDisplayName implements Updater.
func (d *Store) SetDisplayName(ctx context.Context, userID, name string) error {
	if err := remote.ValidateKey(userID); err != nil {
		return domain.Wrap(domain.CodeInvalidInput, "invalid user id", err)
	}
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > MaxNameLength {
		return domain.Errorf(domain.CodeInvalidInput, "display name must be 1 to %d characters", MaxNameLength)
	}
	if err := d.store.Set(ctx, usernamePath(userID), name); err != nil {
		return domain.RemoteFailure("save display name", err)
	}
	return nil
}

// Resolve returns the display name for userID, or domain.UnknownUserName
// when there is none or the lookup failed.
func Resolve(ctx context.Context, dir Directory, userID string) string {
	if dir == nil {
		return domain.UnknownUserName
	}
	name, ok, err := dir.DisplayName(ctx, userID)
	if err != nil || !ok {
		return domain.UnknownUserName
	}
	return name
}
