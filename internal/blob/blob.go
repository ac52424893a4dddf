// Package blob defines the binary object store documents are uploaded to.
package blob

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound indicates no object exists under a key.
var ErrNotFound = errors.New("blob: not found")

// Store holds document bytes.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	PublicURL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// DocumentKey builds a unique object key for a file uploaded to a team:
// teamID/<uuid>_<name>, with spaces in the name replaced by underscores.
func DocumentKey(teamID, originalName string) string {
	name := strings.ReplaceAll(path.Base(strings.ReplaceAll(originalName, `\`, "/")), " ", "_")
	if name == "." || name == "/" || name == "" {
		name = "document"
	}
	return teamID + "/" + uuid.NewString() + "_" + name
}

// KeyFromURL recovers the object key of a team document from its public
// URL. Only the last path segment is taken from the URL; the team id comes
// from the caller.
func KeyFromURL(teamID, publicURL string) (string, error) {
	u, err := url.Parse(publicURL)
	if err != nil {
		return "", err
	}
	p := strings.TrimSuffix(u.Path, "/")
	idx := strings.LastIndex(p, "/")
	last := p[idx+1:]
	if last == "" {
		return "", errors.New("blob: url has no object name")
	}
	name, err := url.PathUnescape(last)
	if err != nil {
		return "", err
	}
	return teamID + "/" + name, nil
}
