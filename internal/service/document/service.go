// Package document stores team files. Each document is a blob in the blob
// store plus a metadata record in the remote store; the two are written and
// removed as separate steps.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"slices"
	"strings"

	"github.com/juju/clock"

	"github.com/PumpeDie/teamup/internal/blob"
	"github.com/PumpeDie/teamup/internal/domain"
	"github.com/PumpeDie/teamup/internal/remote"
	"github.com/PumpeDie/teamup/internal/service/team"
	"github.com/PumpeDie/teamup/internal/stream"
)

// DefaultMaxSize caps uploads when no limit is configured.
const DefaultMaxSize int64 = 10 << 20

var (
	ErrEmptyDocument = errors.New("document is empty")
	ErrTooLarge      = errors.New("document exceeds the upload limit")
	ErrEmptyName     = errors.New("document name is required")
)

// Members resolves the caller and checks team membership.
type Members interface {
	RequireMember(ctx context.Context, teamID string) (string, domain.Team, error)
}

// Service coordinates document blobs and their records.
type Service struct {
	store   remote.Store
	blobs   blob.Store
	members Members
	clock   clock.Clock
	logger  *slog.Logger
	metrics *stream.Metrics
	maxSize int64
}

// New constructs a Service. A nil clock means the wall clock and a
// non-positive maxSize means DefaultMaxSize.
func New(store remote.Store, blobs blob.Store, members Members, clk clock.Clock, logger *slog.Logger, maxSize int64) Service {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return Service{store: store, blobs: blobs, members: members, clock: clk, logger: logger, maxSize: maxSize}
}

// WithStreamMetrics returns a copy that records metrics for Watch.
func (s Service) WithStreamMetrics(m *stream.Metrics) Service {
	s.metrics = m
	return s
}

// MaxSize reports the upload limit in bytes.
func (s Service) MaxSize() int64 {
	return s.maxSize
}

func documentsPath(teamID string) string {
	return remote.Join(team.Path(teamID), "documents")
}

func documentPath(teamID, docID string) string {
	return remote.Join(documentsPath(teamID), docID)
}

func decodeDocument(key string, raw json.RawMessage) (domain.Document, error) {
	doc, err := remote.DecodeJSON[domain.Document](key, raw)
	if err != nil {
		return domain.Document{}, err
	}
	if key != "" {
		doc.ID = key
	}
	if doc.URL == "" {
		return domain.Document{}, errors.New("document record has no url")
	}
	return doc, nil
}

func byUploadedAt(a, b domain.Document) int {
	switch {
	case a.UploadedAt < b.UploadedAt:
		return -1
	case a.UploadedAt > b.UploadedAt:
		return 1
	}
	return 0
}

func contentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(name))); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

// Upload stores data as a new team document. The blob is written first; if
// the record write then fails the blob stays in the blob store and the
// failure is reported.
func (s Service) Upload(ctx context.Context, teamID, originalName string, data []byte) (domain.Document, error) {
	callerID, _, err := s.members.RequireMember(ctx, teamID)
	if err != nil {
		return domain.Document{}, err
	}
	originalName = strings.TrimSpace(originalName)
	switch {
	case originalName == "":
		return domain.Document{}, domain.Wrap(domain.CodeInvalidInput, "invalid document", ErrEmptyName)
	case len(data) == 0:
		return domain.Document{}, domain.Wrap(domain.CodeInvalidInput, "invalid document", ErrEmptyDocument)
	case int64(len(data)) > s.maxSize:
		return domain.Document{}, domain.Wrap(domain.CodeInvalidInput, fmt.Sprintf("document larger than %d bytes", s.maxSize), ErrTooLarge)
	}

	key := blob.DocumentKey(teamID, originalName)
	if err := s.blobs.Upload(ctx, key, data, contentType(originalName, data)); err != nil {
		return domain.Document{}, domain.RemoteFailure("upload document", err)
	}
	url, err := s.blobs.PublicURL(ctx, key)
	if err != nil {
		s.logger.Warn("orphaned document blob", "team_id", teamID, "blob_key", key, "error", err)
		return domain.Document{}, domain.RemoteFailure("resolve document url", err)
	}

	doc := domain.Document{
		ID:           s.store.NewKey(documentsPath(teamID)),
		URL:          url,
		OriginalName: originalName,
		UploadedAt:   s.clock.Now().UnixMilli(),
	}
	if err := s.store.Set(ctx, documentPath(teamID, doc.ID), doc); err != nil {
		s.logger.Warn("orphaned document blob", "team_id", teamID, "blob_key", key, "error", err)
		return domain.Document{}, domain.RemoteFailure("record document", err)
	}
	s.logger.Info("document uploaded", "team_id", teamID, "document_id", doc.ID, "bytes", len(data), "by", callerID)
	return doc, nil
}

// Delete removes the blob and then the record of a document. A blob that is
// already gone does not stop the record from being removed.
func (s Service) Delete(ctx context.Context, teamID, docID string) error {
	callerID, _, err := s.members.RequireMember(ctx, teamID)
	if err != nil {
		return err
	}
	doc, err := s.load(ctx, teamID, docID)
	if err != nil {
		return err
	}
	key, err := blob.KeyFromURL(teamID, doc.URL)
	if err != nil {
		return domain.Wrap(domain.CodeDecodeFailure, "document url", err)
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			return domain.RemoteFailure("delete document blob", err)
		}
		s.logger.Warn("document blob already missing", "team_id", teamID, "blob_key", key)
	}
	if err := s.store.Delete(ctx, documentPath(teamID, docID)); err != nil {
		s.logger.Warn("orphaned document record", "team_id", teamID, "document_id", docID, "error", err)
		return domain.RemoteFailure("delete document record", err)
	}
	s.logger.Info("document deleted", "team_id", teamID, "document_id", docID, "by", callerID)
	return nil
}

// List returns the team's documents, oldest upload first.
func (s Service) List(ctx context.Context, teamID string) ([]domain.Document, error) {
	if _, _, err := s.members.RequireMember(ctx, teamID); err != nil {
		return nil, err
	}
	raw, err := s.store.Get(ctx, documentsPath(teamID))
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return nil, domain.RemoteFailure("list documents", err)
	}
	docs, failures, err := remote.DecodeChildren(raw, decodeDocument)
	if err != nil {
		return nil, domain.Wrap(domain.CodeDecodeFailure, "decode documents", err)
	}
	for _, f := range failures {
		s.logger.Warn("skipping undecodable document", "team_id", teamID, "document_id", f.Key, "error", f.Err)
	}
	slices.SortStableFunc(docs, byUploadedAt)
	return docs, nil
}

// Watch streams the team's documents, oldest upload first.
func (s Service) Watch(ctx context.Context, teamID string) (*stream.Stream[domain.Document], error) {
	if _, _, err := s.members.RequireMember(ctx, teamID); err != nil {
		return nil, err
	}
	return stream.New(ctx, stream.Config[domain.Document]{
		Store:      s.store,
		Path:       documentsPath(teamID),
		Collection: "documents",
		Decode:     decodeDocument,
		Compare:    byUploadedAt,
		Logger:     s.logger,
		Metrics:    s.metrics,
	})
}

func (s Service) load(ctx context.Context, teamID, docID string) (domain.Document, error) {
	if err := remote.ValidateKey(docID); err != nil {
		return domain.Document{}, domain.Wrap(domain.CodeInvalidInput, "invalid document id", err)
	}
	raw, err := s.store.Get(ctx, documentPath(teamID, docID))
	if errors.Is(err, remote.ErrNotFound) {
		return domain.Document{}, domain.Errorf(domain.CodeNotFound, "document %s not found", docID)
	}
	if err != nil {
		return domain.Document{}, domain.RemoteFailure("load document", err)
	}
	doc, err := decodeDocument(docID, raw)
	if err != nil {
		return domain.Document{}, domain.Wrap(domain.CodeDecodeFailure, "decode document "+docID, err)
	}
	return doc, nil
}
