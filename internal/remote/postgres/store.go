// Package postgres implements remote.Store on PostgreSQL. Every JSON leaf is
// one row of tree_nodes; change notifications travel over LISTEN/NOTIFY.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/tomb.v2"

	"github.com/PumpeDie/teamup/internal/remote"
)

// DefaultChannel is the NOTIFY channel used when none is configured.
const DefaultChannel = "tree_changes"

// errNothingToWrite rolls back a transaction whose function returned no
// fields, so no notification is sent.
var errNothingToWrite = errors.New("nothing to write")

var (
	_ remote.Store      = (*Store)(nil)
	_ remote.Transactor = (*Store)(nil)
)

// Store is a remote.Store backed by a pgx pool.
type Store struct {
	pool    *pgxpool.Pool
	channel string
	retry   time.Duration
	hub     *remote.Hub
	log     *slog.Logger
	tomb    tomb.Tomb
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// New starts the change feed and returns once it is listening.
func New(ctx context.Context, pool *pgxpool.Pool, channel string, log *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("nil pool provided")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Store{pool: pool, channel: channel, retry: 2 * time.Second, log: log}
	s.hub = remote.NewHub(s.Get, 0)

	ready := make(chan error, 1)
	s.tomb.Go(func() error { return s.listen(ready) })
	select {
	case err := <-ready:
		if err != nil {
			_ = s.Close()
			return nil, err
		}
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	}
	return s, nil
}

// Close stops the change feed and every subscription.
func (s *Store) Close() error {
	s.tomb.Kill(nil)
	err := s.tomb.Wait()
	s.hub.Close()
	return err
}

// Get implements remote.Store.
func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return read(ctx, s.pool, path)
}

// Subscribe implements remote.Store.
func (s *Store) Subscribe(ctx context.Context, path string, onChange remote.ChangeFunc, onError remote.ErrorFunc) (remote.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.tomb.Alive() {
		return nil, remote.ErrHubClosed
	}
	return s.hub.Register(path, onChange, onError)
}

// Set implements remote.Store.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	return s.write(ctx, path, func(tx pgx.Tx) error {
		return replace(ctx, tx, path, value)
	})
}

// Update implements remote.Store.
func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.write(ctx, path, func(tx pgx.Tx) error {
		return replaceFields(ctx, tx, path, fields)
	})
}

func replaceFields(ctx context.Context, tx pgx.Tx, path string, fields map[string]any) error {
	paths, err := fieldPaths(path, fields)
	if err != nil {
		return err
	}
	for _, f := range paths {
		if err := replace(ctx, tx, f.path, fields[f.key]); err != nil {
			return err
		}
	}
	return nil
}

// Delete implements remote.Store.
func (s *Store) Delete(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// Transact implements remote.Transactor. Writers to the same team are
// serialized by an advisory lock, so the read inside fn sees the latest
// committed value. Only the fields fn returns are rewritten.
func (s *Store) Transact(ctx context.Context, path string, fn remote.TxFunc) error {
	err := s.write(ctx, path, func(tx pgx.Tx) error {
		current, err := read(ctx, tx, path)
		if errors.Is(err, remote.ErrNotFound) {
			current, err = nil, nil
		}
		if err != nil {
			return err
		}
		fields, err := fn(current)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return errNothingToWrite
		}
		return replaceFields(ctx, tx, path, fields)
	})
	if errors.Is(err, errNothingToWrite) {
		return nil
	}
	return err
}

// NewKey implements remote.Store.
func (s *Store) NewKey(string) string {
	return remote.NewKey()
}

func (s *Store) write(ctx context.Context, path string, fn func(pgx.Tx) error) error {
	path = remote.Clean(path)
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey(path)); err != nil {
		return fmt.Errorf("lock %s: %w", lockKey(path), err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, s.channel, path); err != nil {
		return fmt.Errorf("notify %s: %w", path, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit write: %w", err)
	}
	return nil
}

func read(ctx context.Context, q querier, path string) (json.RawMessage, error) {
	path = remote.Clean(path)
	const query = `SELECT path, value FROM tree_nodes WHERE path = $1 OR path LIKE $2 ORDER BY path`
	rows, err := q.Query(ctx, query, path, likePrefix(path))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leaves []leaf
	for rows.Next() {
		var l leaf
		var value []byte
		if err := rows.Scan(&l.Path, &value); err != nil {
			return nil, err
		}
		l.Value = json.RawMessage(value)
		leaves = append(leaves, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assemble(path, leaves)
}

func replace(ctx context.Context, tx pgx.Tx, path string, value any) error {
	path = remote.Clean(path)
	raw, err := marshal(value)
	if err != nil {
		return err
	}
	leaves, err := flatten(path, raw)
	if err != nil {
		return err
	}
	if anc := ancestors(path); len(anc) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM tree_nodes WHERE path = ANY($1)`, anc); err != nil {
			return fmt.Errorf("clear ancestors of %s: %w", path, err)
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM tree_nodes WHERE path = $1 OR path LIKE $2`, path, likePrefix(path)); err != nil {
		return fmt.Errorf("clear %s: %w", path, err)
	}
	if len(leaves) == 0 {
		return nil
	}

	const insert = `INSERT INTO tree_nodes (path, value, updated_at) VALUES ($1, $2, NOW())`
	batch := &pgx.Batch{}
	for _, l := range leaves {
		batch.Queue(insert, l.Path, l.Value)
	}
	br := tx.SendBatch(ctx, batch)
	for range leaves {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert under %s: %w", path, err)
		}
	}
	return br.Close()
}

func marshal(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(value)
	}
}
