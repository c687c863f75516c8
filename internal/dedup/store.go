// Package dedup tracks which message identities have already been delivered
// to a sink, durably, so restarts never reprocess.
package dedup

import (
	"fmt"
	"time"
)

// Store is the dedup state: a durable set of (group, message id) pairs with a
// write-behind pending batch. MarkSeen stages a mark; Flush commits the batch
// in one transaction. A crash before Flush leaves the staged identities
// unmarked, so the next cycle retries them.
//
// The store is owned by the scheduler goroutine; it is not safe for
// concurrent use.
type Store struct {
	db      *DB
	seen    map[string]struct{}
	pending []pendingMark
}

type pendingMark struct {
	group string
	id    string
}

// Open opens (or creates) the dedup database at path, runs migrations, and
// loads the seen set into memory.
func Open(path string) (*Store, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, seen: make(map[string]struct{})}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT group_name, msg_id FROM seen_messages`)
	if err != nil {
		return fmt.Errorf("load seen set: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var group, id string
		if err := rows.Scan(&group, &id); err != nil {
			return err
		}
		s.seen[key(group, id)] = struct{}{}
	}
	return rows.Err()
}

// Seen reports whether the identity was already delivered, including marks
// staged in the current cycle.
func (s *Store) Seen(group, id string) bool {
	_, ok := s.seen[key(group, id)]
	return ok
}

// MarkSeen stages an identity as delivered. Durable only after Flush.
func (s *Store) MarkSeen(group, id string) {
	k := key(group, id)
	if _, ok := s.seen[k]; ok {
		return
	}
	s.seen[k] = struct{}{}
	s.pending = append(s.pending, pendingMark{group: group, id: id})
}

// Flush commits all staged marks in a single transaction. On failure the
// marks stay pending and a later Flush retries them.
func (s *Store) Flush() error {
	if len(s.pending) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range s.pending {
		if _, err := tx.Exec(`
			INSERT INTO seen_messages (group_name, msg_id, seen_at)
			VALUES (?, ?, ?)
			ON CONFLICT(group_name, msg_id) DO NOTHING`,
			m.group, m.id, now); err != nil {
			return fmt.Errorf("insert mark: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit marks: %w", err)
	}

	s.pending = s.pending[:0]
	return nil
}

// PendingCount returns the number of staged, unflushed marks.
func (s *Store) PendingCount() int {
	return len(s.pending)
}

// Prune deletes entries persisted before the cutoff and drops them from the
// in-memory set. The cutoff must be older than the oldest message the scraper
// can still surface, otherwise a live message would be re-delivered.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	rows, err := s.db.Query(`SELECT group_name, msg_id FROM seen_messages WHERE seen_at < ?`,
		cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("select prune candidates: %w", err)
	}
	var doomed []string
	for rows.Next() {
		var group, id string
		if err := rows.Scan(&group, &id); err != nil {
			_ = rows.Close()
			return 0, err
		}
		doomed = append(doomed, key(group, id))
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	res, err := s.db.Exec(`DELETE FROM seen_messages WHERE seen_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	for _, k := range doomed {
		delete(s.seen, k)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close flushes staged marks and closes the database.
func (s *Store) Close() error {
	flushErr := s.Flush()
	closeErr := s.db.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func key(group, id string) string {
	return group + "\x00" + id
}
