// Package storage is a composite-key KV store over SQLite.
//
// Every row carries a version counter so callers can do a single round of
// optimistic concurrency (CompareAndSwap). The lease that serializes owner
// processing is built on exactly that primitive, which is why the store, not
// an in-process mutex, is the synchronization point: it holds across process
// restarts and multiple instances sharing one database file.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"happbot/pkg/logx"
)

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	val BLOB NOT NULL,
	ver INTEGER NOT NULL DEFAULT 1
);
`

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the value and row version. ok is false when the key is absent;
// the returned version is then 0, which is also the expected version that
// CompareAndSwap uses to create the row.
func (s *Store) Get(ctx context.Context, key string) (val []byte, ver int64, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT val, ver FROM kv WHERE key = ?`, key).Scan(&val, &ver)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	return val, ver, true, nil
}

func (s *Store) Put(ctx context.Context, key string, val []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key, val, ver) VALUES(?, ?, 1)
		 ON CONFLICT(key) DO UPDATE SET val = excluded.val, ver = kv.ver + 1`,
		key, val,
	)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

// CompareAndSwap writes val only if the row's version still equals expect.
// expect == 0 means "row must be absent". Returns false when the condition
// did not hold (someone else won the race).
func (s *Store) CompareAndSwap(ctx context.Context, key string, expect int64, val []byte) (bool, error) {
	var res sql.Result
	var err error
	if expect == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO kv(key, val, ver) VALUES(?, ?, 1) ON CONFLICT(key) DO NOTHING`,
			key, val,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE kv SET val = ?, ver = ver + 1 WHERE key = ? AND ver = ?`,
			val, key, expect,
		)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// listPageSize bounds how many rows one List query fetches at a time.
const listPageSize = 256

// List streams all keys under prefix in key order, one page at a time. Each
// page's result set is fully read and closed before fn runs, so callbacks may
// issue further queries on this store: with a single-connection pool, holding
// open rows across a callback would deadlock any nested call. fn may stop the
// scan by returning an error. Keyset pagination (key > last) keeps the scan
// correct when callbacks insert or delete rows.
func (s *Store) List(ctx context.Context, prefix string, fn func(key string, val []byte) error) error {
	type row struct {
		key string
		val []byte
	}
	pattern := escapeLike(prefix) + "%"
	after := ""
	for {
		page, err := func() ([]row, error) {
			rows, err := s.db.QueryContext(ctx,
				`SELECT key, val FROM kv WHERE key > ? AND key LIKE ? ESCAPE '\' ORDER BY key LIMIT ?`,
				after, pattern, listPageSize,
			)
			if err != nil {
				return nil, err
			}
			defer rows.Close()
			var page []row
			for rows.Next() {
				var r row
				if err := rows.Scan(&r.key, &r.val); err != nil {
					return nil, err
				}
				page = append(page, r)
			}
			return page, rows.Err()
		}()
		if err != nil {
			return err
		}
		for _, r := range page {
			if err := fn(r.key, r.val); err != nil {
				return err
			}
		}
		if len(page) < listPageSize {
			return nil
		}
		after = page[len(page)-1].key
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
