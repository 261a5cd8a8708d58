package sqlstore

import (
	"database/sql"
	"fmt"
	"iter"
	"strings"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver (cgo)
	"github.com/pliu/friends/internal/models"
	_ "modernc.org/sqlite" // SQLite driver (pure Go), registered as "sqlite"
)

type SQLStore struct {
	db         *sql.DB
	driverName string
}

func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, sqliteDSN(driverName, dataSourceName))
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	// every new connection to :memory: is a fresh, empty database
	if dataSourceName == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}
	return s, nil
}

// sqliteDSN makes writers on a file database wait for each other instead of
// failing with "database is locked". Peers append concurrently.
func sqliteDSN(driverName, dsn string) string {
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return dsn
	}
	var params []string
	switch driverName {
	case "sqlite3":
		if !strings.Contains(dsn, "_busy_timeout") && !strings.Contains(dsn, "_timeout") {
			params = append(params, "_busy_timeout=5000")
		}
	case "sqlite":
		if !strings.Contains(dsn, "busy_timeout") {
			params = append(params, "_pragma=busy_timeout(5000)")
		}
	default:
		return dsn
	}
	if !strings.Contains(dsn, "_txlock") {
		params = append(params, "_txlock=immediate")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS channels (
		name TEXT PRIMARY KEY,
		id INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		channel TEXT NOT NULL,
		seq INTEGER NOT NULL,
		key TEXT NOT NULL,
		username TEXT NOT NULL,
		text TEXT NOT NULL,
		timestamp BIGINT NOT NULL,
		public_key TEXT,
		signature TEXT,
		PRIMARY KEY (channel, seq),
		UNIQUE (channel, key)
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

func (s *SQLStore) PutChannel(rec models.ChannelRecord) error {
	query := s.rebind("INSERT INTO channels (name, id) VALUES (?, ?) ON CONFLICT (name) DO UPDATE SET id = excluded.id")
	_, err := s.db.Exec(query, rec.Name, rec.ID)
	return err
}

// DeleteChannel removes the membership record. Deleting an unknown channel is not an error.
func (s *SQLStore) DeleteChannel(name string) error {
	query := s.rebind("DELETE FROM channels WHERE name = ?")
	_, err := s.db.Exec(query, name)
	return err
}

// ChannelRecords lazily yields every persisted membership record. The sequence
// holds a connection open until it is exhausted or the consumer stops.
func (s *SQLStore) ChannelRecords() iter.Seq2[models.ChannelRecord, error] {
	return func(yield func(models.ChannelRecord, error) bool) {
		rows, err := s.db.Query("SELECT name, id FROM channels ORDER BY id ASC")
		if err != nil {
			yield(models.ChannelRecord{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var rec models.ChannelRecord
			if err := rows.Scan(&rec.Name, &rec.ID); err != nil {
				yield(rec, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.ChannelRecord{}, err)
		}
	}
}

// AppendEntry adds the entry to the end of its channel's log. Entries whose key
// is already present are skipped and reported with added == false.
func (s *SQLStore) AppendEntry(entry models.Entry) (int64, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM entries WHERE channel = ? AND key = ?)")
	if err := tx.QueryRow(query, entry.Channel, entry.Key).Scan(&exists); err != nil {
		return 0, false, err
	}
	if exists {
		return 0, false, nil
	}

	var seq int64
	query = s.rebind("SELECT COALESCE(MAX(seq), 0) + 1 FROM entries WHERE channel = ?")
	if err := tx.QueryRow(query, entry.Channel).Scan(&seq); err != nil {
		return 0, false, err
	}

	query = s.rebind(`
		INSERT INTO entries (channel, seq, key, username, text, timestamp, public_key, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = tx.Exec(query, entry.Channel, seq, entry.Key, entry.Username, entry.Text, entry.Timestamp, entry.PublicKey, entry.Signature)
	if err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return seq, true, nil
}

// Entries returns up to limit entries of the channel with seq > after, in log order.
func (s *SQLStore) Entries(channel string, after int64, limit int) ([]models.Entry, error) {
	query := s.rebind(`
		SELECT seq, key, channel, username, text, timestamp, COALESCE(public_key, ''), COALESCE(signature, '')
		FROM entries
		WHERE channel = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`)
	rows, err := s.db.Query(query, channel, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		var e models.Entry
		if err := rows.Scan(&e.Seq, &e.Key, &e.Channel, &e.Username, &e.Text, &e.Timestamp, &e.PublicKey, &e.Signature); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Changes returns the length of the channel's log.
func (s *SQLStore) Changes(channel string) (int64, error) {
	var n int64
	query := s.rebind("SELECT COALESCE(MAX(seq), 0) FROM entries WHERE channel = ?")
	err := s.db.QueryRow(query, channel).Scan(&n)
	return n, err
}
