// Package catalog journals recording sessions in a SQLite database.
package catalog

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"thermrec-go/internal/output"
	"thermrec-go/internal/roi"
)

// Store is the session catalog. It satisfies output.Journal.
type Store struct {
	db   *sql.DB
	path string
}

var _ output.Journal = (*Store)(nil)

// Session is one catalog row.
type Session struct {
	ID      uuid.UUID   `json:"id"`
	Path    string      `json:"path"`
	Mode    string      `json:"mode"`
	Polygon roi.Polygon `json:"polygon"`
	Started time.Time   `json:"started"`
	Stopped *time.Time  `json:"stopped,omitempty"`
	Frames  int         `json:"frames"`
	Error   string      `json:"error,omitempty"`
}

// New opens or creates the database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	// one connection keeps ":memory:" databases shared and writes serialized
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: dbPath}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate catalog")
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runMigrations() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			mode TEXT NOT NULL CHECK(mode IN ('frame', 'values')),
			polygon TEXT NOT NULL DEFAULT '[]',
			started_ns INTEGER NOT NULL,
			stopped_ns INTEGER,
			frames INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_ns)`,
	}
	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SessionStarted(info output.SessionInfo) error {
	polygon, err := json.Marshal(polygonOrEmpty(info.Polygon))
	if err != nil {
		return errors.Wrap(err, "encode polygon")
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (id, path, mode, polygon, started_ns) VALUES (?, ?, ?, ?, ?)`,
		info.ID.String(), info.Path, info.Mode.String(), string(polygon), info.Started.UnixNano(),
	)
	return errors.Wrapf(err, "insert session %s", info.ID)
}

func (s *Store) SessionEnded(info output.SessionInfo) error {
	msg := ""
	if info.Err != nil {
		msg = info.Err.Error()
	}
	res, err := s.db.Exec(
		`UPDATE sessions SET stopped_ns = ?, frames = ?, error = ? WHERE id = ?`,
		info.Stopped.UnixNano(), info.Frames, msg, info.ID.String(),
	)
	if err != nil {
		return errors.Wrapf(err, "update session %s", info.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Errorf("session %s not in catalog", info.ID)
	}
	return nil
}

// MarkInterrupted closes the rows of sessions that never reported an end,
// which happens when the process died while recording. It returns how many
// rows it touched.
func (s *Store) MarkInterrupted(now time.Time) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE sessions SET stopped_ns = ?, error = 'interrupted' WHERE stopped_ns IS NULL`,
		now.UnixNano(),
	)
	if err != nil {
		return 0, errors.Wrap(err, "mark interrupted sessions")
	}
	return res.RowsAffected()
}

// Get returns one session, or sql.ErrNoRows.
func (s *Store) Get(id uuid.UUID) (Session, error) {
	row := s.db.QueryRow(
		`SELECT id, path, mode, polygon, started_ns, stopped_ns, frames, error
		 FROM sessions WHERE id = ?`, id.String())
	return scanSession(row)
}

// List returns the most recent sessions first.
func (s *Store) List(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, path, mode, polygon, started_ns, stopped_ns, frames, error
		 FROM sessions ORDER BY started_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		sess      Session
		id        string
		polygon   string
		startedNS int64
		stoppedNS sql.NullInt64
	)
	if err := row.Scan(&id, &sess.Path, &sess.Mode, &polygon, &startedNS, &stoppedNS, &sess.Frames, &sess.Error); err != nil {
		return Session{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Session{}, errors.Wrapf(err, "session id %q", id)
	}
	sess.ID = parsed
	if err := json.Unmarshal([]byte(polygon), &sess.Polygon); err != nil {
		return Session{}, errors.Wrapf(err, "session %s polygon", id)
	}
	sess.Started = time.Unix(0, startedNS)
	if stoppedNS.Valid {
		t := time.Unix(0, stoppedNS.Int64)
		sess.Stopped = &t
	}
	return sess, nil
}

func polygonOrEmpty(p roi.Polygon) roi.Polygon {
	if p == nil {
		return roi.Polygon{}
	}
	return p
}
