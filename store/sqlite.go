package store

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"shed/attach"
	"shed/common"
	"shed/style"
	"shed/version"
)

// Memory is path opening private in-memory database.
const Memory = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id              TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL,
	title           TEXT NOT NULL,
	current_version TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS documents_project ON documents(project_id);

CREATE TABLE IF NOT EXISTS versions (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	number      INTEGER NOT NULL,
	locked      INTEGER NOT NULL DEFAULT 0,
	lock_reason TEXT NOT NULL DEFAULT '',
	comment     TEXT NOT NULL DEFAULT '',
	created     TEXT NOT NULL,
	content     BLOB
);
CREATE INDEX IF NOT EXISTS versions_document ON versions(document_id, number);

CREATE TABLE IF NOT EXISTS records (
	attachment_id TEXT PRIMARY KEY,
	version_id    TEXT NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
	kind          TEXT NOT NULL,
	position      INTEGER NOT NULL,
	body          TEXT NOT NULL,
	created       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS records_version ON records(version_id);

CREATE TABLE IF NOT EXISTS stylesheets (
	project_id TEXT PRIMARY KEY,
	body       TEXT NOT NULL
);
`

var _ Store = (*SQLite)(nil)

// SQLite is Store backed by single SQLite connection. Access to the
// connection is serialized.
type SQLite struct {
	log  *zap.Logger
	mu   sync.Mutex
	conn *sqlite.Conn
}

// OpenSQLite opens (creating when necessary) database at path and makes sure
// schema exists. Use Memory for throw-away stores.
func OpenSQLite(path string, log *zap.Logger) (*SQLite, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var (
		conn *sqlite.Conn
		err  error
	)
	if path == Memory {
		conn, err = sqlite.OpenConn(path, sqlite.OpenReadWrite, sqlite.OpenMemory)
	} else {
		conn, err = sqlite.OpenConn(path, sqlite.OpenReadWrite, sqlite.OpenCreate, sqlite.OpenWAL)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open database '%s': %w", path, err)
	}
	if err := sqlitex.ExecuteTransient(conn, `PRAGMA foreign_keys = ON`, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to configure database: %w", err)
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to prepare database schema: %w", err)
	}

	s := &SQLite{log: log.Named("store"), conn: conn}
	s.log.Debug("Store opened", zap.String("path", path))
	return s, nil
}

// Close closes database connection. It is safe to call more than once.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// do runs fn holding connection lock. Long running statements are interrupted
// when ctx is done.
func (s *SQLite) do(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.conn.SetInterrupt(ctx.Done())
	defer s.conn.SetInterrupt(nil)
	return fn(s.conn)
}

func (s *SQLite) LoadDocument(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := s.do(ctx, func(conn *sqlite.Conn) error {
		found := false
		err := sqlitex.Execute(conn, `SELECT id, project_id, title, current_version FROM documents WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					doc.ID = stmt.ColumnText(0)
					doc.ProjectID = stmt.ColumnText(1)
					doc.Title = stmt.ColumnText(2)
					doc.CurrentVersion = stmt.ColumnText(3)
					return nil
				},
			})
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		return sqlitex.Execute(conn, `SELECT id, number, locked, lock_reason, comment, created FROM versions WHERE document_id = ? ORDER BY number`,
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					created, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(5))
					if err != nil {
						return fmt.Errorf("version %s has bad creation time: %w", stmt.ColumnText(0), err)
					}
					doc.Versions = append(doc.Versions, version.Meta{
						ID:         stmt.ColumnText(0),
						Number:     stmt.ColumnInt(1),
						Locked:     stmt.ColumnInt(2) != 0,
						LockReason: stmt.ColumnText(3),
						Comment:    stmt.ColumnText(4),
						Created:    created,
					})
					return nil
				},
			})
	})
	if err != nil {
		return Document{}, fmt.Errorf("unable to load document: %w", err)
	}
	return doc, nil
}

func (s *SQLite) SaveDocument(ctx context.Context, doc Document) error {
	err := s.do(ctx, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)

		err = sqlitex.Execute(conn, `INSERT INTO documents (id, project_id, title, current_version) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET project_id = excluded.project_id, title = excluded.title, current_version = excluded.current_version`,
			&sqlitex.ExecOptions{Args: []any{doc.ID, doc.ProjectID, doc.Title, doc.CurrentVersion}})
		if err != nil {
			return err
		}
		for _, m := range doc.Versions {
			locked := 0
			if m.Locked {
				locked = 1
			}
			err = sqlitex.Execute(conn, `INSERT INTO versions (id, document_id, number, locked, lock_reason, comment, created) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET number = excluded.number, locked = excluded.locked, lock_reason = excluded.lock_reason, comment = excluded.comment`,
				&sqlitex.ExecOptions{Args: []any{m.ID, doc.ID, m.Number, locked, m.LockReason, m.Comment, m.Created.UTC().Format(time.RFC3339Nano)}})
			if err != nil {
				return fmt.Errorf("version %s: %w", m.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to save document %s: %w", doc.ID, err)
	}
	s.log.Debug("Document saved", zap.String("id", doc.ID), zap.Int("versions", len(doc.Versions)))
	return nil
}

func (s *SQLite) Documents(ctx context.Context, projectID string) ([]Document, error) {
	var docs []Document
	err := s.do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT id, project_id, title, current_version FROM documents WHERE project_id = ? ORDER BY id`,
			&sqlitex.ExecOptions{
				Args: []any{projectID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					docs = append(docs, Document{
						ID:             stmt.ColumnText(0),
						ProjectID:      stmt.ColumnText(1),
						Title:          stmt.ColumnText(2),
						CurrentVersion: stmt.ColumnText(3),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list documents: %w", err)
	}
	return docs, nil
}

func (s *SQLite) DeleteVersion(ctx context.Context, versionID string) error {
	err := s.do(ctx, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)

		if err = sqlitex.Execute(conn, `DELETE FROM records WHERE version_id = ?`, &sqlitex.ExecOptions{Args: []any{versionID}}); err != nil {
			return err
		}
		if err = sqlitex.Execute(conn, `DELETE FROM versions WHERE id = ?`, &sqlitex.ExecOptions{Args: []any{versionID}}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("version %s: %w", versionID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to delete version: %w", err)
	}
	return nil
}

func (s *SQLite) LoadContent(ctx context.Context, versionID string) ([]byte, error) {
	var (
		data  []byte
		found bool
	)
	err := s.do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT content FROM versions WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{versionID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					data = make([]byte, stmt.ColumnLen(0))
					stmt.ColumnBytes(0, data)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("unable to load content: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("unable to load content of version %s: %w", versionID, ErrNotFound)
	}
	return data, nil
}

// SaveContent replaces content of existing version. Metadata of the version
// must have been saved with SaveDocument before.
func (s *SQLite) SaveContent(ctx context.Context, versionID string, data []byte) error {
	err := s.do(ctx, func(conn *sqlite.Conn) error {
		if data == nil {
			data = []byte{}
		}
		if err := sqlitex.Execute(conn, `UPDATE versions SET content = ? WHERE id = ?`, &sqlitex.ExecOptions{Args: []any{data, versionID}}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("version %s: %w", versionID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to save content: %w", err)
	}
	return nil
}

func (s *SQLite) Records(ctx context.Context, versionID string) ([]attach.Record, error) {
	var recs []attach.Record
	err := s.do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT attachment_id, kind, position, body, created FROM records WHERE version_id = ? ORDER BY position, attachment_id`,
			&sqlitex.ExecOptions{
				Args: []any{versionID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					kind, err := common.ParseAttachmentKind(stmt.ColumnText(1))
					if err != nil {
						return fmt.Errorf("record %s: %w", stmt.ColumnText(0), err)
					}
					created, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(4))
					if err != nil {
						return fmt.Errorf("record %s has bad creation time: %w", stmt.ColumnText(0), err)
					}
					recs = append(recs, attach.Record{
						AttachmentID: stmt.ColumnText(0),
						VersionID:    versionID,
						Kind:         kind,
						Position:     stmt.ColumnInt(2),
						Body:         stmt.ColumnText(3),
						Created:      created,
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("unable to load records: %w", err)
	}
	return recs, nil
}

func (s *SQLite) SaveRecord(ctx context.Context, rec attach.Record) error {
	err := s.do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO records (attachment_id, version_id, kind, position, body, created) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(attachment_id) DO UPDATE SET position = excluded.position, body = excluded.body`,
			&sqlitex.ExecOptions{Args: []any{rec.AttachmentID, rec.VersionID, rec.Kind.String(), rec.Position, rec.Body, rec.Created.UTC().Format(time.RFC3339Nano)}})
	})
	if err != nil {
		return fmt.Errorf("unable to save record %s: %w", rec.AttachmentID, err)
	}
	return nil
}

func (s *SQLite) DeleteRecord(ctx context.Context, attachmentID string) error {
	err := s.do(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, `DELETE FROM records WHERE attachment_id = ?`, &sqlitex.ExecOptions{Args: []any{attachmentID}}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("record %s: %w", attachmentID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to delete record: %w", err)
	}
	return nil
}

func (s *SQLite) LoadStylesheet(ctx context.Context, projectID string) (*style.Stylesheet, error) {
	var (
		body  string
		found bool
	)
	err := s.do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT body FROM stylesheets WHERE project_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{projectID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					body = stmt.ColumnText(0)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("unable to load stylesheet: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("stylesheet of project %s: %w", projectID, ErrNotFound)
	}
	sheet, err := style.LoadYAML(bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, fmt.Errorf("stylesheet of project %s: %w", projectID, err)
	}
	return sheet, nil
}

func (s *SQLite) SaveStylesheet(ctx context.Context, projectID string, sheet *style.Stylesheet) error {
	data, err := style.MarshalYAML(sheet)
	if err != nil {
		return err
	}
	err = s.do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO stylesheets (project_id, body) VALUES (?, ?)
ON CONFLICT(project_id) DO UPDATE SET body = excluded.body`,
			&sqlitex.ExecOptions{Args: []any{projectID, string(data)}})
	})
	if err != nil {
		return fmt.Errorf("unable to save stylesheet: %w", err)
	}
	return nil
}
