package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/errors"
	"github.com/sirupsen/logrus"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	conn       *sql.DB
	statements *statements
}

// Open creates the database file if needed, applies pragmas and schema and
// prepares the ledger statements.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	const op = "sqlite.Open"

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, errors.Internal(op, err, "failed to create database directory")
	}

	conn, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, errors.Internal(op, err, "failed to open database")
	}

	conn.SetMaxOpenConns(cfg.MaxConnections)
	conn.SetMaxIdleConns(cfg.MaxIdle)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := configurePragmas(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := execSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	stmts := &statements{}
	if err := stmts.prepare(ctx, conn); err != nil {
		stmts.close()
		conn.Close()
		return nil, err
	}

	logrus.WithField("path", cfg.Path).Info("Usage ledger opened")

	return &DB{conn: conn, statements: stmts}, nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Close() error {
	const op = "sqlite.Close"

	stmtErr := db.statements.close()
	if err := db.conn.Close(); err != nil {
		return errors.Internal(op, err, "failed to close database")
	}
	if stmtErr != nil {
		return errors.Internal(op, stmtErr, "failed to close statements")
	}
	return nil
}

func configurePragmas(ctx context.Context, conn *sql.DB) error {
	const op = "sqlite.configurePragmas"

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			return errors.Internal(op, err, fmt.Sprintf("failed to set pragma: %s", pragma))
		}
	}
	return nil
}

func execSchema(ctx context.Context, conn *sql.DB) error {
	const op = "sqlite.execSchema"

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Internal(op, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Internal(op, err, fmt.Sprintf("failed to execute schema statement: %s", stmt))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Internal(op, err, "failed to commit schema transaction")
	}
	return nil
}

type statements struct {
	insert     *sql.Stmt
	listByUser *sql.Stmt
}

func (s *statements) prepare(ctx context.Context, conn *sql.DB) error {
	const op = "statements.prepare"

	var err error
	if s.insert, err = conn.PrepareContext(ctx, insertUsageQuery); err != nil {
		return errors.Internal(op, err, "failed to prepare insert statement")
	}
	if s.listByUser, err = conn.PrepareContext(ctx, listByUserQuery); err != nil {
		return errors.Internal(op, err, "failed to prepare list statement")
	}
	return nil
}

func (s *statements) close() error {
	var errs []error
	for _, stmt := range [...]*sql.Stmt{s.insert, s.listByUser} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close prepared statements: %v", errs)
	}
	return nil
}
