package bank

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"quizbot/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS answers (
	question TEXT PRIMARY KEY,
	chapter  TEXT NOT NULL DEFAULT '',
	answer   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_answers_chapter ON answers(chapter);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("bank.path is required for sqlite driver")
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

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Lookup(ctx context.Context, questionText string) (string, bool, error) {
	var answer string
	err := s.db.QueryRowContext(ctx,
		"SELECT answer FROM answers WHERE question = ?", questionText).Scan(&answer)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return answer, true, nil
}

func (s *sqliteStore) Put(ctx context.Context, chapter, questionText, answer string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (question, chapter, answer) VALUES (?, ?, ?)
		 ON CONFLICT(question) DO UPDATE SET chapter = excluded.chapter, answer = excluded.answer`,
		questionText, chapter, answer)
	return err
}

func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM answers").Scan(&n)
	return n, err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
