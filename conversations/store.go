// Package conversations persists chat transcripts so a conversation can be
// resumed across llmctl runs.
package conversations

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/migrations"
	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

const (
	table = "conversations"

	// A reset is recorded as a system row; Load only returns messages after the latest one.
	roleReset = "system"
)

// Thread summarizes one stored conversation.
type Thread struct {
	ID        string
	Messages  int
	UpdatedAt time.Time
}

// Store handles persistence of conversation messages.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store on an already migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (creating if needed) the sqlite database at path and migrates it.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := migrations.RunMigrations(db, logger); err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		return nil, err
	}
	return NewStore(db), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append saves messages to the thread in one transaction. provider and model
// record who produced the assistant turns.
func (s *Store) Append(ctx context.Context, threadID, provider, model string, messages ...llm.Message) error {
	if len(messages) == 0 {
		return nil
	}
	now := time.Now().Unix()
	query := sq.Insert(table).Columns("thread_id", "role", "content", "provider", "model", "created_at")
	for _, m := range messages {
		query = query.Values(threadID, string(m.Role), m.Content, provider, model, now)
	}

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, queryStr, args...); err != nil {
		_ = tx.Rollback() //nolint:errcheck // the insert error is the one to report
		return fmt.Errorf("append messages: %w", err)
	}
	return tx.Commit()
}

// Reset starts the thread over. Earlier messages stay in the database but are
// no longer returned by Load.
func (s *Store) Reset(ctx context.Context, threadID string) error {
	queryStr, args, err := sq.Insert(table).
		Columns("thread_id", "role", "content", "created_at").
		Values(threadID, roleReset, "reset", time.Now().Unix()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// Load returns the user and assistant messages of the thread since its last
// reset, oldest first.
func (s *Store) Load(ctx context.Context, threadID string) ([]llm.Message, error) {
	lastReset := sq.Select("COALESCE(MAX(id), 0)").
		From(table).
		Where(sq.Eq{"thread_id": threadID, "role": roleReset})
	resetSQL, resetArgs, err := lastReset.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	queryStr, args, err := sq.Select("role", "content").
		From(table).
		Where(sq.Eq{"thread_id": threadID, "role": []string{string(llm.RoleUser), string(llm.RoleAssistant)}}).
		Where(sq.Expr("id > ("+resetSQL+")", resetArgs...)).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("load thread %q: %w", threadID, err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err reports read failures

	var messages []llm.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, llm.NewMessage(llm.Role(role), content))
	}
	return messages, rows.Err()
}

// Threads lists stored threads, most recently updated first.
func (s *Store) Threads(ctx context.Context) ([]Thread, error) {
	queryStr, args, err := sq.Select("thread_id", "COUNT(*)", "MAX(created_at)").
		From(table).
		Where(sq.NotEq{"role": roleReset}).
		GroupBy("thread_id").
		OrderBy("MAX(created_at) DESC", "thread_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err reports read failures

	var threads []Thread
	for rows.Next() {
		var th Thread
		var updated int64
		if err := rows.Scan(&th.ID, &th.Messages, &updated); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		th.UpdatedAt = time.Unix(updated, 0)
		threads = append(threads, th)
	}
	return threads, rows.Err()
}

// Recorder appends each completed turn of a History to a thread.
type Recorder struct {
	store    *Store
	threadID string
	history  *llm.History
	saved    int
}

// Resume loads the thread into a new History and returns a Recorder for it.
func Resume(ctx context.Context, store *Store, threadID string) (*Recorder, error) {
	messages, err := store.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		store:    store,
		threadID: threadID,
		history:  llm.NewHistory(messages...),
		saved:    len(messages),
	}, nil
}

// History returns the live transcript to pass in GenerateOptions.
func (r *Recorder) History() *llm.History {
	return r.history
}

// Save persists messages added to the History since the last Save.
func (r *Recorder) Save(ctx context.Context, provider, model string) error {
	messages := r.history.Messages()
	if len(messages) <= r.saved {
		return nil
	}
	if err := r.store.Append(ctx, r.threadID, provider, model, messages[r.saved:]...); err != nil {
		return err
	}
	r.saved = len(messages)
	return nil
}

// Reset clears the History and records a reset for the thread.
func (r *Recorder) Reset(ctx context.Context) error {
	if err := r.store.Reset(ctx, r.threadID); err != nil {
		return err
	}
	r.history = llm.NewHistory()
	r.saved = 0
	return nil
}
