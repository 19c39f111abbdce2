package queue

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// submissionModel is the row of a pending submission.
type submissionModel struct {
	bun.BaseModel `bun:"table:form_submissions"`

	ID        string      `bun:"id,pk"`
	Tag       string      `bun:"tag,notnull"`
	Method    string      `bun:"method,notnull"`
	URL       string      `bun:"url,notnull"`
	Header    http.Header `bun:"header"`
	Body      []byte      `bun:"body"`
	CreatedAt time.Time   `bun:"created_at,notnull"`
	Attempts  int         `bun:"attempts,notnull"`
	LastError string      `bun:"last_error"`
}

// SQLiteQueue keeps submissions in the form_submissions table.
type SQLiteQueue struct {
	db    *bun.DB
	owned bool
}

// OpenSQLiteQueue opens its own database file and creates the table if needed.
func OpenSQLiteQueue(ctx context.Context, filename string) (*SQLiteQueue, error) {
	sqlDB, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	if strings.Contains(filename, ":memory:") || strings.Contains(filename, "mode=memory") {
		// a shared in-memory db lives as long as its last connection
		sqlDB.SetMaxOpenConns(1)
	}
	q, err := NewSQLiteQueue(ctx, sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	q.owned = true
	return q, nil
}

// NewSQLiteQueue wraps an open sqlite database and creates the table if needed.
// The database may be shared with the response caches and is not closed by Close.
func NewSQLiteQueue(ctx context.Context, sqlDB *sql.DB) (*SQLiteQueue, error) {
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	_, err := db.NewCreateTable().
		Model((*submissionModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	_, err = db.NewCreateIndex().
		Model((*submissionModel)(nil)).
		Index("form_submissions_tag_idx").
		IfNotExists().
		Column("tag", "created_at").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return &SQLiteQueue{db: db}, nil
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, s *Submission) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := q.db.NewInsert().
		Model(&submissionModel{
			ID:        s.ID,
			Tag:       s.Tag,
			Method:    s.Method,
			URL:       s.URL,
			Header:    s.Header,
			Body:      s.Body,
			CreatedAt: s.CreatedAt,
			Attempts:  s.Attempts,
			LastError: s.LastError,
		}).
		Exec(ctx)
	return err
}

func (q *SQLiteQueue) Pending(ctx context.Context, tag string) ([]Submission, error) {
	var models []submissionModel
	err := q.db.NewSelect().
		Model(&models).
		Where("tag = ?", tag).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	submissions := make([]Submission, 0, len(models))
	for _, m := range models {
		submissions = append(submissions, Submission{
			ID:        m.ID,
			Tag:       m.Tag,
			Method:    m.Method,
			URL:       m.URL,
			Header:    m.Header,
			Body:      m.Body,
			CreatedAt: m.CreatedAt,
			Attempts:  m.Attempts,
			LastError: m.LastError,
		})
	}
	return submissions, nil
}

func (q *SQLiteQueue) Remove(ctx context.Context, id string) error {
	res, err := q.db.NewDelete().
		Model((*submissionModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (q *SQLiteQueue) MarkFailed(ctx context.Context, id string, cause error) error {
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	res, err := q.db.NewUpdate().
		Model((*submissionModel)(nil)).
		Set("attempts = attempts + 1").
		Set("last_error = ?", lastError).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// Close closes the database if the queue opened it.
func (q *SQLiteQueue) Close() error {
	if !q.owned {
		return nil
	}
	return q.db.Close()
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
