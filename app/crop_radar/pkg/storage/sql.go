package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/dedup"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/logger"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/model"
)

const (
	recordsTable = "news_records"
	stateTable   = "run_state"
)

var recordColumns = []string{
	"published_date",
	"title",
	"source",
	"category",
	"companies_mentioned",
	"funding_amount",
	"summary",
	"url",
	"key_entities",
	"added_at",
}

// SQLStore 使用 Postgres 或 SQLite 保存记录；identity 列唯一，重复追加返回 ErrDuplicateRecord
type SQLStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// NewSQLStore 打开数据库连接并建表
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if driver == "sqlite" {
		// :memory: 数据库每个连接各自独立
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	s, err := newSQLStore(ctx, db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newSQLStore(ctx context.Context, db *sql.DB, driver string) (*SQLStore, error) {
	var placeholder sq.PlaceholderFormat = sq.Question
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "postgres" {
		placeholder = sq.Dollar
		idColumn = "BIGSERIAL PRIMARY KEY"
	}

	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id %s,
	identity TEXT NOT NULL UNIQUE,
	published_date TEXT NOT NULL,
	title TEXT NOT NULL,
	source TEXT NOT NULL,
	category TEXT NOT NULL,
	companies_mentioned TEXT NOT NULL,
	funding_amount TEXT NOT NULL,
	summary TEXT NOT NULL,
	url TEXT NOT NULL,
	key_entities TEXT NOT NULL,
	added_at TEXT NOT NULL
)`, recordsTable, idColumn),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`, stateTable),
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &SQLStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
	}, nil
}

func (s *SQLStore) AppendRecord(ctx context.Context, rec model.ClassifiedRecord) error {
	row := EncodeRow(rec)
	values := make([]any, 0, len(row)+1)
	values = append(values, string(dedup.FromRecord(rec)))
	for _, v := range row {
		values = append(values, removeNullBytes(v))
	}

	query, args, err := s.builder.
		Insert(recordsTable).
		Columns(append([]string{"identity"}, recordColumns...)...).
		Values(values...).
		Suffix("ON CONFLICT (identity) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateRecord, rec.Title)
	}
	return nil
}

func (s *SQLStore) ListRecords(ctx context.Context) ([]model.ClassifiedRecord, error) {
	query, args, err := s.builder.Select(append([]string{"id"}, recordColumns...)...).From(recordsTable).OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []model.ClassifiedRecord
	for rows.Next() {
		var id int64
		row := make([]string, len(recordColumns))
		dest := make([]any, 0, len(row)+1)
		dest = append(dest, &id)
		for i := range row {
			dest = append(dest, &row[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := DecodeRow(row)
		if err != nil {
			logger.Log.Warnf("跳过记录 id=%d: %v", id, err)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return records, nil
}

func (s *SQLStore) ReadWatermark(ctx context.Context) (time.Time, bool, error) {
	query, args, err := s.builder.Select("value").From(stateTable).Where(sq.Eq{"name": watermarkKey}).ToSql()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("build select: %w", err)
	}

	var v string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("read watermark: %w", err)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse watermark %q: %w", v, err)
	}
	return t, true, nil
}

func (s *SQLStore) WriteWatermark(ctx context.Context, t time.Time) error {
	query, args, err := s.builder.
		Insert(stateTable).
		Columns("name", "value").
		Values(watermarkKey, t.UTC().Format(time.RFC3339)).
		Suffix("ON CONFLICT (name) DO UPDATE SET value = excluded.value").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write watermark: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// removeNullBytes PostgreSQL 文本字段不支持 NULL 字节
func removeNullBytes(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
