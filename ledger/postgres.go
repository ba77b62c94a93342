package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bt-bridge/voice-ledger/command"
	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the DDL for the ledger_records table. Apply it with
// [PostgresStore.Migrate] or during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_records (
    id         TEXT PRIMARY KEY,
    sheet_id   TEXT NOT NULL,
    kind       TEXT NOT NULL,
    strategy   TEXT NOT NULL DEFAULT '',
    raw_text   TEXT NOT NULL DEFAULT '',
    payload    JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_ledger_records_sheet_kind ON ledger_records(sheet_id, kind, created_at);
`

// DB is satisfied by *pgxpool.Pool and *pgx.Conn.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps records in PostgreSQL with the typed payload as JSONB.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore does not create the schema; call Migrate first.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	payload, err := marshalPayload(rec)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO ledger_records (id, sheet_id, kind, strategy, raw_text, payload)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`

	var createdAt time.Time
	err = s.db.QueryRow(ctx, query,
		rec.ID, rec.SheetID, string(rec.Kind), string(rec.Strategy), rec.RawText, payload,
	).Scan(&createdAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateRecord, rec.ID)
		}
		return fmt.Errorf("ledger: append: %w", err)
	}
	rec.CreatedAt = createdAt
	return nil
}

func (s *PostgresStore) List(ctx context.Context, sheetID string, kind command.Kind) ([]Record, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if kind == "" {
		const query = `
			SELECT id, sheet_id, kind, strategy, raw_text, payload, created_at
			FROM ledger_records
			WHERE sheet_id = $1
			ORDER BY created_at, id`
		rows, err = s.db.Query(ctx, query, sheetID)
	} else {
		const query = `
			SELECT id, sheet_id, kind, strategy, raw_text, payload, created_at
			FROM ledger_records
			WHERE sheet_id = $1 AND kind = $2
			ORDER BY created_at, id`
		rows, err = s.db.Query(ctx, query, sheetID, string(kind))
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec             Record
			kindCol, strCol string
			payload         []byte
		)
		if err := rows.Scan(
			&rec.ID, &rec.SheetID, &kindCol, &strCol, &rec.RawText, &payload, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ledger: list scan: %w", err)
		}
		rec.Kind = command.Kind(kindCol)
		rec.Strategy = command.Strategy(strCol)
		if err := unmarshalPayload(&rec, payload); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: list rows: %w", err)
	}
	return out, nil
}

func marshalPayload(rec *Record) ([]byte, error) {
	var v any
	switch rec.Kind {
	case command.KindExpense:
		v = rec.Expense
	case command.KindIncome:
		v = rec.Income
	case command.KindTimeLog:
		v = rec.TimeLog
	}
	b, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal %s payload: %w", rec.Kind, err)
	}
	return b, nil
}

func unmarshalPayload(rec *Record, data []byte) error {
	var err error
	switch rec.Kind {
	case command.KindExpense:
		rec.Expense = new(command.Expense)
		err = sonic.Unmarshal(data, rec.Expense)
	case command.KindIncome:
		rec.Income = new(command.Income)
		err = sonic.Unmarshal(data, rec.Income)
	case command.KindTimeLog:
		rec.TimeLog = new(command.TimeLog)
		err = sonic.Unmarshal(data, rec.TimeLog)
	default:
		return fmt.Errorf("ledger: record %s has unknown kind %q", rec.ID, rec.Kind)
	}
	if err != nil {
		return fmt.Errorf("ledger: unmarshal %s payload: %w", rec.Kind, err)
	}
	return nil
}

// isDuplicateKeyError reports a unique violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
