// Package ledger is the engine's durable record: executed orders, bot
// configurations and the instrument master, all in a single DuckDB database.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"

	"github.com/tradebot-lab/helmsman/internal/logger"
	"github.com/tradebot-lab/helmsman/internal/types"
	"github.com/tradebot-lab/helmsman/pkg/errors"
)

// Store is the persistence surface the rest of the engine depends on.
type Store interface {
	// InsertExecution appends one executed order to the ledger.
	InsertExecution(ctx context.Context, record types.ExecutionRecord) error
	// ListExecutions returns executions ordered by timestamp descending,
	// optionally bounded to a time range.
	ListExecutions(ctx context.Context, start, end optional.Option[time.Time]) ([]types.ExecutionRecord, error)
	// RegisterBot stores or replaces a bot's strategy binding.
	RegisterBot(ctx context.Context, botID, strategyRef string) error
	// LookupBotStrategy resolves a bot id to its strategy reference.
	LookupBotStrategy(ctx context.Context, botID string) (string, error)
	// SymbolToken resolves a trading symbol to its exchange token.
	SymbolToken(ctx context.Context, symbol string) (string, error)
	// SeedInstrumentsCSV loads the instrument master from a CSV file,
	// replacing any existing rows.
	SeedInstrumentsCSV(ctx context.Context, path string) error
	// Close releases the database.
	Close() error
}

// DuckDBStore implements Store on a DuckDB database file.
type DuckDBStore struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewDuckDBStore opens (or creates) the ledger database at path and ensures
// the schema exists. Use ":memory:" for an ephemeral store.
func NewDuckDBStore(path string, logger *logger.Logger) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to open ledger database", err)
	}

	store := &DuckDBStore{
		db:     db,
		logger: logger,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}

	if err := store.createTables(); err != nil {
		_ = db.Close()

		return nil, err
	}

	return store, nil
}

func (s *DuckDBStore) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			order_id TEXT,
			side TEXT,
			symbol TEXT,
			price DOUBLE,
			quantity INTEGER,
			timestamp TIMESTAMP,
			owner_id TEXT,
			bot_id TEXT
		);

		CREATE TABLE IF NOT EXISTS bots (
			bot_id TEXT PRIMARY KEY,
			strategy_ref TEXT
		);

		CREATE TABLE IF NOT EXISTS instruments (
			symbol TEXT PRIMARY KEY,
			token TEXT
		);
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to create ledger tables", err)
	}

	return nil
}

// InsertExecution implements Store.
func (s *DuckDBStore) InsertExecution(ctx context.Context, record types.ExecutionRecord) error {
	query, args, err := s.sq.
		Insert("executions").
		Columns("id", "order_id", "side", "symbol", "price", "quantity", "timestamp", "owner_id", "bot_id").
		Values(record.ID, record.OrderID, string(record.Side), record.Symbol,
			record.Price, record.Quantity, record.Timestamp, record.OwnerID, record.BotID).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to build insert query", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to insert execution", err)
	}

	return nil
}

// ListExecutions implements Store.
func (s *DuckDBStore) ListExecutions(ctx context.Context, start, end optional.Option[time.Time]) ([]types.ExecutionRecord, error) {
	builder := s.sq.
		Select("id", "order_id", "side", "symbol", "price", "quantity", "timestamp", "owner_id", "bot_id").
		From("executions").
		OrderBy("timestamp DESC")

	if start.IsSome() {
		builder = builder.Where(squirrel.GtOrEq{"timestamp": start.Unwrap()})
	}

	if end.IsSome() {
		builder = builder.Where(squirrel.LtOrEq{"timestamp": end.Unwrap()})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerQueryFailed, "failed to build list query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerQueryFailed, "failed to query executions", err)
	}
	defer rows.Close()

	records := make([]types.ExecutionRecord, 0)

	for rows.Next() {
		var record types.ExecutionRecord

		var side string

		err := rows.Scan(&record.ID, &record.OrderID, &side, &record.Symbol,
			&record.Price, &record.Quantity, &record.Timestamp, &record.OwnerID, &record.BotID)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeLedgerQueryFailed, "failed to scan execution row", err)
		}

		record.Side = types.OrderSide(side)
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerQueryFailed, "failed to iterate executions", err)
	}

	return records, nil
}

// RegisterBot implements Store.
func (s *DuckDBStore) RegisterBot(ctx context.Context, botID, strategyRef string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bots (bot_id, strategy_ref)
		VALUES (?, ?)
		ON CONFLICT (bot_id) DO UPDATE SET strategy_ref = excluded.strategy_ref
	`, botID, strategyRef)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to register bot", err)
	}

	return nil
}

// LookupBotStrategy implements Store.
func (s *DuckDBStore) LookupBotStrategy(ctx context.Context, botID string) (string, error) {
	query, args, err := s.sq.
		Select("strategy_ref").
		From("bots").
		Where(squirrel.Eq{"bot_id": botID}).
		ToSql()
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeLedgerQueryFailed, "failed to build bot lookup query", err)
	}

	var strategyRef string

	err = s.db.QueryRowContext(ctx, query, args...).Scan(&strategyRef)
	if err == sql.ErrNoRows {
		return "", errors.Newf(errors.ErrCodeBotConfigNotFound, "no configuration for bot: %s", botID)
	}

	if err != nil {
		return "", errors.Wrap(errors.ErrCodeLedgerQueryFailed, "failed to look up bot strategy", err)
	}

	return strategyRef, nil
}

// SymbolToken implements Store.
func (s *DuckDBStore) SymbolToken(ctx context.Context, symbol string) (string, error) {
	query, args, err := s.sq.
		Select("token").
		From("instruments").
		Where(squirrel.Eq{"symbol": symbol}).
		ToSql()
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeLedgerQueryFailed, "failed to build instrument query", err)
	}

	var token string

	err = s.db.QueryRowContext(ctx, query, args...).Scan(&token)
	if err == sql.ErrNoRows {
		return "", errors.Newf(errors.ErrCodeUnknownSymbol, "unknown symbol: %s", symbol)
	}

	if err != nil {
		return "", errors.Wrap(errors.ErrCodeLedgerQueryFailed, "failed to look up symbol token", err)
	}

	return token, nil
}

// SeedInstrumentsCSV implements Store. The CSV must have symbol and token
// columns; DuckDB infers the rest.
func (s *DuckDBStore) SeedInstrumentsCSV(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM instruments`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to clear instruments", err)
	}

	// Squirrel doesn't cover read_csv_auto, so raw SQL here. The path is
	// interpolated into a string literal; single quotes must be doubled.
	query := fmt.Sprintf(`
		INSERT INTO instruments (symbol, token)
		SELECT symbol, CAST(token AS TEXT) FROM read_csv_auto('%s')
	`, strings.ReplaceAll(path, "'", "''"))

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to seed instruments from csv", err)
	}

	return nil
}

// Close implements Store.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}

var _ Store = (*DuckDBStore)(nil)
