package backtest

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/tradeforge-dev/backsim/internal/logger"
	"github.com/tradeforge-dev/backsim/internal/types"
	"github.com/tradeforge-dev/backsim/pkg/errors"
	"go.uber.org/zap"
)

// RunState persists every terminal order of a run into an in-memory DuckDB
// table, keyed by a generated run id, and exports the order log to Parquet.
// The broker stays storage-free; the engine records through this store from
// the notification path.
type RunState struct {
	db    *sql.DB
	log   *logger.Logger
	sq    squirrel.StatementBuilderType
	runID string
}

// NewRunState opens an in-memory database for a single run.
func NewRunState(log *logger.Logger) (*RunState, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStateStoreFailed, "failed to open database", err)
	}

	return &RunState{
		db:    db,
		log:   log,
		sq:    squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		runID: uuid.New().String(),
	}, nil
}

// RunID returns the generated id for this run.
func (s *RunState) RunID() string {
	return s.runID
}

// Initialize creates the orders table.
func (s *RunState) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			run_id TEXT,
			order_id BIGINT,
			symbol TEXT,
			side TEXT,
			status TEXT,
			reason TEXT,
			requested_size DOUBLE,
			filled_size DOUBLE,
			requested_price DOUBLE,
			filled_price DOUBLE,
			commission DOUBLE,
			realized_pnl DOUBLE,
			created_at TIMESTAMP,
			executed_at TIMESTAMP
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStateStoreFailed, "failed to create orders table", err)
	}

	return nil
}

// RecordOrder inserts a terminal order.
func (s *RunState) RecordOrder(order types.Order) error {
	insertQuery := s.sq.
		Insert("orders").
		Columns(
			"run_id", "order_id", "symbol", "side", "status", "reason",
			"requested_size", "filled_size", "requested_price", "filled_price",
			"commission", "realized_pnl", "created_at", "executed_at",
		).
		Values(
			s.runID, order.ID, order.Symbol, order.Side, order.Status, order.Reason,
			order.RequestedSize, order.FilledSize, order.RequestedPrice, order.FilledPrice,
			order.Commission, order.RealizedPnL, order.CreatedAt, order.ExecutedAt,
		).
		RunWith(s.db)

	if _, err := insertQuery.Exec(); err != nil {
		return errors.Wrapf(errors.ErrCodeStateStoreFailed, err, "failed to insert order %d", order.ID)
	}

	return nil
}

// OrderCount returns the number of recorded orders, optionally filtered by
// status. An empty status counts everything.
func (s *RunState) OrderCount(status types.OrderStatus) (int, error) {
	countQuery := s.sq.
		Select("COUNT(*)").
		From("orders").
		RunWith(s.db)

	if status != "" {
		countQuery = countQuery.Where(squirrel.Eq{"status": string(status)})
	}

	var count int
	if err := countQuery.QueryRow().Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count orders", err)
	}

	return count, nil
}

// TotalRealizedPnL sums the realized PnL over all recorded filled orders.
func (s *RunState) TotalRealizedPnL() (float64, error) {
	sumQuery := s.sq.
		Select("COALESCE(SUM(realized_pnl), 0)").
		From("orders").
		Where(squirrel.Eq{"status": string(types.OrderStatusFilled)}).
		RunWith(s.db)

	var total float64
	if err := sumQuery.QueryRow().Scan(&total); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to sum realized pnl", err)
	}

	return total, nil
}

// GetOrders returns all recorded orders in submission order.
func (s *RunState) GetOrders() ([]types.Order, error) {
	selectQuery := s.sq.
		Select(
			"order_id", "symbol", "side", "status", "reason",
			"requested_size", "filled_size", "requested_price", "filled_price",
			"commission", "realized_pnl", "created_at", "executed_at",
		).
		From("orders").
		OrderBy("order_id ASC").
		RunWith(s.db)

	rows, err := selectQuery.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query orders", err)
	}
	defer rows.Close()

	var orders []types.Order

	for rows.Next() {
		var order types.Order

		err := rows.Scan(
			&order.ID, &order.Symbol, &order.Side, &order.Status, &order.Reason,
			&order.RequestedSize, &order.FilledSize, &order.RequestedPrice, &order.FilledPrice,
			&order.Commission, &order.RealizedPnL, &order.CreatedAt, &order.ExecutedAt,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan order", err)
		}

		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating orders", err)
	}

	return orders, nil
}

// Write exports the order log to a Parquet file in the given directory.
func (s *RunState) Write(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeResultsWriteFailed, "failed to create results directory", err)
	}

	// Raw SQL: squirrel has no COPY syntax.
	ordersPath := filepath.Join(path, "orders.parquet")

	_, err := s.db.Exec(fmt.Sprintf(`COPY orders TO '%s' (FORMAT PARQUET)`, ordersPath))
	if err != nil {
		return errors.Wrap(errors.ErrCodeResultsWriteFailed, "failed to export orders to Parquet", err)
	}

	s.log.Info("exported order log",
		zap.String("run_id", s.runID),
		zap.String("orders", ordersPath),
	)

	return nil
}

// Cleanup drops and recreates the orders table.
func (s *RunState) Cleanup() error {
	if _, err := s.db.Exec(`DROP TABLE IF EXISTS orders`); err != nil {
		return errors.Wrap(errors.ErrCodeStateStoreFailed, "failed to drop orders table", err)
	}

	return s.Initialize()
}

// Close releases the database.
func (s *RunState) Close() error {
	return s.db.Close()
}
