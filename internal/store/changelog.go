package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"mysql-livefeed/internal/models"
)

// ChangeLog reads and updates the trigger-populated change log table. The
// table is append-only from the pipeline's point of view; the only column it
// ever writes is `delivered`.
type ChangeLog struct {
	db           *sql.DB
	table        string
	queryTimeout time.Duration
	logger       *logrus.Logger
}

// NewChangeLog creates a change log client for the given table.
func NewChangeLog(db *sql.DB, table string, queryTimeout time.Duration, logger *logrus.Logger) *ChangeLog {
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &ChangeLog{
		db:           db,
		table:        table,
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// FetchUndelivered returns up to limit undelivered records with id > afterID,
// ascending by id. Gaps in ids are normal (rolled-back inserts).
func (c *ChangeLog) FetchUndelivered(ctx context.Context, afterID int64, limit int) ([]models.ChangeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, entity_id, operation, before_data, after_data, occurred_at, delivered
		FROM %s
		WHERE id > ? AND delivered = FALSE
		ORDER BY id ASC
		LIMIT ?`, c.table)

	rows, err := c.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query change log: %w", err)
	}
	defer rows.Close()

	var records []models.ChangeRecord
	for rows.Next() {
		var (
			rec      models.ChangeRecord
			entityID sql.NullInt64
			before   sql.NullString
			after    sql.NullString
		)
		if err := rows.Scan(&rec.ID, &entityID, &rec.Operation, &before, &after, &rec.OccurredAt, &rec.Delivered); err != nil {
			return nil, fmt.Errorf("failed to scan change record: %w", err)
		}
		if entityID.Valid {
			id := entityID.Int64
			rec.EntityID = &id
		}
		if before.Valid {
			s := before.String
			rec.Before = &s
		}
		if after.Valid {
			s := after.String
			rec.After = &s
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change records: %w", err)
	}

	return records, nil
}

// MarkDelivered flags a single record as delivered. Idempotent: re-marking an
// already delivered record is a no-op.
func (c *ChangeLog) MarkDelivered(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	query := fmt.Sprintf("UPDATE %s SET delivered = TRUE WHERE id = ?", c.table)
	if _, err := c.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark change %d delivered: %w", id, err)
	}
	return nil
}

// MaxDeliveredID returns the highest delivered id, 0 when nothing has been
// delivered yet. The cursor recovers from this on startup.
func (c *ChangeLog) MaxDeliveredID(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT COALESCE(MAX(id), 0) FROM %s WHERE delivered = TRUE", c.table)
	var maxID int64
	if err := c.db.QueryRowContext(ctx, query).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("failed to load max delivered id: %w", err)
	}
	return maxID, nil
}

// PruneDelivered deletes delivered records older than the most recent keep
// rows. Best effort: callers log and move on.
func (c *ChangeLog) PruneDelivered(ctx context.Context, keep int) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	// Find the cutoff id: the keep-th most recent delivered record. Fewer than
	// keep delivered rows means nothing to prune.
	cutoffQuery := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE delivered = TRUE
		ORDER BY id DESC
		LIMIT 1 OFFSET ?`, c.table)

	var cutoff int64
	err := c.db.QueryRowContext(ctx, cutoffQuery, keep-1).Scan(&cutoff)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find retention cutoff: %w", err)
	}

	deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE delivered = TRUE AND id < ?", c.table)
	result, err := c.db.ExecContext(ctx, deleteQuery, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune delivered changes: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		c.logger.Debugf("Pruned %d delivered change records below id %d", n, cutoff)
	}
	return nil
}
