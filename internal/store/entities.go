package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Entities reads the current state of the business entity table for
// late-joiner snapshots. Column layout is not assumed; rows come back as
// generic maps so the wire shape mirrors the table.
type Entities struct {
	db           *sql.DB
	table        string
	queryTimeout time.Duration
	logger       *logrus.Logger
}

// NewEntities creates an entity store client for the given table.
func NewEntities(db *sql.DB, table string, queryTimeout time.Duration, logger *logrus.Logger) *Entities {
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &Entities{
		db:           db,
		table:        table,
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// ListAll returns every current entity row, ordered by id for a stable
// snapshot. Ordering is cosmetic; snapshot correctness does not depend on it.
func (e *Entities) ListAll(ctx context.Context) ([]map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT * FROM %s ORDER BY id", e.table)
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read entity columns: %w", err)
	}

	entities := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		targets := make([]interface{}, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}

		entity := make(map[string]interface{}, len(columns))
		for i, name := range columns {
			entity[name] = convertValue(values[i])
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	e.logger.Debugf("Loaded %d entities from %s for snapshot", len(entities), e.table)
	return entities, nil
}

// convertValue turns driver values into JSON-friendly types. The MySQL driver
// hands text columns back as []byte, which would otherwise be base64 encoded.
func convertValue(value interface{}) interface{} {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}
