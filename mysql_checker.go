package main

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// MySQLChecker validates the database is usable before the pipeline starts:
// connectivity, required privileges, and the capture schema (change log
// table, entity table, triggers).
type MySQLChecker struct {
	db             *sql.DB
	database       string
	changeLogTable string
	entityTable    string
	logger         *logrus.Logger
}

// NewMySQLChecker creates a checker over an open connection.
func NewMySQLChecker(db *sql.DB, database, changeLogTable, entityTable string, logger *logrus.Logger) *MySQLChecker {
	return &MySQLChecker{
		db:             db,
		database:       database,
		changeLogTable: changeLogTable,
		entityTable:    entityTable,
		logger:         logger,
	}
}

// Check verifies connection, permissions and schema. Any error here is a
// startup failure; the process must not begin serving.
func (c *MySQLChecker) Check() error {
	if err := c.db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to MySQL server: %w", err)
	}
	c.logger.Info("Successfully connected to MySQL server")

	if err := c.checkPermissions(); err != nil {
		return err
	}

	// The change log table is load-bearing: without it there is no feed.
	exists, err := c.tableExists(c.changeLogTable)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("change log table %q does not exist in %s", c.changeLogTable, c.database)
	}

	exists, err = c.tableExists(c.entityTable)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("entity table %q does not exist in %s", c.entityTable, c.database)
	}

	// Missing triggers mean an empty feed, not a broken process. Warn only:
	// they may be installed after the service starts.
	c.checkTriggers()

	c.logger.Info("MySQL schema and permissions verified")
	return nil
}

// checkPermissions verifies the grants the pipeline needs: SELECT for
// fetching, UPDATE for the delivered flag, DELETE for retention.
func (c *MySQLChecker) checkPermissions() error {
	requiredPrivs := []string{
		"SELECT",
		"UPDATE",
		"DELETE",
	}

	// Get current user grants (SHOW GRANTS can return multiple rows)
	var allGrants strings.Builder
	rows, err := c.db.Query("SHOW GRANTS FOR CURRENT_USER()")
	if err != nil {
		// Try alternative query for MySQL 5.6
		rows, err = c.db.Query("SHOW GRANTS")
		if err != nil {
			return fmt.Errorf("failed to check grants: %w", err)
		}
	}
	defer rows.Close()

	for rows.Next() {
		var grant string
		if err := rows.Scan(&grant); err != nil {
			return fmt.Errorf("failed to scan grant: %w", err)
		}
		if allGrants.Len() > 0 {
			allGrants.WriteString("; ")
		}
		allGrants.WriteString(grant)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating grants: %w", err)
	}

	grantsStr := allGrants.String()
	grantsUpper := strings.ToUpper(grantsStr)

	if strings.Contains(grantsUpper, "ALL PRIVILEGES") {
		c.logger.Info("All required permissions verified")
		return nil
	}

	missingPrivs := []string{}
	for _, priv := range requiredPrivs {
		if !strings.Contains(grantsUpper, priv) {
			missingPrivs = append(missingPrivs, priv)
		}
	}

	if len(missingPrivs) > 0 {
		return fmt.Errorf("missing required permissions: %s. Current grants: %s", strings.Join(missingPrivs, ", "), grantsStr)
	}

	c.logger.Info("All required permissions verified")
	return nil
}

func (c *MySQLChecker) tableExists(table string) (bool, error) {
	var count int
	err := c.db.QueryRow(`
		SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`, c.database, table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return count > 0, nil
}

func (c *MySQLChecker) checkTriggers() {
	var count int
	err := c.db.QueryRow(`
		SELECT COUNT(*) FROM INFORMATION_SCHEMA.TRIGGERS
		WHERE TRIGGER_SCHEMA = ? AND EVENT_OBJECT_TABLE = ?`, c.database, c.entityTable).Scan(&count)
	if err != nil {
		c.logger.Warnf("Could not verify capture triggers: %v", err)
		return
	}

	if count < 3 {
		c.logger.Warnf("Expected 3 capture triggers on %s (insert/update/delete), found %d; the change feed may be incomplete", c.entityTable, count)
	} else {
		c.logger.Infof("Capture triggers present on %s", c.entityTable)
	}
}
