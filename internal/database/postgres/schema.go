package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/variance-tracker/internal/database"
)

// probeCapabilities reads the optional analysis columns from
// information_schema once.
func probeCapabilities(ctx context.Context, pool *Pool) (database.SchemaCapabilities, error) {
	rows, err := pool.Query(ctx, `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema()
		  AND table_name IN ('session_analysis', 'angle_analysis', 'analysis_logs')
	`)
	if err != nil {
		return database.SchemaCapabilities{}, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	sessionCols := make(map[string]bool)
	angleCols := make(map[string]bool)
	hasLogs := false
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return database.SchemaCapabilities{}, fmt.Errorf("scan column: %w", err)
		}
		switch table {
		case "session_analysis":
			sessionCols[column] = true
		case "angle_analysis":
			angleCols[column] = true
		case "analysis_logs":
			hasLogs = true
		}
	}
	if err := rows.Err(); err != nil {
		return database.SchemaCapabilities{}, fmt.Errorf("iterate columns: %w", err)
	}

	return database.CapabilitiesFromColumns(sessionCols, angleCols, hasLogs), nil
}
