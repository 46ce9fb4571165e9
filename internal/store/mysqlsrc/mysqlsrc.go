// Package mysqlsrc provides a read-only reading source backed by MySQL,
// for deployments where observational data is ingested into MySQL rather
// than the primary Postgres store.
package mysqlsrc

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/earlywatch/sentinel/internal/models"
	"github.com/earlywatch/sentinel/internal/store"
)

type Source struct {
	dsn string
	db  *sql.DB
}

func New(dsn string) *Source {
	return &Source{dsn: dsn}
}

func (s *Source) Connect(ctx context.Context) error {
	db, err := sql.Open("mysql", s.dsn)
	if err != nil {
		return fmt.Errorf("failed to open mysql connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping mysql: %w", err)
	}
	s.db = db
	return nil
}

func (s *Source) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Source) GetReadings(ctx context.Context, q store.ReadingQuery) ([]models.Reading, error) {
	if s.db == nil {
		return nil, store.ErrNotConnected
	}

	query := `SELECT variable_code, variable_name, location_id, location_name,
                     admin_level, start_date, end_date, value, text, raw_data
              FROM variable_readings WHERE variable_code = ?`
	args := []any{q.VariableCode}

	if q.Start != nil && q.End != nil {
		query += " AND start_date <= ? AND end_date >= ?"
		args = append(args, *q.End, *q.Start)
	} else if q.Start != nil {
		query += " AND end_date >= ?"
		args = append(args, *q.Start)
	} else if q.End != nil {
		query += " AND start_date <= ?"
		args = append(args, *q.End)
	}
	if len(q.LocationIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.LocationIDs)), ",")
		query += " AND location_id IN (" + placeholders + ")"
		for _, id := range q.LocationIDs {
			args = append(args, id)
		}
	}
	if q.AdminLevel != nil {
		query += " AND admin_level = ?"
		args = append(args, *q.AdminLevel)
	}
	if q.Start == nil && q.End == nil {
		query += " ORDER BY start_date DESC"
	} else {
		query += " ORDER BY start_date ASC"
	}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		var r models.Reading
		var rawData []byte
		if err := rows.Scan(&r.VariableCode, &r.VariableName, &r.LocationID, &r.LocationName,
			&r.AdminLevel, &r.Start, &r.End, &r.Value, &r.Text, &rawData); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		if len(rawData) > 0 {
			if err := json.Unmarshal(rawData, &r.Raw); err != nil {
				return nil, fmt.Errorf("failed to decode raw_data: %w", err)
			}
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}
