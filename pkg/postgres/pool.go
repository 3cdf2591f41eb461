// Package postgres provides PostgreSQL connection pooling and the forensic
// report archive.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a report does not exist.
var ErrNotFound = errors.New("report not found")

// Pool wraps pgxpool.Pool with domain-specific query methods.
type Pool struct {
	*pgxpool.Pool
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// Pool settings
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
	HealthCheck time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Host:        "localhost",
		Port:        5432,
		Database:    "autoforensics",
		User:        "autoforensics",
		Password:    "autoforensics",
		SSLMode:     "disable",
		MaxConns:    25,
		MinConns:    5,
		MaxConnLife: time.Hour,
		MaxConnIdle: 30 * time.Minute,
		HealthCheck: time.Minute,
	}
}

// ConnectionString builds a PostgreSQL connection string.
func (c Config) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// NewPool creates a new PostgreSQL connection pool.
func NewPool(ctx context.Context, cfg Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLife
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdle
	poolCfg.HealthCheckPeriod = cfg.HealthCheck

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// NewPoolFromURL creates a pool from a connection URL.
func NewPoolFromURL(ctx context.Context, url string) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Health verifies database connectivity.
func (p *Pool) Health(ctx context.Context) error {
	return p.Ping(ctx)
}

// EnsureSchema creates the report archive table if it does not exist.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	_, err := p.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS forensic_reports (
			report_id        TEXT PRIMARY KEY,
			attack_type      TEXT NOT NULL,
			filename         TEXT NOT NULL,
			threat_level     TEXT NOT NULL,
			confidence_score DOUBLE PRECISION NOT NULL,
			report           JSONB NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure report schema: %w", err)
	}
	return nil
}

// ReportRow is an archived analysis report.
type ReportRow struct {
	ReportID        string          `json:"report_id"`
	AttackType      string          `json:"attack_type"`
	Filename        string          `json:"filename"`
	ThreatLevel     string          `json:"threat_level"`
	ConfidenceScore float64         `json:"confidence_score"`
	Report          json.RawMessage `json:"report"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ReportFilter defines filter options for report queries.
type ReportFilter struct {
	AttackType  string
	ThreatLevel string
	Since       *time.Time
	Limit       int
	Offset      int
}

// InsertReport archives a completed report.
func (p *Pool) InsertReport(ctx context.Context, row ReportRow) error {
	_, err := p.Exec(ctx, `
		INSERT INTO forensic_reports
			(report_id, attack_type, filename, threat_level, confidence_score, report, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, row.ReportID, row.AttackType, row.Filename, row.ThreatLevel, row.ConfidenceScore, row.Report, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert report %s: %w", row.ReportID, err)
	}
	return nil
}

// ListReports retrieves archived reports with optional filtering, newest
// first.
func (p *Pool) ListReports(ctx context.Context, filter ReportFilter) ([]ReportRow, error) {
	query := `
		SELECT report_id, attack_type, filename, threat_level, confidence_score, report, created_at
		FROM forensic_reports
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.AttackType != "" {
		query += fmt.Sprintf(" AND attack_type = $%d", argNum)
		args = append(args, filter.AttackType)
		argNum++
	}

	if filter.ThreatLevel != "" {
		query += fmt.Sprintf(" AND threat_level = $%d", argNum)
		args = append(args, filter.ThreatLevel)
		argNum++
	}

	if filter.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argNum)
		args = append(args, *filter.Since)
		argNum++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []ReportRow
	for rows.Next() {
		var r ReportRow
		if err := rows.Scan(
			&r.ReportID, &r.AttackType, &r.Filename, &r.ThreatLevel,
			&r.ConfidenceScore, &r.Report, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}

	return reports, nil
}

// GetReport retrieves a single archived report by ID.
func (p *Pool) GetReport(ctx context.Context, reportID string) (*ReportRow, error) {
	var r ReportRow
	err := p.QueryRow(ctx, `
		SELECT report_id, attack_type, filename, threat_level, confidence_score, report, created_at
		FROM forensic_reports
		WHERE report_id = $1
	`, reportID).Scan(
		&r.ReportID, &r.AttackType, &r.Filename, &r.ThreatLevel,
		&r.ConfidenceScore, &r.Report, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get report %s: %w", reportID, err)
	}
	return &r, nil
}

// DeleteReport removes an archived report by ID.
func (p *Pool) DeleteReport(ctx context.Context, reportID string) error {
	tag, err := p.Exec(ctx, `DELETE FROM forensic_reports WHERE report_id = $1`, reportID)
	if err != nil {
		return fmt.Errorf("failed to delete report %s: %w", reportID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
