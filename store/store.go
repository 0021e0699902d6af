// Package store is the PostgreSQL adapter for the domains table, the
// authoritative local truth the registry is rebuilt from.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/semihalev/zlog/v2"
)

// Domain is one row of the domains table.
type Domain struct {
	ID           string         `db:"id"`
	Domain       string         `db:"domain"`
	IPAddress    string         `db:"ip_address"`
	MailServer   string         `db:"mail_server"`
	MXPriority   int            `db:"mx_priority"`
	Enabled      bool           `db:"enabled"`
	Verified     bool           `db:"verified"`
	LastVerified *time.Time     `db:"last_verified"`
	Nameservers  pq.StringArray `db:"nameservers"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	Discord      bool           `db:"discord"`
	Description  *string        `db:"description"`
	Tags         pq.StringArray `db:"tags"`
}

// Store is the durable CRUD surface the registry and syncer consume.
type Store interface {
	// ListEnabled returns the enabled rows ordered by domain.
	ListEnabled(ctx context.Context) ([]Domain, error)
	// Get returns the enabled row for a domain, nil when absent.
	Get(ctx context.Context, domain string) (*Domain, error)
	// Upsert inserts a domain or refreshes ip/discord on conflict.
	Upsert(ctx context.Context, domain, ip string, discord bool) error
	// Disable soft-deletes a domain.
	Disable(ctx context.Context, domain string) error
	// UpdateVerification records the outcome of an NS probe.
	UpdateVerification(ctx context.Context, domain string, verified bool, nameservers []string) error
}

// DB implements Store over PostgreSQL.
type DB struct {
	db *sqlx.DB
}

const maxConns = 5

// Open connects to PostgreSQL and pings it.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	db.SetMaxOpenConns(maxConns)

	zlog.Info("Connected to PostgreSQL database")

	return &DB{db: db}, nil
}

// Close closes the connection pool.
func (d *DB) Close() error { return d.db.Close() }

const selectColumns = `
	id::text AS id,
	domain,
	ip_address::text AS ip_address,
	mail_server,
	mx_priority,
	enabled,
	verified,
	last_verified,
	nameservers,
	created_at,
	updated_at,
	discord,
	description,
	tags`

// ListEnabled implements Store. Rows come back ordered by domain so
// registry reloads are deterministic.
func (d *DB) ListEnabled(ctx context.Context) ([]Domain, error) {
	var domains []Domain

	err := d.db.SelectContext(ctx, &domains,
		`SELECT`+selectColumns+`
		FROM domains
		WHERE enabled = true
		ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("store: list enabled: %w", err)
	}

	return domains, nil
}

// Get implements Store.
func (d *DB) Get(ctx context.Context, domain string) (*Domain, error) {
	var row Domain

	err := d.db.GetContext(ctx, &row,
		`SELECT`+selectColumns+`
		FROM domains
		WHERE domain = $1 AND enabled = true`,
		canonical(domain))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", domain, err)
	}

	return &row, nil
}

// Upsert implements Store.
func (d *DB) Upsert(ctx context.Context, domain, ip string, discord bool) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO domains (domain, ip_address, discord)
		VALUES ($1, $2::inet, $3)
		ON CONFLICT (domain) DO UPDATE
		SET ip_address = $2::inet, discord = $3, updated_at = NOW()`,
		canonical(domain), ip, discord)
	if err != nil {
		return fmt.Errorf("store: upsert %s: %w", domain, err)
	}

	zlog.Info("Added/updated domain", "domain", domain, "ip", ip, "discord", discord)

	return nil
}

// Disable implements Store.
func (d *DB) Disable(ctx context.Context, domain string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE domains SET enabled = false, updated_at = NOW() WHERE domain = $1`,
		canonical(domain))
	if err != nil {
		return fmt.Errorf("store: disable %s: %w", domain, err)
	}

	zlog.Info("Disabled domain", "domain", domain)

	return nil
}

// UpdateVerification implements Store.
func (d *DB) UpdateVerification(ctx context.Context, domain string, verified bool, nameservers []string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE domains
		SET verified = $1, last_verified = NOW(), nameservers = $2, updated_at = NOW()
		WHERE domain = $3`,
		verified, pq.StringArray(nameservers), canonical(domain))
	if err != nil {
		return fmt.Errorf("store: update verification %s: %w", domain, err)
	}

	return nil
}

func canonical(domain string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
}
