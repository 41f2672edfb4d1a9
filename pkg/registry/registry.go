// Package registry implements the Registry: a transactional catalog of
// artifacts keyed by (name, version, manifest_hash) with a single-active-
// per-name invariant.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a registered artifact.
type Status string

const (
	StatusInactive   Status = "inactive"
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
)

var (
	ErrNotFound          = errors.New("registry: artifact not found")
	ErrActiveArtifact    = errors.New("registry: cannot delete an active artifact")
	ErrDuplicateManifest = errors.New("registry: manifest_hash already registered")
)

// Artifact is a row of the registry catalog.
type Artifact struct {
	ID           string
	Name         string
	Version      string
	ManifestHash string
	Path         string
	Metadata     map[string]string
	Status       Status
	Uploader     string
	UploadedAt   time.Time
	ActivatedAt  sql.NullTime
}

// Postgres is a PostgreSQL-backed Registry, using lib/pq as its driver.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an already-open *sql.DB (opened with
// sql.Open("postgres", dsn) against github.com/lib/pq).
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	version       TEXT NOT NULL,
	manifest_hash TEXT NOT NULL UNIQUE,
	path          TEXT NOT NULL,
	metadata      JSONB NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL CHECK (status IN ('inactive', 'active', 'deprecated')),
	uploader      TEXT NOT NULL,
	uploaded_at   TIMESTAMPTZ NOT NULL,
	activated_at  TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS one_active_per_name
	ON artifacts (name)
	WHERE status = 'active';
`

// Init creates the registry schema if absent.
func (r *Postgres) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("init registry schema: %w", err)
	}
	return nil
}

// Register inserts a new artifact row in status inactive. If
// manifest_hash already exists, the existing artifact's id is returned
// rather than creating a duplicate.
func (r *Postgres) Register(ctx context.Context, name, version, manifestHash, path string, metadata map[string]string, uploader string) (string, error) {
	if existing, err := r.getByManifestHash(ctx, manifestHash); err == nil {
		return existing.ID, nil
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	id := uuid.New().String()
	metaJSON, err := marshalMetadata(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, name, version, manifest_hash, path, metadata, status, uploader, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, name, version, manifestHash, path, metaJSON, StatusInactive, uploader, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			if existing, lookupErr := r.getByManifestHash(ctx, manifestHash); lookupErr == nil {
				return existing.ID, nil
			}
			return "", ErrDuplicateManifest
		}
		return "", fmt.Errorf("insert artifact: %w", err)
	}
	return id, nil
}

// Activate atomically demotes any active artifact of the same name to
// inactive and promotes id to active, in a single transaction. Failure
// rolls back and leaves the previous state intact.
func (r *Postgres) Activate(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var name string
	if err := tx.QueryRowContext(ctx, `SELECT name FROM artifacts WHERE id = $1`, id).Scan(&name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lookup artifact %s: %w", id, err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE artifacts SET status = $1 WHERE name = $2 AND status = $3 AND id != $4
	`, StatusInactive, name, StatusActive, id); err != nil {
		return fmt.Errorf("demote prior active artifact for %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE artifacts SET status = $1, activated_at = $2 WHERE id = $3
	`, StatusActive, now, id); err != nil {
		return fmt.Errorf("promote artifact %s: %w", id, err)
	}

	return tx.Commit()
}

// GetActive returns the currently active artifact for name, or
// ErrNotFound if none is active.
func (r *Postgres) GetActive(ctx context.Context, name string) (*Artifact, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, version, manifest_hash, path, metadata, status, uploader, uploaded_at, activated_at
		FROM artifacts WHERE name = $1 AND status = $2
	`, name, StatusActive)
	return scanArtifact(row)
}

// GetByID returns the artifact with the given id.
func (r *Postgres) GetByID(ctx context.Context, id string) (*Artifact, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, version, manifest_hash, path, metadata, status, uploader, uploaded_at, activated_at
		FROM artifacts WHERE id = $1
	`, id)
	return scanArtifact(row)
}

func (r *Postgres) getByManifestHash(ctx context.Context, manifestHash string) (*Artifact, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, version, manifest_hash, path, metadata, status, uploader, uploaded_at, activated_at
		FROM artifacts WHERE manifest_hash = $1
	`, manifestHash)
	return scanArtifact(row)
}

// List returns artifacts matching filterStatus (or all, if filterStatus
// is ""), sorted by name then descending semver version.
func (r *Postgres) List(ctx context.Context, filterStatus Status) ([]*Artifact, error) {
	query := `
		SELECT id, name, version, manifest_hash, path, metadata, status, uploader, uploaded_at, activated_at
		FROM artifacts
	`
	args := []interface{}{}
	if filterStatus != "" {
		query += " WHERE status = $1"
		args = append(args, filterStatus)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		a, err := scanArtifactRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortArtifacts(out)
	return out, nil
}

// Delete removes an artifact; refuses when its status is active.
func (r *Postgres) Delete(ctx context.Context, id string) error {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if a.Status == StatusActive {
		return ErrActiveArtifact
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete artifact %s: %w", id, err)
	}
	return nil
}

func sortArtifacts(artifacts []*Artifact) {
	parsed := make([]*semver.Version, len(artifacts))
	for i, a := range artifacts {
		v, err := semver.NewVersion(a.Version)
		if err != nil {
			v = semver.MustParse("0.0.0")
		}
		parsed[i] = v
	}
	for i := 1; i < len(artifacts); i++ {
		for j := i; j > 0; j-- {
			swap := artifacts[j-1].Name > artifacts[j].Name ||
				(artifacts[j-1].Name == artifacts[j].Name && parsed[j-1].LessThan(parsed[j]))
			if !swap {
				break
			}
			artifacts[j-1], artifacts[j] = artifacts[j], artifacts[j-1]
			parsed[j-1], parsed[j] = parsed[j], parsed[j-1]
		}
	}
}
