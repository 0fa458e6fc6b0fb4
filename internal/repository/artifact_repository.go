package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/SynergyHub/internal/models"
)

type ArtifactRepository struct {
	db *sql.DB
}

func NewArtifactRepository(db *sql.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

const artifactColumns = `id, owner_id, storage_path, public_url, prompt_text, width, height, format, visibility, operation_type, model_identifier, created_at`

func scanArtifact(row interface{ Scan(...any) error }) (*models.StoredArtifact, error) {
	var a models.StoredArtifact
	if err := row.Scan(&a.ID, &a.OwnerID, &a.StoragePath, &a.PublicURL, &a.PromptText, &a.Width, &a.Height,
		&a.Format, &a.Visibility, &a.OperationType, &a.ModelIdentifier, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *ArtifactRepository) Create(ctx context.Context, a *models.StoredArtifact) error {
	if a.Visibility == "" {
		a.Visibility = models.VisibilityPrivate
	}
	a.CreatedAt = time.Now().UTC()
	const query = `
INSERT INTO artifacts (owner_id, storage_path, public_url, prompt_text, width, height, format, visibility, operation_type, model_identifier, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, a.OwnerID, a.StoragePath, a.PublicURL, a.PromptText, a.Width, a.Height,
		a.Format, a.Visibility, a.OperationType, a.ModelIdentifier, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("artifact last insert id: %w", err)
	}
	a.ID = id
	return nil
}

func (r *ArtifactRepository) Get(ctx context.Context, id int64) (*models.StoredArtifact, error) {
	a, err := scanArtifact(r.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	return a, nil
}

// ListByOwner returns the newest artifacts first.
func (r *ArtifactRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.StoredArtifact, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE owner_id = ? ORDER BY id DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []models.StoredArtifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact list: %w", err)
		}
		artifacts = append(artifacts, *a)
	}
	return artifacts, rows.Err()
}

func (r *ArtifactRepository) SetVisibility(ctx context.Context, ownerID string, id int64, visibility models.Visibility) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE artifacts SET visibility = ? WHERE id = ? AND owner_id = ?`, visibility, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("set visibility: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("visibility rows affected: %w", err)
	}
	return affected > 0, nil
}

// Delete removes the artifact row and calls removeObject before committing, so the row
// survives when the storage object cannot be deleted. It reports false when the owner
// has no such artifact.
func (r *ArtifactRepository) Delete(ctx context.Context, ownerID string, id int64, removeObject func(ctx context.Context, storagePath string) error) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var path string
	err = tx.QueryRowContext(ctx, `SELECT storage_path FROM artifacts WHERE id = ? AND owner_id = ?`, id, ownerID).Scan(&path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lookup artifact: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("delete artifact: %w", err)
	}
	if err := removeObject(ctx, path); err != nil {
		return false, fmt.Errorf("delete object %s: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit artifact delete: %w", err)
	}
	return true, nil
}
