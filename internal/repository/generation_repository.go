package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/imagify/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Log(ctx context.Context, g *models.Generation) error {
	const query = `
INSERT INTO generations (prompt, image, archive_url, created_at)
VALUES (?, ?, NULLIF(?, ''), ?)`
	res, err := r.db.ExecContext(ctx, query, g.Prompt, g.Image, g.ArchiveURL, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	g.ID = id
	return nil
}

// Recent returns up to limit generations, newest first.
func (r *GenerationRepository) Recent(ctx context.Context, limit int) ([]models.Generation, error) {
	const query = `
SELECT id, prompt, image, COALESCE(archive_url, ''), created_at
FROM generations ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	defer rows.Close()

	var out []models.Generation
	for rows.Next() {
		var g models.Generation
		if err := rows.Scan(&g.ID, &g.Prompt, &g.Image, &g.ArchiveURL, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generations: %w", err)
	}
	return out, nil
}
