package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/docvec/internal/domain"
)

// SearchRecordRepository stores one analytics row per search.
type SearchRecordRepository struct {
	pool *pgxpool.Pool
}

func NewSearchRecordRepository(pool *pgxpool.Pool) *SearchRecordRepository {
	return &SearchRecordRepository{pool: pool}
}

func (r *SearchRecordRepository) Create(ctx context.Context, rec *domain.SearchRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO search_records
			(id, query, result_count, max_similarity, min_similarity, avg_similarity, usage_ranking, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.Query, rec.ResultCount, rec.MaxSimilarity, rec.MinSimilarity, rec.AvgSimilarity,
		rec.UsageRanking, rec.DurationMs, rec.CreatedAt,
	)
	return err
}

// Count returns the number of stored search records.
func (r *SearchRecordRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM search_records`).Scan(&n)
	return n, err
}
