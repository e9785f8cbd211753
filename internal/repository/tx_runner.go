package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/docvec/internal/service"
)

// TxRunner runs document and chunk writes in one pgx transaction.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

func (r *TxRunner) WithTx(ctx context.Context, fn func(repos service.TxRepositories) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&txRepos{tx: tx}); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type txRepos struct {
	tx pgx.Tx
}

// LockDocument takes a transaction-scoped advisory lock keyed by the
// document id.
func (r *txRepos) LockDocument(ctx context.Context, documentID string) error {
	if _, err := r.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "document:"+documentID); err != nil {
		return fmt.Errorf("lock document %s: %w", documentID, err)
	}
	return nil
}

func (r *txRepos) Documents() service.DocumentRepository {
	return NewDocumentRepositoryWithTx(r.tx)
}

func (r *txRepos) Chunks() service.ChunkStore {
	return NewChunkStoreWithTx(r.tx)
}

func (r *txRepos) Jobs() service.JobRepository {
	return NewProcessingJobRepositoryWithTx(r.tx)
}
