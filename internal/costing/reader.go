package costing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fieldledger/fieldledger/internal/ledger"
	"github.com/fieldledger/fieldledger/internal/shared"
)

const cacheTTL = 10 * time.Minute

// Store loads the inputs Compute needs.
type Store interface {
	JobBudgetSubtotal(ctx context.Context, jobID int64) (float64, error)
	ListItems(ctx context.Context, jobID int64) ([]ledger.CostItem, error)
}

// Reader serves job financials through a best-effort redis cache. Cache
// failures degrade to a direct read, never to an error.
type Reader struct {
	store  Store
	rdb    *redis.Client
	logger *slog.Logger
}

// NewReader builds a Reader instance. rdb may be nil, which disables caching.
func NewReader(store Store, rdb *redis.Client, logger *slog.Logger) *Reader {
	return &Reader{store: store, rdb: rdb, logger: logger}
}

func cacheKey(jobID int64) string {
	return fmt.Sprintf("costing:job:%d", jobID)
}

// Financials returns the job's derived summary, from cache when possible.
func (r *Reader) Financials(ctx context.Context, jobID int64) (JobFinancials, error) {
	if r.rdb != nil {
		raw, err := r.rdb.Get(ctx, cacheKey(jobID)).Bytes()
		if err == nil {
			var cached JobFinancials
			if json.Unmarshal(raw, &cached) == nil {
				return cached, nil
			}
		} else if !errors.Is(err, redis.Nil) && r.logger != nil {
			r.logger.Warn("costing cache read failed", slog.Any("error", err))
		}
	}

	budget, err := r.store.JobBudgetSubtotal(ctx, jobID)
	if err != nil {
		return JobFinancials{}, err
	}
	items, err := r.store.ListItems(ctx, jobID)
	if err != nil {
		return JobFinancials{}, err
	}
	f := Compute(jobID, budget, items)

	if r.rdb != nil {
		if raw, err := json.Marshal(f); err == nil {
			if err := r.rdb.Set(ctx, cacheKey(jobID), raw, cacheTTL).Err(); err != nil && r.logger != nil {
				r.logger.Warn("costing cache write failed", slog.Any("error", err))
			}
		}
	}
	return f, nil
}

// InvalidateJob drops the cached summary after a ledger or budget write.
func (r *Reader) InvalidateJob(ctx context.Context, jobID int64) {
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Del(ctx, cacheKey(jobID)).Err(); err != nil && r.logger != nil {
		r.logger.Warn("costing cache invalidation failed",
			slog.Int64("job_id", jobID), slog.Any("error", err))
	}
}

type pgStore struct {
	pool *pgxpool.Pool
	repo ledger.Repository
}

// NewStore builds the PostgreSQL-backed Store, reusing the ledger repository
// for item reads.
func NewStore(pool *pgxpool.Pool, repo ledger.Repository) Store {
	return &pgStore{pool: pool, repo: repo}
}

func (s *pgStore) JobBudgetSubtotal(ctx context.Context, jobID int64) (float64, error) {
	var budget float64
	err := s.pool.QueryRow(ctx, `SELECT budget_subtotal FROM jobs WHERE id = $1`, jobID).Scan(&budget)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.ErrNotFound
	}
	return budget, err
}

func (s *pgStore) ListItems(ctx context.Context, jobID int64) ([]ledger.CostItem, error) {
	return s.repo.ListItems(ctx, jobID)
}
