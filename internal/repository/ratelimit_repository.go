package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/authguard/internal/database"
	"github.com/iliyamo/authguard/internal/model"
)

// RateLimitRepo persists fixed-window counters keyed by (identifier, endpoint).
type RateLimitRepo struct{ DB *sql.DB }

func NewRateLimitRepo(db *sql.DB) *RateLimitRepo { return &RateLimitRepo{DB: db} }

// maxInsertRaces bounds how often Hit re-runs after losing a first-insert race.
const maxInsertRaces = 3

// Hit counts one attempt and returns the record as it stands after the
// increment. Every step is a conditional write inside one transaction, so
// the row lock taken by the first UPDATE serializes concurrent hits on the
// same key; there is never a read followed by a blind write.
func (r *RateLimitRepo) Hit(ctx context.Context, identifier, endpoint string, now time.Time, window time.Duration) (model.RateLimitRecord, error) {
	for i := 0; i < maxInsertRaces; i++ {
		rec, err := r.hitOnce(ctx, identifier, endpoint, now, window)
		if errors.Is(err, ErrConflict) {
			continue
		}
		return rec, err
	}
	return model.RateLimitRecord{}, fmt.Errorf("rate limit %s/%s: %w", identifier, endpoint, ErrConflict)
}

func (r *RateLimitRepo) hitOnce(ctx context.Context, identifier, endpoint string, now time.Time, window time.Duration) (model.RateLimitRecord, error) {
	var rec model.RateLimitRecord
	nowMs := database.Millis(now)
	// window is live while now - window_start < window
	liveAfter := nowMs - window.Milliseconds()

	err := database.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE rate_limits SET attempts = attempts + 1 WHERE identifier=? AND endpoint=? AND window_start > ?",
			identifier, endpoint, liveAfter)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// expired window: restart it
			res, err = tx.ExecContext(ctx,
				"UPDATE rate_limits SET attempts = 1, window_start = ? WHERE identifier=? AND endpoint=? AND window_start <= ?",
				nowMs, identifier, endpoint, liveAfter)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				_, err = tx.ExecContext(ctx,
					"INSERT INTO rate_limits (identifier, endpoint, attempts, window_start) VALUES (?,?,1,?)",
					identifier, endpoint, nowMs)
				if database.IsDuplicateKey(err) {
					return ErrConflict
				}
				if err != nil {
					return err
				}
			}
		}

		var start int64
		if err := tx.QueryRowContext(ctx,
			"SELECT attempts, window_start FROM rate_limits WHERE identifier=? AND endpoint=?",
			identifier, endpoint).Scan(&rec.Attempts, &start); err != nil {
			return err
		}
		rec.Identifier, rec.Endpoint = identifier, endpoint
		rec.WindowStart = database.FromMillis(start)
		return nil
	})
	return rec, err
}

// Delete clears a key.
func (r *RateLimitRepo) Delete(ctx context.Context, identifier, endpoint string) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM rate_limits WHERE identifier=? AND endpoint=?", identifier, endpoint)
	return err
}

// DeleteExpired removes rows whose window started before cutoff. Logically
// they are already reset; this only reclaims space.
func (r *RateLimitRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM rate_limits WHERE window_start < ?", database.Millis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
