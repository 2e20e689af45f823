package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tonplace/backend/internal/models"
)

type DealRepo struct {
	pool *pgxpool.Pool
}

func NewDealRepo(pool *pgxpool.Pool) *DealRepo {
	return &DealRepo{pool: pool}
}

const dealColumns = `id, channel_username, advertiser_user_id, owner_user_id, status,
	price_nano, platform_fee_bps, hold_period_seconds, created_at, updated_at`

func scanDeal(row pgx.Row) (*models.Deal, error) {
	var d models.Deal
	err := row.Scan(
		&d.ID, &d.ChannelUsername, &d.AdvertiserUserID, &d.OwnerUserID, &d.Status,
		&d.PriceNano, &d.PlatformFeeBPS, &d.HoldPeriodSeconds, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DealRepo) Create(ctx context.Context, d *models.Deal) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO deals (channel_username, advertiser_user_id, owner_user_id, status,
			price_nano, platform_fee_bps, hold_period_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, d.ChannelUsername, d.AdvertiserUserID, d.OwnerUserID, d.Status,
		d.PriceNano, d.PlatformFeeBPS, d.HoldPeriodSeconds,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

func (r *DealRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	d, err := scanDeal(r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (r *DealRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Deal, error) {
	return scanDeal(tx.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1 FOR UPDATE`, id))
}

func (r *DealRepo) UpdateStatus(ctx context.Context, q Querier, id uuid.UUID, from, to string) (bool, error) {
	if !models.IsValidTransition(from, to) {
		return false, errors.New("invalid deal transition from " + from + " to " + to)
	}
	tag, err := q.Exec(ctx, `
		UPDATE deals SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *DealRepo) ListByStatus(ctx context.Context, status string, limit int) ([]*models.Deal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals WHERE status = $1 ORDER BY updated_at LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListByUser returns deals where the user is either side.
func (r *DealRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Deal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE advertiser_user_id = $1 OR owner_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListHoldExpired returns deals whose hold period elapsed since posting.
func (r *DealRepo) ListHoldExpired(ctx context.Context, limit int) ([]*models.Deal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals d
		WHERE d.status = 'hold_verification'
		  AND EXISTS (
			SELECT 1 FROM deal_posts p
			WHERE p.deal_id = d.id AND p.posted_at IS NOT NULL
			  AND p.posted_at + make_interval(secs => d.hold_period_seconds) < now()
		  )
		ORDER BY d.updated_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Posts ---

func (r *DealRepo) UpsertPost(ctx context.Context, p *models.DealPost) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO deal_posts (deal_id, telegram_message_id, post_url, content_hash, posted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (deal_id) DO UPDATE SET
			telegram_message_id = EXCLUDED.telegram_message_id,
			post_url = EXCLUDED.post_url,
			content_hash = EXCLUDED.content_hash,
			posted_at = EXCLUDED.posted_at
		RETURNING id
	`, p.DealID, p.TelegramMessageID, p.PostURL, p.ContentHash, p.PostedAt).Scan(&p.ID)
}

func (r *DealRepo) GetPost(ctx context.Context, dealID uuid.UUID) (*models.DealPost, error) {
	var p models.DealPost
	err := r.pool.QueryRow(ctx, `
		SELECT id, deal_id, telegram_message_id, post_url, content_hash,
		       posted_at, last_checked_at, is_deleted, is_edited
		FROM deal_posts WHERE deal_id = $1
	`, dealID).Scan(
		&p.ID, &p.DealID, &p.TelegramMessageID, &p.PostURL, &p.ContentHash,
		&p.PostedAt, &p.LastCheckedAt, &p.IsDeleted, &p.IsEdited,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *DealRepo) MarkPostChecked(ctx context.Context, dealID uuid.UUID, deleted, edited bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deal_posts SET last_checked_at = now(), is_deleted = $2, is_edited = $3
		WHERE deal_id = $1
	`, dealID, deleted, edited)
	return err
}
