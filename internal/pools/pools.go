package pools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cjephuneh/subsplitAI-sub000/internal/ledger"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/logging"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/models"
)

var (
	// ErrPoolNotFound is returned when no pool matches the lookup
	ErrPoolNotFound = errors.New("pool not found")
	// ErrPoolClosed is returned when contributing to a closed pool
	ErrPoolClosed = errors.New("pool is closed")
	// ErrOutOfBounds is returned when a contribution violates the pool's limits
	ErrOutOfBounds = errors.New("contribution outside pool bounds")
	// ErrPlatformMismatch is returned when the contributing account targets
	// a different platform than the pool
	ErrPlatformMismatch = errors.New("account platform does not match pool")
	// ErrAccountNotFound is returned when the contributing account is missing
	ErrAccountNotFound = errors.New("platform account not found")
	// ErrNotPoolOwner is returned when a caller manages a pool they do not own
	ErrNotPoolOwner = errors.New("pool belongs to another user")
	// ErrPoolingDisabled is returned when the account opted out of pooling
	ErrPoolingDisabled = errors.New("account does not allow pooling")
)

// CreateRequest describes a pool to be opened
type CreateRequest struct {
	Platform        string
	PoolName        string
	MinContribution float64
	MaxContribution float64
	IsPublic        bool
}

// ContributeRequest pledges credits from a platform account into a pool
type ContributeRequest struct {
	PoolID            string
	PlatformAccountID string
	Amount            float64
}

// Stats is the derived view of a pool's health
type Stats struct {
	Pool                  models.CreditPool
	AvailableBalance      float64
	UtilizationPercentage float64
	ContributionCount     int
}

// Manager owns credit pool lifecycle. Pool balances live in the ledger
// under "pool:<id>" accounts; contributions move credits from the
// contributor's platform account into the pool.
type Manager struct {
	db     *sql.DB
	logger logging.Logger
	ledger *ledger.Ledger
}

// NewManager creates a Manager
func NewManager(db *sql.DB, logger logging.Logger, lgr *ledger.Ledger) *Manager {
	return &Manager{db: db, logger: logger, ledger: lgr}
}

const poolColumns = `id, owner_id, platform, pool_name, min_contribution, max_contribution,
	status, is_public, total_contributed, total_used, created_at, updated_at`

func scanPool(row interface{ Scan(...interface{}) error }) (*models.CreditPool, error) {
	var p models.CreditPool
	err := row.Scan(&p.ID, &p.OwnerID, &p.Platform, &p.PoolName, &p.MinContribution,
		&p.MaxContribution, &p.Status, &p.IsPublic, &p.TotalContributed, &p.TotalUsed,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create opens a new pool and provisions its ledger account
func (m *Manager) Create(ctx context.Context, ownerID string, req CreateRequest) (*models.CreditPool, error) {
	if !models.IsSupportedPlatform(req.Platform) {
		return nil, fmt.Errorf("unsupported platform %q", req.Platform)
	}
	if req.PoolName == "" {
		return nil, fmt.Errorf("pool name is required")
	}

	minC := req.MinContribution
	if minC <= 0 {
		minC = 1.0
	}
	maxC := req.MaxContribution
	if maxC <= 0 {
		maxC = 100.0
	}
	if minC > maxC {
		return nil, fmt.Errorf("min contribution %.2f exceeds max %.2f", minC, maxC)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin pool create: %w", err)
	}
	defer tx.Rollback()

	poolID := uuid.New().String()
	pool, err := scanPool(tx.QueryRow(`
		INSERT INTO credit_pools (id, owner_id, platform, pool_name, min_contribution, max_contribution, status, is_public)
		VALUES ($1, $2, $3, $4, $5, $6, 'open', $7)
		RETURNING `+poolColumns, poolID, ownerID, req.Platform, req.PoolName, minC, maxC, req.IsPublic))
	if err != nil {
		return nil, fmt.Errorf("failed to insert pool: %w", err)
	}

	if err := m.ledger.EnsureAccountTx(tx, ledger.PoolRef(poolID)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit pool create: %w", err)
	}

	m.logger.WithFields(logging.Fields{
		"pool_id":  poolID,
		"platform": req.Platform,
	}).Info("Created credit pool")

	return pool, nil
}

// Contribute moves credits from the contributor's platform account into
// the pool. The amount must fall inside the pool's contribution bounds
// and the account must target the pool's platform.
func (m *Manager) Contribute(ctx context.Context, userID string, req ContributeRequest) (*models.PoolContribution, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("contribution amount must be positive")
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin contribution: %w", err)
	}
	defer tx.Rollback()

	pool, err := scanPool(tx.QueryRow(`
		SELECT `+poolColumns+` FROM credit_pools WHERE id = $1 FOR UPDATE
	`, req.PoolID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pool: %w", err)
	}
	if pool.Status != models.PoolStatusOpen {
		return nil, ErrPoolClosed
	}
	if req.Amount < pool.MinContribution || req.Amount > pool.MaxContribution {
		return nil, fmt.Errorf("%w: %.2f not in [%.2f, %.2f]",
			ErrOutOfBounds, req.Amount, pool.MinContribution, pool.MaxContribution)
	}

	var accountPlatform string
	var allowPooling bool
	err = tx.QueryRow(`
		SELECT platform, allow_pooling FROM platform_accounts
		WHERE id = $1 AND user_id = $2 AND status = 'active'
	`, req.PlatformAccountID, userID).Scan(&accountPlatform, &allowPooling)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load platform account: %w", err)
	}
	if accountPlatform != pool.Platform {
		return nil, ErrPlatformMismatch
	}
	if !allowPooling {
		return nil, ErrPoolingDisabled
	}

	sourceRef := ledger.PlatformAccountRef(req.PlatformAccountID)
	poolRef := ledger.PoolRef(req.PoolID)
	if err := m.ledger.TransferTx(tx, sourceRef, poolRef, req.Amount, models.LedgerReasonPoolContribution); err != nil {
		return nil, err
	}

	contributionID := uuid.New().String()
	var contribution models.PoolContribution
	err = tx.QueryRow(`
		INSERT INTO pool_contributions (id, pool_id, platform_account_id, contributor_id, amount, status)
		VALUES ($1, $2, $3, $4, $5, 'accepted')
		RETURNING id, pool_id, platform_account_id, contributor_id, amount, status, created_at
	`, contributionID, req.PoolID, req.PlatformAccountID, userID, req.Amount).Scan(
		&contribution.ID, &contribution.PoolID, &contribution.PlatformAccountID,
		&contribution.ContributorID, &contribution.Amount, &contribution.Status, &contribution.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert contribution: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE credit_pools SET total_contributed = total_contributed + $1, updated_at = NOW() WHERE id = $2
	`, req.Amount, req.PoolID); err != nil {
		return nil, fmt.Errorf("failed to update pool totals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit contribution: %w", err)
	}

	m.ledger.PublishTransfer(sourceRef, poolRef, req.Amount, models.LedgerReasonPoolContribution, contributionID)

	return &contribution, nil
}

// AvailableBalance reads the live ledger balance of a pool
func (m *Manager) AvailableBalance(ctx context.Context, poolID string) (float64, error) {
	balance, err := m.ledger.BalanceOf(ctx, ledger.PoolRef(poolID))
	if errors.Is(err, ledger.ErrUnknownAccount) {
		return 0, ErrPoolNotFound
	}
	return balance, err
}

// Get loads a single pool
func (m *Manager) Get(ctx context.Context, poolID string) (*models.CreditPool, error) {
	pool, err := scanPool(m.db.QueryRowContext(ctx, `
		SELECT `+poolColumns+` FROM credit_pools WHERE id = $1
	`, poolID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pool: %w", err)
	}
	return pool, nil
}

// ListPublic returns open public pools, newest first
func (m *Manager) ListPublic(ctx context.Context, platform string) ([]models.CreditPool, error) {
	query := `SELECT ` + poolColumns + ` FROM credit_pools WHERE is_public = TRUE AND status = 'open'`
	args := []interface{}{}
	if platform != "" {
		query += ` AND platform = $1`
		args = append(args, platform)
	}
	query += ` ORDER BY created_at DESC`
	return m.list(ctx, query, args...)
}

// ListByOwner returns all pools a user owns, newest first
func (m *Manager) ListByOwner(ctx context.Context, ownerID string) ([]models.CreditPool, error) {
	return m.list(ctx, `
		SELECT `+poolColumns+` FROM credit_pools WHERE owner_id = $1 ORDER BY created_at DESC
	`, ownerID)
}

func (m *Manager) list(ctx context.Context, query string, args ...interface{}) ([]models.CreditPool, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pools: %w", err)
	}
	defer rows.Close()

	var pools []models.CreditPool
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}
		pools = append(pools, *pool)
	}
	return pools, rows.Err()
}

// Stats returns the pool plus derived usage figures
func (m *Manager) Stats(ctx context.Context, poolID string) (*Stats, error) {
	pool, err := m.Get(ctx, poolID)
	if err != nil {
		return nil, err
	}

	balance, err := m.AvailableBalance(ctx, poolID)
	if err != nil {
		return nil, err
	}

	var count int
	if err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pool_contributions WHERE pool_id = $1 AND status = 'accepted'
	`, poolID).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count contributions: %w", err)
	}

	utilization := 0.0
	if pool.TotalContributed > 0 {
		utilization = pool.TotalUsed / pool.TotalContributed * 100
	}

	return &Stats{
		Pool:                  *pool,
		AvailableBalance:      balance,
		UtilizationPercentage: utilization,
		ContributionCount:     count,
	}, nil
}

// Close marks a pool closed and refunds the remaining balance to its
// contributors pro-rata by accepted contribution. The last contributor
// absorbs rounding remainder so the pool account drains to zero.
func (m *Manager) Close(ctx context.Context, ownerID, poolID string) (*models.CreditPool, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin pool close: %w", err)
	}
	defer tx.Rollback()

	pool, err := scanPool(tx.QueryRow(`
		SELECT `+poolColumns+` FROM credit_pools WHERE id = $1 FOR UPDATE
	`, poolID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pool: %w", err)
	}
	if pool.OwnerID != ownerID {
		return nil, ErrNotPoolOwner
	}
	if pool.Status != models.PoolStatusOpen {
		return nil, ErrPoolClosed
	}

	poolRef := ledger.PoolRef(poolID)
	var remaining float64
	if err := tx.QueryRow(`
		SELECT balance FROM ledger_accounts WHERE ref = $1
	`, poolRef).Scan(&remaining); err != nil {
		return nil, fmt.Errorf("failed to read pool balance: %w", err)
	}

	type share struct {
		accountID string
		amount    float64
	}
	var shares []share
	if remaining > 0 {
		rows, err := tx.Query(`
			SELECT platform_account_id, SUM(amount)
			FROM pool_contributions
			WHERE pool_id = $1 AND status = 'accepted'
			GROUP BY platform_account_id
			ORDER BY platform_account_id
		`, poolID)
		if err != nil {
			return nil, fmt.Errorf("failed to query contributions: %w", err)
		}
		var total float64
		for rows.Next() {
			var s share
			if err := rows.Scan(&s.accountID, &s.amount); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan contribution: %w", err)
			}
			shares = append(shares, s)
			total += s.amount
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		left := remaining
		for idx, s := range shares {
			refund := remaining * s.amount / total
			if idx == len(shares)-1 {
				refund = left
			}
			if refund <= 0 {
				continue
			}
			if err := m.ledger.TransferTx(tx, poolRef, ledger.PlatformAccountRef(s.accountID), refund, models.LedgerReasonPoolRefund); err != nil {
				return nil, err
			}
			left -= refund
		}
	}

	pool, err = scanPool(tx.QueryRow(`
		UPDATE credit_pools SET status = 'closed', updated_at = NOW() WHERE id = $1
		RETURNING `+poolColumns, poolID))
	if err != nil {
		return nil, fmt.Errorf("failed to close pool: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit pool close: %w", err)
	}

	m.logger.WithFields(logging.Fields{
		"pool_id":  poolID,
		"refunded": remaining,
	}).Info("Closed credit pool")

	return pool, nil
}
