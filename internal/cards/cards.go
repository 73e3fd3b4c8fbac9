package cards

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cjephuneh/subsplitAI-sub000/internal/ledger"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/logging"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/models"
)

// DefaultExpiryHours is how long a card stays redeemable when the
// seller does not pick a custom expiry.
const DefaultExpiryHours = 24

var (
	// ErrCardNotFound is returned when no card matches the lookup
	ErrCardNotFound = errors.New("card not found")
	// ErrInvalidCredentials is returned when the CVV does not match
	ErrInvalidCredentials = errors.New("invalid card credentials")
	// ErrCardExpired is returned when the card's expiry has passed
	ErrCardExpired = errors.New("card expired")
	// ErrCardNotActive is returned for exhausted or revoked cards
	ErrCardNotActive = errors.New("card not active")
	// ErrInsufficientSourceBalance is returned when the backing account
	// cannot cover the requested card balance
	ErrInsufficientSourceBalance = errors.New("insufficient source balance")
	// ErrInsufficientCardBalance is returned when a charge exceeds the card balance
	ErrInsufficientCardBalance = errors.New("insufficient card balance")
	// ErrNotCardSeller is returned when a caller operates on a card they did not issue
	ErrNotCardSeller = errors.New("card belongs to another seller")
	// ErrSourceNotFound is returned when the named platform account or pool is missing
	ErrSourceNotFound = errors.New("funding source not found")
)

// IssueRequest describes a card to be created. A nil ExpiryHours takes
// the default; an explicit zero issues a card that is already overdue.
type IssueRequest struct {
	PlatformAccountID string
	PoolID            string
	InitialBalance    float64
	PricePerHour      float64
	ExpiryHours       *int
}

// ValidationResult is the soft-fail outcome of a credential check
type ValidationResult struct {
	Valid    bool
	Reason   string
	CardID   string
	Platform string
	Balance  float64
}

// ChargeResult reports the card state after a successful debit
type ChargeResult struct {
	CardID       string
	Remaining    float64
	TotalCharged float64
	Exhausted    bool
}

// Issuer creates and services virtual cards. Card balances live in the
// ledger under "card:<id>" accounts; the card row carries credentials,
// pricing, and lifecycle state.
type Issuer struct {
	db     *sql.DB
	logger logging.Logger
	ledger *ledger.Ledger
}

// NewIssuer creates an Issuer
func NewIssuer(db *sql.DB, logger logging.Logger, lgr *ledger.Ledger) *Issuer {
	return &Issuer{db: db, logger: logger, ledger: lgr}
}

const cardColumns = `id, card_number, cvv, seller_id, buyer_id, platform_account_id, pool_id,
	platform, initial_balance, price_per_hour, base_price, current_price, demand_multiplier,
	status, usage_count, total_charged, last_used_at, expires_at, created_at, updated_at`

func scanCard(row interface{ Scan(...interface{}) error }) (*models.VirtualCard, error) {
	var c models.VirtualCard
	err := row.Scan(&c.ID, &c.CardNumber, &c.CVV, &c.SellerID, &c.BuyerID, &c.PlatformAccountID,
		&c.PoolID, &c.Platform, &c.InitialBalance, &c.PricePerHour, &c.BasePrice, &c.CurrentPrice,
		&c.DemandMultiplier, &c.Status, &c.UsageCount, &c.TotalCharged, &c.LastUsedAt,
		&c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Issue creates a card funded from the seller's platform account or pool.
// Exactly one funding source must be named. The backing credits move
// into the card's ledger account atomically with the card row insert.
func (i *Issuer) Issue(ctx context.Context, sellerID string, req IssueRequest) (*models.VirtualCard, error) {
	if req.InitialBalance <= 0 {
		return nil, fmt.Errorf("initial balance must be positive")
	}
	if req.PricePerHour <= 0 {
		return nil, fmt.Errorf("price per hour must be positive")
	}
	if (req.PlatformAccountID == "") == (req.PoolID == "") {
		return nil, fmt.Errorf("exactly one of platform_account_id or pool_id is required")
	}

	expiryHours := DefaultExpiryHours
	if req.ExpiryHours != nil {
		if *req.ExpiryHours < 0 {
			return nil, fmt.Errorf("expiry hours must not be negative")
		}
		expiryHours = *req.ExpiryHours
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin card issue: %w", err)
	}
	defer tx.Rollback()

	var platform, sourceRef string
	var platformAccountID, poolID *string
	if req.PlatformAccountID != "" {
		err = tx.QueryRow(`
			SELECT platform FROM platform_accounts
			WHERE id = $1 AND user_id = $2 AND status = 'active'
		`, req.PlatformAccountID, sellerID).Scan(&platform)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSourceNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load platform account: %w", err)
		}
		sourceRef = ledger.PlatformAccountRef(req.PlatformAccountID)
		platformAccountID = &req.PlatformAccountID
	} else {
		err = tx.QueryRow(`
			SELECT platform FROM credit_pools
			WHERE id = $1 AND owner_id = $2 AND status = 'open'
		`, req.PoolID, sellerID).Scan(&platform)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSourceNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load credit pool: %w", err)
		}
		sourceRef = ledger.PoolRef(req.PoolID)
		poolID = &req.PoolID
	}

	number, err := generateCardNumber()
	if err != nil {
		return nil, err
	}
	cvv, err := generateCVV()
	if err != nil {
		return nil, err
	}

	cardID := uuid.New().String()
	expiresAt := time.Now().Add(time.Duration(expiryHours) * time.Hour)

	card, err := scanCard(tx.QueryRow(`
		INSERT INTO virtual_cards (
			id, card_number, cvv, seller_id, platform_account_id, pool_id, platform,
			initial_balance, price_per_hour, base_price, current_price, demand_multiplier,
			status, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $9, 1.0, 'active', $10)
		RETURNING `+cardColumns, cardID, number, cvv, sellerID, platformAccountID, poolID,
		platform, req.InitialBalance, req.PricePerHour, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert card: %w", err)
	}

	cardRef := ledger.CardRef(cardID)
	if err := i.ledger.EnsureAccountTx(tx, cardRef); err != nil {
		return nil, err
	}
	if err := i.ledger.TransferTx(tx, sourceRef, cardRef, req.InitialBalance, models.LedgerReasonCardIssue); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return nil, ErrInsufficientSourceBalance
		}
		return nil, err
	}

	if req.PoolID != "" {
		if _, err := tx.Exec(`
			UPDATE credit_pools SET total_used = total_used + $1, updated_at = NOW() WHERE id = $2
		`, req.InitialBalance, req.PoolID); err != nil {
			return nil, fmt.Errorf("failed to update pool usage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit card issue: %w", err)
	}

	i.ledger.PublishTransfer(sourceRef, cardRef, req.InitialBalance, models.LedgerReasonCardIssue, cardID)
	i.logger.WithFields(logging.Fields{
		"card_id":  cardID,
		"platform": platform,
		"balance":  req.InitialBalance,
	}).Info("Issued virtual card")

	return card, nil
}

// Validate checks card credentials without mutating balances. Validation
// soft-fails: a wrong CVV or dead card yields Valid=false with a reason,
// never an error. An active card past its expiry is transitioned lazily.
func (i *Issuer) Validate(ctx context.Context, cardNumber, cvv string) (*ValidationResult, error) {
	card, err := scanCard(i.db.QueryRowContext(ctx, `
		SELECT `+cardColumns+` FROM virtual_cards WHERE card_number = $1
	`, cardNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return &ValidationResult{Valid: false, Reason: "card not found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load card: %w", err)
	}

	if card.CVV != cvv {
		return &ValidationResult{Valid: false, Reason: "invalid credentials"}, nil
	}

	if card.Status == models.CardStatusActive && time.Now().After(card.ExpiresAt) {
		if err := i.markExpired(ctx, card.ID); err != nil {
			i.logger.WithError(err).WithFields(logging.Fields{"card_id": card.ID}).Warn("Failed to expire card")
		}
		card.Status = models.CardStatusExpired
	}

	if card.Status != models.CardStatusActive {
		return &ValidationResult{Valid: false, Reason: "card " + card.Status, CardID: card.ID}, nil
	}

	balance, err := i.ledger.BalanceOf(ctx, ledger.CardRef(card.ID))
	if err != nil {
		return nil, err
	}

	return &ValidationResult{
		Valid:    true,
		CardID:   card.ID,
		Platform: card.Platform,
		Balance:  balance,
	}, nil
}

// Charge debits amount from the card into the platform-costs sink. The
// card row is locked for the duration so concurrent charges serialize.
// A card whose balance reaches zero transitions to exhausted.
func (i *Issuer) Charge(ctx context.Context, cardNumber, cvv string, amount float64) (*ChargeResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("charge amount must be positive")
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin charge: %w", err)
	}
	defer tx.Rollback()

	card, err := scanCard(tx.QueryRow(`
		SELECT `+cardColumns+` FROM virtual_cards WHERE card_number = $1 FOR UPDATE
	`, cardNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load card: %w", err)
	}
	if card.CVV != cvv {
		return nil, ErrInvalidCredentials
	}

	if card.Status == models.CardStatusActive && time.Now().After(card.ExpiresAt) {
		if _, err := tx.Exec(`
			UPDATE virtual_cards SET status = 'expired', updated_at = NOW() WHERE id = $1
		`, card.ID); err != nil {
			return nil, fmt.Errorf("failed to expire card: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit expiry: %w", err)
		}
		return nil, ErrCardExpired
	}
	if card.Status != models.CardStatusActive {
		return nil, cardStatusError(card.Status)
	}

	cardRef := ledger.CardRef(card.ID)
	if err := i.ledger.TransferTx(tx, cardRef, ledger.SinkPlatformCosts, amount, models.LedgerReasonUsageCharge); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return nil, ErrInsufficientCardBalance
		}
		return nil, err
	}

	var remaining float64
	if err := tx.QueryRow(`
		SELECT balance FROM ledger_accounts WHERE ref = $1
	`, cardRef).Scan(&remaining); err != nil {
		return nil, fmt.Errorf("failed to read remaining balance: %w", err)
	}

	exhausted := remaining <= 0
	status := models.CardStatusActive
	if exhausted {
		status = models.CardStatusExhausted
	}

	if _, err := tx.Exec(`
		UPDATE virtual_cards
		SET usage_count = usage_count + 1,
		    total_charged = total_charged + $1,
		    last_used_at = NOW(),
		    status = $2,
		    updated_at = NOW()
		WHERE id = $3
	`, amount, status, card.ID); err != nil {
		return nil, fmt.Errorf("failed to update card usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit charge: %w", err)
	}

	i.ledger.PublishTransfer(cardRef, ledger.SinkPlatformCosts, amount, models.LedgerReasonUsageCharge, card.ID)

	return &ChargeResult{
		CardID:       card.ID,
		Remaining:    remaining,
		TotalCharged: card.TotalCharged + amount,
		Exhausted:    exhausted,
	}, nil
}

// Revoke cancels an unsold card and returns its remaining balance to
// the funding source. Only the seller may revoke, and only before a
// buyer has redeemed the card.
func (i *Issuer) Revoke(ctx context.Context, sellerID, cardID string) (float64, error) {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin revoke: %w", err)
	}
	defer tx.Rollback()

	card, err := scanCard(tx.QueryRow(`
		SELECT `+cardColumns+` FROM virtual_cards WHERE id = $1 FOR UPDATE
	`, cardID))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrCardNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load card: %w", err)
	}
	if card.SellerID != sellerID {
		return 0, ErrNotCardSeller
	}
	if card.Status != models.CardStatusActive {
		return 0, cardStatusError(card.Status)
	}

	cardRef := ledger.CardRef(card.ID)
	var remaining float64
	if err := tx.QueryRow(`
		SELECT balance FROM ledger_accounts WHERE ref = $1
	`, cardRef).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("failed to read card balance: %w", err)
	}

	sourceRef := fundingRef(card)
	if remaining > 0 {
		if err := i.ledger.TransferTx(tx, cardRef, sourceRef, remaining, models.LedgerReasonCardRevoke); err != nil {
			return 0, err
		}
	}

	if _, err := tx.Exec(`
		UPDATE virtual_cards SET status = 'revoked', updated_at = NOW() WHERE id = $1
	`, card.ID); err != nil {
		return 0, fmt.Errorf("failed to mark card revoked: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit revoke: %w", err)
	}

	if remaining > 0 {
		i.ledger.PublishTransfer(cardRef, sourceRef, remaining, models.LedgerReasonCardRevoke, card.ID)
	}
	i.logger.WithFields(logging.Fields{
		"card_id":  card.ID,
		"refunded": remaining,
	}).Info("Revoked virtual card")

	return remaining, nil
}

// GetByID loads a single card. An active card past its expiry is
// transitioned lazily, same as Validate.
func (i *Issuer) GetByID(ctx context.Context, cardID string) (*models.VirtualCard, error) {
	card, err := scanCard(i.db.QueryRowContext(ctx, `
		SELECT `+cardColumns+` FROM virtual_cards WHERE id = $1
	`, cardID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load card: %w", err)
	}
	if card.Status == models.CardStatusActive && time.Now().After(card.ExpiresAt) {
		if err := i.markExpired(ctx, card.ID); err != nil {
			i.logger.WithError(err).WithFields(logging.Fields{"card_id": card.ID}).Warn("Failed to expire card")
		}
		card.Status = models.CardStatusExpired
	}
	return card, nil
}

// ListBySeller returns all cards issued by a user, newest first
func (i *Issuer) ListBySeller(ctx context.Context, sellerID string) ([]models.VirtualCard, error) {
	return i.list(ctx, `
		SELECT `+cardColumns+` FROM virtual_cards WHERE seller_id = $1 ORDER BY created_at DESC
	`, sellerID)
}

// ListByBuyer returns all cards a user has purchased, newest first
func (i *Issuer) ListByBuyer(ctx context.Context, buyerID string) ([]models.VirtualCard, error) {
	return i.list(ctx, `
		SELECT `+cardColumns+` FROM virtual_cards WHERE buyer_id = $1 ORDER BY created_at DESC
	`, buyerID)
}

func (i *Issuer) list(ctx context.Context, query string, args ...interface{}) ([]models.VirtualCard, error) {
	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var cards []models.VirtualCard
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		// Overdue cards are never reported active; the sweep persists
		// the transition.
		if card.Status == models.CardStatusActive && now.After(card.ExpiresAt) {
			card.Status = models.CardStatusExpired
		}
		cards = append(cards, *card)
	}
	return cards, rows.Err()
}

// Balance reads the live ledger balance of a card
func (i *Issuer) Balance(ctx context.Context, cardID string) (float64, error) {
	return i.ledger.BalanceOf(ctx, ledger.CardRef(cardID))
}

func (i *Issuer) markExpired(ctx context.Context, cardID string) error {
	_, err := i.db.ExecContext(ctx, `
		UPDATE virtual_cards SET status = 'expired', updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, cardID)
	return err
}

// SweepExpired transitions overdue active cards to expired and refunds
// any remaining card balance to the funding source. Called periodically
// by the background job runner.
func (i *Issuer) SweepExpired(ctx context.Context) (int, error) {
	rows, err := i.db.QueryContext(ctx, `
		SELECT `+cardColumns+` FROM virtual_cards
		WHERE status = 'active' AND expires_at < NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to query expired cards: %w", err)
	}

	var due []models.VirtualCard
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan card: %w", err)
		}
		due = append(due, *card)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	swept := 0
	for idx := range due {
		if err := i.expireAndRefund(ctx, &due[idx]); err != nil {
			i.logger.WithError(err).WithFields(logging.Fields{"card_id": due[idx].ID}).Error("Failed to expire card")
			continue
		}
		swept++
	}
	return swept, nil
}

func (i *Issuer) expireAndRefund(ctx context.Context, card *models.VirtualCard) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin expiry: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE virtual_cards SET status = 'expired', updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, card.ID)
	if err != nil {
		return fmt.Errorf("failed to mark card expired: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Someone else transitioned the card first
		return nil
	}

	cardRef := ledger.CardRef(card.ID)
	var remaining float64
	if err := tx.QueryRow(`
		SELECT balance FROM ledger_accounts WHERE ref = $1
	`, cardRef).Scan(&remaining); err != nil {
		return fmt.Errorf("failed to read card balance: %w", err)
	}

	sourceRef := fundingRef(card)
	if remaining > 0 {
		if err := i.ledger.TransferTx(tx, cardRef, sourceRef, remaining, models.LedgerReasonCardRevoke); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit expiry: %w", err)
	}

	if remaining > 0 {
		i.ledger.PublishTransfer(cardRef, sourceRef, remaining, models.LedgerReasonCardRevoke, card.ID)
	}
	return nil
}

func fundingRef(card *models.VirtualCard) string {
	if card.PoolID != nil {
		return ledger.PoolRef(*card.PoolID)
	}
	if card.PlatformAccountID != nil {
		return ledger.PlatformAccountRef(*card.PlatformAccountID)
	}
	return ledger.SinkPlatformCosts
}

func cardStatusError(status string) error {
	switch status {
	case models.CardStatusExpired:
		return ErrCardExpired
	default:
		return ErrCardNotActive
	}
}
