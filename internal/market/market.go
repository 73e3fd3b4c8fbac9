package market

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/cjephuneh/subsplitAI-sub000/internal/ledger"
	"github.com/cjephuneh/subsplitAI-sub000/internal/pricing"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/logging"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/models"
)

var (
	// ErrListingNotFound is returned when the card is not an open listing
	ErrListingNotFound = errors.New("listing not found")
	// ErrAlreadySold is returned when another buyer got the card first
	ErrAlreadySold = errors.New("card already sold")
	// ErrOwnListing is returned when a seller tries to buy their own card
	ErrOwnListing = errors.New("cannot purchase own listing")
	// ErrListingExpired is returned when the listed card's expiry has passed
	ErrListingExpired = errors.New("listing expired")
	// ErrInsufficientFunds is returned when the buyer's wallet cannot cover the price
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// SearchQuery filters and pages the listing view
type SearchQuery struct {
	Platform   string
	MinPrice   float64
	MaxPrice   float64
	MinBalance float64
	Limit      int
	Offset     int
}

// SearchResult is one page of listings plus the unpaged total
type SearchResult struct {
	Listings   []models.Listing
	TotalCount int
	Limit      int
	Offset     int
}

// PlatformSummary aggregates the listing book for one platform
type PlatformSummary struct {
	Platform       string
	ActiveListings int
	MinPrice       float64
}

// Marketplace matches buyers with listed cards. A listing is any unsold
// active card; selling and delisting are implicit in the card lifecycle.
type Marketplace struct {
	db      *sql.DB
	logger  logging.Logger
	ledger  *ledger.Ledger
	pricing *pricing.Engine
	locks   *keyedMutex
}

// New creates a Marketplace
func New(db *sql.DB, logger logging.Logger, lgr *ledger.Ledger, engine *pricing.Engine) *Marketplace {
	return &Marketplace{
		db:      db,
		logger:  logger,
		ledger:  lgr,
		pricing: engine,
		locks:   newKeyedMutex(),
	}
}

// Search returns listings matching the query, cheapest first
func (m *Marketplace) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := `c.buyer_id IS NULL AND c.status = 'active' AND c.expires_at > NOW()`
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.Platform != "" {
		where += ` AND c.platform = ` + arg(q.Platform)
	}
	if q.MinPrice > 0 {
		where += ` AND c.current_price >= ` + arg(q.MinPrice)
	}
	if q.MaxPrice > 0 {
		where += ` AND c.current_price <= ` + arg(q.MaxPrice)
	}
	if q.MinBalance > 0 {
		where += ` AND a.balance >= ` + arg(q.MinBalance)
	}

	base := ` FROM virtual_cards c
		JOIN ledger_accounts a ON a.ref = 'card:' || c.id
		WHERE ` + where

	var total int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*)`+base, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count listings: %w", err)
	}

	query := `SELECT c.id, c.platform, c.card_number, a.balance, c.price_per_hour,
		c.current_price, c.demand_multiplier, c.expires_at, c.created_at` + base +
		` ORDER BY c.current_price ASC, c.created_at ASC
		LIMIT ` + arg(limit) + ` OFFSET ` + arg(offset)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		var cardNumber string
		if err := rows.Scan(&l.CardID, &l.Platform, &cardNumber, &l.Balance, &l.PricePerHour,
			&l.CurrentPrice, &l.DemandMultiplier, &l.ExpiresAt, &l.ListedAt); err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		card := models.VirtualCard{CardNumber: cardNumber}
		l.MaskedCardNumber = card.MaskedNumber()
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &SearchResult{
		Listings:   listings,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	}, nil
}

// Purchase buys timed access to a listed card. The price is recomputed
// from the live demand multiplier at the purchase instant, payment
// moves buyer wallet to seller wallet, and the card binds to the buyer.
// Concurrent purchases of the same card serialize on a per-card lock;
// the loser sees ErrAlreadySold.
func (m *Marketplace) Purchase(ctx context.Context, buyerID, cardID string, durationHours int) (*models.Purchase, *models.CardCredentials, error) {
	if durationHours <= 0 {
		return nil, nil, fmt.Errorf("duration must be positive")
	}

	m.locks.Lock(cardID)
	defer m.locks.Unlock(cardID)

	var platform string
	if err := m.db.QueryRowContext(ctx, `
		SELECT platform FROM virtual_cards WHERE id = $1
	`, cardID).Scan(&platform); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrListingNotFound
		}
		return nil, nil, fmt.Errorf("failed to load card: %w", err)
	}

	multiplier, err := m.pricing.DemandMultiplier(ctx, platform, pricing.DefaultWindowHours)
	if err != nil {
		return nil, nil, err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin purchase: %w", err)
	}
	defer tx.Rollback()

	var card models.VirtualCard
	err = tx.QueryRow(`
		SELECT id, card_number, cvv, seller_id, buyer_id, platform, base_price, status, expires_at
		FROM virtual_cards WHERE id = $1 FOR UPDATE
	`, cardID).Scan(&card.ID, &card.CardNumber, &card.CVV, &card.SellerID, &card.BuyerID,
		&card.Platform, &card.BasePrice, &card.Status, &card.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrListingNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock card: %w", err)
	}

	if card.BuyerID != nil {
		return nil, nil, ErrAlreadySold
	}
	if card.SellerID == buyerID {
		return nil, nil, ErrOwnListing
	}
	if card.Status != models.CardStatusActive {
		return nil, nil, ErrListingNotFound
	}
	if time.Now().After(card.ExpiresAt) {
		return nil, nil, ErrListingExpired
	}

	pricePerHour := round4(card.BasePrice * multiplier)
	totalPrice := round4(pricePerHour * float64(durationHours))

	buyerRef := ledger.UserRef(buyerID)
	sellerRef := ledger.UserRef(card.SellerID)
	if err := m.ledger.TransferTx(tx, buyerRef, sellerRef, totalPrice, models.LedgerReasonPurchase); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return nil, nil, ErrInsufficientFunds
		}
		return nil, nil, err
	}

	var remaining float64
	if err := tx.QueryRow(`
		SELECT balance FROM ledger_accounts WHERE ref = $1
	`, ledger.CardRef(cardID)).Scan(&remaining); err != nil {
		return nil, nil, fmt.Errorf("failed to read card balance: %w", err)
	}

	purchaseID := uuid.New().String()
	var purchase models.Purchase
	err = tx.QueryRow(`
		INSERT INTO purchases (id, buyer_id, seller_id, card_id, purchase_price, duration_hours, remaining_balance, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'active')
		RETURNING id, buyer_id, seller_id, card_id, purchase_price, duration_hours, remaining_balance, status, created_at
	`, purchaseID, buyerID, card.SellerID, cardID, totalPrice, durationHours, remaining).Scan(
		&purchase.ID, &purchase.BuyerID, &purchase.SellerID, &purchase.CardID,
		&purchase.PurchasePrice, &purchase.DurationHours, &purchase.RemainingBalance,
		&purchase.Status, &purchase.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert purchase: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE virtual_cards
		SET buyer_id = $1, current_price = $2, demand_multiplier = $3, updated_at = NOW()
		WHERE id = $4
	`, buyerID, pricePerHour, multiplier, cardID); err != nil {
		return nil, nil, fmt.Errorf("failed to bind card to buyer: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE users SET total_spent = total_spent + $1, updated_at = NOW() WHERE id = $2
	`, totalPrice, buyerID); err != nil {
		return nil, nil, fmt.Errorf("failed to update buyer totals: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE users SET total_earned = total_earned + $1, updated_at = NOW() WHERE id = $2
	`, totalPrice, card.SellerID); err != nil {
		return nil, nil, fmt.Errorf("failed to update seller totals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit purchase: %w", err)
	}

	m.ledger.PublishTransfer(buyerRef, sellerRef, totalPrice, models.LedgerReasonPurchase, purchaseID)
	m.logger.WithFields(logging.Fields{
		"purchase_id": purchaseID,
		"card_id":     cardID,
		"price":       totalPrice,
	}).Info("Card purchased")

	credentials := &models.CardCredentials{
		CardID:     card.ID,
		CardNumber: card.CardNumber,
		CVV:        card.CVV,
		Platform:   card.Platform,
		Balance:    remaining,
		ExpiresAt:  card.ExpiresAt,
	}
	return &purchase, credentials, nil
}

const purchaseColumns = `id, buyer_id, seller_id, card_id, purchase_price, duration_hours,
	remaining_balance, status, created_at`

// PurchasesByBuyer returns a user's purchase history, newest first
func (m *Marketplace) PurchasesByBuyer(ctx context.Context, buyerID string) ([]models.Purchase, error) {
	return m.listPurchases(ctx, `
		SELECT `+purchaseColumns+` FROM purchases WHERE buyer_id = $1 ORDER BY created_at DESC
	`, buyerID)
}

// PurchasesBySeller returns a user's sales history, newest first
func (m *Marketplace) PurchasesBySeller(ctx context.Context, sellerID string) ([]models.Purchase, error) {
	return m.listPurchases(ctx, `
		SELECT `+purchaseColumns+` FROM purchases WHERE seller_id = $1 ORDER BY created_at DESC
	`, sellerID)
}

func (m *Marketplace) listPurchases(ctx context.Context, query string, args ...interface{}) ([]models.Purchase, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	var purchases []models.Purchase
	for rows.Next() {
		var p models.Purchase
		if err := rows.Scan(&p.ID, &p.BuyerID, &p.SellerID, &p.CardID, &p.PurchasePrice,
			&p.DurationHours, &p.RemainingBalance, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// Platforms summarizes the live listing book per platform
func (m *Marketplace) Platforms(ctx context.Context) ([]PlatformSummary, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT platform, COUNT(*), MIN(current_price)
		FROM virtual_cards
		WHERE buyer_id IS NULL AND status = 'active' AND expires_at > NOW()
		GROUP BY platform
		ORDER BY platform
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize platforms: %w", err)
	}
	defer rows.Close()

	var summaries []PlatformSummary
	for rows.Next() {
		var s PlatformSummary
		if err := rows.Scan(&s.Platform, &s.ActiveListings, &s.MinPrice); err != nil {
			return nil, fmt.Errorf("failed to scan platform summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
