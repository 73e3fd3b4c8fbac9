package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/cjephuneh/subsplitAI-sub000/internal/ledger"
	"github.com/cjephuneh/subsplitAI-sub000/internal/pricing"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/logging"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/models"
)

func newTestMarketplace(t *testing.T) (*Marketplace, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	logger := logging.NewLogger()
	engine := pricing.NewEngine(mockDB, nil, logger, pricing.DefaultMinMultiplier, pricing.DefaultMaxMultiplier)
	return New(mockDB, logger, ledger.New(mockDB, logger, nil), engine), mock
}

func TestSearch_FiltersAndPages(t *testing.T) {
	m, mock := newTestMarketplace(t)

	now := time.Now()
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\).*FROM virtual_cards c`).
		WithArgs(models.PlatformClaude, 1.0, 5.0).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`(?s)SELECT c\.id, c\.platform, c\.card_number`).
		WithArgs(models.PlatformClaude, 1.0, 5.0, 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "platform", "card_number", "balance",
			"price_per_hour", "current_price", "demand_multiplier", "expires_at", "created_at"}).
			AddRow(uuid.New().String(), models.PlatformClaude, "4111222233334444", 10.0,
				2.0, 2.5, 1.25, now.Add(time.Hour), now))

	result, err := m.Search(context.Background(), SearchQuery{
		Platform: models.PlatformClaude,
		MinPrice: 1.0,
		MaxPrice: 5.0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalCount != 1 || len(result.Listings) != 1 {
		t.Fatalf("expected one listing, got total=%d len=%d", result.TotalCount, len(result.Listings))
	}
	if result.Listings[0].MaskedCardNumber != "**** **** **** 4444" {
		t.Fatalf("card number not masked: %s", result.Listings[0].MaskedCardNumber)
	}
	if result.Limit != 20 {
		t.Fatalf("expected default limit 20, got %d", result.Limit)
	}
}

// expectPurchase queues the full happy-path expectation set. Buyer and
// seller refs must be passed in lock order (lexicographically smaller
// first is handled by the caller choosing ordered ids).
func expectPurchase(mock sqlmock.Sqlmock, cardID, buyerID, sellerID string, basePrice float64, hours int) {
	now := time.Now()

	mock.ExpectQuery(`SELECT platform FROM virtual_cards WHERE id = \$1`).
		WithArgs(cardID).
		WillReturnRows(sqlmock.NewRows([]string{"platform"}).AddRow(models.PlatformChatGPT))
	// demand 1, supply 1: midpoint multiplier 1.75
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM purchases`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM virtual_cards`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT id, card_number, cvv, seller_id.*FOR UPDATE`).
		WithArgs(cardID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "card_number", "cvv", "seller_id", "buyer_id",
			"platform", "base_price", "status", "expires_at"}).
			AddRow(cardID, "4111222233334444", "123", sellerID, nil,
				models.PlatformChatGPT, basePrice, "active", now.Add(time.Hour)))
	mock.ExpectQuery(`SELECT balance FROM ledger_accounts WHERE ref = \$1 FOR UPDATE`).
		WithArgs(ledger.UserRef(buyerID)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(100.0))
	mock.ExpectQuery(`SELECT balance FROM ledger_accounts WHERE ref = \$1 FOR UPDATE`).
		WithArgs(ledger.UserRef(sellerID)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(0.0))
	mock.ExpectExec(`UPDATE ledger_accounts SET balance = balance - \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE ledger_accounts SET balance = balance \+ \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT balance FROM ledger_accounts WHERE ref = \$1`).
		WithArgs(ledger.CardRef(cardID)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(10.0))

	price := basePrice * 1.75
	total := price * float64(hours)
	mock.ExpectQuery(`INSERT INTO purchases`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "buyer_id", "seller_id", "card_id",
			"purchase_price", "duration_hours", "remaining_balance", "status", "created_at"}).
			AddRow(uuid.New().String(), buyerID, sellerID, cardID, total, hours, 10.0, "active", now))
	mock.ExpectExec(`UPDATE virtual_cards`).
		WithArgs(buyerID, price, 1.75, cardID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET total_spent`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET total_earned`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestPurchase_RecomputesPriceAtPurchaseInstant(t *testing.T) {
	m, mock := newTestMarketplace(t)

	cardID := uuid.New().String()
	buyerID := "11111111-1111-1111-1111-111111111111"
	sellerID := "22222222-2222-2222-2222-222222222222"

	expectPurchase(mock, cardID, buyerID, sellerID, 2.0, 3)

	purchase, credentials, err := m.Purchase(context.Background(), buyerID, cardID, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// base 2.0 at midpoint multiplier 1.75 over 3 hours
	if purchase.PurchasePrice != 10.5 {
		t.Fatalf("expected purchase price 10.5, got %v", purchase.PurchasePrice)
	}
	if credentials.CardNumber != "4111222233334444" || credentials.CVV != "123" {
		t.Fatalf("credentials not returned to buyer")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPurchase_AlreadySold(t *testing.T) {
	m, mock := newTestMarketplace(t)

	cardID := uuid.New().String()
	otherBuyer := uuid.New().String()

	mock.ExpectQuery(`SELECT platform FROM virtual_cards WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"platform"}).AddRow(models.PlatformChatGPT))
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM purchases`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM virtual_cards`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT id, card_number, cvv, seller_id.*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "card_number", "cvv", "seller_id", "buyer_id",
			"platform", "base_price", "status", "expires_at"}).
			AddRow(cardID, "4111222233334444", "123", uuid.New().String(), otherBuyer,
				models.PlatformChatGPT, 2.0, "active", time.Now().Add(time.Hour)))
	mock.ExpectRollback()

	_, _, err := m.Purchase(context.Background(), uuid.New().String(), cardID, 2)
	if !errors.Is(err, ErrAlreadySold) {
		t.Fatalf("expected ErrAlreadySold, got %v", err)
	}
}

func TestPurchase_OwnListing(t *testing.T) {
	m, mock := newTestMarketplace(t)

	cardID := uuid.New().String()
	sellerID := uuid.New().String()

	mock.ExpectQuery(`SELECT platform FROM virtual_cards WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"platform"}).AddRow(models.PlatformChatGPT))
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM purchases`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM virtual_cards`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT id, card_number, cvv, seller_id.*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "card_number", "cvv", "seller_id", "buyer_id",
			"platform", "base_price", "status", "expires_at"}).
			AddRow(cardID, "4111222233334444", "123", sellerID, nil,
				models.PlatformChatGPT, 2.0, "active", time.Now().Add(time.Hour)))
	mock.ExpectRollback()

	_, _, err := m.Purchase(context.Background(), sellerID, cardID, 2)
	if !errors.Is(err, ErrOwnListing) {
		t.Fatalf("expected ErrOwnListing, got %v", err)
	}
}

func TestPurchase_InsufficientFunds(t *testing.T) {
	m, mock := newTestMarketplace(t)

	cardID := uuid.New().String()
	buyerID := "11111111-1111-1111-1111-111111111111"
	sellerID := "22222222-2222-2222-2222-222222222222"

	mock.ExpectQuery(`SELECT platform FROM virtual_cards WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"platform"}).AddRow(models.PlatformChatGPT))
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM purchases`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM virtual_cards`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT id, card_number, cvv, seller_id.*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "card_number", "cvv", "seller_id", "buyer_id",
			"platform", "base_price", "status", "expires_at"}).
			AddRow(cardID, "4111222233334444", "123", sellerID, nil,
				models.PlatformChatGPT, 2.0, "active", time.Now().Add(time.Hour)))
	mock.ExpectQuery(`SELECT balance FROM ledger_accounts WHERE ref = \$1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(1.0))
	mock.ExpectQuery(`SELECT balance FROM ledger_accounts WHERE ref = \$1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(0.0))
	mock.ExpectRollback()

	_, _, err := m.Purchase(context.Background(), buyerID, cardID, 2)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestPurchase_ConcurrentBuyersOneWinner(t *testing.T) {
	m, mock := newTestMarketplace(t)

	cardID := uuid.New().String()
	sellerID := "33333333-3333-3333-3333-333333333333"
	buyerA := "11111111-1111-1111-1111-111111111111"
	buyerB := "22222222-2222-2222-2222-222222222222"
	now := time.Now()

	// The per-card lock serializes the two calls, so whichever buyer
	// goes first consumes the winning expectation set and the other
	// sees the card already bound.
	mock.ExpectQuery(`SELECT platform FROM virtual_cards WHERE id = \$1`).
		WithArgs(cardID).
		WillReturnRows(sqlmock.NewRows([]string{"platform"}).AddRow(models.PlatformChatGPT))
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM purchases`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM virtual_cards`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT id, card_number, cvv, seller_id.*FOR UPDATE`).
		WithArgs(cardID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "card_number", "cvv", "seller_id", "buyer_id",
			"platform", "base_price", "status", "expires_at"}).
			AddRow(cardID, "4111222233334444", "123", sellerID, nil,
				models.PlatformChatGPT, 2.0, "active", now.Add(time.Hour)))
	mock.ExpectQuery(`SELECT balance FROM ledger_accounts WHERE ref = \$1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(100.0))
	mock.ExpectQuery(`SELECT balance FROM ledger_accounts WHERE ref = \$1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(0.0))
	mock.ExpectExec(`UPDATE ledger_accounts SET balance = balance - \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE ledger_accounts SET balance = balance \+ \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT balance FROM ledger_accounts WHERE ref = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(10.0))
	mock.ExpectQuery(`INSERT INTO purchases`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "buyer_id", "seller_id", "card_id",
			"purchase_price", "duration_hours", "remaining_balance", "status", "created_at"}).
			AddRow(uuid.New().String(), buyerA, sellerID, cardID, 10.5, 3, 10.0, "active", now))
	mock.ExpectExec(`UPDATE virtual_cards`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET total_spent`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET total_earned`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// loser's pass: the locked row now carries the winner's buyer_id
	mock.ExpectQuery(`SELECT platform FROM virtual_cards WHERE id = \$1`).
		WithArgs(cardID).
		WillReturnRows(sqlmock.NewRows([]string{"platform"}).AddRow(models.PlatformChatGPT))
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM purchases`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM virtual_cards`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT id, card_number, cvv, seller_id.*FOR UPDATE`).
		WithArgs(cardID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "card_number", "cvv", "seller_id", "buyer_id",
			"platform", "base_price", "status", "expires_at"}).
			AddRow(cardID, "4111222233334444", "123", sellerID, buyerA,
				models.PlatformChatGPT, 2.0, "active", now.Add(time.Hour)))
	mock.ExpectRollback()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, buyer := range []string{buyerA, buyerB} {
		wg.Add(1)
		go func(i int, buyer string) {
			defer wg.Done()
			_, _, errs[i] = m.Purchase(context.Background(), buyer, cardID, 3)
		}(i, buyer)
	}
	wg.Wait()

	var winners, losers int
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrAlreadySold):
			losers++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 || losers != 1 {
		t.Fatalf("expected exactly one winner and one ErrAlreadySold, got %d/%d", winners, losers)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	km := newKeyedMutex()

	var mu sync.Mutex
	inCritical := 0
	maxInCritical := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("card-1")
			defer km.Unlock("card-1")

			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxInCritical != 1 {
		t.Fatalf("expected one goroutine in critical section, saw %d", maxInCritical)
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := newKeyedMutex()

	km.Lock("a")
	done := make(chan struct{})
	go func() {
		km.Lock("b")
		km.Unlock("b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on independent key blocked")
	}
	km.Unlock("a")
}
