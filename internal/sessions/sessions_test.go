package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/cjephuneh/subsplitAI-sub000/internal/ledger"
	"github.com/cjephuneh/subsplitAI-sub000/internal/platform"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/logging"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/models"
)

func newTestController(t *testing.T) (*Controller, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	logger := logging.NewLogger()
	return NewController(mockDB, logger, ledger.New(mockDB, logger, nil), platform.NewSimulated()), mock
}

func sessionColumnNames() []string {
	return []string{"id", "buyer_id", "card_id", "purchase_id", "session_token", "platform",
		"status", "total_usage", "request_count", "last_request_at", "started_at", "expires_at",
		"terminated_at", "created_at", "updated_at"}
}

func sessionRow(s models.Session) *sqlmock.Rows {
	return sqlmock.NewRows(sessionColumnNames()).AddRow(
		s.ID, s.BuyerID, s.CardID, s.PurchaseID, s.SessionToken, s.Platform, s.Status,
		s.TotalUsage, s.RequestCount, s.LastRequestAt, s.StartedAt, s.ExpiresAt,
		s.TerminatedAt, s.CreatedAt, s.UpdatedAt)
}

func testSession(buyerID string) models.Session {
	now := time.Now()
	return models.Session{
		ID:           uuid.New().String(),
		BuyerID:      buyerID,
		CardID:       uuid.New().String(),
		PurchaseID:   uuid.New().String(),
		SessionToken: "deadbeef",
		Platform:     models.PlatformClaude,
		Status:       models.SessionStatusActive,
		StartedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestCreate_CapsExpiryAtCardExpiry(t *testing.T) {
	c, mock := newTestController(t)

	buyerID := uuid.New().String()
	cardID := uuid.New().String()
	session := testSession(buyerID)
	session.CardID = cardID
	cardExpiry := time.Now().Add(30 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT buyer_id, platform, status, expires_at FROM virtual_cards`).
		WithArgs(cardID).
		WillReturnRows(sqlmock.NewRows([]string{"buyer_id", "platform", "status", "expires_at"}).
			AddRow(buyerID, models.PlatformClaude, "active", cardExpiry))
	mock.ExpectQuery(`(?s)SELECT id, duration_hours FROM purchases`).
		WithArgs(cardID, buyerID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "duration_hours"}).
			AddRow(session.PurchaseID, 4))
	mock.ExpectQuery(`INSERT INTO sessions`).
		WillReturnRows(sessionRow(session))
	mock.ExpectCommit()

	got, err := c.Create(context.Background(), buyerID, cardID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != session.ID {
		t.Fatalf("wrong session returned: %s", got.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_RejectsUnpurchasedCard(t *testing.T) {
	c, mock := newTestController(t)

	otherBuyer := uuid.New().String()
	cardID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT buyer_id, platform, status, expires_at FROM virtual_cards`).
		WillReturnRows(sqlmock.NewRows([]string{"buyer_id", "platform", "status", "expires_at"}).
			AddRow(otherBuyer, models.PlatformClaude, "active", time.Now().Add(time.Hour)))
	mock.ExpectRollback()

	_, err := c.Create(context.Background(), uuid.New().String(), cardID)
	if !errors.Is(err, ErrCardNotPurchased) {
		t.Fatalf("expected ErrCardNotPurchased, got %v", err)
	}
}

func TestExecute_MetersAndDebitsCard(t *testing.T) {
	c, mock := newTestController(t)

	buyerID := uuid.New().String()
	session := testSession(buyerID)
	message := "hello there"
	// chat base 0.002 + 11 chars at 0.0001, multiplier 2.0
	wantCost := round4((0.002 + 0.0011) * 2.0)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.*FROM sessions WHERE id = \$1 FOR UPDATE`).
		WithArgs(session.ID).
		WillReturnRows(sessionRow(session))
	mock.ExpectQuery(`SELECT demand_multiplier FROM virtual_cards`).
		WithArgs(session.CardID).
		WillReturnRows(sqlmock.NewRows([]string{"demand_multiplier"}).AddRow(2.0))
	mock.ExpectQuery(`SELECT balance FROM ledger_accounts WHERE ref = \$1 FOR UPDATE`).
		WithArgs(ledger.CardRef(session.CardID)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(5.0))
	mock.ExpectQuery(`SELECT balance FROM ledger_accounts WHERE ref = \$1 FOR UPDATE`).
		WithArgs(ledger.SinkPlatformCosts).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(0.0))
	mock.ExpectExec(`UPDATE ledger_accounts SET balance = balance - \$1`).
		WithArgs(wantCost, ledger.CardRef(session.CardID)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE ledger_accounts SET balance = balance \+ \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT balance FROM ledger_accounts WHERE ref = \$1`).
		WithArgs(ledger.CardRef(session.CardID)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(5.0 - wantCost))

	updated := session
	updated.TotalUsage = wantCost
	updated.RequestCount = 1
	mock.ExpectQuery(`(?s)UPDATE sessions.*RETURNING`).
		WillReturnRows(sessionRow(updated))
	mock.ExpectExec(`UPDATE virtual_cards`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO usage_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := c.Execute(context.Background(), buyerID, session.ID, message, models.RequestTypeChat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Cost != wantCost {
		t.Fatalf("expected cost %v, got %v", wantCost, result.Cost)
	}
	if result.RequestCount != 1 {
		t.Fatalf("expected request count 1, got %d", result.RequestCount)
	}
	if result.Response == "" {
		t.Fatal("expected a simulated response")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestExecute_ExhaustsWhenCardCannotCover(t *testing.T) {
	c, mock := newTestController(t)

	buyerID := uuid.New().String()
	session := testSession(buyerID)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.*FROM sessions WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(sessionRow(session))
	mock.ExpectQuery(`SELECT demand_multiplier FROM virtual_cards`).
		WillReturnRows(sqlmock.NewRows([]string{"demand_multiplier"}).AddRow(1.0))
	mock.ExpectQuery(`SELECT balance FROM ledger_accounts WHERE ref = \$1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(0.0001))
	mock.ExpectQuery(`SELECT balance FROM ledger_accounts WHERE ref = \$1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(0.0))
	mock.ExpectExec(`UPDATE sessions SET status = 'exhausted'`).
		WithArgs(session.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE virtual_cards SET status = 'exhausted'`).
		WithArgs(session.CardID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := c.Execute(context.Background(), buyerID, session.ID, "a long message body", models.RequestTypeChat)
	if !errors.Is(err, ErrSessionExhausted) {
		t.Fatalf("expected ErrSessionExhausted, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestExecute_ExpiredSessionTransitionsLazily(t *testing.T) {
	c, mock := newTestController(t)

	buyerID := uuid.New().String()
	session := testSession(buyerID)
	session.ExpiresAt = time.Now().Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.*FROM sessions WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(sessionRow(session))
	mock.ExpectExec(`UPDATE sessions SET status = 'expired'`).
		WithArgs(session.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := c.Execute(context.Background(), buyerID, session.ID, "hello", "")
	if !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
}

func TestExecute_RejectsOtherUsers(t *testing.T) {
	c, mock := newTestController(t)

	session := testSession(uuid.New().String())

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.*FROM sessions WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(sessionRow(session))
	mock.ExpectRollback()

	_, err := c.Execute(context.Background(), uuid.New().String(), session.ID, "hello", "")
	if !errors.Is(err, ErrNotSessionOwner) {
		t.Fatalf("expected ErrNotSessionOwner, got %v", err)
	}
}

func TestTerminate_IsIdempotent(t *testing.T) {
	c, mock := newTestController(t)

	buyerID := uuid.New().String()
	session := testSession(buyerID)

	terminated := session
	terminated.Status = models.SessionStatusTerminated
	now := time.Now()
	terminated.TerminatedAt = &now

	mock.ExpectQuery(`(?s)SELECT.*FROM sessions WHERE id = \$1`).
		WillReturnRows(sessionRow(session))
	mock.ExpectQuery(`(?s)UPDATE sessions.*SET status = 'terminated'.*RETURNING`).
		WillReturnRows(sessionRow(terminated))

	got, err := c.Terminate(context.Background(), buyerID, session.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.SessionStatusTerminated {
		t.Fatalf("expected terminated, got %s", got.Status)
	}

	// second call sees the terminated row and returns it untouched
	mock.ExpectQuery(`(?s)SELECT.*FROM sessions WHERE id = \$1`).
		WillReturnRows(sessionRow(terminated))

	got, err = c.Terminate(context.Background(), buyerID, session.ID)
	if err != nil {
		t.Fatalf("unexpected error on repeat terminate: %v", err)
	}
	if got.Status != models.SessionStatusTerminated {
		t.Fatalf("expected terminated on repeat call, got %s", got.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGet_OverdueSessionReportedExpired(t *testing.T) {
	c, mock := newTestController(t)

	buyerID := uuid.New().String()
	session := testSession(buyerID)
	session.ExpiresAt = time.Now().Add(-time.Minute)

	mock.ExpectQuery(`(?s)SELECT.*FROM sessions WHERE id = \$1`).
		WithArgs(session.ID).
		WillReturnRows(sessionRow(session))
	mock.ExpectExec(`UPDATE sessions SET status = 'expired'`).
		WithArgs(session.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := c.Get(context.Background(), buyerID, session.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.SessionStatusExpired {
		t.Fatalf("expected expired status on read, got %s", got.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListByUser_NeverReportsOverdueAsActive(t *testing.T) {
	c, mock := newTestController(t)

	buyerID := uuid.New().String()
	session := testSession(buyerID)
	session.ExpiresAt = time.Now().Add(-time.Minute)

	mock.ExpectQuery(`(?s)SELECT.*FROM sessions WHERE buyer_id = \$1`).
		WithArgs(buyerID).
		WillReturnRows(sessionRow(session))

	got, err := c.ListByUser(context.Background(), buyerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one session, got %d", len(got))
	}
	if got[0].Status != models.SessionStatusExpired {
		t.Fatalf("expected expired status on list, got %s", got[0].Status)
	}
}

func TestBaseCost_PerRequestType(t *testing.T) {
	if baseCost(models.RequestTypeChat) != baseCostChat {
		t.Fatal("wrong chat base cost")
	}
	if baseCost(models.RequestTypeCompletion) != baseCostCompletion {
		t.Fatal("wrong completion base cost")
	}
	if baseCost(models.RequestTypeEmbedding) != baseCostEmbedding {
		t.Fatal("wrong embedding base cost")
	}
	if baseCost("unknown") != baseCostChat {
		t.Fatal("unknown type should default to chat")
	}
}
