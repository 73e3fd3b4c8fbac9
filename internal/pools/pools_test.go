package pools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/cjephuneh/subsplitAI-sub000/internal/ledger"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/logging"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/models"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	logger := logging.NewLogger()
	return NewManager(mockDB, logger, ledger.New(mockDB, logger, nil)), mock
}

func poolColumnNames() []string {
	return []string{"id", "owner_id", "platform", "pool_name", "min_contribution",
		"max_contribution", "status", "is_public", "total_contributed", "total_used",
		"created_at", "updated_at"}
}

func poolRow(p models.CreditPool) *sqlmock.Rows {
	return sqlmock.NewRows(poolColumnNames()).AddRow(
		p.ID, p.OwnerID, p.Platform, p.PoolName, p.MinContribution, p.MaxContribution,
		p.Status, p.IsPublic, p.TotalContributed, p.TotalUsed, p.CreatedAt, p.UpdatedAt)
}

func testPool(ownerID string) models.CreditPool {
	now := time.Now()
	return models.CreditPool{
		ID:              uuid.New().String(),
		OwnerID:         ownerID,
		Platform:        models.PlatformChatGPT,
		PoolName:        "shared gpt credits",
		MinContribution: 1,
		MaxContribution: 10,
		Status:          models.PoolStatusOpen,
		IsPublic:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestCreate_OpensPoolWithLedgerAccount(t *testing.T) {
	m, mock := newTestManager(t)

	ownerID := uuid.New().String()
	pool := testPool(ownerID)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO credit_pools`).
		WillReturnRows(poolRow(pool))
	mock.ExpectExec(`INSERT INTO ledger_accounts`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := m.Create(context.Background(), ownerID, CreateRequest{
		Platform:        models.PlatformChatGPT,
		PoolName:        "shared gpt credits",
		MinContribution: 1,
		MaxContribution: 10,
		IsPublic:        true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != pool.ID {
		t.Fatalf("wrong pool returned: %s", got.ID)
	}
}

func TestCreate_RejectsBadInput(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Create(context.Background(), "u", CreateRequest{Platform: "midjourney", PoolName: "p"}); err == nil {
		t.Fatal("expected error for unsupported platform")
	}
	if _, err := m.Create(context.Background(), "u", CreateRequest{Platform: models.PlatformClaude}); err == nil {
		t.Fatal("expected error for missing pool name")
	}
	if _, err := m.Create(context.Background(), "u", CreateRequest{
		Platform: models.PlatformClaude, PoolName: "p", MinContribution: 20, MaxContribution: 5,
	}); err == nil {
		t.Fatal("expected error for inverted bounds")
	}
}

func expectContribution(mock sqlmock.Sqlmock, pool models.CreditPool, accountID, userID string, amount float64, accountBalance float64) {
	contributionCols := []string{"id", "pool_id", "platform_account_id", "contributor_id", "amount", "status", "created_at"}

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.*FROM credit_pools WHERE id = \$1 FOR UPDATE`).
		WithArgs(pool.ID).
		WillReturnRows(poolRow(pool))
	mock.ExpectQuery(`SELECT platform, allow_pooling FROM platform_accounts`).
		WithArgs(accountID, userID).
		WillReturnRows(sqlmock.NewRows([]string{"platform", "allow_pooling"}).AddRow(pool.Platform, true))
	// platform ref sorts before pool ref
	mock.ExpectQuery(`SELECT balance FROM ledger_accounts WHERE ref = \$1 FOR UPDATE`).
		WithArgs(ledger.PlatformAccountRef(accountID)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(accountBalance))
	mock.ExpectQuery(`SELECT balance FROM ledger_accounts WHERE ref = \$1 FOR UPDATE`).
		WithArgs(ledger.PoolRef(pool.ID)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(0.0))
	mock.ExpectExec(`UPDATE ledger_accounts SET balance = balance - \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE ledger_accounts SET balance = balance \+ \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO pool_contributions`).
		WillReturnRows(sqlmock.NewRows(contributionCols).AddRow(
			uuid.New().String(), pool.ID, accountID, userID, amount, "accepted", time.Now()))
	mock.ExpectExec(`UPDATE credit_pools SET total_contributed`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestContribute_AcceptsAmountInsideBounds(t *testing.T) {
	m, mock := newTestManager(t)

	userID := uuid.New().String()
	accountID := uuid.New().String()
	pool := testPool(uuid.New().String())

	expectContribution(mock, pool, accountID, userID, 5, 50)

	contribution, err := m.Contribute(context.Background(), userID, ContributeRequest{
		PoolID:            pool.ID,
		PlatformAccountID: accountID,
		Amount:            5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contribution.Status != models.ContributionStatusAccepted {
		t.Fatalf("expected accepted contribution, got %s", contribution.Status)
	}

	expectContribution(mock, pool, accountID, userID, 7, 45)
	if _, err := m.Contribute(context.Background(), userID, ContributeRequest{
		PoolID:            pool.ID,
		PlatformAccountID: accountID,
		Amount:            7,
	}); err != nil {
		t.Fatalf("unexpected error on second contribution: %v", err)
	}
}

func TestContribute_RejectsAmountOutsideBounds(t *testing.T) {
	m, mock := newTestManager(t)

	pool := testPool(uuid.New().String())

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.*FROM credit_pools WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(poolRow(pool))
	mock.ExpectRollback()

	_, err := m.Contribute(context.Background(), uuid.New().String(), ContributeRequest{
		PoolID:            pool.ID,
		PlatformAccountID: uuid.New().String(),
		Amount:            20,
	})
	if !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.*FROM credit_pools WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(poolRow(pool))
	mock.ExpectRollback()

	_, err = m.Contribute(context.Background(), uuid.New().String(), ContributeRequest{
		PoolID:            pool.ID,
		PlatformAccountID: uuid.New().String(),
		Amount:            0.5,
	})
	if !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds below min, got %v", err)
	}
}

func TestContribute_RejectsClosedPool(t *testing.T) {
	m, mock := newTestManager(t)

	pool := testPool(uuid.New().String())
	pool.Status = models.PoolStatusClosed

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.*FROM credit_pools WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(poolRow(pool))
	mock.ExpectRollback()

	_, err := m.Contribute(context.Background(), uuid.New().String(), ContributeRequest{
		PoolID:            pool.ID,
		PlatformAccountID: uuid.New().String(),
		Amount:            5,
	})
	if !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestContribute_RejectsPlatformMismatch(t *testing.T) {
	m, mock := newTestManager(t)

	pool := testPool(uuid.New().String())

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.*FROM credit_pools WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(poolRow(pool))
	mock.ExpectQuery(`SELECT platform, allow_pooling FROM platform_accounts`).
		WillReturnRows(sqlmock.NewRows([]string{"platform", "allow_pooling"}).AddRow(models.PlatformGemini, true))
	mock.ExpectRollback()

	_, err := m.Contribute(context.Background(), uuid.New().String(), ContributeRequest{
		PoolID:            pool.ID,
		PlatformAccountID: uuid.New().String(),
		Amount:            5,
	})
	if !errors.Is(err, ErrPlatformMismatch) {
		t.Fatalf("expected ErrPlatformMismatch, got %v", err)
	}
}

func TestStats_DerivesUtilization(t *testing.T) {
	m, mock := newTestManager(t)

	pool := testPool(uuid.New().String())
	pool.TotalContributed = 12
	pool.TotalUsed = 3

	mock.ExpectQuery(`(?s)SELECT.*FROM credit_pools WHERE id = \$1`).
		WithArgs(pool.ID).
		WillReturnRows(poolRow(pool))
	mock.ExpectQuery(`SELECT balance FROM ledger_accounts WHERE ref = \$1`).
		WithArgs(ledger.PoolRef(pool.ID)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(9.0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pool_contributions`).
		WithArgs(pool.ID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	stats, err := m.Stats(context.Background(), pool.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.AvailableBalance != 9 {
		t.Fatalf("expected available 9, got %v", stats.AvailableBalance)
	}
	if stats.UtilizationPercentage != 25 {
		t.Fatalf("expected utilization 25, got %v", stats.UtilizationPercentage)
	}
	if stats.ContributionCount != 2 {
		t.Fatalf("expected 2 contributions, got %d", stats.ContributionCount)
	}
}

func TestClose_RejectsNonOwner(t *testing.T) {
	m, mock := newTestManager(t)

	pool := testPool(uuid.New().String())

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.*FROM credit_pools WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(poolRow(pool))
	mock.ExpectRollback()

	_, err := m.Close(context.Background(), uuid.New().String(), pool.ID)
	if !errors.Is(err, ErrNotPoolOwner) {
		t.Fatalf("expected ErrNotPoolOwner, got %v", err)
	}
}
