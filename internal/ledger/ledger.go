package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cjephuneh/subsplitAI-sub000/pkg/kafka"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/logging"
)

// Well-known account refs and ref namespaces. Every balance in the system
// lives in exactly one ledger account addressed by one of these.
const (
	SinkPlatformCosts = "sink:platform-costs"
)

// UserRef returns the ledger ref for a user's wallet
func UserRef(userID string) string { return "user:" + userID }

// PlatformAccountRef returns the ledger ref for a linked platform account
func PlatformAccountRef(accountID string) string { return "platform:" + accountID }

// CardRef returns the ledger ref backing a virtual card
func CardRef(cardID string) string { return "card:" + cardID }

// PoolRef returns the ledger ref backing a credit pool
func PoolRef(poolID string) string { return "pool:" + poolID }

var (
	// ErrUnknownAccount is returned when a transfer names a ref with no account row
	ErrUnknownAccount = errors.New("unknown ledger account")
	// ErrInsufficientBalance is returned when the source account cannot cover the amount
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidAmount is returned for zero or negative transfer amounts
	ErrInvalidAmount = errors.New("transfer amount must be positive")
)

// Ledger is the sole writer of balances. All credit movement in the
// marketplace goes through Transfer so the entry log stays complete.
type Ledger struct {
	db       *sql.DB
	logger   logging.Logger
	producer *kafka.Producer
}

// New creates a Ledger. producer may be nil; events are then skipped.
func New(db *sql.DB, logger logging.Logger, producer *kafka.Producer) *Ledger {
	return &Ledger{db: db, logger: logger, producer: producer}
}

// EnsureAccount creates the account row for ref if it does not exist yet
func (l *Ledger) EnsureAccount(ctx context.Context, ref string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO ledger_accounts (ref, balance)
		VALUES ($1, 0)
		ON CONFLICT (ref) DO NOTHING
	`, ref)
	if err != nil {
		return fmt.Errorf("failed to ensure ledger account %s: %w", ref, err)
	}
	return nil
}

// EnsureAccountTx is EnsureAccount inside an existing transaction
func (l *Ledger) EnsureAccountTx(tx *sql.Tx, ref string) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_accounts (ref, balance)
		VALUES ($1, 0)
		ON CONFLICT (ref) DO NOTHING
	`, ref)
	if err != nil {
		return fmt.Errorf("failed to ensure ledger account %s: %w", ref, err)
	}
	return nil
}

// BalanceOf returns the current balance of ref
func (l *Ledger) BalanceOf(ctx context.Context, ref string) (float64, error) {
	var balance float64
	err := l.db.QueryRowContext(ctx, `
		SELECT balance FROM ledger_accounts WHERE ref = $1
	`, ref).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnknownAccount
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance for %s: %w", ref, err)
	}
	return balance, nil
}

// Transfer moves amount from one account to another in a single
// transaction and appends the entry recording it.
func (l *Ledger) Transfer(ctx context.Context, sourceRef, destRef string, amount float64, reason string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transfer: %w", err)
	}
	defer tx.Rollback()

	if err := l.TransferTx(tx, sourceRef, destRef, amount, reason); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transfer: %w", err)
	}

	l.publish(sourceRef, destRef, amount, reason, "")
	return nil
}

// TransferTx performs the transfer inside an existing transaction so
// callers can update their own rows atomically with the balance move.
// Both account rows are locked in lexicographic ref order so concurrent
// transfers touching the same accounts cannot deadlock. The caller owns
// commit and rollback; no event is published here.
func (l *Ledger) TransferTx(tx *sql.Tx, sourceRef, destRef string, amount float64, reason string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if sourceRef == destRef {
		return fmt.Errorf("transfer from %s to itself", sourceRef)
	}

	first, second := sourceRef, destRef
	if strings.Compare(second, first) < 0 {
		first, second = second, first
	}

	balances := make(map[string]float64, 2)
	for _, ref := range []string{first, second} {
		var balance float64
		err := tx.QueryRow(`
			SELECT balance FROM ledger_accounts WHERE ref = $1 FOR UPDATE
		`, ref).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrUnknownAccount, ref)
		}
		if err != nil {
			return fmt.Errorf("failed to lock account %s: %w", ref, err)
		}
		balances[ref] = balance
	}

	if balances[sourceRef] < amount {
		return fmt.Errorf("%w: %s has %.4f, need %.4f", ErrInsufficientBalance, sourceRef, balances[sourceRef], amount)
	}

	if _, err := tx.Exec(`
		UPDATE ledger_accounts SET balance = balance - $1, updated_at = NOW() WHERE ref = $2
	`, amount, sourceRef); err != nil {
		return fmt.Errorf("failed to debit %s: %w", sourceRef, err)
	}
	if _, err := tx.Exec(`
		UPDATE ledger_accounts SET balance = balance + $1, updated_at = NOW() WHERE ref = $2
	`, amount, destRef); err != nil {
		return fmt.Errorf("failed to credit %s: %w", destRef, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO ledger_entries (id, source_ref, dest_ref, amount, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New().String(), sourceRef, destRef, amount, reason); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return nil
}

// Deposit credits an account from outside the ledger. The entry carries
// a nil source ref to mark external funds entering the system.
func (l *Ledger) Deposit(ctx context.Context, destRef string, amount float64, reason string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin deposit: %w", err)
	}
	defer tx.Rollback()

	if err := l.DepositTx(tx, destRef, amount, reason); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deposit: %w", err)
	}

	l.publish("", destRef, amount, reason, "")
	return nil
}

// DepositTx is Deposit inside an existing transaction
func (l *Ledger) DepositTx(tx *sql.Tx, destRef string, amount float64, reason string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	res, err := tx.Exec(`
		UPDATE ledger_accounts SET balance = balance + $1, updated_at = NOW() WHERE ref = $2
	`, amount, destRef)
	if err != nil {
		return fmt.Errorf("failed to credit %s: %w", destRef, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, destRef)
	}

	if _, err := tx.Exec(`
		INSERT INTO ledger_entries (id, source_ref, dest_ref, amount, reason)
		VALUES ($1, NULL, $2, $3, $4)
	`, uuid.New().String(), destRef, amount, reason); err != nil {
		return fmt.Errorf("failed to append deposit entry: %w", err)
	}

	return nil
}

// Entries returns the most recent entries touching ref, newest first
func (l *Ledger) Entries(ctx context.Context, ref string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, source_ref, dest_ref, amount, reason, created_at
		FROM ledger_entries
		WHERE source_ref = $1 OR dest_ref = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ref, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries for %s: %w", ref, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SourceRef, &e.DestRef, &e.Amount, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PublishTransfer mirrors an already-committed transfer onto the event
// stream. Components using TransferTx call this after their commit.
func (l *Ledger) PublishTransfer(sourceRef, destRef string, amount float64, reason, reference string) {
	l.publish(sourceRef, destRef, amount, reason, reference)
}

func (l *Ledger) publish(sourceRef, destRef string, amount float64, reason, reference string) {
	if l.producer == nil {
		return
	}
	event := kafka.NewLedgerEvent(sourceRef, destRef, amount, reason, reference)
	if err := l.producer.PublishLedgerEvent(event); err != nil {
		l.logger.WithFields(logging.Fields{
			"source_ref": sourceRef,
			"dest_ref":   destRef,
			"reason":     reason,
		}).WithError(err).Warn("Failed to publish ledger event")
	}
}
