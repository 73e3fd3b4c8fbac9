package sessions

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/cjephuneh/subsplitAI-sub000/internal/ledger"
	"github.com/cjephuneh/subsplitAI-sub000/internal/platform"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/logging"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/models"
)

var (
	// ErrSessionNotFound is returned when no session matches the lookup
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotSessionOwner is returned when a caller uses another buyer's session
	ErrNotSessionOwner = errors.New("session belongs to another user")
	// ErrSessionNotActive is returned for expired or terminated sessions
	ErrSessionNotActive = errors.New("session not active")
	// ErrSessionExhausted is returned when the backing card cannot cover the request
	ErrSessionExhausted = errors.New("session exhausted")
	// ErrCardNotPurchased is returned when opening a session on a card the caller does not hold
	ErrCardNotPurchased = errors.New("card not purchased by caller")
)

// Per-character and per-request base costs. A chat round trip costs its
// base plus a fraction of a credit per character sent.
const (
	costPerCharacter = 0.0001

	baseCostChat       = 0.002
	baseCostCompletion = 0.001
	baseCostEmbedding  = 0.0005
)

func baseCost(requestType string) float64 {
	switch requestType {
	case models.RequestTypeCompletion:
		return baseCostCompletion
	case models.RequestTypeEmbedding:
		return baseCostEmbedding
	default:
		return baseCostChat
	}
}

// ExecuteResult is the outcome of one metered request
type ExecuteResult struct {
	Response       string
	Cost           float64
	RequestCount   int
	TotalUsage     float64
	RemainingFunds float64
}

// Controller owns session lifecycle and usage metering. Each request
// debits the backing card through the ledger; a per-session lock keeps
// concurrent requests from double-spending the card.
type Controller struct {
	db        *sql.DB
	logger    logging.Logger
	ledger    *ledger.Ledger
	responder platform.Responder
	locks     *keyedMutex
}

// NewController creates a Controller
func NewController(db *sql.DB, logger logging.Logger, lgr *ledger.Ledger, responder platform.Responder) *Controller {
	return &Controller{
		db:        db,
		logger:    logger,
		ledger:    lgr,
		responder: responder,
		locks:     newKeyedMutex(),
	}
}

const sessionColumns = `id, buyer_id, card_id, purchase_id, session_token, platform, status,
	total_usage, request_count, last_request_at, started_at, expires_at, terminated_at,
	created_at, updated_at`

func scanSession(row interface{ Scan(...interface{}) error }) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.BuyerID, &s.CardID, &s.PurchaseID, &s.SessionToken, &s.Platform,
		&s.Status, &s.TotalUsage, &s.RequestCount, &s.LastRequestAt, &s.StartedAt, &s.ExpiresAt,
		&s.TerminatedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func generateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Create opens a session against a card the caller has purchased. The
// session window is the purchased duration, cut short by the card's own
// expiry if that lands sooner.
func (c *Controller) Create(ctx context.Context, buyerID, cardID string) (*models.Session, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin session create: %w", err)
	}
	defer tx.Rollback()

	var cardBuyer sql.NullString
	var cardPlatform, cardStatus string
	var cardExpiry time.Time
	err = tx.QueryRow(`
		SELECT buyer_id, platform, status, expires_at FROM virtual_cards WHERE id = $1
	`, cardID).Scan(&cardBuyer, &cardPlatform, &cardStatus, &cardExpiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCardNotPurchased
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load card: %w", err)
	}
	if !cardBuyer.Valid || cardBuyer.String != buyerID {
		return nil, ErrCardNotPurchased
	}
	if cardStatus != models.CardStatusActive {
		return nil, ErrSessionNotActive
	}

	var purchaseID string
	var durationHours int
	err = tx.QueryRow(`
		SELECT id, duration_hours FROM purchases
		WHERE card_id = $1 AND buyer_id = $2 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`, cardID, buyerID).Scan(&purchaseID, &durationHours)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCardNotPurchased
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load purchase: %w", err)
	}

	expiresAt := time.Now().Add(time.Duration(durationHours) * time.Hour)
	if cardExpiry.Before(expiresAt) {
		expiresAt = cardExpiry
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	session, err := scanSession(tx.QueryRow(`
		INSERT INTO sessions (id, buyer_id, card_id, purchase_id, session_token, platform, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', $7)
		RETURNING `+sessionColumns,
		uuid.New().String(), buyerID, cardID, purchaseID, token, cardPlatform, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session create: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"session_id": session.ID,
		"card_id":    cardID,
		"expires_at": expiresAt,
	}).Info("Session opened")

	return session, nil
}

// Execute runs one metered request inside a session. Cost is the request
// type's base plus a per-character fee, scaled by the card's demand
// multiplier at purchase and debited from the card. A card that cannot
// cover the request exhausts the session.
func (c *Controller) Execute(ctx context.Context, userID, sessionID, message, requestType string) (*ExecuteResult, error) {
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}
	if requestType == "" {
		requestType = models.RequestTypeChat
	}

	c.locks.Lock(sessionID)
	defer c.locks.Unlock(sessionID)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin request: %w", err)
	}
	defer tx.Rollback()

	session, err := scanSession(tx.QueryRow(`
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE
	`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.BuyerID != userID {
		return nil, ErrNotSessionOwner
	}
	if session.Status == models.SessionStatusActive && time.Now().After(session.ExpiresAt) {
		if _, err := tx.Exec(`
			UPDATE sessions SET status = 'expired', updated_at = NOW() WHERE id = $1
		`, session.ID); err != nil {
			return nil, fmt.Errorf("failed to expire session: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit expiry: %w", err)
		}
		return nil, ErrSessionNotActive
	}
	if session.Status != models.SessionStatusActive {
		return nil, ErrSessionNotActive
	}

	var multiplier float64
	if err := tx.QueryRow(`
		SELECT demand_multiplier FROM virtual_cards WHERE id = $1
	`, session.CardID).Scan(&multiplier); err != nil {
		return nil, fmt.Errorf("failed to load card multiplier: %w", err)
	}

	base := baseCost(requestType)
	cost := round4((base + costPerCharacter*float64(len(message))) * multiplier)

	cardRef := ledger.CardRef(session.CardID)
	if err := c.ledger.TransferTx(tx, cardRef, ledger.SinkPlatformCosts, cost, models.LedgerReasonUsageCharge); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return nil, c.exhaust(tx, session)
		}
		return nil, err
	}

	var remaining float64
	if err := tx.QueryRow(`
		SELECT balance FROM ledger_accounts WHERE ref = $1
	`, cardRef).Scan(&remaining); err != nil {
		return nil, fmt.Errorf("failed to read card balance: %w", err)
	}

	response, err := c.responder.Respond(ctx, session.Platform, requestType, message)
	if err != nil {
		return nil, err
	}

	session, err = scanSession(tx.QueryRow(`
		UPDATE sessions
		SET total_usage = total_usage + $1,
		    request_count = request_count + 1,
		    last_request_at = NOW(),
		    updated_at = NOW()
		WHERE id = $2
		RETURNING `+sessionColumns, cost, session.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to update session usage: %w", err)
	}

	cardStatus := models.CardStatusActive
	if remaining <= 0 {
		cardStatus = models.CardStatusExhausted
	}
	if _, err := tx.Exec(`
		UPDATE virtual_cards
		SET usage_count = usage_count + 1,
		    total_charged = total_charged + $1,
		    last_used_at = NOW(),
		    status = $2,
		    updated_at = NOW()
		WHERE id = $3
	`, cost, cardStatus, session.CardID); err != nil {
		return nil, fmt.Errorf("failed to update card usage: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO usage_logs (id, session_id, card_id, user_id, request_type, platform,
			request_size, response_size, base_cost, actual_cost, cost_multiplier, success)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE)
	`, uuid.New().String(), session.ID, session.CardID, userID, requestType, session.Platform,
		len(message), len(response), base, cost, multiplier); err != nil {
		return nil, fmt.Errorf("failed to insert usage log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit request: %w", err)
	}

	c.ledger.PublishTransfer(cardRef, ledger.SinkPlatformCosts, cost, models.LedgerReasonUsageCharge, session.ID)

	return &ExecuteResult{
		Response:       response,
		Cost:           cost,
		RequestCount:   session.RequestCount,
		TotalUsage:     session.TotalUsage,
		RemainingFunds: remaining,
	}, nil
}

// exhaust marks the session and its card exhausted when the card cannot
// cover a request, committing the transition before reporting the error.
func (c *Controller) exhaust(tx *sql.Tx, session *models.Session) error {
	if _, err := tx.Exec(`
		UPDATE sessions SET status = 'exhausted', updated_at = NOW() WHERE id = $1
	`, session.ID); err != nil {
		return fmt.Errorf("failed to exhaust session: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE virtual_cards SET status = 'exhausted', updated_at = NOW() WHERE id = $1
	`, session.CardID); err != nil {
		return fmt.Errorf("failed to exhaust card: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit exhaustion: %w", err)
	}
	return ErrSessionExhausted
}

// Terminate ends a session. Terminating an already-ended session is a
// no-op returning its current state, so retries are safe.
func (c *Controller) Terminate(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	c.locks.Lock(sessionID)
	defer c.locks.Unlock(sessionID)

	session, err := c.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.BuyerID != userID {
		return nil, ErrNotSessionOwner
	}
	if session.Status != models.SessionStatusActive {
		return session, nil
	}

	session, err = scanSession(c.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET status = 'terminated', terminated_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING `+sessionColumns, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		// Lost a race with expiry; report the final state
		return c.get(ctx, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to terminate session: %w", err)
	}

	c.logger.WithFields(logging.Fields{"session_id": sessionID}).Info("Session terminated")
	return session, nil
}

// Get loads a session, enforcing ownership
func (c *Controller) Get(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	session, err := c.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.BuyerID != userID {
		return nil, ErrNotSessionOwner
	}
	return session, nil
}

func (c *Controller) get(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := scanSession(c.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1
	`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	// An overdue active session transitions lazily on read, same as
	// Execute.
	if session.Status == models.SessionStatusActive && time.Now().After(session.ExpiresAt) {
		if _, err := c.db.ExecContext(ctx, `
			UPDATE sessions SET status = 'expired', updated_at = NOW()
			WHERE id = $1 AND status = 'active'
		`, session.ID); err != nil {
			c.logger.WithError(err).WithFields(logging.Fields{"session_id": session.ID}).Warn("Failed to expire session")
		}
		session.Status = models.SessionStatusExpired
	}
	return session, nil
}

// ListByUser returns a user's sessions, newest first
func (c *Controller) ListByUser(ctx context.Context, userID string) ([]models.Session, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE buyer_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var sessions []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		// Overdue sessions are never reported active; the sweep
		// persists the transition.
		if session.Status == models.SessionStatusActive && now.After(session.ExpiresAt) {
			session.Status = models.SessionStatusExpired
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// SweepExpired transitions overdue active sessions to expired. Called
// periodically by the background job runner.
func (c *Controller) SweepExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND expires_at < NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
