package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/fundsafe/backend/internal/apperr"
	"github.com/fundsafe/backend/internal/clock"
	"github.com/fundsafe/backend/internal/models"
	"github.com/fundsafe/backend/internal/repositories"
	"go.uber.org/zap"
)

const (
	tacDigits      = 6
	tacMaxAttempts = 10
)

var tacSpace = big.NewInt(1_000_000)

type TacService struct {
	store      TacStore
	notifier   Notifier
	clock      clock.Clock
	defaultTTL time.Duration
	log        *zap.Logger
}

func NewTacService(store TacStore, notifier Notifier, clk clock.Clock, defaultTTL time.Duration, log *zap.Logger) *TacService {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &TacService{
		store:      store,
		notifier:   notifier,
		clock:      clk,
		defaultTTL: defaultTTL,
		log:        log,
	}
}

// Issue creates an unused code for (userID, purpose). A zero ttl uses the
// configured default. The code is persisted but not delivered.
func (s *TacService) Issue(ctx context.Context, userID, purpose string, ttl time.Duration) (*models.TacCode, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	if !models.IsValidTacPurpose(purpose) {
		return nil, apperr.Validation("invalid purpose %q", purpose)
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	for attempt := 0; attempt < tacMaxAttempts; attempt++ {
		code, err := newTacCode()
		if err != nil {
			return nil, err
		}

		now := s.clock.Now()
		inUse, err := s.store.CodeInUse(ctx, userID, purpose, code, now)
		if err != nil {
			return nil, fmt.Errorf("check tac collision: %w", err)
		}
		if inUse {
			continue
		}

		tac := &models.TacCode{
			UserID:    userID,
			Code:      code,
			Purpose:   purpose,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		}
		err = s.store.Create(ctx, tac)
		if errors.Is(err, repositories.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store tac: %w", err)
		}

		s.log.Info("tac issued",
			zap.String("user_id", userID),
			zap.String("purpose", purpose),
			zap.Time("expires_at", tac.ExpiresAt),
		)
		return tac, nil
	}
	return nil, apperr.New(apperr.KindInternal, "could not allocate a unique code after %d attempts", tacMaxAttempts)
}

// IssueAndDeliver issues a code and hands it to the notifier. Delivery
// failures are logged and do not fail the issuance.
func (s *TacService) IssueAndDeliver(ctx context.Context, userID, purpose, to string, ttl time.Duration) (*models.TacCode, error) {
	tac, err := s.Issue(ctx, userID, purpose, ttl)
	if err != nil {
		return nil, err
	}
	if to == "" {
		to = userID
	}
	if s.notifier != nil {
		sent := s.notifier.Send(ctx, to, TemplateTacCode, map[string]any{
			"code":       tac.Code,
			"purpose":    tac.Purpose,
			"expires_at": tac.ExpiresAt,
		})
		if !sent {
			s.log.Warn("tac delivery failed", zap.String("user_id", userID), zap.String("purpose", purpose))
		}
	}
	return tac, nil
}

// Verify consumes the submitted code. A code is consumed at most once; a
// concurrent verification that loses the race gets AlreadyUsed.
func (s *TacService) Verify(ctx context.Context, userID, purpose, code string) error {
	if !models.IsValidTacPurpose(purpose) {
		return apperr.Validation("invalid purpose %q", purpose)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return apperr.Validation("code is required")
	}
	now := s.clock.Now()

	tac, err := s.store.Find(ctx, userID, purpose, code)
	if errors.Is(err, repositories.ErrNotFound) {
		active, err := s.store.HasActive(ctx, userID, purpose, now)
		if err != nil {
			return fmt.Errorf("lookup active tac: %w", err)
		}
		if active {
			return apperr.New(apperr.KindMismatch, "code does not match")
		}
		return apperr.New(apperr.KindNotFound, "no active %s code", purpose)
	}
	if err != nil {
		return fmt.Errorf("lookup tac: %w", err)
	}

	if tac.IsUsed {
		return apperr.New(apperr.KindAlreadyUsed, "code already used")
	}
	if now.After(tac.ExpiresAt) {
		return apperr.New(apperr.KindExpired, "code expired, request a new one")
	}

	ok, err := s.store.MarkUsed(ctx, tac.ID, now)
	if err != nil {
		return fmt.Errorf("consume tac: %w", err)
	}
	if !ok {
		return apperr.New(apperr.KindAlreadyUsed, "code already used")
	}

	s.log.Info("tac verified", zap.String("user_id", userID), zap.String("purpose", purpose))
	return nil
}

func newTacCode() (string, error) {
	n, err := rand.Int(rand.Reader, tacSpace)
	if err != nil {
		return "", fmt.Errorf("generate tac: %w", err)
	}
	return fmt.Sprintf("%0*d", tacDigits, n.Int64()), nil
}
