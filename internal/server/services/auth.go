// Package services holds the row store's business logic: Google sign-in
// with JWT sessions, user-scoped row access and snapshot presigning.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/common"
	"github.com/dmitrijs2005/attendkeeper/internal/dbx"
	"github.com/dmitrijs2005/attendkeeper/internal/server/auth"
	"github.com/dmitrijs2005/attendkeeper/internal/server/config"
	"github.com/dmitrijs2005/attendkeeper/internal/server/models"
	"github.com/dmitrijs2005/attendkeeper/internal/server/repositories/repomanager"
	googleAuthIDTokenVerifier "github.com/futurenda/google-auth-id-token-verifier"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// GoogleIdentity is the part of a verified ID token the row store keeps.
type GoogleIdentity struct {
	Sub   string
	Email string
}

// IDTokenVerifier checks a Google ID token against the expected audience.
type IDTokenVerifier interface {
	Verify(idToken, audience string) (*GoogleIdentity, error)
}

type googleVerifier struct{}

func (googleVerifier) Verify(idToken, audience string) (*GoogleIdentity, error) {
	v := googleAuthIDTokenVerifier.Verifier{}
	if err := v.VerifyIDToken(idToken, []string{audience}); err != nil {
		return nil, err
	}
	claims, err := googleAuthIDTokenVerifier.Decode(idToken)
	if err != nil {
		return nil, fmt.Errorf("decode id token: %w", err)
	}
	if claims.Sub == "" {
		return nil, errors.New("id token without subject")
	}
	return &GoogleIdentity{Sub: claims.Sub, Email: claims.Email}, nil
}

// AuthService signs users in with Google and manages their sessions.
type AuthService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	verifier                     IDTokenVerifier
	googleClientID               string
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	now                          func() time.Time
}

func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *AuthService {
	return &AuthService{
		db:                           db,
		repomanager:                  m,
		verifier:                     googleVerifier{},
		googleClientID:               cfg.GoogleClientID,
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		now:                          time.Now,
	}
}

// SignInWithGoogle verifies idToken, finds or creates the matching user and
// issues a token pair. Verification failures yield common.ErrorUnauthorized.
func (s *AuthService) SignInWithGoogle(ctx context.Context, idToken string) (*models.User, *TokenPair, error) {
	if idToken == "" {
		return nil, nil, fmt.Errorf("%w: empty id token", common.ErrorUnauthorized)
	}
	identity, err := s.verifier.Verify(idToken, s.googleClientID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
	}

	user, err := s.findOrCreateUser(ctx, identity)
	if err != nil {
		return nil, nil, err
	}

	if _, err := s.repomanager.RefreshTokens(s.db).DeleteExpired(ctx, user.ID, s.now()); err != nil {
		return nil, nil, fmt.Errorf("error purging refresh tokens: %w", err)
	}

	pair, err := s.generateTokenPair(ctx, user.ID, s.db)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

func (s *AuthService) findOrCreateUser(ctx context.Context, identity *GoogleIdentity) (*models.User, error) {
	repo := s.repomanager.Users(s.db)

	user, err := repo.FindByGoogleSub(ctx, identity.Sub)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		user, err = repo.Create(ctx, &models.User{GoogleSub: identity.Sub, Email: identity.Email})
		if err != nil {
			return nil, fmt.Errorf("error creating user: %w", err)
		}
		return user, nil
	case err != nil:
		return nil, fmt.Errorf("error searching user: %w", err)
	}

	if identity.Email != "" && identity.Email != user.Email {
		if err := repo.UpdateEmail(ctx, user.ID, identity.Email); err != nil {
			return nil, fmt.Errorf("error updating user: %w", err)
		}
		user.Email = identity.Email
	}
	return user, nil
}

// RefreshToken validates a refresh token, rotates it transactionally, and
// returns the owner with a fresh TokenPair. Unknown tokens yield
// common.ErrorUnauthorized, expired ones common.ErrRefreshTokenExpired.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*models.User, *TokenPair, error) {
	repo := s.repomanager.RefreshTokens(s.db)

	token, err := repo.Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, common.ErrorUnauthorized
		}
		return nil, nil, fmt.Errorf("error searching refresh token: %w", err)
	}
	if token.Expires.Before(s.now()) {
		if err := repo.Delete(ctx, refreshToken); err != nil {
			return nil, nil, fmt.Errorf("error deleting refresh token: %w", err)
		}
		return nil, nil, common.ErrRefreshTokenExpired
	}

	user, err := s.repomanager.Users(s.db).FindByID(ctx, token.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("error searching user: %w", err)
	}

	var pair *TokenPair
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.RefreshTokens(tx).Delete(ctx, refreshToken); err != nil {
			return fmt.Errorf("error deleting refresh token: %w", err)
		}
		var genErr error
		pair, genErr = s.generateTokenPair(ctx, token.UserID, tx)
		return genErr
	}); err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

func (s *AuthService) generateTokenPair(ctx context.Context, userID string, tx dbx.DBTX) (*TokenPair, error) {
	access, err := auth.GenerateToken(userID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}
	refresh, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, common.ErrorInternal
	}
	expires := s.now().Add(s.refreshTokenValidityDuration)
	if err := s.repomanager.RefreshTokens(tx).Create(ctx, userID, refresh, expires); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
