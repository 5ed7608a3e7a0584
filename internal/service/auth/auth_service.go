package auth

import (
	"context"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"storefront/internal/utils"
	"storefront/pkg/log"
	pkgutils "storefront/pkg/utils"
)

// DemoRole role claim carried by issued tokens
const DemoRole = "developer"

// Token request results
const (
	ResultIssued   = "issued"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// TokenRequest credential exchange request
type TokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse token response
type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Credentials the single demo account
type Credentials struct {
	Username string
	Password string
	// PasswordHash bcrypt hash, used instead of Password when set
	PasswordHash string
}

// Recorder receives token request metrics
type Recorder interface {
	RecordTokenRequest(status string)
}

// AuthService authentication service interface
type AuthService interface {
	// IssueToken exchanges demo credentials for an access token
	IssueToken(ctx context.Context, req *TokenRequest) (*TokenResponse, error)

	// ValidateToken validates a token
	ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error)
}

// authService authentication service implementation
type authService struct {
	username     string
	passwordHash []byte
	jwtManager   *utils.JWTManager
	metrics      Recorder
}

// NewAuthService creates an authentication service; metrics may be nil
func NewAuthService(creds Credentials, jwtManager *utils.JWTManager, metrics Recorder) (AuthService, error) {
	hash := []byte(creds.PasswordHash)
	if len(hash) == 0 {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash demo password: %w", err)
		}
	} else if _, err := bcrypt.Cost(hash); err != nil {
		return nil, fmt.Errorf("invalid demo password hash: %w", err)
	}

	return &authService{
		username:     creds.Username,
		passwordHash: hash,
		jwtManager:   jwtManager,
		metrics:      metrics,
	}, nil
}

// IssueToken checks the demo credentials and signs a token for the username
func (s *authService) IssueToken(_ context.Context, req *TokenRequest) (*TokenResponse, error) {
	if req == nil || !s.verify(req.Username, req.Password) {
		log.WithField("username", usernameOf(req)).Warn("Token request rejected")
		s.record(ResultRejected)
		return nil, pkgutils.NewError(pkgutils.CodeUnauthorized, "invalid credentials")
	}

	token, err := s.jwtManager.GenerateToken(req.Username, DemoRole)
	if err != nil {
		log.WithError(err).Error("Generate access token failed")
		s.record(ResultError)
		return nil, pkgutils.WrapError(err, pkgutils.CodeInternalError, "failed to issue token")
	}

	log.WithField("username", req.Username).Info("Token issued")
	s.record(ResultIssued)
	return &TokenResponse{AccessToken: token}, nil
}

// ValidateToken validates a token
func (s *authService) ValidateToken(_ context.Context, token string) (*utils.JWTClaims, error) {
	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		return nil, pkgutils.WrapError(err, pkgutils.CodeUnauthorized, "invalid token")
	}
	return claims, nil
}

// verify verifies username and password
func (s *authService) verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)) == nil
	return userOK && passOK
}

func (s *authService) record(result string) {
	if s.metrics != nil {
		s.metrics.RecordTokenRequest(result)
	}
}

func usernameOf(req *TokenRequest) string {
	if req == nil {
		return ""
	}
	return req.Username
}
