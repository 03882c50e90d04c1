package service

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/student-records-api/internal/models"
	appErrors "github.com/noah-isme/student-records-api/pkg/errors"
)

// AuthConfig defines how access tokens from the identity provider are verified.
type AuthConfig struct {
	AccessTokenSecret string
	Issuer            string
	Audience          string
}

// AuthService verifies bearer tokens. Token issuance lives with the identity provider.
type AuthService struct {
	config AuthConfig
	parser *jwt.Parser
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(config AuthConfig) *AuthService {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}
	return &AuthService{config: config, parser: jwt.NewParser(opts...)}
}

// ValidateToken parses and validates an access token returning the caller claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.CallerClaims, error) {
	claims := &models.CallerClaims{}
	token, err := s.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrAuthRequired.Code, appErrors.ErrAuthRequired.Status, "invalid or expired token")
	}
	if !token.Valid || claims.CallerID() == "" {
		return nil, appErrors.Clone(appErrors.ErrAuthRequired, "token carries no caller identity")
	}
	return claims, nil
}
