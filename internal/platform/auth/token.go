package auth

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// DefaultTokenTTL bounds how long issued tokens stay valid.
const DefaultTokenTTL = 10 * time.Hour

// IssueToken signs an HS256 token for the given subject.
func IssueToken(secret []byte, subject, email string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
		Roles: roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Credential is a statically configured login accepted by the token endpoint.
type Credential struct {
	Email    string
	Password string
	Roles    []string
}

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// TokenHandler issues tokens for configured credentials.
type TokenHandler struct {
	secret      []byte
	credentials []Credential
}

func NewTokenHandler(secret []byte, credentials []Credential) *TokenHandler {
	return &TokenHandler{secret: secret, credentials: credentials}
}

func (h *TokenHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/auth/token", h.issue)
}

func (h *TokenHandler) issue(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	for _, cred := range h.credentials {
		if cred.Email != req.Email {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(cred.Password), []byte(req.Password)) != 1 {
			break
		}
		token, err := IssueToken(h.secret, cred.Email, cred.Email, cred.Roles, DefaultTokenTTL)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to sign token")
		}
		return c.JSON(http.StatusOK, tokenResponse{Token: token})
	}
	return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
}
