package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/medicrypt/medicrypt/internal/domain"
)

const tokenTTL = time.Hour

// TokenAuthority mints and parses the HS256 session tokens issued at
// SIWE login. Claims carry the user id, wallet and role so the HTTP
// layer can resolve an Identity without a DB hit on hot paths.
type TokenAuthority struct {
	secret []byte
}

func NewTokenAuthority(secret string) (*TokenAuthority, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &TokenAuthority{secret: []byte(secret)}, nil
}

type sessionClaims struct {
	UserID string `json:"userId"`
	Wallet string `json:"wallet"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func (a *TokenAuthority) Mint(user domain.User) (string, error) {
	now := time.Now().UTC()
	claims := sessionClaims{
		UserID: user.ID,
		Wallet: user.WalletAddress,
		Role:   string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Session is the verified content of a token. The caller's full User
// row is loaded from the repository by user id.
type Session struct {
	UserID string
	Wallet string
	Role   domain.Role
}

func (a *TokenAuthority) Parse(tokenString string) (Session, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return Session{}, err
	}
	if !token.Valid {
		return Session{}, errors.New("invalid token")
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: claims.UserID, Wallet: claims.Wallet, Role: role}, nil
}
