package http

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	apperrors "firestore-sync/internal/shared/errors"
)

var (
	ErrTokenMissing          = errors.New("missing bearer token")
	ErrTokenInvalid          = errors.New("invalid token")
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
)

const subjectLocal = "ingest_subject"

// TokenVerifier checks HS256 bearer tokens presented by event publishers
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier returns nil when secret is empty, which disables
// authentication
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	if secret == "" {
		return nil
	}
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses tokenString and returns its registered claims
func (v *TokenVerifier) Verify(tokenString string) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenSignatureInvalid
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenSignatureInvalid
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Sign issues an HS256 token carrying claims
func (v *TokenVerifier) Sign(claims jwt.RegisteredClaims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// JWTMiddleware rejects requests without a valid bearer token. A nil
// verifier lets every request through.
func JWTMiddleware(v *TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if v == nil {
			return c.Next()
		}

		token, err := bearerToken(c.Get(fiber.HeaderAuthorization))
		if err == nil {
			var claims *jwt.RegisteredClaims
			if claims, err = v.Verify(token); err == nil {
				c.Locals(subjectLocal, claims.Subject)
				return c.Next()
			}
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": apperrors.NewAuthenticationError(err.Error()).Error(),
		})
	}
}

// Subject returns the token subject stored by JWTMiddleware
func Subject(c *fiber.Ctx) string {
	subject, _ := c.Locals(subjectLocal).(string)
	return subject
}

func bearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrTokenMissing
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}
