package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-jwt/jwt/v5"

	icuser "github.com/ManuelReschke/NewsDesk/internal/pkg/usercontext"
)

var errMissingToken = errors.New("missing bearer token")

// Claims is the token payload issued by the account service.
type Claims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for uc that expires after ttl.
func SignToken(secret []byte, uc icuser.UserContext, ttl time.Duration) (string, error) {
	now := time.Now()
	role := uc.Role
	if role == "" {
		role = icuser.RoleDefault
		if uc.IsAdmin {
			role = icuser.RoleAdmin
		}
	}
	claims := Claims{
		UserID: uc.UserID,
		Email:  uc.Email,
		Name:   uc.Name,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   fmt.Sprintf("%d", uc.UserID),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates a bearer token and returns its claims.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.UserID == 0 {
		return nil, errors.New("token has no user_id")
	}
	return claims, nil
}

func bearerToken(c *fiber.Ctx) (string, error) {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errMissingToken
	}
	return strings.TrimSpace(parts[1]), nil
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":   "unauthorized",
		"message": message,
	})
}

// RequireAuth validates the bearer token and stores the caller identity in
// Locals. Requests without a valid token get a JSON 401.
func RequireAuth(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(secret) == 0 {
			log.Error("[Auth] JWT_SECRET is not configured")
			return unauthorized(c, "authentication unavailable")
		}
		raw, err := bearerToken(c)
		if err != nil {
			return unauthorized(c, "login required")
		}
		claims, err := ParseToken(secret, raw)
		if err != nil {
			log.Debugf("[Auth] rejected token: %v", err)
			return unauthorized(c, "invalid or expired token")
		}
		icuser.SetUserContext(c, icuser.UserContext{
			UserID:     claims.UserID,
			Email:      claims.Email,
			Name:       claims.Name,
			Role:       claims.Role,
			IsLoggedIn: true,
			IsAdmin:    claims.Role == icuser.RoleAdmin,
		})
		c.Locals(icuser.KeyClaims, claims)
		return c.Next()
	}
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin(c *fiber.Ctx) error {
	if !icuser.IsLoggedIn(c) {
		return unauthorized(c, "login required")
	}
	if !icuser.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "admin role required",
		})
	}
	return c.Next()
}
