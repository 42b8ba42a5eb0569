package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ContextKey - тип для ключей контекста.
type ContextKey string

const (
	// UserIDKey - ключ для хранения ID пользователя в контексте.
	UserIDKey ContextKey = "user_id"
	// UserRoleKey - ключ для хранения роли пользователя в контексте.
	UserRoleKey ContextKey = "user_role"

	// ProvisionTokenHeader: заголовок служебных вызовов регистрации.
	ProvisionTokenHeader = "X-Provision-Token"
)

// JWTMiddleware создаёт middleware для проверки JWT токена.
func JWTMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := extractTokenFromHeader(c)

			if token == "" {
				token = extractTokenFromCookie(c)
			}

			// WebSocket-клиенты не умеют ставить заголовки
			if token == "" {
				token = c.QueryParam("token")
			}

			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid token")
			}

			claims, err := ValidateToken(token, secret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set(string(UserIDKey), claims.UserID)
			c.Set(string(UserRoleKey), claims.Role)

			return next(c)
		}
	}
}

// RequireRole пропускает только перечисленные роли.
func RequireRole(roles ...models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, err := GetActorFromContext(c)
			if err != nil {
				return err
			}
			for _, r := range roles {
				if actor.Role == r {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "forbidden")
		}
	}
}

// ProvisionTokenMiddleware проверяет общий секрет служебных вызовов.
// Пустой секрет закрывает маршрут полностью.
func ProvisionTokenMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := c.Request().Header.Get(ProvisionTokenHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid provision token")
			}
			return next(c)
		}
	}
}

// extractTokenFromHeader извлекает токен из заголовка Authorization.
func extractTokenFromHeader(c echo.Context) string {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	// Проверка формата "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
		return parts[1]
	}

	return ""
}

// extractTokenFromCookie извлекает токен из cookie.
func extractTokenFromCookie(c echo.Context) string {
	cookie, err := c.Cookie("Authorization")
	if err != nil {
		return ""
	}
	return cookie.Value
}

// GetUserIDFromContext извлекает ID пользователя из контекста.
func GetUserIDFromContext(c echo.Context) (uuid.UUID, error) {
	userID, ok := c.Get(string(UserIDKey)).(uuid.UUID)
	if !ok {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "user not found in context")
	}
	return userID, nil
}

// GetActorFromContext извлекает пользователя и его роль из контекста.
func GetActorFromContext(c echo.Context) (models.Actor, error) {
	userID, err := GetUserIDFromContext(c)
	if err != nil {
		return models.Actor{}, err
	}
	role, ok := c.Get(string(UserRoleKey)).(models.Role)
	if !ok {
		return models.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "role not found in context")
	}
	return models.Actor{UserID: userID, Role: role}, nil
}
