package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
)

// Тип для ключа контекста.
type contextKey string

// AccountKey - ключ аккаунта вызывающего в контексте запроса.
const AccountKey contextKey = "account"

// Структура claims должна совпадать с той, что выпускает services.AuthService.
type jwtClaims struct {
	Account string `json:"account"`
	jwt.RegisteredClaims
}

// NewAuthenticator возвращает middleware, проверяющий JWT токен и
// помещающий аккаунт вызывающего в контекст запроса.
func NewAuthenticator(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.Println("[AuthMiddleware] Заголовок Authorization отсутствует")
				http.Error(w, "Требуется аутентификация", http.StatusUnauthorized)
				return
			}

			// Формат "Bearer token"
			headerParts := strings.Split(authHeader, " ")
			if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" {
				log.Printf("[AuthMiddleware] Неверный формат заголовка Authorization: %s", authHeader)
				http.Error(w, "Неверный формат токена", http.StatusUnauthorized)
				return
			}

			claims := &jwtClaims{}
			token, err := jwt.ParseWithClaims(headerParts[1], claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("неожиданный метод подписи: %v", token.Header["alg"])
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				log.Printf("[AuthMiddleware] Ошибка парсинга/валидации токена: %v", err)
				http.Error(w, "Невалидный токен", http.StatusUnauthorized)
				return
			}

			if !common.IsHexAddress(claims.Account) {
				log.Printf("[AuthMiddleware] Токен содержит неверный аккаунт: %q", claims.Account)
				http.Error(w, "Невалидный токен", http.StatusUnauthorized)
				return
			}
			account := common.HexToAddress(claims.Account)

			log.Printf("[AuthMiddleware] Аккаунт %s успешно аутентифицирован", account.Hex())
			ctx := context.WithValue(r.Context(), AccountKey, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAccountFromContext извлекает аккаунт вызывающего из контекста запроса.
func GetAccountFromContext(ctx context.Context) (common.Address, bool) {
	account, ok := ctx.Value(AccountKey).(common.Address)
	return account, ok
}
