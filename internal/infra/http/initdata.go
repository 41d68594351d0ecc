package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey int

const webAppUserKey ctxKey = iota

// WebAppUser — пользователь из подписанных initData.
type WebAppUser struct {
	ID           int64  `json:"id"`
	LanguageCode string `json:"language_code"`
}

// WebAppAuthMiddleware проверяет initData по токену бота и кладёт пользователя в контекст.
func WebAppAuthMiddleware(botToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			initData := r.URL.Query().Get("init_data")
			if initData == "" {
				WriteError(w, http.StatusUnauthorized, errors.New("init_data отсутствует"))
				return
			}
			user, err := ValidateInitData(initData, botToken)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), webAppUserKey, user)))
		})
	}
}

// WebAppUserFrom возвращает пользователя, проверенного WebAppAuthMiddleware.
func WebAppUserFrom(ctx context.Context) (WebAppUser, bool) {
	u, ok := ctx.Value(webAppUserKey).(WebAppUser)
	return u, ok
}

// ValidateInitData проверяет подпись initData Telegram WebApp.
func ValidateInitData(initData, botToken string) (WebAppUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return WebAppUser{}, errors.New("init_data не разбирается")
	}
	hash := values.Get("hash")
	if hash == "" {
		return WebAppUser{}, errors.New("подпись отсутствует")
	}
	pairs := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		pairs = append(pairs, k+"="+values.Get(k))
	}
	sort.Strings(pairs)

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	h := hmac.New(sha256.New, secret.Sum(nil))
	h.Write([]byte(strings.Join(pairs, "\n")))

	expected, err := hex.DecodeString(hash)
	if err != nil || !hmac.Equal(h.Sum(nil), expected) {
		return WebAppUser{}, errors.New("подпись недействительна")
	}
	var user WebAppUser
	if raw := values.Get("user"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			return WebAppUser{}, errors.New("поле user не разбирается")
		}
	}
	if user.ID == 0 {
		return WebAppUser{}, errors.New("пользователь не указан")
	}
	return user, nil
}

// AdminTokenMiddleware пропускает запросы с заголовком X-Admin-Token.
func AdminTokenMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Admin-Token")
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				WriteError(w, http.StatusForbidden, errors.New("доступ запрещён"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, ErrorResponse{Error: err.Error()})
}

// WriteJSON отправляет JSON-ответ.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}
