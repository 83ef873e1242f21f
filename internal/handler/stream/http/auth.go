package http

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/krobus00/quote-stream-service/internal/config"
	"github.com/krobus00/quote-stream-service/internal/entity"
)

var (
	ErrAPIKeyMissing  = errors.New("api key is required")
	ErrAPIKeyInvalid  = errors.New("invalid api key")
	ErrAPIKeyInactive = errors.New("api key is inactive")
	ErrAPIKeyExpired  = errors.New("api key is expired")
)

const (
	apiKeyHeader = "X-API-Key"
	apiKeyQuery  = "api_key"
)

// APIKeyAuthenticator maps a configured api key to the user it was issued for.
type APIKeyAuthenticator struct {
	keys []config.APIKeyConfig
	now  func() time.Time
}

func NewAPIKeyAuthenticator(keys []config.APIKeyConfig) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{
		keys: keys,
		now:  time.Now,
	}
}

// Authenticate never fails: a request without a usable key is the anonymous user.
func (a *APIKeyAuthenticator) Authenticate(r *http.Request) (entity.User, error) {
	candidate, err := a.lookup(resolveAPIKey(r))
	if err != nil {
		return entity.AnonymousUser, err
	}

	return entity.User{ID: candidate.UserID, Name: candidate.Name}, nil
}

func (a *APIKeyAuthenticator) lookup(rawAPIKey string) (config.APIKeyConfig, error) {
	apiKey := strings.TrimSpace(rawAPIKey)
	if apiKey == "" {
		return config.APIKeyConfig{}, ErrAPIKeyMissing
	}

	now := a.now().UTC()
	for _, candidate := range a.keys {
		storedKey := strings.TrimSpace(candidate.Key)
		if storedKey == "" {
			continue
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(storedKey)) != 1 {
			continue
		}

		if !candidate.Active {
			return config.APIKeyConfig{}, ErrAPIKeyInactive
		}
		if strings.TrimSpace(candidate.UserID) == "" {
			return config.APIKeyConfig{}, ErrAPIKeyInvalid
		}

		expiredAt, hasExpiry, err := parseExpiry(candidate.ExpiredAt)
		if err != nil {
			return config.APIKeyConfig{}, ErrAPIKeyInvalid
		}
		if hasExpiry && !now.Before(expiredAt) {
			return config.APIKeyConfig{}, ErrAPIKeyExpired
		}

		return candidate, nil
	}

	return config.APIKeyConfig{}, ErrAPIKeyInvalid
}

func resolveAPIKey(r *http.Request) string {
	if headerKey := strings.TrimSpace(r.Header.Get(apiKeyHeader)); headerKey != "" {
		return headerKey
	}

	return strings.TrimSpace(r.URL.Query().Get(apiKeyQuery))
}

func parseExpiry(value any) (time.Time, bool, error) {
	if value == nil {
		return time.Time{}, false, nil
	}

	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false, nil
		}
		return v.UTC(), true, nil
	case string:
		raw := strings.TrimSpace(v)
		if raw == "" {
			return time.Time{}, false, nil
		}

		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			return parsed.UTC(), true, nil
		}

		// a bare date stays valid through the end of that day
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, false, err
		}

		return parsed.UTC().Add(24 * time.Hour), true, nil
	default:
		return time.Time{}, false, errors.New("unsupported expiry type")
	}
}
