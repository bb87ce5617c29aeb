package middleware

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"fraudledger/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Request authentication headers.
const (
	HeaderAPIKey         = "X-Api-Key"
	HeaderTimestamp      = "X-Timestamp"
	HeaderNonce          = "X-Nonce"
	HeaderSignature      = "X-Signature"
	HeaderIdempotencyKey = "X-Idempotency-Key"
)

// IdempotencyRegistry remembers idempotency keys for ttl. Register reports
// false when key was already seen. Forget releases a key so the request may
// be retried.
type IdempotencyRegistry interface {
	Register(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
}

// AuthConfig configures the request authenticator.
type AuthConfig struct {
	// APIKeys maps key ids to shared secrets. Ids are normalized.
	APIKeys        map[string]string
	MaxSkew        time.Duration
	IdempotencyTTL time.Duration
	Limiter        *RateLimiter
	Idempotency    IdempotencyRegistry
	Now            func() time.Time
}

// Authenticator verifies HMAC-signed requests.
type Authenticator struct {
	secrets     map[string]string
	maxSkew     time.Duration
	ttl         time.Duration
	limiter     *RateLimiter
	idempotency IdempotencyRegistry
	now         func() time.Time
}

type apiKeyContextKey struct{}

// NewAuthenticator builds an Authenticator from cfg.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	secrets := make(map[string]string, len(cfg.APIKeys))
	for id, secret := range cfg.APIKeys {
		if id = NormalizeAPIKey(id); id != "" && secret != "" {
			secrets[id] = secret
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Authenticator{
		secrets:     secrets,
		maxSkew:     cfg.MaxSkew,
		ttl:         cfg.IdempotencyTTL,
		limiter:     cfg.Limiter,
		idempotency: cfg.Idempotency,
		now:         now,
	}
}

// NormalizeAPIKey trims, lowercases and replaces '-' with '_'.
func NormalizeAPIKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
}

// APIKeyFromContext returns the normalized API key of an authenticated request.
func APIKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(apiKeyContextKey{}).(string)
	return key
}

// Sign returns the base64 HMAC-SHA256 of the canonical request
// "timestamp\nnonce\nsha256hex(body)" under secret.
func Sign(secret, timestamp, nonce string, body []byte) string {
	sum := sha256.Sum256(body)
	canonical := timestamp + "\n" + nonce + "\n" + hex.EncodeToString(sum[:])

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Middleware enforces, in order: required headers, known API key,
// timestamp skew, rate limit, signature, and for POST an unseen
// idempotency key. OPTIONS requests pass through.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		path := r.URL.Path
		rawKey := r.Header.Get(HeaderAPIKey)
		timestamp := r.Header.Get(HeaderTimestamp)
		nonce := r.Header.Get(HeaderNonce)
		signature := r.Header.Get(HeaderSignature)

		if blank(rawKey) || blank(timestamp) || blank(nonce) || blank(signature) {
			log.Warn().Str("event", "auth_headers_missing").Str("path", path).Msg("auth: missing headers")
			reject(w, http.StatusUnauthorized, "headers_missing", "Missing authentication headers")
			return
		}

		apiKey := NormalizeAPIKey(rawKey)
		secret, ok := a.secrets[apiKey]
		if !ok {
			log.Warn().Str("event", "auth_invalid_api_key").Str("key", apiKey).Str("path", path).Msg("auth: unknown api key")
			reject(w, http.StatusForbidden, "invalid_api_key", "Invalid API key")
			return
		}

		if !a.timestampFresh(timestamp) {
			log.Warn().
				Str("event", "auth_timestamp_skew").
				Str("path", path).
				Str("timestamp", timestamp).
				Dur("skew", a.maxSkew).
				Msg("auth: timestamp outside allowed skew")
			reject(w, http.StatusUnauthorized, "timestamp_skew", "Timestamp outside allowed skew")
			return
		}

		clientIP := GetClientIP(r)
		if a.limiter != nil && !a.limiter.Allow(apiKey+":"+clientIP) {
			log.Warn().
				Str("event", "auth_rate_limit_exceeded").
				Str("key", apiKey).
				Str("ip", clientIP).
				Str("path", path).
				Msg("auth: rate limit exceeded")
			reject(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded")
			return
		}

		body, err := readBody(r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				reject(w, http.StatusRequestEntityTooLarge, "body_too_large", "Request body too large")
				return
			}
			reject(w, http.StatusBadRequest, "body_unreadable", "Unable to read request body")
			return
		}

		provided, err := base64.StdEncoding.DecodeString(signature)
		if err != nil {
			log.Warn().Str("event", "auth_signature_decoding_failed").Str("key", apiKey).Str("path", path).Msg("auth: bad signature encoding")
			reject(w, http.StatusUnauthorized, "signature_decoding", "Signature decoding failed")
			return
		}
		expected, _ := base64.StdEncoding.DecodeString(Sign(secret, timestamp, nonce, body))
		if !hmac.Equal(expected, provided) {
			log.Warn().Str("event", "auth_signature_mismatch").Str("key", apiKey).Str("path", path).Msg("auth: signature mismatch")
			reject(w, http.StatusUnauthorized, "signature_mismatch", "Signature mismatch")
			return
		}

		var registered string
		if r.Method == http.MethodPost {
			idemKey := r.Header.Get(HeaderIdempotencyKey)
			if blank(idemKey) {
				log.Warn().Str("event", "auth_missing_idempotency").Str("path", path).Msg("auth: missing idempotency key")
				reject(w, http.StatusBadRequest, "idempotency_missing", "Missing X-Idempotency-Key header")
				return
			}
			if a.idempotency != nil {
				fresh, err := a.idempotency.Register(r.Context(), apiKey+":"+idemKey, a.ttl)
				if err != nil {
					log.Error().Err(err).Str("key", apiKey).Msg("auth: idempotency store unavailable")
					reject(w, http.StatusServiceUnavailable, "idempotency_unavailable", "Idempotency store unavailable")
					return
				}
				if !fresh {
					log.Warn().
						Str("event", "auth_duplicate_request").
						Str("key", apiKey).
						Str("idemKey", idemKey).
						Str("path", path).
						Msg("auth: duplicate request")
					reject(w, http.StatusConflict, "duplicate_request", "Duplicate request")
					return
				}
				registered = apiKey + ":" + idemKey
			}
		}

		ctx := context.WithValue(r.Context(), apiKeyContextKey{}, apiKey)
		if registered == "" {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r.WithContext(ctx))
		// A server-side failure did not consume the request.
		if rw.statusCode >= http.StatusInternalServerError {
			if err := a.idempotency.Forget(context.WithoutCancel(r.Context()), registered); err != nil {
				log.Warn().Err(err).Str("key", apiKey).Msg("auth: failed to release idempotency key")
			}
		}
	})
}

func (a *Authenticator) timestampFresh(ts string) bool {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return false
	}
	delta := a.now().Sub(t)
	if delta < 0 {
		delta = -delta
	}
	return delta <= a.maxSkew
}

// readBody drains the body and replaces it so handlers can read it again.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func reject(w http.ResponseWriter, status int, reason, message string) {
	metrics.HTTPRejectionsTotal.WithLabelValues(reason).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
