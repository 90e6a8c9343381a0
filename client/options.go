package client

import (
	"fmt"
	"net/http"
	"strings"
)

// Option configures a Session at construction time.
type Option func(*Session) error

// WithHTTPClient sets a custom HTTP client for the session. The default is
// http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) error {
		if c == nil {
			c = http.DefaultClient
		}
		s.httpClient = c
		return nil
	}
}

// WithHeaders merges headers into every request the session sends, matching
// on subsequent calls by the last casing supplied for a given header name.
func WithHeaders(headers map[string]string) Option {
	return func(s *Session) error {
		existingLower := make(map[string]string, len(s.currentHeaders))
		for k := range s.currentHeaders {
			existingLower[strings.ToLower(k)] = k
		}
		for key, value := range headers {
			lower := strings.ToLower(key)
			if existingKey, ok := existingLower[lower]; ok && existingKey != key {
				delete(s.currentHeaders, existingKey)
			}
			s.currentHeaders[key] = value
			existingLower[lower] = key
		}
		return nil
	}
}

// WithAuthenticationBearer sets (or, passed "", clears) the Authorization
// header to "Bearer <token>".
func WithAuthenticationBearer(token string) Option {
	return func(s *Session) error {
		delete(s.currentHeaders, "authorization")
		if token == "" {
			delete(s.currentHeaders, "Authorization")
			return nil
		}
		s.currentHeaders["Authorization"] = fmt.Sprintf("Bearer %s", token)
		return nil
	}
}

func applyOptions(s *Session, opts []Option) error {
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return err
		}
	}
	return nil
}
