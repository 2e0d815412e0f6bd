package security

import (
	"fmt"
	"net/http"
)

// HeadersConfig holds security headers configuration
type HeadersConfig struct {
	// Content Security Policy
	CSP string

	// HSTS settings
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool

	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
	PermissionsPolicy   string
}

// DefaultHeadersConfig returns secure defaults. The landing page loads its
// own script and talks to the API on the same origin.
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		CSP: "default-src 'self'; " +
			"script-src 'self' 'unsafe-inline'; " +
			"style-src 'self' 'unsafe-inline'; " +
			"img-src 'self' data:; " +
			"connect-src 'self'; " +
			"object-src 'none'; " +
			"frame-ancestors 'none'; " +
			"base-uri 'self'",

		HSTSMaxAge:            31536000, // 1 year
		HSTSIncludeSubdomains: true,

		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "strict-origin-when-cross-origin",
		PermissionsPolicy:   "geolocation=(), microphone=(), camera=(), payment=()",
	}
}

// HeadersMiddleware applies security headers to responses
type HeadersMiddleware struct {
	config HeadersConfig
}

// NewHeadersMiddleware creates a new security headers middleware
func NewHeadersMiddleware(config HeadersConfig) *HeadersMiddleware {
	return &HeadersMiddleware{
		config: config,
	}
}

// Middleware returns the HTTP middleware function
func (h *HeadersMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.applyHeaders(w, r)
		next.ServeHTTP(w, r)
	})
}

func (h *HeadersMiddleware) applyHeaders(w http.ResponseWriter, r *http.Request) {
	headers := w.Header()

	headers.Set("X-Content-Type-Options", h.config.XContentTypeOptions)
	headers.Set("X-Frame-Options", h.config.XFrameOptions)
	if h.config.CSP != "" {
		headers.Set("Content-Security-Policy", h.config.CSP)
	}
	headers.Set("Referrer-Policy", h.config.ReferrerPolicy)
	headers.Set("Permissions-Policy", h.config.PermissionsPolicy)

	// HSTS header (only for HTTPS)
	if r.TLS != nil && h.config.HSTSMaxAge > 0 {
		hstsValue := fmt.Sprintf("max-age=%d", h.config.HSTSMaxAge)
		if h.config.HSTSIncludeSubdomains {
			hstsValue += "; includeSubDomains"
		}
		headers.Set("Strict-Transport-Security", hstsValue)
	}
}

// StaticAssetMiddleware adds caching headers for static assets
func StaticAssetMiddleware(maxAge int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxAge > 0 {
				w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
			}
			next.ServeHTTP(w, r)
		})
	}
}
