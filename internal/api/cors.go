package api

import (
	"net/http"

	"github.com/rs/cors"
)

// CORSConfig controls cross-origin access to the API. An empty
// AllowedOrigins disables CORS handling.
type CORSConfig struct {
	AllowedOrigins []string
	MaxAge         int // seconds a preflight may be cached
}

var corsHeaders = []string{"Content-Type", "Range", "X-Request-ID"}

var corsExposed = []string{
	"Content-Length", "Content-Range", "Content-Disposition", "Accept-Ranges", "X-Request-ID",
}

// corsMiddleware answers preflight requests and sets the CORS response
// headers. A nil cfg leaves next untouched.
func corsMiddleware(cfg *CORSConfig, next http.Handler) http.Handler {
	if cfg == nil || len(cfg.AllowedOrigins) == 0 {
		return next
	}
	return cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPost, http.MethodDelete,
		},
		AllowedHeaders: corsHeaders,
		ExposedHeaders: corsExposed,
		MaxAge:         cfg.MaxAge,
	}).Handler(next)
}
