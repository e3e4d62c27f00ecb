package middleware

import (
	"slices"

	"github.com/go-chi/cors"
)

// CORS builds the options for browser clients of the chat API. A wildcard
// origin disables credentials, which browsers would reject anyway.
func CORS(allowedOrigins []string) cors.Options {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}

	return cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Cache-Control", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, "Retry-After"},
		AllowCredentials: !slices.Contains(allowedOrigins, "*"),
		MaxAge:           600,
	}
}
