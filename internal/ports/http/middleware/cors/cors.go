// Package cors sets the browser policy for the signing API.
package cors

import (
	"net/http"

	"github.com/rs/cors"
)

// AddCorsPolicy allows the methods the routes actually serve and the
// Authorization header the bearer-token middleware reads. Credentialed
// requests are permitted for the web client.
func AddCorsPolicy(handler http.Handler) http.Handler {
	policy := cors.New(cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept", "Origin"},
		AllowCredentials: true,
	})

	return policy.Handler(handler)
}
