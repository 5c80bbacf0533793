package main

import (
	"net/http"
	"strings"

	"tunetrivia/internal/catalog"
	"tunetrivia/internal/challenge"
	"tunetrivia/internal/game"
	"tunetrivia/internal/httpapi"
	"tunetrivia/internal/store"
	"tunetrivia/shared/go/middleware"
)

func newHTTPHandler(cfg Config, dataStore *store.Store) (http.Handler, *game.Manager) {
	catalogClient := catalog.NewITunesClient(cfg.CatalogBaseURL)

	generator := challenge.NewOpenAIGenerator(challenge.Config{
		BaseURL: cfg.AIBaseURL,
		APIKeys: cfg.AIAPIKeys,
		Model:   cfg.AIModel,
	})

	manager := game.NewManager(game.DefaultConfig(), catalogClient, generator, generator, dataStore, nil)

	tokens := httpapi.NewJWTIssuer(cfg.TokenSecret, 0)
	api := httpapi.New(manager, dataStore, tokens)

	handler := middleware.Recovery()(middleware.RequestLogging()(api.Routes()))
	return withCORS(cfg.AllowedOrigins, handler), manager
}

func withCORS(allowedOrigins []string, next http.Handler) http.Handler {
	originAllowed := func(origin string) bool {
		if len(allowedOrigins) == 0 || origin == "" {
			return false
		}
		for _, o := range allowedOrigins {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		// Only short-circuit actual preflights; a bare OPTIONS goes through.
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
