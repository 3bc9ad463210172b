package api

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"airdrop/offchain/internal/metrics"
)

// SetupRouter creates and configures the HTTP router. CORS wraps the whole
// router so preflight requests are answered before route matching.
func SetupRouter(handler *Handler, corsOrigins []string, logger *zap.Logger) http.Handler {
	router := mux.NewRouter()

	// Apply middleware
	router.Use(loggingMiddleware(logger))
	router.Use(recoveryMiddleware(logger))

	// Health check endpoint
	router.HandleFunc("/health", handler.HandleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Campaigns
	campaigns := api.PathPrefix("/campaigns/{campaignId}").Subrouter()
	campaigns.HandleFunc("/eligibility", handler.HandleEligibility).Methods(http.MethodGet)
	campaigns.HandleFunc("/stake/{wallet}", handler.HandleStakePosition).Methods(http.MethodGet)
	campaigns.HandleFunc("/stake", handler.HandleStake).Methods(http.MethodPost)
	campaigns.HandleFunc("/claims", handler.HandleSubmitClaim).Methods(http.MethodPost)
	campaigns.HandleFunc("/claims", handler.HandleListClaims).Methods(http.MethodGet)
	campaigns.HandleFunc("/claims/{identityKey}", handler.HandleGetClaim).Methods(http.MethodGet)
	campaigns.HandleFunc("/leaderboard", handler.HandleLeaderboard).Methods(http.MethodGet)

	// Creator tokens
	api.HandleFunc("/creator-tokens", handler.HandleDeployToken).Methods(http.MethodPost)
	api.HandleFunc("/creator-tokens/{identityKey}", handler.HandleGetDeployment).Methods(http.MethodGet)
	api.HandleFunc("/creator-tokens/{identityKey}/mint", handler.HandleMint).Methods(http.MethodPost)

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(corsOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	return cors(router)
}

// ==================== Middleware ====================

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// recoveryMiddleware recovers from panics and logs them
func recoveryMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("Panic recovered",
						zap.Any("error", err),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
					)

					respondJSON(w, http.StatusInternalServerError, ErrorResponse{
						Error:   "Internal server error",
						Message: "An unexpected error occurred",
						Kind:    "INTERNAL",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
