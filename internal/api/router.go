package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"

	"import_tables/internal/api/handler"
	"import_tables/internal/app/service"
	"import_tables/internal/common/security"
)

func NewRouter(
	importService *service.ImportService,
	progressService *service.ProgressService,
	staleAfter time.Duration,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	// Looks for "Authorization: Bearer T" and puts the claims in the context.
	r.Use(jwtauth.Verifier(security.TokenAuth))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(v1 chi.Router) {
		importHandler := handler.NewImportHandler(importService, progressService, staleAfter, logger)
		v1.Route("/imports", importHandler.RegisterRoutes)
	})

	return r
}
