// Пакет server — HTTP-сервер loandesk с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/loandesk/internal/api/errors"
	"github.com/bigkaa/loandesk/internal/api/handlers"
	"github.com/bigkaa/loandesk/internal/api/middleware"
	"github.com/bigkaa/loandesk/internal/config"
	"github.com/bigkaa/loandesk/internal/domain/rbac"
)

// Server — HTTP-сервер loandesk.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, h *handlers.APIHandler, jwtAuth *middleware.JWTAuth) *Server {
	router := NewRouter(cfg, logger, h, jwtAuth.Middleware())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout + 30*time.Second,
		WriteTimeout:      cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты API.
// authn — middleware аутентификации, кладёт AuthClaims в контекст.
// Health, metrics и публичный приём заявок доступны без JWT.
func NewRouter(cfg *config.Config, logger *slog.Logger, h *handlers.APIHandler, authn func(http.Handler) http.Handler) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.NotFound(w, "маршрут не найден")
	})

	// Health и metrics проверяются Kubernetes напрямую, без API Gateway.
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Deadline(cfg.RequestTimeout))

		r.Post("/public/applications", h.CreatePublicApplication)

		r.Group(func(r chi.Router) {
			r.Use(authn)

			// Любой аутентифицированный; владение заявкой проверяет сервисный слой
			r.Post("/applications", h.CreateApplication)
			r.Route("/applications/{applicationId}", func(r chi.Router) {
				r.Get("/", h.GetApplication)
				r.Get("/requirements", h.GetRequirements)
				r.Get("/audit", h.GetAudit)
				r.Post("/documents", h.UploadDocument)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(rbac.RoleStaff))
					r.Post("/documents/{documentId}/versions/{versionId}/accept", h.AcceptDocumentVersion)
					r.Post("/documents/{documentId}/versions/{versionId}/reject", h.RejectDocumentVersion)
					r.Post("/pipeline", h.TransitionApplication)
				})
			})

			r.Get("/lender/submissions/{submissionId}", h.GetSubmission)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(rbac.RoleStaff))
				r.Post("/lender/submissions", h.SubmitToLender)
				r.Post("/admin/transmissions/{submissionId}/retry", h.RetryTransmission)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(rbac.RoleAdmin))
				r.Put("/admin/lenders/{lenderId}", h.UpsertLender)
				r.Put("/admin/lenders/{lenderId}/products/{productId}", h.UpsertProduct)
				r.Post("/admin/requirements", h.AddRequirement)
				r.Get("/admin/role-grants/{subject}", h.GetRoleGrant)
				r.Put("/admin/role-grants/{subject}", h.PutRoleGrant)
				r.Delete("/admin/role-grants/{subject}", h.DeleteRoleGrant)
			})
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
