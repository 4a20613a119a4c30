// Точка входа loandesk — бэк-офис кредитных заявок.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL
// и объектному хранилищу, собирает каналы передачи кредиторам и сервисный слой,
// запускает фоновые задачи (повторы передач, outbox аудита, topologymetrics),
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/loandesk/internal/api/handlers"
	"github.com/bigkaa/loandesk/internal/api/middleware"
	"github.com/bigkaa/loandesk/internal/blobstore"
	"github.com/bigkaa/loandesk/internal/config"
	"github.com/bigkaa/loandesk/internal/database"
	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/domain/rbac"
	"github.com/bigkaa/loandesk/internal/events"
	"github.com/bigkaa/loandesk/internal/lender"
	"github.com/bigkaa/loandesk/internal/repository"
	"github.com/bigkaa/loandesk/internal/server"
	"github.com/bigkaa/loandesk/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("loandesk запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	store := repository.NewStore(pool)

	// 5. Объектное хранилище документов
	blobs, err := blobstore.NewS3Store(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации объектного хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Каналы передачи кредиторам. PORTAL обрабатывается без канала.
	dispatcher := lender.NewDispatcher(cfg.LenderTimeout, logger)
	apiTransmitter, err := lender.NewAPITransmitter(cfg.CACertPath, logger)
	if err != nil {
		logger.Error("Ошибка создания API-канала кредиторов", slog.String("error", err.Error()))
		os.Exit(1)
	}
	dispatcher.Register(model.MethodAPI, apiTransmitter)

	if cfg.SMTPEnabled() {
		dispatcher.Register(model.MethodEmail, lender.NewEmailTransmitter(lender.EmailConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
			From:      cfg.SMTPFrom,
			TLSPolicy: cfg.SMTPTLSPolicy,
		}, blobs, logger))
		logger.Info("SMTP-канал кредиторов включён", slog.String("host", cfg.SMTPHost))
	} else {
		logger.Warn("LD_SMTP_HOST не задан, отправка EMAIL-кредиторам недоступна")
	}

	// 7. Services
	exec := service.NewExecutor(store, logger)
	lenderCache := service.NewLenderCache(cfg.LenderCacheSize, cfg.LenderCacheTTL)
	pipelineSvc := service.NewPipelineService(store, exec, logger)
	applicationsSvc := service.NewApplicationService(store, exec, cfg.StartupCategory, logger)
	documentsSvc := service.NewDocumentService(store, exec, blobs, logger)
	reviewsSvc := service.NewReviewService(exec, pipelineSvc, logger)
	lenderAdminSvc := service.NewLenderAdminService(store, lenderCache, logger)
	submissionsSvc := service.NewSubmissionService(store, exec, dispatcher, lenderCache,
		service.RetryPolicy{BaseDelay: cfg.RetryBaseDelay, MaxAttempts: cfg.RetryMaxAttempts},
		logger,
	)
	roleGrantsSvc := service.NewRoleGrantService(store, logger)

	// 8. Readiness checkers (PostgreSQL, JWKS IdP, S3)
	pgChecker := database.NewReadinessChecker(pool)
	idpChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.CACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания IdP readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler(pgChecker, idpChecker, blobs)

	// 9. API handler
	apiHandler := handlers.NewAPIHandler(healthHandler, handlers.Services{
		Applications: applicationsSvc,
		Documents:    documentsSvc,
		Reviews:      reviewsSvc,
		Pipeline:     pipelineSvc,
		Submissions:  submissionsSvc,
		Lenders:      lenderAdminSvc,
		RoleGrants:   roleGrantsSvc,
	}, cfg.MaxUploadSize, logger)

	// 10. JWT middleware; локальные выдачи ролей повышают роль IdP
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTConfig{
		JWKSURL:    cfg.JWTJWKSURL,
		CACertPath: cfg.CACertPath,
		Issuer:     cfg.JWTIssuer,
		Groups: rbac.GroupMapping{
			Admin:    cfg.RoleAdminGroups,
			Staff:    cfg.RoleStaffGroups,
			Readonly: cfg.RoleReadonlyGroups,
		},
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		Leeway:          cfg.JWTLeeway,
	}, roleGrantsSvc, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 11. Фоновые задачи
	var sweeper *service.RetrySweeper
	if cfg.RetrySweepInterval > 0 {
		sweeper = service.NewRetrySweeper(submissionsSvc, cfg.RetrySweepInterval, cfg.RetryBatchSize, logger)
		sweeper.Start(ctx)
	} else {
		logger.Info("Автоматические повторы передач отключены (LD_RETRY_SWEEP_INTERVAL=0)")
	}

	var relay *service.AuditRelay
	var publisher *events.KafkaPublisher
	if cfg.KafkaEnabled() {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaAuditTopic, logger)
		relay = service.NewAuditRelay(store, publisher, cfg.OutboxInterval, cfg.OutboxBatchSize, logger)
		relay.Start(ctx)
	} else {
		logger.Info("Публикация аудита в Kafka отключена (LD_KAFKA_BROKERS не задан)")
	}

	// 11.1 topologymetrics — мониторинг зависимостей (PostgreSQL, JWKS, S3)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "loandesk",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PgConnURL:     cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		S3Endpoint:    cfg.S3Endpoint,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 12. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	runErr := srv.Run()

	// 13. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if sweeper != nil {
		sweeper.Stop()
	}
	if relay != nil {
		relay.Stop()
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Warn("Ошибка закрытия Kafka writer", slog.String("error", err.Error()))
		}
	}
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("loandesk остановлен")
}
