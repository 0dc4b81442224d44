package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/maynagashev/lifevault/internal/events"
	"github.com/maynagashev/lifevault/internal/handlers"
	appmiddleware "github.com/maynagashev/lifevault/internal/middleware"
	"github.com/maynagashev/lifevault/internal/repository"
	"github.com/maynagashev/lifevault/internal/services"
	"github.com/maynagashev/lifevault/internal/storage"
	"github.com/maynagashev/lifevault/internal/transfer"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// newPostgresDB подменяется в тестах.
var newPostgresDB = repository.NewPostgresDB

// Структура для хранения инициализированных зависимостей.
type dependencies struct {
	db            *sqlx.DB
	fileStorage   storage.FileStorage // nil, если журнал событий отключен
	authHandler   *handlers.AuthHandler
	vaultHandler  *handlers.VaultHandler
	authenticator func(http.Handler) http.Handler
}

// main - точка входа. Вызывает run и обрабатывает ошибку.
func main() {
	if err := run(); err != nil {
		log.Printf("Ошибка выполнения сервера: %v", err)
		os.Exit(1)
	}
}

// run содержит основную логику запуска сервера и возвращает ошибку.
func run() error {
	log.Println("Запуск сервера LifeVault...")

	cfg, err := parseFlags()
	if err != nil {
		return fmt.Errorf("ошибка конфигурации: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := setupDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ошибка инициализации зависимостей: %w", err)
	}
	defer func() {
		if closeErr := deps.db.Close(); closeErr != nil {
			log.Printf("Ошибка закрытия соединения с БД: %v", closeErr)
		}
	}()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      setupRouter(deps.authHandler, deps.vaultHandler, deps.authenticator),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	go func() {
		<-ctx.Done()
		log.Println("Получен сигнал остановки, завершаем сервер...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Printf("Ошибка остановки сервера: %v", shutdownErr)
		}
	}()

	log.Printf("Запуск HTTPS-сервера на порту %s...", cfg.Port)
	log.Printf("Используется сертификат: %s", cfg.CertFile)
	log.Printf("Используется ключ: %s", cfg.KeyFile)

	if err = server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ошибка запуска HTTPS-сервера: %w", err)
	}
	return nil
}

// setupDependencies инициализирует и возвращает все необходимые зависимости сервера.
func setupDependencies(ctx context.Context, cfg *config) (*dependencies, error) {
	deps := &dependencies{}
	var err error

	// 1. Подключение к БД и схема
	deps.db, err = newPostgresDB(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации БД: %w", err)
	}
	if err = repository.EnsureSchema(ctx, deps.db); err != nil {
		closeDB(deps.db)
		return nil, err
	}

	// 2. Журнал событий в MinIO (необязательный)
	var (
		notifier services.Notifier
		lister   handlers.EventLister
	)
	if cfg.MinioEndpoint != "" {
		minioClient, minioErr := storage.NewMinioClient(ctx, storage.MinioConfig{
			Endpoint:        cfg.MinioEndpoint,
			AccessKeyID:     cfg.MinioUser,
			SecretAccessKey: cfg.MinioPassword,
			UseSSL:          cfg.MinioUseSSL,
			BucketName:      cfg.MinioBucket,
		})
		if minioErr != nil {
			closeDB(deps.db)
			return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", minioErr)
		}
		deps.fileStorage = minioClient
		journal := events.NewJournal(minioClient)
		notifier, lister = journal, journal
	} else {
		log.Println("MINIO_ENDPOINT не задан, журнал событий отключен")
	}

	if cfg.FeeRecipient == (common.Address{}) {
		log.Println("Получатель комиссии не задан, штрафы за досрочный вывод не переводятся")
	}

	// 3. Репозитории
	userRepo := repository.NewPostgresUserRepository(deps.db)
	vaultRepo := repository.NewPostgresVaultRepository()
	ledger := transfer.NewLedger(deps.db, repository.NewPostgresLedgerRepository())

	// 4. Сервисы
	secret := []byte(cfg.JWTSecret)
	authService := services.NewAuthService(userRepo, secret)
	vaultService := services.NewVaultService(deps.db, vaultRepo, ledger, notifier, services.SystemClock{}, cfg.FeeRecipient)

	// 5. Обработчики
	deps.authHandler = handlers.NewAuthHandler(authService)
	deps.vaultHandler = handlers.NewVaultHandler(vaultService, lister)
	deps.authenticator = appmiddleware.NewAuthenticator(secret)

	return deps, nil
}

func closeDB(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("Ошибка закрытия соединения с БД: %v", err)
	}
}

// setupRouter настраивает и возвращает роутер chi.
func setupRouter(
	authHandler *handlers.AuthHandler,
	vaultHandler *handlers.VaultHandler,
	authenticator func(http.Handler) http.Handler,
) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong\n"))
	})

	r.Route("/api", func(r chi.Router) {
		// Публичные маршруты
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)

		// Чтение слотов открыто без аутентификации
		r.Route("/accounts/{account}", func(r chi.Router) {
			r.Get("/vaults/{slot}", vaultHandler.GetVaultData)
			r.Get("/count", vaultHandler.GetVaultCount)
			r.Get("/stats", vaultHandler.GetVaultStats)
		})

		// Операции от имени аутентифицированного аккаунта
		r.Group(func(r chi.Router) {
			r.Use(authenticator)

			r.Route("/vaults", func(r chi.Router) {
				r.Get("/", vaultHandler.List)
				r.Post("/", vaultHandler.Create)
				r.Post("/claim", vaultHandler.Claim)
				r.Post("/{slot}/withdraw", vaultHandler.Withdraw)
				r.Post("/{slot}/ping", vaultHandler.Ping)
			})
			r.Get("/balance", vaultHandler.GetBalance)
			r.Get("/events", vaultHandler.ListEvents)
		})
	})
	return r
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию.
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	log.Printf("Переменная окружения '%s' не установлена, используется значение по умолчанию: '%s'", key, fallback)
	return fallback
}
