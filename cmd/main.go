package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"pixelbay/internal/config"
	"pixelbay/internal/handler"
	"pixelbay/internal/ratelimit"
	"pixelbay/internal/repository"
	"pixelbay/internal/service"
	"pixelbay/internal/storage"
	"pixelbay/internal/watermark"
)

func connectWithRetry(dsn string, maxAttempts int, delay time.Duration) (*sqlx.DB, error) {
	var db *sqlx.DB
	var err error

	for i := 0; i < maxAttempts; i++ {
		db, err = sqlx.Connect("postgres", dsn)
		if err == nil {
			return db, nil
		}

		log.Printf("Failed to connect to database (attempt %d/%d): %v", i+1, maxAttempts, err)
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %v", maxAttempts, err)
}

func runMigrations(cfg *config.Config) error {
	databaseURL := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	var m *migrate.Migrate
	var err error

	for i := 0; i < 5; i++ {
		m, err = migrate.New("file://migrations", databaseURL)
		if err == nil {
			break
		}
		log.Printf("Failed to create migrate instance (attempt %d/5): %v", i+1, err)
		time.Sleep(time.Second * 5)
	}

	if err != nil {
		return fmt.Errorf("failed to create migrate instance after retries: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		log.Printf("Found dirty database state at version %d, attempting to force version", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// newCounterStore выбирает хранилище счетчиков лимитов: Redis при
// заданном адресе, иначе Postgres
func newCounterStore(cfg *config.Config, db *sqlx.DB) ratelimit.Store {
	if cfg.Redis.Addr == "" {
		log.Println("Rate limit counters: using Postgres store")
		return repository.NewRateWindowRepository(db)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: redis ping failed: %v", err)
	}

	log.Printf("Rate limit counters: using Redis store at %s", cfg.Redis.Addr)
	return ratelimit.NewRedisStore(client)
}

func main() {
	// Загружаем конфигурацию
	appConfig, err := config.NewConfig(".app.env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Подключаемся к базе данных
	db, err := connectWithRetry(appConfig.Database.GetDSN(), 5, time.Second*5)
	if err != nil {
		log.Fatalf("Failed to connect to database after retries: %v", err)
	}
	defer db.Close()

	if err := runMigrations(appConfig); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Дисковое хранилище с общей анонимной директорией
	disk, err := storage.NewDisk(appConfig.Storage.Root)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	// Инициализация репозиториев
	ownerRepo := repository.NewOwnerRepository(db)
	assetRepo := repository.NewAssetRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)

	// Лимитеры: раздельные пространства ключей для анонимного и
	// авторизованного трафика
	counterStore := newCounterStore(appConfig, db)

	purgeDone := make(chan struct{})
	if pgStore, ok := counterStore.(*repository.RateWindowRepository); ok {
		// Истекшие окна в Postgres чистим фоном, Redis делает это сам
		// через TTL
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					if n, err := pgStore.PurgeExpired(ctx, time.Hour); err != nil {
						log.Printf("Failed to purge expired rate windows: %v", err)
					} else if n > 0 {
						log.Printf("Purged %d expired rate windows", n)
					}
					cancel()
				case <-purgeDone:
					return
				}
			}
		}()
	}

	limiters := service.Limiters{
		Anonymous: ratelimit.New(counterStore, ratelimit.Policy{
			Name:   "anon-hourly",
			Limit:  appConfig.RateLimit.AnonLimit,
			Window: appConfig.RateLimit.AnonWindowDuration(),
		}, appConfig.RateLimit.FailOpen),
		Authenticated: ratelimit.New(counterStore, ratelimit.Policy{
			Name:   "auth-daily",
			Limit:  appConfig.RateLimit.AuthLimit,
			Window: appConfig.RateLimit.AuthWindowDuration(),
		}, appConfig.RateLimit.FailOpen),
		OwnerHourly: ratelimit.New(counterStore, ratelimit.Policy{
			Name:   "auth-hourly",
			Limit:  appConfig.RateLimit.AnonLimit,
			Window: time.Hour,
		}, appConfig.RateLimit.FailOpen),
	}

	// Фоновый воркер асинхронных водяных знаков
	wmWorker := watermark.NewWorker(disk, 256)
	wmWorker.Start(2)

	// Инициализация сервисов
	identityService := service.NewIdentityService(ownerRepo, disk)
	resolverService := service.NewResolverService(ownerRepo, settingsRepo, disk, appConfig.Server.Domain)
	uploadService := service.NewUploadService(
		assetRepo,
		ownerRepo,
		disk,
		resolverService,
		wmWorker,
		limiters,
		appConfig.Server.Domain,
		appConfig.Server.Secure,
		appConfig.Upload.MaxSizeBytes,
	)

	// Инициализация хендлеров
	uploadHandler := handler.NewUploadHandler(identityService, uploadService)
	fileHandler := handler.NewFileHandler(identityService, uploadService, resolverService)
	adminHandler := handler.NewAdminHandler(identityService, uploadService, resolverService, appConfig.Admin.Token)

	// Настройка HTTP роутера
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "x-api-key"},
		MaxAge:         300,
	}))

	r.Post("/api/upload", uploadHandler.Upload)
	r.Get("/i/{filename}", fileHandler.Serve)
	r.Delete("/i/{filename}", fileHandler.Delete)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(adminHandler.Middleware)

		r.Get("/owners", adminHandler.ListOwners)
		r.Post("/owners", adminHandler.RegisterOwner)
		r.Route("/owners/{id}", func(r chi.Router) {
			r.Get("/assets", adminHandler.ListOwnerAssets)
			r.Put("/limits", adminHandler.UpdateLimits)
			r.Put("/suspend", adminHandler.SetSuspended)
			r.Post("/token-reset", adminHandler.ResetToken)
			r.Put("/watermark", adminHandler.UpdateWatermark)
			r.Delete("/", adminHandler.DeleteOwner)
		})

		r.Get("/subdomain", adminHandler.GetSubdomainMode)
		r.Put("/subdomain", adminHandler.SetSubdomainMode)
		r.Post("/subdomain/overrides/{id}", adminHandler.AddSubdomainOverride)
		r.Delete("/subdomain/overrides/{id}", adminHandler.RemoveSubdomainOverride)
	})

	// Создаем HTTP сервер
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", appConfig.Server.Port),
		Handler: r,
	}

	// Канал для сигналов завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Запускаем HTTP сервер
	go func() {
		log.Printf("Starting HTTP server on port %s (%s)", appConfig.Server.Port, appConfig.Server.BaseURL())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Ожидаем сигнал завершения
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}

	// Дожидаемся очереди водяных знаков
	wmWorker.Stop()
	close(purgeDone)

	if err := db.Close(); err != nil {
		log.Printf("Error closing database connection: %v", err)
	}

	log.Println("Server exited properly")
}
