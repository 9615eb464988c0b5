// cmd/main.go
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lmittmann/tint"
	"github.com/rs/cors"

	"go_5_vocab_sync/internal/cache"
	"go_5_vocab_sync/internal/category"
	"go_5_vocab_sync/internal/config"
	"go_5_vocab_sync/internal/excel"
	"go_5_vocab_sync/internal/gateway/memstore"
	"go_5_vocab_sync/internal/handlers"
	"go_5_vocab_sync/internal/identity"
	"go_5_vocab_sync/internal/middleware"
	"go_5_vocab_sync/internal/scheduler"
	"go_5_vocab_sync/internal/service"
	"go_5_vocab_sync/internal/store"
	"go_5_vocab_sync/internal/syncer"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

func main() {
	//　設定ファイル読み込み用の一時的なロガー設定
	tempLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(tempLogger)
	log.Println("Log Config Loading...")

	// Configを読み込み
	if err := config.LoadConfig("./configs"); err != nil {
		slog.Error("Error loading configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// === 設定に基づいて slog ロガーを初期化 ===
	logLevel := new(slog.LevelVar)
	switch strings.ToLower(config.Cfg.Log.Level) {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "info":
		logLevel.Set(slog.LevelInfo)
	case "warn", "warning":
		logLevel.Set(slog.LevelWarn)
	case "error":
		logLevel.Set(slog.LevelError)
	default:
		logLevel.Set(slog.LevelInfo)
		slog.Warn("Unknown log level specified in config, defaulting to INFO", slog.String("level", config.Cfg.Log.Level))
	}
	var handler slog.Handler
	appEnv := os.Getenv("APP_ENV")
	if strings.ToLower(appEnv) == "dev" {
		tintOpts := &tint.Options{
			Level:      logLevel,
			TimeFormat: time.RFC3339,
		}
		handler = tint.NewHandler(os.Stderr, tintOpts)
		tempLogger.Info("Using TINT log handler", slog.String("APP_ENV", appEnv))
	} else {
		jsonOpts := &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}
		handler = slog.NewJSONHandler(os.Stderr, jsonOpts)
		tempLogger.Info("Using JSON log handler", slog.String("APP_ENV", appEnv))
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("Application starting...")

	// 2. ローカルキャッシュ（SQLite）の初期化
	db, err := cache.NewDB(config.Cfg.Cache.Path, logger)
	if err != nil {
		slog.Error("Error initializing local cache database", slog.Any("error", err))
		os.Exit(1)
	}
	sqlDB, err := db.DB()
	if err != nil {
		slog.Error("Error getting underlying sql.DB from GORM", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			slog.Error("Error closing cache database", slog.Any("error", err))
		} else {
			slog.Info("Cache database closed.")
		}
	}()
	localCache := cache.NewGormCache(db)

	// 3. Dependency Injection
	remote := memstore.New()

	engine := syncer.NewEngine(localCache, remote, &config.Cfg, logger)
	st := store.NewManager(localCache, remote, engine, logger)

	provider := identity.NewDeviceProvider(localCache, config.Cfg.Auth.TokenSecret, logger)
	cats := category.NewManager(localCache, remote, provider.CurrentOwnerID, logger)
	st.SetCategorySource(cats)

	// オーナー紐付けの変化に合わせてストアを張り替える
	provider.OnChange(func(ownerID string, signedIn bool) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if !signedIn {
			st.Unbind(ctx)
			return
		}
		if err := st.BindOwner(ctx, ownerID); err != nil {
			slog.Error("Failed to bind owner", slog.String("owner_id", ownerID), slog.Any("error", err))
		}
	})
	if _, err := provider.Bind(context.Background()); err != nil {
		slog.Error("Error binding device owner", slog.Any("error", err))
		os.Exit(1)
	}

	mailer := service.NewMailer(&config.Cfg)
	reminder := service.NewReminderService(st, mailer, &config.Cfg, logger)
	importer := excel.NewImporter(st, logger)

	sched := scheduler.New(st, reminder, &config.Cfg, logger)
	if err := sched.Start(); err != nil {
		slog.Error("Error starting scheduler", slog.Any("error", err))
		os.Exit(1)
	}
	defer sched.Stop()

	itemHandler := handlers.NewItemHandler(st, logger)
	reviewHandler := handlers.NewReviewHandler(st, logger)
	languageHandler := handlers.NewLanguageHandler(st, logger)
	categoryHandler := handlers.NewCategoryHandler(st, cats, logger)
	syncHandler := handlers.NewSyncHandler(st, importer, logger)
	ownerHandler := handlers.NewOwnerHandler(provider, logger)

	// 4. Setup Router
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.LoggingMiddleware(logger))

	corsOptions := cors.Options{
		AllowedOrigins:   config.Cfg.CORS.AllowedOrigins,
		AllowedMethods:   config.Cfg.CORS.AllowedMethods,
		AllowedHeaders:   config.Cfg.CORS.AllowedHeaders,
		ExposedHeaders:   config.Cfg.CORS.ExposedHeaders,
		AllowCredentials: config.Cfg.CORS.AllowCredentials,
		MaxAge:           config.Cfg.CORS.MaxAge,
		Debug:            false,
	}
	corsHandler := cors.New(corsOptions)
	r.Use(corsHandler.Handler)

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// API Routes
	r.Route("/api/v1", func(r chi.Router) {
		// --- Public routes ---
		r.Get("/owner", ownerHandler.GetOwner)
		r.Post("/owner/signin", ownerHandler.PostSignIn)
		r.Post("/owner/signout", ownerHandler.PostSignOut)
		r.Post("/owner/token", ownerHandler.PostDeviceToken)

		// --- Protected routes ---
		r.Group(func(r chi.Router) {
			if config.Cfg.Auth.Enabled {
				slog.Info("Applying device token authentication middleware")
				r.Use(middleware.DeviceAuthMiddleware(provider))
			}

			r.Route("/languages", func(r chi.Router) {
				r.Get("/", languageHandler.GetLanguages)
				r.Post("/", languageHandler.PostLanguage)
				r.Put("/current", languageHandler.PutCurrentLanguage)
				r.Delete("/{code}", languageHandler.DeleteLanguage)
			})

			r.Route("/items/{type}", func(r chi.Router) {
				r.Get("/", itemHandler.ListItems)
				r.Post("/", itemHandler.PostItem)
				r.Patch("/{id}", itemHandler.PatchItem)
				r.Delete("/{id}", itemHandler.DeleteItem)
			})

			r.Route("/reviews", func(r chi.Router) {
				// フラグの一括クリアは全タイプ横断
				r.Delete("/incorrect", reviewHandler.ClearIncorrect)
				r.Delete("/mastered", reviewHandler.ClearMastered)

				r.Route("/{type}", func(r chi.Router) {
					r.Get("/due", reviewHandler.GetDue)
					r.Get("/incorrect", reviewHandler.GetIncorrect)
					r.Get("/mastered", reviewHandler.GetMastered)
					r.Post("/{id}/reviewed", reviewHandler.PostReviewed)
					r.Post("/{id}/incorrect", reviewHandler.PostIncorrect)
					r.Post("/{id}/mastered", reviewHandler.PostMastered)
				})
			})

			r.Route("/categories", func(r chi.Router) {
				r.Get("/", categoryHandler.GetCategories)
				r.Post("/", categoryHandler.PostCategory)
				r.Put("/name", categoryHandler.PutCategoryName)
				r.Delete("/", categoryHandler.DeleteCategory)
			})

			r.Route("/sync", func(r chi.Router) {
				r.Get("/status", syncHandler.GetStatus)
				r.Post("/resync", syncHandler.PostResync)
				r.Get("/export", syncHandler.GetExport)
				r.Post("/import", syncHandler.PostImport)
				r.Post("/import/excel", syncHandler.PostExcelImport)
			})
		})
	})

	// Health Check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := sqlDB.PingContext(ctx); err != nil {
			slog.ErrorContext(ctx, "Health check failed: could not ping cache DB", slog.Any("error", err))
			http.Error(w, "Health check failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// 5. Start Server
	server := &http.Server{
		Addr:         config.Cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", slog.String("port", config.Cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Could not listen on port", slog.String("port", config.Cfg.Server.Port), slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", slog.Any("error", err))
	}
	st.Unbind(context.Background())

	log.Println("Server exiting")
}
