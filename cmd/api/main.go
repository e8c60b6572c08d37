package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/athebyme/ebay-publisher/config"
	"github.com/athebyme/ebay-publisher/internal/adapters/cache"
	"github.com/athebyme/ebay-publisher/internal/adapters/credstore"
	"github.com/athebyme/ebay-publisher/internal/adapters/logger"
	"github.com/athebyme/ebay-publisher/internal/adapters/messaging"
	"github.com/athebyme/ebay-publisher/internal/adapters/storage"
	"github.com/athebyme/ebay-publisher/internal/api"
	"github.com/athebyme/ebay-publisher/internal/domain/services"
	"github.com/athebyme/ebay-publisher/internal/ebay"
	"github.com/athebyme/ebay-publisher/internal/security"
	"github.com/athebyme/ebay-publisher/pkg/interfaces"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// метрики для Prometheus
var (
	publishDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "publish_durations_seconds",
		Help:    "Длительность публикации листингов",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	publishCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "publish_total",
		Help: "Общее количество публикаций листингов",
	}, []string{"outcome"})

	tokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "token_refreshes_total",
		Help: "Количество обновлений access-токена",
	})

	activeRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "http_active_requests",
		Help: "Количество активных HTTP запросов",
	})
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logger.NewZapLogger(cfg.LogLevel, cfg.ENV == "production")
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	log.Info("Инициализация сервиса",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
		interfaces.LogField{Key: "ebay_env", Value: cfg.Ebay.Env},
	)

	postgresCon, err := storage.ConnConfig{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		DBName:   cfg.Postgres.DBName,
		SSLMode:  cfg.Postgres.SSLMode,
		Timeout:  cfg.Postgres.Timeout,
		PoolSize: cfg.Postgres.PoolSize,
	}.DSN()
	if err != nil {
		log.Fatal("Ошибка сборки строки подключения к базе", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	pool, err := pgxpool.New(ctx, postgresCon)
	if err != nil {
		log.Fatal("Ошибка создания пула PostgreSQL", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer pool.Close()

	db, err := storage.NewPostgresStorageWithPool(ctx, pool)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	log.Info("Хранилище инициализировано")

	testCtx, testCancel := context.WithTimeout(ctx, 5*time.Second)
	defer testCancel()

	if err := db.Ping(testCtx); err != nil {
		log.Fatal("Ошибка подключения к PostgreSQL",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	log.Info("Соединение с PostgreSQL проверено")

	credStore, err := credstore.NewPostgresCredentialStore(pool, cfg.Ebay.TokenPassphrase, log)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища токенов", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	log.Info("Хранилище токенов инициализировано")

	cacheClient, err := cache.NewRedisCache(
		ctx,
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		// Кэш вспомогателен: без Redis схема аспектов живет в памяти процесса
		log.Warn("Redis недоступен, используется кэш в памяти",
			interfaces.LogField{Key: "error", Value: err.Error()})
		cacheClient = cache.NewMemoryCache(cfg.Redis.DefaultExpiration, 2*cfg.Redis.DefaultExpiration)
	} else if err := checkRedisConnection(testCtx, cacheClient); err != nil {
		log.Fatal("Ошибка подключения к Redis",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer cacheClient.Close()
	log.Info("Кэш инициализирован")

	messagingClient, err := messaging.NewKafkaMessaging(
		cfg.Kafka.Brokers,
		cfg.Kafka.GroupID,
		log,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации системы обмена сообщениями", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer messagingClient.Close()
	log.Info("Система обмена сообщениями инициализирована")

	tokenManager := ebay.NewTokenManager(ebay.TokenConfig{
		ClientID:     cfg.Ebay.ClientID,
		ClientSecret: cfg.Ebay.ClientSecret,
		RedirectURI:  cfg.Ebay.RedirectURI,
		Scopes:       cfg.Ebay.Scopes,
		AuthBaseURL:  cfg.OAuthBaseURL(),
		TokenURL:     cfg.TokenURL(),
	}, credStore, log)

	apiClient := ebay.NewClient(
		cfg.APIBaseURL(),
		cfg.Ebay.MarketplaceID,
		tokenManager,
		log,
		ebay.WithHTTPClient(&http.Client{Timeout: cfg.Ebay.RequestTimeout}),
		ebay.WithRetryPolicy(cfg.Resilience.MaxRetries, cfg.Resilience.RetryWaitTime),
	)

	categoryResolver := ebay.NewCategoryResolver(
		apiClient,
		cacheClient,
		log,
		cfg.Ebay.CategoryTreeID,
		cfg.Ebay.DefaultCategoryID,
	)

	mapper := ebay.NewPayloadMapper(cfg.Ebay.MarketplaceID, log)

	mediaClient := ebay.NewMediaClient(cfg.APIBaseURL(), tokenManager, log)
	imageResolver := ebay.NewImageResolver(mediaClient, ebay.ImageResolverConfig{
		Strategy:      cfg.Ebay.ImageStrategy,
		BasePath:      cfg.Ebay.ImageBasePath,
		PublicBaseURL: cfg.Ebay.PublicBaseURL,
		RequireHTTPS:  cfg.Ebay.Env == "production",
		MaxImages:     cfg.Ebay.MediaMaxImages,
		MinLongEdge:   cfg.Ebay.MediaMinLongEdge,
		TargetEdge:    cfg.Ebay.MediaLongEdge,
		Concurrency:   cfg.Ebay.UploadConcurrency,
	}, log)

	policies := ebay.MerchantPolicies{
		PaymentPolicyID:     cfg.Ebay.PaymentPolicyID,
		ReturnPolicyID:      cfg.Ebay.ReturnPolicyID,
		FulfillmentPolicyID: cfg.Ebay.FulfillmentPolicyID,
	}

	// Идентификаторы политик можно не задавать в конфигурации:
	// тогда берутся первые преднастроенные политики продавца
	if policies.PaymentPolicyID == "" || policies.ReturnPolicyID == "" || policies.FulfillmentPolicyID == "" {
		if fetched, err := apiClient.GetMerchantPolicies(ctx); err != nil {
			log.Warn("Не удалось прочитать политики продавца, публикация потребует конфигурации",
				interfaces.LogField{Key: "error", Value: err.Error()})
		} else {
			if policies.PaymentPolicyID == "" {
				policies.PaymentPolicyID = fetched.PaymentPolicyID
			}
			if policies.ReturnPolicyID == "" {
				policies.ReturnPolicyID = fetched.ReturnPolicyID
			}
			if policies.FulfillmentPolicyID == "" {
				policies.FulfillmentPolicyID = fetched.FulfillmentPolicyID
			}
		}
	}

	publishService := services.NewPublishService(
		db,
		apiClient,
		categoryResolver,
		imageResolver,
		mapper,
		messagingClient,
		cfg.Kafka.EventsTopic,
		policies,
		cfg.ListingURL,
		log,
	)
	log.Info("Сервис публикации инициализирован")

	stateManager, err := security.NewStateManager(cfg.Security.StateSecret, cfg.Security.StateTTL, cfg.AppName)
	if err != nil {
		log.Fatal("Ошибка инициализации подписи state", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	router := api.SetupRouter(api.RouterDeps{
		PublishService:     publishService,
		Connection:         tokenManager,
		Policies:           apiClient,
		States:             stateManager,
		Messaging:          messagingClient,
		EventsTopic:        cfg.Kafka.EventsTopic,
		Logger:             log,
		CORSAllowedOrigins: cfg.Security.CORSAllowOrigins,
		MetricsEnabled:     cfg.Metrics.Enabled,
		MetricsEndpoint:    cfg.Metrics.Endpoint,
	})
	log.Info("Маршрутизатор настроен")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("Сервер запущен", interfaces.LogField{Key: "address", Value: server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Ошибка запуска сервера", interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}()

	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatal("Ошибка при graceful shutdown", interfaces.LogField{Key: "error", Value: err.Error()})
		}

		log.Info("HTTP сервер остановлен")

		log.Info("Закрытие соединений с зависимостями...")

		if err := messagingClient.Close(); err != nil {
			log.Error("Ошибка при закрытии Kafka",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		if err := cacheClient.Close(); err != nil {
			log.Error("Ошибка при закрытии Redis",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		if err := db.Close(); err != nil {
			log.Error("Ошибка при закрытии БД",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		close(done)
	}()

	// Ожидаем завершения работы
	<-done
	log.Info("Сервер корректно завершил работу")
}

// Проверка соединения с Redis
func checkRedisConnection(ctx context.Context, cacheClient interfaces.CachePort) error {
	testKey := "test:connection"
	testValue := []byte("test-value")

	if err := cacheClient.Set(ctx, testKey, testValue, 10*time.Second); err != nil {
		return fmt.Errorf("ошибка записи в Redis: %w", err)
	}

	value, err := cacheClient.Get(ctx, testKey)
	if err != nil {
		return fmt.Errorf("ошибка чтения из Redis: %w", err)
	}

	if string(value) != string(testValue) {
		return fmt.Errorf("некорректное значение из Redis: получено %s, ожидалось %s",
			string(value), string(testValue))
	}

	if err := cacheClient.Delete(ctx, testKey); err != nil {
		return fmt.Errorf("ошибка удаления из Redis: %w", err)
	}

	return nil
}
