package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/athebyme/ebay-publisher/config"
	"github.com/athebyme/ebay-publisher/internal/adapters/cache"
	"github.com/athebyme/ebay-publisher/internal/adapters/credstore"
	"github.com/athebyme/ebay-publisher/internal/adapters/logger"
	"github.com/athebyme/ebay-publisher/internal/adapters/messaging"
	"github.com/athebyme/ebay-publisher/internal/adapters/storage"
	"github.com/athebyme/ebay-publisher/internal/domain/services"
	"github.com/athebyme/ebay-publisher/internal/ebay"
	"github.com/athebyme/ebay-publisher/pkg/interfaces"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Метрики для Prometheus
var (
	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_messages_processed_total",
		Help: "Общее количество обработанных сообщений",
	}, []string{"topic", "status"})

	messageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worker_message_processing_duration_seconds",
		Help:    "Длительность обработки сообщений",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})

	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worker_active_goroutines",
		Help: "Количество активных горутин-обработчиков",
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
	log.Info("Инициализация воркера",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName + "-worker"},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	// Запускаем HTTP сервер для метрик если они включены
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("OK"))
			})

			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			log.Info("Запуск HTTP сервера для метрик",
				interfaces.LogField{Key: "addr", Value: addr})

			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("Ошибка запуска HTTP сервера для метрик",
					interfaces.LogField{Key: "error", Value: err.Error()})
			}
		}()
	}

	connectionStr, err := storage.ConnConfig{
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
		log.Fatal("Ошибка генерации строки подключения к PostgreSQL",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	pool, err := pgxpool.New(ctx, connectionStr)
	if err != nil {
		log.Fatal("Ошибка создания пула PostgreSQL",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer pool.Close()

	repo, err := storage.NewPostgresStorageWithPool(ctx, pool)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	log.Info("Хранилище инициализировано")

	credStore, err := credstore.NewPostgresCredentialStore(pool, cfg.Ebay.TokenPassphrase, log)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища токенов",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

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
	}
	defer cacheClient.Close()
	log.Info("Кэш инициализирован")

	messagingClient, err := messaging.NewKafkaMessaging(
		cfg.Kafka.Brokers,
		cfg.Kafka.GroupID,
		log,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации системы обмена сообщениями",
			interfaces.LogField{Key: "error", Value: err.Error()})
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

	publishService := services.NewPublishService(
		repo,
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

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	subscribeToPublishCommands(ctx, messagingClient, publishService, cfg.Kafka.CommandsTopic, log, &wg)

	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")
		cancel()
		wg.Wait()
		close(done)
	}()

	log.Info("Воркер запущен и готов к обработке сообщений")
	<-done
	log.Info("Воркер корректно завершил работу")
}

// Подписка на команды публикации листингов
func subscribeToPublishCommands(ctx context.Context, messagingClient interfaces.MessagingPort,
	publishService services.PublishServiceInterface, topic string,
	logger interfaces.LoggerPort, wg *sync.WaitGroup) {

	commandHandler := func(ctx context.Context, msg *interfaces.Message) error {
		startTime := time.Now()
		activeWorkers.Inc()
		defer activeWorkers.Dec()

		logger.InfoWithContext(ctx, "Получена команда публикации",
			interfaces.LogField{Key: "message_id", Value: msg.ID},
			interfaces.LogField{Key: "topic", Value: msg.Topic},
		)

		var command struct {
			CommandType string `json:"command_type"`
			RecordID    string `json:"record_id"`
			AsDraft     bool   `json:"as_draft,omitempty"`
		}

		if err := json.Unmarshal(msg.Value, &command); err != nil {
			logger.ErrorWithContext(ctx, "Ошибка декодирования команды",
				interfaces.LogField{Key: "error", Value: err.Error()})
			messagesProcessed.WithLabelValues(msg.Topic, "error").Inc()
			return err
		}

		switch command.CommandType {
		case "publish_listing":
			result := publishService.Publish(ctx, command.RecordID, command.AsDraft)
			if !result.Success {
				// Результат уже записан в карточку, повтор доставки не нужен
				logger.WarnWithContext(ctx, "Команда публикации завершилась неудачей",
					interfaces.LogField{Key: "record_id", Value: command.RecordID},
					interfaces.LogField{Key: "state", Value: string(result.State)},
					interfaces.LogField{Key: "error", Value: result.Error},
				)
				messagesProcessed.WithLabelValues(msg.Topic, "failed").Inc()
				return nil
			}

		default:
			logger.WarnWithContext(ctx, "Неизвестный тип команды",
				interfaces.LogField{Key: "command_type", Value: command.CommandType})
			messagesProcessed.WithLabelValues(msg.Topic, "unknown").Inc()
			return nil
		}

		duration := time.Since(startTime).Seconds()
		messageProcessingDuration.WithLabelValues(msg.Topic).Observe(duration)
		messagesProcessed.WithLabelValues(msg.Topic, "success").Inc()

		logger.InfoWithContext(ctx, "Команда успешно обработана",
			interfaces.LogField{Key: "command_type", Value: command.CommandType},
			interfaces.LogField{Key: "record_id", Value: command.RecordID},
			interfaces.LogField{Key: "duration", Value: duration},
		)

		return nil
	}

	wg.Add(1)

	go func() {
		defer wg.Done()

		unsubscribe, err := messagingClient.Subscribe(ctx, topic, commandHandler)
		if err != nil {
			logger.Error("Ошибка подписки на команды публикации",
				interfaces.LogField{Key: "error", Value: err.Error()})
			return
		}
		defer unsubscribe()

		logger.Info("Подписка на команды публикации установлена")

		<-ctx.Done()
		logger.Info("Отмена подписки на команды публикации")
	}()
}
