package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config содержит все настройки сервиса
type Config struct {
	AppName  string
	Version  string
	LogLevel string
	ENV      string

	Server struct {
		Host            string
		Port            int
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
	}

	Ebay struct {
		Env                 string // sandbox или production
		ClientID            string
		ClientSecret        string
		RedirectURI         string
		Scopes              string // scope-строки через пробел
		MarketplaceID       string
		CategoryTreeID      string
		DefaultCategoryID   string // явный override категории, может быть пустым
		PaymentPolicyID     string
		ReturnPolicyID      string
		FulfillmentPolicyID string
		RequestTimeout      time.Duration

		ImageStrategy     string // media (загрузка на хостинг) или self_host
		ImageBasePath     string // каталог с фотографиями карточек
		PublicBaseURL     string // база для self_host-ссылок
		MediaMaxImages    int
		MediaMinLongEdge  int    // минимальная длинная сторона, px
		MediaLongEdge     int    // целевая длинная сторона при нормализации, px
		UploadConcurrency int    // размер пула загрузки изображений
		TokenPassphrase   string // парольная фраза шифрования токенов
	}

	Postgres struct {
		Host     string
		Port     int
		User     string
		Password string
		DBName   string
		SSLMode  string
		Timeout  time.Duration
		PoolSize int // размер пула соединений
	}

	Redis struct {
		Host              string
		Port              int
		Password          string
		DB                int
		DefaultExpiration time.Duration // срок действия кэша по умолчанию
	}

	Kafka struct {
		Brokers         []string `mapstructure:"brokers"`
		GroupID         string   `mapstructure:"group_id"`
		EventsTopic     string   `mapstructure:"events_topic"`
		CommandsTopic   string   `mapstructure:"commands_topic"`
		DeadLetterTopic string   `mapstructure:"dead_letter_topic"`
	}

	Metrics struct {
		Enabled  bool
		Endpoint string
		Port     int
	}

	Security struct {
		StateSecret      string // ключ подписи OAuth state
		StateTTL         time.Duration
		CORSAllowOrigins []string
	}

	Resilience struct {
		MaxRetries    int           // максимальное число попыток запроса
		RetryWaitTime time.Duration // базовое время ожидания между повторами
	}
}

// Load загружает конфигурацию из файла и переменных окружения
func Load(configPath string) (*Config, error) {
	configFile := "config"
	if configPath != "" {
		configFile = configPath
	}

	var cfg Config

	// Настройка Viper
	viper.SetConfigName(configFile)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("../config")
	viper.AddConfigPath("../../config")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Чтение конфигурационного файла
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
		// Продолжаем, если файл не найден, будем использовать только переменные окружения
	}

	// Установка значений по умолчанию
	setDefaults()

	// Привязка переменных окружения
	bindEnvVariables()

	// Чтение конфигурации в структуру
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка десериализации конфигурации: %w", err)
	}

	cfg.ENV = viper.GetString("env")
	if cfg.ENV == "" {
		cfg.ENV = "development"
		if envVar := os.Getenv("APP_ENV"); envVar != "" {
			cfg.ENV = envVar
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate проверяет обязательные настройки интеграции
func validate(cfg *Config) error {
	if cfg.Ebay.Env != "sandbox" && cfg.Ebay.Env != "production" {
		return fmt.Errorf("ebay.env должен быть sandbox или production, получено: %s", cfg.Ebay.Env)
	}
	if cfg.Ebay.ClientID == "" {
		return fmt.Errorf("ebay.clientId обязателен")
	}
	if cfg.Ebay.ClientSecret == "" {
		return fmt.Errorf("ebay.clientSecret обязателен")
	}
	if cfg.Ebay.ImageStrategy != "media" && cfg.Ebay.ImageStrategy != "self_host" {
		return fmt.Errorf("ebay.imageStrategy должен быть media или self_host, получено: %s", cfg.Ebay.ImageStrategy)
	}
	return nil
}

// setDefaults устанавливает значения по умолчанию
func setDefaults() {
	// Основные настройки
	viper.SetDefault("appName", "ebay-publisher")
	viper.SetDefault("version", "1.0.0")
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("env", "development")

	// Настройки сервера
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", "10s")
	viper.SetDefault("server.writeTimeout", "30s")
	viper.SetDefault("server.shutdownTimeout", "5s")

	// Настройки интеграции eBay
	viper.SetDefault("ebay.env", "sandbox")
	viper.SetDefault("ebay.scopes", strings.Join([]string{
		"https://api.ebay.com/oauth/api_scope/sell.inventory",
		"https://api.ebay.com/oauth/api_scope/sell.account.readonly",
	}, " "))
	viper.SetDefault("ebay.marketplaceId", "EBAY_US")
	viper.SetDefault("ebay.categoryTreeId", "0")
	viper.SetDefault("ebay.requestTimeout", "30s")
	viper.SetDefault("ebay.imageStrategy", "media")
	viper.SetDefault("ebay.imageBasePath", "./data/images")
	viper.SetDefault("ebay.mediaMaxImages", 12)
	viper.SetDefault("ebay.mediaMinLongEdge", 500)
	viper.SetDefault("ebay.mediaLongEdge", 1600)
	viper.SetDefault("ebay.uploadConcurrency", 4)

	// Настройки Postgres
	viper.SetDefault("postgres.host", "localhost")
	viper.SetDefault("postgres.port", 5432)
	viper.SetDefault("postgres.user", "postgres")
	viper.SetDefault("postgres.password", "postgres")
	viper.SetDefault("postgres.dbname", "postgres")
	viper.SetDefault("postgres.sslmode", "disable")
	viper.SetDefault("postgres.timeout", "5s")
	viper.SetDefault("postgres.poolSize", 10)

	// Настройки Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.defaultExpiration", "10m")

	// Настройки Kafka
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.groupID", "ebay-publisher")
	viper.SetDefault("kafka.eventsTopic", "listing-events")
	viper.SetDefault("kafka.commandsTopic", "listing-commands")
	viper.SetDefault("kafka.deadLetterTopic", "listing-events-dlq")

	// Настройки метрик
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.endpoint", "/metrics")
	viper.SetDefault("metrics.port", 9090)

	// Настройки безопасности
	viper.SetDefault("security.stateSecret", "change-me")
	viper.SetDefault("security.stateTTL", "15m")
	viper.SetDefault("security.corsAllowOrigins", []string{"*"})

	// Настройки отказоустойчивости
	viper.SetDefault("resilience.maxRetries", 3)
	viper.SetDefault("resilience.retryWaitTime", "1s")
}

// bindEnvVariables привязывает переменные окружения к конфигурации
func bindEnvVariables() {
	// Основные настройки
	viper.BindEnv("appName", "APP_NAME")
	viper.BindEnv("version", "APP_VERSION")
	viper.BindEnv("logLevel", "LOG_LEVEL")
	viper.BindEnv("env", "APP_ENV")

	// Настройки сервера
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.readTimeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.writeTimeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("server.shutdownTimeout", "SERVER_SHUTDOWN_TIMEOUT")

	// Настройки интеграции eBay
	viper.BindEnv("ebay.env", "EBAY_ENV")
	viper.BindEnv("ebay.clientId", "EBAY_CLIENT_ID")
	viper.BindEnv("ebay.clientSecret", "EBAY_CLIENT_SECRET")
	viper.BindEnv("ebay.redirectUri", "EBAY_REDIRECT_URI")
	viper.BindEnv("ebay.scopes", "EBAY_SCOPES")
	viper.BindEnv("ebay.marketplaceId", "EBAY_MARKETPLACE_ID")
	viper.BindEnv("ebay.categoryTreeId", "EBAY_CATEGORY_TREE_ID")
	viper.BindEnv("ebay.defaultCategoryId", "EBAY_DEFAULT_CATEGORY_ID")
	viper.BindEnv("ebay.paymentPolicyId", "EBAY_PAYMENT_POLICY_ID")
	viper.BindEnv("ebay.returnPolicyId", "EBAY_RETURN_POLICY_ID")
	viper.BindEnv("ebay.fulfillmentPolicyId", "EBAY_FULFILLMENT_POLICY_ID")
	viper.BindEnv("ebay.requestTimeout", "EBAY_REQUEST_TIMEOUT")
	viper.BindEnv("ebay.imageStrategy", "EBAY_IMAGE_STRATEGY")
	viper.BindEnv("ebay.imageBasePath", "EBAY_IMAGE_BASE_PATH")
	viper.BindEnv("ebay.publicBaseUrl", "EBAY_PUBLIC_BASE_URL")
	viper.BindEnv("ebay.mediaMaxImages", "EBAY_MEDIA_MAX_IMAGES")
	viper.BindEnv("ebay.mediaMinLongEdge", "EBAY_MEDIA_MIN_LONG_EDGE")
	viper.BindEnv("ebay.mediaLongEdge", "EBAY_MEDIA_LONG_EDGE")
	viper.BindEnv("ebay.uploadConcurrency", "EBAY_UPLOAD_CONCURRENCY")
	viper.BindEnv("ebay.tokenPassphrase", "EBAY_TOKEN_PASSPHRASE")

	// Настройки Postgres
	viper.BindEnv("postgres.host", "POSTGRES_HOST")
	viper.BindEnv("postgres.port", "POSTGRES_PORT")
	viper.BindEnv("postgres.user", "POSTGRES_USER")
	viper.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	viper.BindEnv("postgres.dbname", "POSTGRES_DBNAME")
	viper.BindEnv("postgres.sslmode", "POSTGRES_SSLMODE")
	viper.BindEnv("postgres.timeout", "POSTGRES_TIMEOUT")
	viper.BindEnv("postgres.poolSize", "POSTGRES_POOL_SIZE")

	// Настройки Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("redis.defaultExpiration", "REDIS_DEFAULT_EXPIRATION")

	// Настройки Kafka
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("kafka.groupID", "KAFKA_GROUP_ID")
	viper.BindEnv("kafka.eventsTopic", "KAFKA_EVENTS_TOPIC")
	viper.BindEnv("kafka.commandsTopic", "KAFKA_COMMANDS_TOPIC")
	viper.BindEnv("kafka.deadLetterTopic", "KAFKA_DEAD_LETTER_TOPIC")

	// Настройки метрик
	viper.BindEnv("metrics.enabled", "METRICS_ENABLED")
	viper.BindEnv("metrics.endpoint", "METRICS_ENDPOINT")
	viper.BindEnv("metrics.port", "METRICS_PORT")

	// Настройки безопасности
	viper.BindEnv("security.stateSecret", "STATE_SECRET")
	viper.BindEnv("security.stateTTL", "STATE_TTL")
	viper.BindEnv("security.corsAllowOrigins", "CORS_ALLOW_ORIGINS")

	// Настройки отказоустойчивости
	viper.BindEnv("resilience.maxRetries", "RESILIENCE_MAX_RETRIES")
	viper.BindEnv("resilience.retryWaitTime", "RESILIENCE_RETRY_WAIT_TIME")
}

// OAuthBaseURL возвращает базовый адрес OAuth для окружения
func (c *Config) OAuthBaseURL() string {
	if c.Ebay.Env == "production" {
		return "https://auth.ebay.com"
	}
	return "https://auth.sandbox.ebay.com"
}

// APIBaseURL возвращает базовый адрес Sell API для окружения
func (c *Config) APIBaseURL() string {
	if c.Ebay.Env == "production" {
		return "https://api.ebay.com"
	}
	return "https://api.sandbox.ebay.com"
}

// TokenURL возвращает адрес обмена и обновления токенов
func (c *Config) TokenURL() string {
	if c.Ebay.Env == "production" {
		return "https://api.ebay.com/identity/v1/oauth2/token"
	}
	return "https://api.sandbox.ebay.com/identity/v1/oauth2/token"
}

// ListingURL возвращает публичный адрес листинга по его идентификатору
func (c *Config) ListingURL(listingID string) string {
	if c.Ebay.Env == "production" {
		return fmt.Sprintf("https://www.ebay.com/itm/%s", listingID)
	}
	return fmt.Sprintf("https://sandbox.ebay.com/itm/%s", listingID)
}
