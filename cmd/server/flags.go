package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

const (
	// Порт по умолчанию для HTTPS (непривилегированный).
	defaultServerPort  = "8443"
	defaultEnvFile     = ".env"
	defaultMinioBucket = "lifevault-events"

	// Переменные окружения.
	envServerPort    = "SERVER_PORT"
	envTLSCertFile   = "TLS_CERT_FILE"
	envTLSKeyFile    = "TLS_KEY_FILE"
	envDatabaseDSN   = "DATABASE_DSN"
	envJWTSecret     = "JWT_SECRET" //nolint:gosec // Имя переменной окружения, не секрет
	envFeeRecipient  = "FEE_RECIPIENT"
	envMinioEndpoint = "MINIO_ENDPOINT"
	envMinioUser     = "MINIO_USER"
	envMinioPassword = "MINIO_PASSWORD" //nolint:gosec // Имя переменной окружения, не секрет
	envMinioBucket   = "MINIO_BUCKET"
	envMinioUseSSL   = "MINIO_USE_SSL"
)

// config хранит конфигурацию сервера.
type config struct {
	Port         string
	CertFile     string
	KeyFile      string
	DatabaseDSN  string
	JWTSecret    string
	FeeRecipient common.Address // Нулевой адрес - комиссия за досрочный вывод не переводится
	EnvFile      string

	// Журнал событий в MinIO. Пустой эндпоинт - журнал отключен.
	MinioEndpoint string
	MinioUser     string
	MinioPassword string
	MinioBucket   string
	MinioUseSSL   bool
}

// parseFlags разбирает флаги, .env файл и переменные окружения.
// Приоритет: флаг, затем переменная окружения, затем .env.
func parseFlags() (*config, error) {
	cfg := &config{}
	var feeRecipient, minioUseSSL string

	flag.StringVar(&cfg.Port, "port", "",
		fmt.Sprintf("Порт для запуска HTTPS-сервера (env: %s, default: %s)", envServerPort, defaultServerPort))
	flag.StringVar(&cfg.CertFile, "cert-file", "",
		fmt.Sprintf("Путь к файлу TLS-сертификата (env: %s)", envTLSCertFile))
	flag.StringVar(&cfg.KeyFile, "key-file", "",
		fmt.Sprintf("Путь к файлу TLS-ключа (env: %s)", envTLSKeyFile))
	flag.StringVar(&cfg.DatabaseDSN, "database-dsn", "",
		fmt.Sprintf("Строка подключения к базе данных (env: %s)", envDatabaseDSN))
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", "",
		fmt.Sprintf("Секрет подписи JWT токенов (env: %s)", envJWTSecret))
	flag.StringVar(&feeRecipient, "fee-recipient", "",
		fmt.Sprintf("Адрес получателя штрафов за досрочный вывод (env: %s)", envFeeRecipient))
	flag.StringVar(&cfg.EnvFile, "env-file", defaultEnvFile, "Путь к .env файлу")
	flag.StringVar(&cfg.MinioEndpoint, "minio-endpoint", "",
		fmt.Sprintf("Адрес MinIO для журнала событий (env: %s)", envMinioEndpoint))
	flag.StringVar(&cfg.MinioBucket, "minio-bucket", "",
		fmt.Sprintf("Бакет журнала событий (env: %s, default: %s)", envMinioBucket, defaultMinioBucket))

	flag.Parse()

	loadEnvFile(cfg.EnvFile)

	// Применяем переменные окружения, если флаги не заданы
	if cfg.Port == "" {
		cfg.Port = getEnv(envServerPort, defaultServerPort)
	}
	lookupEnv(&cfg.CertFile, envTLSCertFile)
	lookupEnv(&cfg.KeyFile, envTLSKeyFile)
	lookupEnv(&cfg.DatabaseDSN, envDatabaseDSN)
	lookupEnv(&cfg.JWTSecret, envJWTSecret)
	lookupEnv(&feeRecipient, envFeeRecipient)
	lookupEnv(&cfg.MinioEndpoint, envMinioEndpoint)
	lookupEnv(&cfg.MinioUser, envMinioUser)
	lookupEnv(&cfg.MinioPassword, envMinioPassword)
	lookupEnv(&cfg.MinioBucket, envMinioBucket)
	lookupEnv(&minioUseSSL, envMinioUseSSL)
	if cfg.MinioBucket == "" {
		cfg.MinioBucket = defaultMinioBucket
	}

	// Проверяем обязательные параметры
	if cfg.CertFile == "" {
		return nil, errors.New("не указан путь к файлу сертификата (--cert-file или " + envTLSCertFile + ")")
	}
	if cfg.KeyFile == "" {
		return nil, errors.New("не указан путь к файлу ключа (--key-file или " + envTLSKeyFile + ")")
	}
	if cfg.DatabaseDSN == "" {
		return nil, errors.New("не указана строка подключения к БД (--database-dsn или " + envDatabaseDSN + ")")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("не указан секрет JWT (--jwt-secret или " + envJWTSecret + ")")
	}

	if feeRecipient != "" {
		if !common.IsHexAddress(feeRecipient) {
			return nil, fmt.Errorf("неверный адрес получателя комиссии: %q", feeRecipient)
		}
		cfg.FeeRecipient = common.HexToAddress(feeRecipient)
	}
	if minioUseSSL != "" {
		useSSL, err := strconv.ParseBool(minioUseSSL)
		if err != nil {
			return nil, fmt.Errorf("неверное значение %s: %w", envMinioUseSSL, err)
		}
		cfg.MinioUseSSL = useSSL
	}

	return cfg, nil
}

// loadEnvFile загружает переменные из .env файла, не перезаписывая уже заданные.
func loadEnvFile(path string) {
	if path == "" {
		return
	}
	if err := godotenv.Load(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("Не удалось загрузить %s: %v", path, err)
		}
		return
	}
	log.Printf("Загружены переменные окружения из %s", path)
}

// lookupEnv заполняет пустое значение из переменной окружения.
func lookupEnv(dst *string, key string) {
	if *dst != "" {
		return
	}
	if value, ok := os.LookupEnv(key); ok {
		*dst = value
	}
}
