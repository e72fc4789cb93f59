package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/clearledger/sponsorvest/internal/access"
	"github.com/clearledger/sponsorvest/internal/httpserver"
	"github.com/clearledger/sponsorvest/internal/logging"
	"github.com/clearledger/sponsorvest/internal/pause"
	"github.com/clearledger/sponsorvest/internal/store/gormstore"
	"github.com/clearledger/sponsorvest/internal/store/pgstore"
	"github.com/clearledger/sponsorvest/internal/token"
	"github.com/clearledger/sponsorvest/pkg/vesting"
)

const (
	flagDatabaseURL      = "database-url"
	flagStoreDriver      = "store-driver"
	flagTokenDatabaseURL = "token-database-url"
	flagListenAddr       = "listen-addr"
	flagAllowedOrigins   = "allowed-origins"
	flagSigningKey       = "jwt-signing-key"
	flagIssuer           = "jwt-issuer"
	flagLogLevel         = "log-level"

	configKeyDatabaseURL      = "database_url"
	configKeyStoreDriver      = "store_driver"
	configKeyTokenDatabaseURL = "token_database_url"
	configKeyListenAddr       = "listen_addr"
	configKeyAllowedOrigins   = "allowed_origins"
	configKeySigningKey       = "jwt_signing_key"
	configKeyIssuer           = "jwt_issuer"
	configKeyLogLevel         = "log_level"

	defaultDatabaseURL = "sqlite:///tmp/sponsorvest.db"
	defaultListenAddr  = ":8080"
	defaultStoreDriver = "gorm"
	defaultLogLevel    = "info"

	storeDriverGorm = "gorm"
	storeDriverPgx  = "pgx"
	driverPostgres  = "postgres"
	driverSQLite    = "sqlite"
)

type runtimeConfig struct {
	DatabaseURL      string
	StoreDriver      string
	TokenDatabaseURL string
	ListenAddr       string
	AllowedOrigins   string
	SigningKey       string
	Issuer           string
	LogLevel         string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sponsorvestd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "sponsorvestd",
		Short:         "Subscription vesting HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "vesting database connection string")
	cmd.Flags().String(flagStoreDriver, defaultStoreDriver, "vesting store driver (gorm or pgx)")
	cmd.Flags().String(flagTokenDatabaseURL, "", "token ledger connection string (in-memory when empty)")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated CORS origins")
	cmd.Flags().String(flagSigningKey, "", "HMAC signing key for bearer tokens")
	cmd.Flags().String(flagIssuer, "", "issuer expected in bearer tokens")
	cmd.Flags().String(flagLogLevel, defaultLogLevel, "log level (debug, info, warn)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:      "DATABASE_URL",
		configKeyStoreDriver:      "STORE_DRIVER",
		configKeyTokenDatabaseURL: "TOKEN_DATABASE_URL",
		configKeyListenAddr:       "HTTP_LISTEN_ADDR",
		configKeyAllowedOrigins:   "ALLOWED_ORIGINS",
		configKeySigningKey:       "JWT_SIGNING_KEY",
		configKeyIssuer:           "JWT_ISSUER",
		configKeyLogLevel:         "LOG_LEVEL",
	}
	for key, envName := range envBindings {
		if err := viper.BindEnv(key, envName); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL:      flagDatabaseURL,
		configKeyStoreDriver:      flagStoreDriver,
		configKeyTokenDatabaseURL: flagTokenDatabaseURL,
		configKeyListenAddr:       flagListenAddr,
		configKeyAllowedOrigins:   flagAllowedOrigins,
		configKeySigningKey:       flagSigningKey,
		configKeyIssuer:           flagIssuer,
		configKeyLogLevel:         flagLogLevel,
	}
	for key, flagName := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.StoreDriver = viper.GetString(configKeyStoreDriver)
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = defaultStoreDriver
	}
	cfg.TokenDatabaseURL = viper.GetString(configKeyTokenDatabaseURL)
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.SigningKey = viper.GetString(configKeySigningKey)
	cfg.Issuer = viper.GetString(configKeyIssuer)
	cfg.LogLevel = viper.GetString(configKeyLogLevel)
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	if cfg.StoreDriver != storeDriverGorm && cfg.StoreDriver != storeDriverPgx {
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	if cfg.SigningKey == "" {
		return fmt.Errorf("jwt signing key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	vestingStore, storeCleanup, err := openVestingStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("vesting store open: %w", err)
	}
	defer func() { _ = storeCleanup() }()

	tokenStore, tokenCleanup, err := openTokenStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("token store open: %w", err)
	}
	defer func() { _ = tokenCleanup() }()

	tokens, err := token.NewService(tokenStore)
	if err != nil {
		return fmt.Errorf("token service init: %w", err)
	}

	clock := func() int64 { return time.Now().UTC().Unix() }
	vestingService, err := vesting.NewService(vestingStore, clock,
		vesting.WithOperationLogger(logging.NewVestingOperationLogger(logger)),
		vesting.WithUnitRetirer(token.NewBurnRetirer(tokens)),
		vesting.WithClaimAuthorizer(access.NewMinterClaimAuthorizer()),
	)
	if err != nil {
		return fmt.Errorf("vesting service init: %w", err)
	}

	serverConfig := httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: httpserver.ParseAllowedOrigins(cfg.AllowedOrigins),
		SigningKey:     cfg.SigningKey,
		TokenIssuer:    cfg.Issuer,
	}
	if err := serverConfig.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	return httpserver.Run(ctx, serverConfig, httpserver.Dependencies{
		Logger:  logger,
		Vesting: vestingService,
		Tokens:  tokens,
		Pause:   pause.NewSwitch(),
	})
}

func openVestingStore(ctx context.Context, cfg *runtimeConfig) (vesting.Store, func() error, error) {
	switch cfg.StoreDriver {
	case storeDriverGorm:
		db, cleanup, _, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := gormstore.Migrate(db); err != nil {
			_ = cleanup()
			return nil, nil, fmt.Errorf("vesting migrate: %w", err)
		}
		return gormstore.New(db), cleanup, nil
	case storeDriverPgx:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		cleanup := func() error {
			pool.Close()
			return nil
		}
		return pgstore.New(pool), cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// openTokenStore resolves the token ledger backend. SQLite allows a
// single writer per file, and activation writes both ledgers at once,
// so the token ledger never shares a sqlite file with the vesting
// store.
func openTokenStore(ctx context.Context, cfg *runtimeConfig, logger *zap.Logger) (token.Store, func() error, error) {
	if strings.TrimSpace(cfg.TokenDatabaseURL) == "" {
		logger.Info("token ledger using in-memory store")
		return token.NewMemoryStore(), func() error { return nil }, nil
	}
	if cfg.TokenDatabaseURL == cfg.DatabaseURL {
		driver, _, err := resolveDriver(cfg.TokenDatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if driver == driverSQLite {
			return nil, nil, fmt.Errorf("token database must not share a sqlite file with the vesting store")
		}
	}
	db, cleanup, _, err := openDatabase(ctx, cfg.TokenDatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := token.Migrate(db); err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("token migrate: %w", err)
	}
	return token.NewGormStore(db), cleanup, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = "sponsorvest.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
