package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dayone-kr/authcore/internal/authcore"
	"github.com/dayone-kr/authcore/internal/authcorepg"
	"github.com/dayone-kr/authcore/internal/provider"
	"github.com/dayone-kr/authcore/internal/store"
	"github.com/dayone-kr/authcore/internal/web"
	webassets "github.com/dayone-kr/authcore/web"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "authcore",
		Short:   "Social login auth service with JWT sessions, refresh credentials, and provider unlink",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("frontend_default", "http://localhost:3000", "Default front-end origin")
	rootCmd.Flags().StringSlice("allowed_origins", []string{}, "Allowed front-end origins (empty for open mode)")
	rootCmd.Flags().String("cookie_domain", "", "Shared cookie domain for deployed origins; empty for host-only")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for session tokens")
	rootCmd.Flags().String("jwt_issuer", "dayone-auth", "Issuer claim on session tokens")
	rootCmd.Flags().Duration("access_ttl", 30*time.Minute, "Access token TTL")
	rootCmd.Flags().Duration("refresh_ttl", 7*24*time.Hour, "Refresh token TTL")
	rootCmd.Flags().Duration("state_ttl", 10*time.Minute, "OAuth state cookie TTL")
	rootCmd.Flags().Duration("rejoin_hold", 7*24*time.Hour, "Window after withdrawal during which re-login is blocked")
	rootCmd.Flags().String("database_url", "", "Database URL (postgres:// or sqlite://; leave empty for in-memory stores)")
	rootCmd.Flags().Bool("database_native_pg", false, "Use the pgx-native stores instead of GORM (postgres:// only)")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin front-ends")
	rootCmd.Flags().Duration("sweep_interval", time.Hour, "Interval for the expired-credential sweep (0 disables)")

	for _, flagName := range []string{
		"listen_addr", "frontend_default", "allowed_origins", "cookie_domain",
		"jwt_signing_key", "jwt_issuer", "access_ttl", "refresh_ttl",
		"state_ttl", "rejoin_hold", "database_url", "database_native_pg",
		"enable_cors", "sweep_interval",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	for _, providerName := range []string{provider.Kakao, provider.Naver} {
		for _, suffix := range []string{"client_id", "client_secret", "redirect_uri", "auth_url", "token_url", "userinfo_url", "unlink_url"} {
			flagName := providerName + "_" + suffix
			rootCmd.Flags().String(flagName, "", providerName+" OAuth "+strings.ReplaceAll(suffix, "_", " "))
			_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
		}
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	accessCookieName   = "access_token"
	refreshCookieName  = "refresh_token"
	stateCookieName    = "oauth_state"
	redirectCookieName = "oauth_redirect"

	configCodeMissingJWTSigningKey    = "config.missing_jwt_signing_key"
	configCodeInvalidAccessTTL        = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_ttl"
	configCodeMissingFrontendDefault  = "config.missing_frontend_default"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig validates the viper-bound settings into the immutable config.
func LoadServerConfig() (authcore.ServerConfig, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return authcore.ServerConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	accessTTL := viper.GetDuration("access_ttl")
	if accessTTL <= 0 {
		return authcore.ServerConfig{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return authcore.ServerConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}

	frontendDefault := strings.TrimRight(viper.GetString("frontend_default"), "/")
	if frontendDefault == "" {
		return authcore.ServerConfig{}, configError(configCodeMissingFrontendDefault, "frontend_default must be provided")
	}

	stateTTL := 10 * time.Minute
	if configuredStateTTL := viper.GetDuration("state_ttl"); configuredStateTTL > 0 {
		stateTTL = configuredStateTTL
	}
	rejoinHold := 7 * 24 * time.Hour
	if configuredHold := viper.GetDuration("rejoin_hold"); configuredHold > 0 {
		rejoinHold = configuredHold
	}

	return authcore.ServerConfig{
		JWTSigningKey:          []byte(jwtSigningKey),
		JWTIssuer:              viper.GetString("jwt_issuer"),
		AccessTTL:              accessTTL,
		RefreshTTL:             refreshTTL,
		StateTTL:               stateTTL,
		RejoinHold:             rejoinHold,
		DefaultFrontendOrigin:  frontendDefault,
		AllowedFrontendOrigins: viper.GetStringSlice("allowed_origins"),
		SharedCookieDomain:     viper.GetString("cookie_domain"),
		AccessCookieName:       accessCookieName,
		RefreshCookieName:      refreshCookieName,
		StateCookieName:        stateCookieName,
		RedirectCookieName:     redirectCookieName,
	}, nil
}

func loadProviderSettings(providerName string) provider.Settings {
	return provider.Settings{
		ClientID:     viper.GetString(providerName + "_client_id"),
		ClientSecret: viper.GetString(providerName + "_client_secret"),
		RedirectURI:  viper.GetString(providerName + "_redirect_uri"),
		AuthURL:      viper.GetString(providerName + "_auth_url"),
		TokenURL:     viper.GetString(providerName + "_token_url"),
		UserInfoURL:  viper.GetString(providerName + "_userinfo_url"),
		UnlinkURL:    viper.GetString(providerName + "_unlink_url"),
	}
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authcore.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	databaseURL := viper.GetString("database_url")
	nativePG := viper.GetBool("database_native_pg")
	enableCORS := viper.GetBool("enable_cors")
	sweepInterval := viper.GetDuration("sweep_interval")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, serverConfig.AllowedFrontendOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	clock := authcore.NewSystemClock()
	providerNames := []string{provider.Kakao, provider.Naver}

	var accounts authcore.AccountStore
	var refreshTokens authcore.RefreshTokenStore
	providerTokens := make(map[string]authcore.ProviderTokenStore, len(providerNames))

	switch {
	case databaseURL == "":
		accounts = store.NewMemoryAccountStore(clock)
		refreshTokens = store.NewMemoryRefreshTokenStore(clock)
		for _, providerName := range providerNames {
			providerTokens[providerName] = store.NewMemoryProviderTokenStore(clock)
		}
		logger.Info("using in-memory stores")
	case nativePG:
		pool, poolErr := authcorepg.BuildPool(command.Context(), databaseURL)
		if poolErr != nil {
			return poolErr
		}
		if schemaErr := authcorepg.EnsureSchema(command.Context(), pool, providerNames); schemaErr != nil {
			return schemaErr
		}
		accounts = authcorepg.NewPostgresAccountStore(pool, clock)
		refreshTokens = authcorepg.NewPostgresRefreshTokenStore(pool, clock)
		for _, providerName := range providerNames {
			providerTokens[providerName] = authcorepg.NewPostgresProviderTokenStore(pool, providerName, clock)
		}
		logger.Info("using pgx-native stores")
	default:
		database, openErr := store.OpenDatabase(command.Context(), databaseURL, providerNames, clock)
		if openErr != nil {
			return openErr
		}
		accounts = database.Accounts()
		refreshTokens = database.RefreshTokens()
		for _, providerName := range providerNames {
			providerTokens[providerName] = database.ProviderTokens(providerName)
		}
		logger.Info("using persistent stores", zap.String("driver", database.Driver()))
	}

	revocations := authcore.NewMemoryRevocationList(serverConfig.AccessTTL, clock)
	metricsRecorder := authcore.NewCounterMetrics()

	service := authcore.NewService(serverConfig, authcore.ServiceDeps{
		Clock:         clock,
		Logger:        logger,
		Metrics:       metricsRecorder,
		Accounts:      accounts,
		RefreshTokens: refreshTokens,
		Revocations:   revocations,
		Providers: []provider.Client{
			provider.NewKakaoClient(loadProviderSettings(provider.Kakao)),
			provider.NewNaverClient(loadProviderSettings(provider.Naver)),
		},
		ProviderTokens: providerTokens,
	})

	bridgeDelivery, bridgeErr := authcore.NewPopupBridgeDelivery(webassets.FS)
	if bridgeErr != nil {
		return bridgeErr
	}

	authcore.MountAuthRoutes(router, service, bridgeDelivery)

	protected := router.Group("/api")
	protected.Use(authcore.RequireSession(serverConfig, revocations, clock))
	protected.GET("/me", web.HandleMe(logger, accounts))

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	if sweepInterval > 0 {
		authcore.StartSweeper(shutdownCtx, sweepInterval, clock, logger, refreshTokens, providerTokens)
	}

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
