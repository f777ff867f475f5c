package main

import (
	"flag"
	"fmt"
	"os"

	"antigravity-gateway/internal/account"
	"antigravity-gateway/internal/common/httpclient"
	"antigravity-gateway/internal/config"
	"antigravity-gateway/internal/dispatch"
	"antigravity-gateway/internal/logger"
	"antigravity-gateway/internal/proxy"
	"antigravity-gateway/internal/router"
	"antigravity-gateway/internal/upstream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LogConfig{
		Level:           cfg.Logging.Level,
		LogRequestTypes: cfg.Logging.LogRequestTypes,
		LogDirectory:    cfg.Logging.LogDirectory,
		ExcludePaths:    cfg.Logging.ExcludePaths,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	store, err := account.NewStore(cfg.Accounts.DatabasePath)
	if err != nil {
		log.Error("failed to open account store", err)
		os.Exit(1)
	}
	defer store.Close()

	grace := config.GetDurationWithDefault(cfg.Accounts.TokenGracePeriod, config.Default.Accounts.TokenGracePeriod)
	pool, err := account.NewPool(store, grace)
	if err != nil {
		log.Error("failed to build account pool", err)
		os.Exit(1)
	}

	httpManager, err := httpclient.NewManager(cfg.Upstream.Proxy)
	if err != nil {
		log.Error("failed to build HTTP client", err)
		os.Exit(1)
	}

	modelRouter, err := router.NewRouter(&cfg.Routing)
	if err != nil {
		log.Error("failed to compile routing rules", err)
		os.Exit(1)
	}

	refresher := account.NewOAuthRefresher(
		httpManager.GetClient(),
		cfg.Accounts.TokenURL,
		cfg.Accounts.OAuthClientID,
		cfg.Accounts.OAuthClientSecret,
		store,
	)

	client := upstream.NewClient(&cfg.Upstream, httpManager)

	maxAttempts := cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.Default.Retry.MaxAttempts
	}
	attemptTimeout := config.GetDurationWithDefault(cfg.Upstream.AttemptTimeout, config.Default.Upstream.AttemptTimeout)

	dispatcher := dispatch.NewDispatcher(pool, client, refresher, log, maxAttempts, attemptTimeout, grace)

	server := proxy.NewServer(cfg, log, modelRouter, dispatcher, pool, client, httpManager)
	if err := server.Start(); err != nil {
		log.Error("server exited", err)
		os.Exit(1)
	}
}
