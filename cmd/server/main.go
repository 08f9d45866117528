package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatify/internal/api"
	"github.com/Tyrowin/chatify/internal/auth"
	"github.com/Tyrowin/chatify/internal/bridge"
	"github.com/Tyrowin/chatify/internal/config"
	"github.com/Tyrowin/chatify/internal/logging"
	"github.com/Tyrowin/chatify/internal/presence"
	"github.com/Tyrowin/chatify/internal/registry"
	"github.com/Tyrowin/chatify/internal/router"
	"github.com/Tyrowin/chatify/internal/server"
	"github.com/Tyrowin/chatify/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to YAML config file")
	seedUsers := flag.String("seed-users", "", "Comma-separated user ids to create in the memory store")
	issueToken := flag.String("token", "", "Print a JWT for this user id and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = log.Sync() }()

	var jwt *auth.JWT
	if cfg.Auth.JWTSecret != "" {
		jwt = auth.NewJWT([]byte(cfg.Auth.JWTSecret), 0)
	}

	if *issueToken != "" {
		if jwt == nil {
			log.Fatal("JWT_SECRET is required to issue tokens")
		}
		token, _, err := jwt.Issue(*issueToken)
		if err != nil {
			log.Fatal("Failed to issue token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	if err := run(cfg, jwt, *seedUsers, log); err != nil {
		log.Fatal("Server error", zap.Error(err))
	}
}

func run(cfg config.Config, jwt *auth.JWT, seedUsers string, log *zap.Logger) (err error) {
	ctx, cancel := context.WithCancel(context.Background())

	var (
		st  store.Store
		rdb *redis.Client
		nc  *nats.Conn
		sub *bridge.NATSSubscriber
	)
	defer func() {
		cancel()
		closeAll(st, sub, nc, rdb, log)
	}()

	st, err = openStore(ctx, cfg, seedUsers, log)
	if err != nil {
		return err
	}

	node := nodeID()
	reg := registry.New()
	rt := router.New(reg, log)

	redisMirror, rdb, err := openPresence(ctx, cfg, node, reg, log)
	if err != nil {
		return err
	}

	ingress, nc, sub, err := openBridge(cfg, node, rt, log)
	if err != nil {
		return err
	}

	hubOpts := server.Options{
		Config:   cfg,
		Registry: reg,
		Router:   rt,
		Log:      log,
	}
	apiOpts := api.Options{
		Store:         st,
		Bridge:        ingress,
		Authenticator: jwt,
		Issuer:        jwt,
		Online:        reg.SnapshotKeys,
		SecureCookies: cfg.Auth.SecureCookie,
		Log:           log,
	}
	if redisMirror != nil {
		hubOpts.Presence = redisMirror
		apiOpts.Presence = redisMirror
	}

	var apiHandler http.Handler
	if jwt != nil {
		hubOpts.Authenticator = jwt
		apiHandler = api.New(apiOpts)
	} else {
		log.Warn("JWT_SECRET not set; websocket identity comes from the handshake and /api is disabled")
	}

	hub := server.NewHub(hubOpts)
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub, apiHandler))

	errCh := make(chan error, 1)
	go func() { errCh <- server.StartServer(httpServer, log) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server stopped", zap.Error(err))
		}
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
		log.Warn("HTTP server did not shut down cleanly", zap.Error(err))
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("Hub did not shut down cleanly", zap.Error(err))
	}
	log.Info("Server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, seedUsers string, log *zap.Logger) (store.Store, error) {
	if cfg.Store.Driver == config.StoreMongo {
		m, err := store.OpenMongo(ctx, store.MongoConfig{
			URI:      cfg.Store.MongoURI,
			Database: cfg.Store.MongoDatabase,
		}, log)
		if err != nil {
			return nil, err
		}
		return m, nil
	}

	mem := store.NewMemory()
	seeded := 0
	for _, id := range strings.Split(seedUsers, ",") {
		if id = strings.TrimSpace(id); id != "" {
			mem.PutUser(store.User{ID: id, FullName: id, Email: id + "@localhost"})
			seeded++
		}
	}
	log.Info("Using in-memory store", zap.Int("seeded_users", seeded))
	return mem, nil
}

// openPresence returns a nil mirror when REDIS_ADDR is unset.
func openPresence(ctx context.Context, cfg config.Config, node string, reg *registry.Registry, log *zap.Logger) (*presence.Redis, *redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil, nil
	}

	rdb, err := presence.NewRedisClient(ctx, presence.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}

	mirror := presence.NewRedis(rdb, node, cfg.Redis.PresenceTTL, log)
	go mirror.KeepAlive(ctx, reg.SnapshotKeys)
	log.Info("Mirroring presence to redis", zap.String("addr", cfg.Redis.Addr))
	return mirror, rdb, nil
}

func openBridge(cfg config.Config, node string, rt *router.Router, log *zap.Logger) (bridge.Bridge, *nats.Conn, *bridge.NATSSubscriber, error) {
	if cfg.Bridge.Mode != config.BridgeNATS {
		return bridge.NewDirect(rt), nil, nil, nil
	}

	nc, err := bridge.ConnectNATS(cfg.Bridge.NATSURL, "chatify-"+node, log)
	if err != nil {
		return nil, nil, nil, err
	}
	sub, err := bridge.SubscribeNATS(nc, cfg.Bridge.Subject, rt, log)
	if err != nil {
		nc.Close()
		return nil, nil, nil, err
	}
	log.Info("Delivering persisted messages over NATS", zap.String("subject", cfg.Bridge.Subject))
	return bridge.NewNATSPublisher(nc, cfg.Bridge.Subject, log), nc, sub, nil
}

// closeAll releases whatever run managed to open; nil arguments are skipped.
func closeAll(st store.Store, sub *bridge.NATSSubscriber, nc *nats.Conn, rdb *redis.Client, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if sub != nil {
		if err := sub.Close(); err != nil {
			log.Warn("Failed to close NATS subscription", zap.Error(err))
		}
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			log.Warn("Failed to drain NATS connection", zap.Error(err))
		}
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if st != nil {
		if err := st.Close(ctx); err != nil {
			log.Warn("Failed to close store", zap.Error(err))
		}
	}
}

// nodeID names this process in presence values and NATS connection names.
func nodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}
