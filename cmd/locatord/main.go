// Command locatord runs the service locator daemon: it loads a YAML
// config (grounded on autod-lite's cmd/autod-lite/main.go flag-parsed-path
// idiom), wires up the persistent group storage, the optional gateway, and
// the Locator orchestrator, then runs until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"locatord/internal/config"
	"locatord/internal/gateway"
	"locatord/internal/locator"
	"locatord/internal/storage"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatalw("failed to load config", "err", err)
	}

	store, err := buildStore(cfg.Storage)
	if err != nil {
		log.Fatalw("failed to initialize storage backend", "err", err)
	}

	portMin, portMax := uint16(0), uint16(0)
	if cfg.Ports != nil {
		portMin, portMax = cfg.Ports.Min, cfg.Ports.Max
	}

	loc := locator.New(locator.Options{
		UUID:           cfg.UUID,
		Hostname:       cfg.Hostname,
		MulticastGroup: cfg.MulticastGroup,
		LocatorPort:    cfg.LocatorPort,
		BindAddr:       cfg.Endpoint,
		PortMin:        portMin,
		PortMax:        portMax,
		HeartbeatTTL:   cfg.HeartbeatTTL,
		Log:            log,
		Gateway:        buildGateway(cfg.Gateway, log),
		Store:          store,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc.RefreshAll(ctx)

	if err := loc.Connect(ctx); err != nil {
		log.Fatalw("failed to start locator", "err", err)
	}
	log.Infow("locator started",
		"uuid", cfg.UUID,
		"hostname", cfg.Hostname,
		"multicast_group", cfg.MulticastGroup,
		"locator_port", cfg.LocatorPort,
	)

	<-ctx.Done()
	log.Infow("shutting down")
	loc.Disconnect()
}

// buildGateway selects the Gateway plugin named by cfg.Type, spec.md §6.
// "memory", "", and any unrecognized type all fall back to the in-process
// reference Gateway — this build carries no out-of-process connectivity
// backend, so an unrecognized type is logged rather than treated as fatal.
func buildGateway(cfg *config.GatewayConfig, log *zap.SugaredLogger) gateway.Gateway {
	if cfg == nil || cfg.Type == "" || cfg.Type == "memory" {
		return gateway.NewMemory()
	}
	log.Warnw("unknown gateway type, falling back to in-memory gateway", "type", cfg.Type)
	return gateway.NewMemory()
}

func buildStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "etcd":
		s, err := storage.NewEtcdStore(cfg.EtcdEndpoints)
		if err != nil {
			return nil, err
		}
		return storage.WithRetry(s, 3, 100*time.Millisecond), nil
	case "file", "":
		return storage.NewFileStore(cfg.FilePath), nil
	default:
		return storage.NewFileStore(cfg.FilePath), nil
	}
}
