package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"bftcore/cmd/internal/passphrase"
	"bftcore/config"
	"bftcore/consensus/actuator"
	"bftcore/consensus/authority"
	"bftcore/consensus/codec"
	"bftcore/consensus/collectors"
	"bftcore/consensus/engine"
	"bftcore/consensus/service"
	"bftcore/consensus/store"
	"bftcore/consensus/types"
	nhbcrypto "bftcore/crypto"
	"bftcore/observability/logging"
	telemetry "bftcore/observability/otel"
	"bftcore/storage"
	"bftcore/timer"
	"bftcore/wal"
)

const validatorPassEnvDefault = "BFTCORE_VALIDATOR_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	grpcAddress := flag.String("grpc", "127.0.0.1:9090", "Address for the consensus actuator's gRPC server")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("BFTCORE_ENV"))
	logger := logging.Setup("bftcored", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "bftcored",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    true,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialise telemetry: %v", err))
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("failed to open database: %v", err))
	}
	defer db.Close()

	passEnv := cfg.ValidatorPassEnv
	if passEnv == "" {
		passEnv = validatorPassEnvDefault
	}
	passSource := passphrase.NewSource(passEnv)

	key, err := loadValidatorKey(cfg, passSource.Get)
	if err != nil {
		panic(fmt.Sprintf("failed to load validator key: %v", err))
	}
	address := types.BytesToAddress(key.PubKey().Address().Bytes())

	cstore := store.New(db)
	nodes, err := loadOrSeedGenesis(cstore, cfg.Genesis)
	if err != nil {
		panic(fmt.Sprintf("failed to resolve genesis authority set: %v", err))
	}
	auth := authority.New(nodes)

	walPath := cfg.WALPath
	if walPath == "" {
		walPath = filepath.Join(cfg.DataDir, "wal")
	}
	walDB, err := storage.NewLevelDB(walPath)
	if err != nil {
		panic(fmt.Sprintf("failed to open wal database: %v", err))
	}
	defer walDB.Close()
	writeAheadLog := wal.Open(walDB)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broadcaster := newResilientBroadcaster(ctx)
	peers := newPeerBroadcaster(cfg.BootstrapPeers)
	defer peers.Close()
	broadcaster.SetSink(peers)

	sup := newLocalSupport(db, key, broadcaster, auth, cfg.TotalDurationMS)

	votes := collectors.NewVoteCollector()
	props := collectors.NewProposalCollector()
	wheel := timer.New()

	eng := engine.New(logger, sup, auth, votes, props, writeAheadLog, wheel, address,
		engine.WithConfig(engine.Config{TotalDurationMS: cfg.TotalDurationMS, VerifyReq: cfg.VerifyReq}),
	)

	go func() {
		if err := eng.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("engine stopped", slog.Any("err", err))
		}
	}()

	act := actuator.New(eng)
	grpcListener, err := net.Listen("tcp", *grpcAddress)
	if err != nil {
		panic(fmt.Sprintf("failed to listen on %s: %v", *grpcAddress, err))
	}

	grpcServer := grpc.NewServer(
		grpc.ForceServerCodec(codec.Codec{}),
		grpc.ChainUnaryInterceptor(otelgrpc.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(otelgrpc.StreamServerInterceptor()),
	)
	srv := service.NewServer(act)
	service.RegisterServer(grpcServer, srv)

	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Error("gRPC server failed", slog.Any("err", err))
		}
	}()

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()

	logger.Info("bftcored running", slog.String("grpc", *grpcAddress), slog.String("address", key.PubKey().Address().String()))
	<-ctx.Done()
	logger.Info("bftcored shutting down")
}

func loadValidatorKey(cfg *config.Config, resolvePassphrase func() (string, error)) (*nhbcrypto.PrivateKey, error) {
	if cfg.ValidatorKeystorePath != "" {
		passphrase, err := resolvePassphrase()
		if err != nil {
			return nil, fmt.Errorf("failed to obtain validator keystore passphrase: %w", err)
		}
		if strings.TrimSpace(passphrase) == "" {
			return nil, fmt.Errorf("validator keystore passphrase cannot be empty")
		}
		key, err := nhbcrypto.LoadFromKeystore(cfg.ValidatorKeystorePath, passphrase)
		if err != nil {
			return nil, fmt.Errorf("unable to decrypt keystore %s: %w", cfg.ValidatorKeystorePath, err)
		}
		return key, nil
	}

	if cfg.ValidatorKey == "" {
		return nil, fmt.Errorf("neither ValidatorKeystorePath nor ValidatorKey configured")
	}
	return parsePrivateKeyMaterial(cfg.ValidatorKey)
}

func parsePrivateKeyMaterial(material string) (*nhbcrypto.PrivateKey, error) {
	trimmed := strings.TrimSpace(material)
	trimmed = strings.TrimPrefix(trimmed, "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("empty private key material")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex private key: %w", err)
	}
	return nhbcrypto.PrivateKeyFromBytes(raw)
}

// loadOrSeedGenesis returns the persisted validator set if one already
// exists, else seeds the store from the configured genesis table so restarts
// never silently re-derive a different authority set from config drift.
func loadOrSeedGenesis(cstore *store.Store, genesis []config.GenesisValidator) ([]types.Node, error) {
	if persisted, err := cstore.LoadValidators(); err == nil {
		return store.ToNodes(persisted)
	}

	if len(genesis) == 0 {
		return nil, fmt.Errorf("no persisted validator set and no Genesis configured")
	}
	validators := make([]store.Validator, 0, len(genesis))
	for _, g := range genesis {
		addr, err := nhbcrypto.DecodeAddress(g.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid genesis validator address %q: %w", g.Address, err)
		}
		validators = append(validators, store.Validator{
			Address: addr.Bytes(),
			Power:   g.VoteWeight,
			Moniker: g.Address,
		})
	}
	if err := cstore.SaveValidators(validators); err != nil {
		return nil, fmt.Errorf("persist genesis validator set: %w", err)
	}
	return store.ToNodes(validators)
}
