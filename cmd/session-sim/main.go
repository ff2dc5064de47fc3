// Command session-sim drives a session manager through a scripted portal
// session: a patient sign-in, an institutional sign-in with a one-time code,
// and a provider-side sign-out delivered over Redis Pub/Sub.
//
// Configuration comes from GOSESSION_* environment variables, optionally
// loaded from a .env file, and from flags.
//
// Run:
//
//	go run ./cmd/session-sim -store sqlite -sqlite /tmp/portal.db -dev
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/gateway/kratos"
	"github.com/MrEthical07/goSession/gateway/memory"
	"github.com/MrEthical07/goSession/gateway/push"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

type options struct {
	envFile   string
	store     string
	sqlite    string
	redisAddr string
	kratosURL string
	jwtSecret string
	channel   string
	dev       bool
	timeout   time.Duration
	resendMax int
}

func main() {
	var opts options
	flag.StringVar(&opts.envFile, "env", ".env", "optional dotenv file")
	flag.StringVar(&opts.store, "store", "memory", "credential store: memory, redis or sqlite")
	flag.StringVar(&opts.sqlite, "sqlite", "session.db", "sqlite database path")
	flag.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	flag.StringVar(&opts.kratosURL, "kratos-url", "", "Kratos public URL; if empty the in-memory provider is used")
	flag.StringVar(&opts.jwtSecret, "jwt-secret", "", "HS256 secret for signed tokens; if empty placeholder tokens are used")
	flag.StringVar(&opts.channel, "channel", push.DefaultChannel, "push event channel")
	flag.BoolVar(&opts.dev, "dev", false, "human-readable logs")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall scenario timeout")
	flag.IntVar(&opts.resendMax, "resend-max", 3, "one-time code resends per 10 minutes, shared through redis")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "session-sim: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", opts.envFile, err)
	}

	log, err := newLogger(opts.dev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cfg, err := goSession.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	client, closeRedis, err := openRedis(opts.redisAddr, log)
	if err != nil {
		return err
	}
	defer closeRedis()

	store, closeStore, err := openStore(ctx, opts, cfg.Store.Key, client)
	if err != nil {
		return err
	}
	defer closeStore()

	codec, err := newCodec(opts.jwtSecret)
	if err != nil {
		return err
	}

	source := push.NewRedisSource(client, opts.channel, log.Named("push"))
	var (
		gw  gateway.Gateway
		mem *memory.Gateway
	)
	if opts.kratosURL != "" {
		kg, err := kratos.New(kratos.Config{PublicURL: opts.kratosURL, Codec: codec})
		if err != nil {
			return err
		}
		gw = kg
	} else {
		mem = memory.New(memory.Config{Codec: codec})
		gw = mem
	}
	gw = gateway.WithPush(gw, source)

	m, err := goSession.New().
		WithConfig(cfg).
		WithGateway(gw).
		WithStore(store).
		WithCodec(codec).
		WithResendLimiter(goSession.NewRedisResendLimiter(client, cfg.Store.Key, opts.resendMax, 10*time.Minute)).
		WithLogger(log).
		WithAuditSink(goSession.NewZapSink(log.Named("audit"))).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		return err
	}
	if err := m.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watchSignals(gctx, m, log)
		return nil
	})
	g.Go(func() error {
		defer func() {
			if err := m.Close(); err != nil {
				log.Warn("close session manager", zap.Error(err))
			}
		}()
		if mem == nil {
			log.Info("external provider configured, skipping scripted scenario")
			<-gctx.Done()
			return nil
		}
		return scenario(gctx, m, mem, source, log)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	for id, v := range m.MetricsSnapshot().Counters {
		if v > 0 {
			log.Info("metric", zap.Stringer("name", id), zap.Uint64("value", v))
		}
	}
	return nil
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openRedis(addr string, log *zap.Logger) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		log.Info("using redis", zap.String("addr", addr))
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	log.Info("using miniredis", zap.String("addr", mr.Addr()))
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func openStore(ctx context.Context, opts options, key string, client redis.UniversalClient) (session.CredentialStore, func(), error) {
	switch opts.store {
	case "memory":
		return session.NewMemoryStore(), func() {}, nil
	case "redis":
		return session.NewRedisStore(client, key), func() {}, nil
	case "sqlite":
		s, err := session.OpenSQLiteStore(ctx, opts.sqlite, key)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", opts.store)
}

func newCodec(secret string) (token.Codec, error) {
	if secret == "" {
		return token.PlaceholderCodec{}, nil
	}
	return token.NewJWTCodec(token.JWTConfig{
		SigningMethod: token.MethodHS256,
		PrivateKey:    []byte(secret),
		Issuer:        "session-sim",
	})
}

func watchSignals(ctx context.Context, m *goSession.Manager, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-m.Signals():
			if !ok {
				return
			}
			log.Info("signal", zap.Stringer("kind", s.Kind), zap.String("challenge", s.ChallengeID))
		}
	}
}
