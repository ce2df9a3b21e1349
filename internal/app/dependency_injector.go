package app

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/karthikpremaram/mills-new/internal/agent"
	"github.com/karthikpremaram/mills-new/internal/infra/config"
	"github.com/karthikpremaram/mills-new/internal/infra/queue"
	"github.com/karthikpremaram/mills-new/internal/infra/store/kv"
	"github.com/karthikpremaram/mills-new/internal/pipeline"
	"github.com/karthikpremaram/mills-new/internal/retry"
	"github.com/karthikpremaram/mills-new/internal/stream"
	"github.com/karthikpremaram/mills-new/internal/task"
	"github.com/karthikpremaram/mills-new/internal/transport"
	"github.com/karthikpremaram/mills-new/internal/usecase"
	"github.com/karthikpremaram/mills-new/internal/worker"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const cfgPath = "./configs/local.yaml"

type Router interface {
	MountRoutes(*http.ServeMux) *http.ServeMux
}

type dependencyInjector struct {
	cfg    *config.Config
	logger *slog.Logger

	redis *redis.Client
	store kv.Store
	tasks *task.Manager

	natsConn *nats.Conn
	js       nats.JetStreamContext
	queue    usecase.TaskQueue

	streamer *stream.Streamer

	collaborators *pipeline.Collaborators
	runner        *pipeline.Runner
	pool          *worker.Pool

	usecase transport.Usecase
	handler transport.Handler
	router  Router
}

func newDI() *dependencyInjector {
	return &dependencyInjector{}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		di.cfg = config.MustLoad(cfgPath)
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		di.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Redis
		client, err := kv.NewClient(kv.Config{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			log.Fatalf("redis connect: %+v", err)
		}

		di.redis = client
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

func (di *dependencyInjector) Store(ctx context.Context) kv.Store {
	if di.store == nil {
		di.store = kv.NewRedisStore(di.RedisClient(ctx))
	}
	return di.store
}

func (di *dependencyInjector) Tasks(ctx context.Context) *task.Manager {
	if di.tasks == nil {
		di.tasks = task.NewManager(di.Store(ctx))
	}
	return di.tasks
}

func (di *dependencyInjector) JetStream(ctx context.Context) nats.JetStreamContext {
	if di.js == nil {
		cfg := di.Config().NATS
		nc, js, err := queue.Connect(queue.Config{
			URL:           cfg.URL,
			Name:          cfg.QueueName,
			Subject:       cfg.Subject,
			MaxReconnects: cfg.MaxReconnects,
		})
		if err != nil {
			log.Fatalf("NATS connect: %+v", err)
		}

		di.natsConn = nc
		di.js = js
		di.Logger().Info("connected to NATS", slog.String("url", cfg.URL))
	}
	return di.js
}

func (di *dependencyInjector) TaskQueue(ctx context.Context) usecase.TaskQueue {
	if di.queue == nil {
		di.queue = queue.New(di.JetStream(ctx), di.Config().NATS.Subject)
	}
	return di.queue
}

func (di *dependencyInjector) Streamer(ctx context.Context) *stream.Streamer {
	if di.streamer == nil {
		di.streamer = stream.New(di.Tasks(ctx), di.Config().PollInterval.Std())
	}
	return di.streamer
}

func (di *dependencyInjector) Collaborators(ctx context.Context) *pipeline.Collaborators {
	if di.collaborators == nil {
		cfg := di.Config()

		llm, err := agent.NewLLM(agent.LLMConfig{
			APIKey:    cfg.LLM.APIKey,
			BaseURL:   cfg.LLM.BaseURL,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
		})
		if err != nil {
			log.Fatalf("LLM client: %+v", err)
		}

		assistants, err := agent.NewAssistantClient(agent.AssistantConfig{
			BaseURL: cfg.Assistants.BaseURL,
			APIKey:  cfg.Assistants.APIKey,
			Timeout: cfg.Assistants.Timeout.Std(),
		})
		if err != nil {
			log.Fatalf("assistant client: %+v", err)
		}

		kb, err := agent.NewKBObjectStore(ctx, agent.KBStoreConfig{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKeyID,
			SecretAccessKey: cfg.MinIO.SecretAccessKey,
			UseSSL:          cfg.MinIO.UseSSL,
			Bucket:          cfg.MinIO.Bucket,
			BasePath:        cfg.MinIO.BasePath,
		})
		if err != nil {
			log.Fatalf("KB object store: %+v", err)
		}
		di.Logger().Info("initialized KB object store",
			slog.String("endpoint", cfg.MinIO.Endpoint),
			slog.String("bucket", cfg.MinIO.Bucket),
		)

		di.collaborators = &pipeline.Collaborators{
			Scraper:    agent.NewScraper(cfg.ScrapeTimeout.Std()),
			LLM:        llm,
			Assistants: assistants,
			KB:         kb,
			MaxPages:   cfg.MaxPages,
		}
	}
	return di.collaborators
}

func (di *dependencyInjector) Runner(ctx context.Context) *pipeline.Runner {
	if di.runner == nil {
		di.runner = pipeline.NewRunner(
			di.Tasks(ctx),
			pipeline.Steps(*di.Collaborators(ctx)),
		)
	}
	return di.runner
}

func (di *dependencyInjector) WorkerPool(ctx context.Context) *worker.Pool {
	if di.pool == nil {
		cfg := di.Config()
		di.pool = worker.NewPool(
			di.JetStream(ctx),
			cfg.NATS.Subject,
			cfg.PoolSize,
			di.Tasks(ctx),
			di.Runner(ctx),
			retry.Policy{
				MaxAttempts:  cfg.Retry.MaxAttempts,
				InitialDelay: cfg.Retry.InitialDelay.Std(),
				MaxDelay:     cfg.Retry.MaxDelay.Std(),
				Backoff:      cfg.Retry.Backoff,
			},
		)
	}
	return di.pool
}

func (di *dependencyInjector) Usecase(ctx context.Context) transport.Usecase {
	if di.usecase == nil {
		di.usecase = usecase.New(
			di.Tasks(ctx),
			di.TaskQueue(ctx),
			di.Streamer(ctx),
		)
	}

	return di.usecase
}

func (di *dependencyInjector) Handler(ctx context.Context) transport.Handler {
	if di.handler == nil {
		di.handler = transport.NewHandler(di.Usecase(ctx))
	}

	return di.handler
}

func (di *dependencyInjector) Router(ctx context.Context) Router {
	if di.router == nil {
		di.router = transport.NewRouter(di.Handler(ctx))
	}

	return di.router
}
