package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"reconciliation-engine/internal/adapters/memory"
	"reconciliation-engine/internal/adapters/mongodb"
	"reconciliation-engine/internal/circuitbreaker"
	"reconciliation-engine/internal/domain/dlq"
	"reconciliation-engine/internal/domain/eventstore"
	"reconciliation-engine/internal/domain/projections"
	"reconciliation-engine/internal/domain/reconciliation"
	"reconciliation-engine/internal/domain/saga"
	"reconciliation-engine/pkg/logattr"

	"github.com/walletera/eventskit/events"
	"github.com/walletera/eventskit/messages"
	"github.com/walletera/eventskit/rabbitmq"
	"github.com/walletera/werrors"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

const (
	RabbitMQExchangeType       = "topic"
	RabbitMQConsumerRoutingKey = "reconciliation.*"
	RabbitMQQueueName          = "reconciliation-engine"
	DefaultMongoDBName         = "reconciliation"
)

type App struct {
	rabbitmqHost     string
	rabbitmqPort     int
	rabbitmqUser     string
	rabbitmqPassword string
	mongodbURL       string
	mongodbName      string
	memoryAdapters   bool
	providerAdapters map[string]reconciliation.Adapter
	breakerConfig    Optional[circuitbreaker.Config]
	logHandler       slog.Handler
	logger           *slog.Logger

	mongoClient    *mongo.Client
	memoryBus      *memory.EventBus
	commandHandler *reconciliation.CommandHandler
	orchestrator   *saga.Orchestrator
	dlqStore       dlq.Store
	readModels     projections.Repository
}

func NewApp(opts ...Option) (*App, error) {
	app := &App{
		mongodbName:      DefaultMongoDBName,
		providerAdapters: make(map[string]reconciliation.Adapter),
	}
	err := setDefaultOpts(app)
	if err != nil {
		return nil, fmt.Errorf("failed setting default options: %w", err)
	}
	for _, opt := range opts {
		opt(app)
	}
	return app, nil
}

func (app *App) Run(ctx context.Context) error {
	app.logger = slog.
		New(app.logHandler).
		With(logattr.ServiceName("reconciliation-engine"))

	app.logger.Info("reconciliation-engine started")

	processor, err := createReconciliationMessageProcessor(app)
	if err != nil {
		return fmt.Errorf("error creating reconciliation message processor: %w", err)
	}

	err = processor.Start(ctx)
	if err != nil {
		return fmt.Errorf("error starting reconciliation message processor: %w", err)
	}

	return nil
}

func (app *App) Stop(ctx context.Context) {
	if app.memoryBus != nil {
		err := app.memoryBus.Close()
		if err != nil {
			app.logger.Error("error closing in-process event bus", logattr.Error(err.Error()))
		}
	}
	if app.mongoClient != nil {
		err := app.mongoClient.Disconnect(context.TODO())
		if err != nil {
			app.logger.Error("error disconnecting from mongo", logattr.Error(err.Error()))
		}
	}
	app.logger.Info("reconciliation-engine stopped")
}

// CommandHandler is the entry point for start, retry and cancel intents.
func (app *App) CommandHandler() *reconciliation.CommandHandler {
	return app.commandHandler
}

// Orchestrator exposes saga inspection and resume/cancel to operator tooling.
func (app *App) Orchestrator() *saga.Orchestrator {
	return app.orchestrator
}

func (app *App) DLQStore() dlq.Store {
	return app.dlqStore
}

func (app *App) ReadModels() projections.Repository {
	return app.readModels
}

func setDefaultOpts(app *App) error {
	zapLogger, err := newZapLogger()
	if err != nil {
		return err
	}
	app.logHandler = zapslog.NewHandler(zapLogger.Core())
	return nil
}

func newZapLogger() (*zap.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(zap.DebugLevel),
		Development:       false,
		DisableStacktrace: true,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return zapConfig.Build()
}

func createReconciliationMessageProcessor(app *App) (*messages.Processor[reconciliation.Handler], error) {
	var (
		eventStore eventstore.Store
		sagaStore  saga.Store
		publisher  events.Publisher
		consumer   messages.Consumer
	)

	if app.memoryAdapters {
		bus := memory.NewEventBus()
		app.memoryBus = bus
		eventStore = memory.NewEventStore()
		sagaStore = memory.NewSagaStore()
		app.dlqStore = memory.NewDLQStore()
		app.readModels = memory.NewReadModelsRepository()
		publisher = bus
		consumer = bus
	} else {
		rabbitMQClient, err := rabbitmq.NewClient(
			rabbitmq.WithHost(app.rabbitmqHost),
			rabbitmq.WithPort(uint(app.rabbitmqPort)),
			rabbitmq.WithUser(app.rabbitmqUser),
			rabbitmq.WithPassword(app.rabbitmqPassword),
			rabbitmq.WithExchangeName(reconciliation.ExchangeName),
			rabbitmq.WithExchangeType(RabbitMQExchangeType),
			rabbitmq.WithConsumerRoutingKeys(RabbitMQConsumerRoutingKey),
			rabbitmq.WithQueueName(RabbitMQQueueName),
		)
		if err != nil {
			return nil, fmt.Errorf("creating rabbitmq client: %w", err)
		}

		serverAPI := options.ServerAPI(options.ServerAPIVersion1)
		mongoOpts := options.Client().ApplyURI(app.mongodbURL).SetServerAPIOptions(serverAPI)
		client, err := mongo.Connect(mongoOpts)
		if err != nil {
			return nil, fmt.Errorf("error connecting to mongodb: %w", err)
		}
		app.mongoClient = client

		eventStore = mongodb.NewEventStore(client, app.mongodbName)
		sagaStore = mongodb.NewSagaStore(client, app.mongodbName)
		app.dlqStore = mongodb.NewDLQStore(client, app.mongodbName)
		app.readModels = mongodb.NewReadModelsRepository(client, app.mongodbName)
		publisher = rabbitMQClient
		consumer = rabbitMQClient
	}

	adapters := reconciliation.NewAdapterRegistry()
	for name, adapter := range app.providerAdapters {
		adapters.Register(name, adapter)
	}

	app.orchestrator = saga.NewOrchestrator(saga.NewRegistry(), sagaStore, app.logger)

	workflow := reconciliation.NewWorkflow(
		adapters,
		app.breakerConfig.Value,
		eventStore,
		publisher,
		app.dlqStore,
		app.logger,
	)
	app.orchestrator.RegisterSaga(workflow.Definition())

	app.commandHandler = reconciliation.NewCommandHandler(eventStore, publisher, app.orchestrator, app.logger)

	sagaStarter := reconciliation.NewSagaStarter(app.orchestrator, app.logger)
	projectionsHandler := projections.NewEventsHandler(
		app.readModels,
		app.logger.With(logattr.Component("projections.EventsHandler")),
	)
	eventsHandler := reconciliation.NewCompositeHandler(sagaStarter, projectionsHandler)

	processor := messages.NewProcessor[reconciliation.Handler](
		consumer,
		reconciliation.NewDeserializer(app.logger),
		eventsHandler,
		withErrorCallback(
			app.logger.With(
				logattr.Component("reconciliation.MessageProcessor")),
		),
	)

	return processor, nil
}

func withErrorCallback(logger *slog.Logger) messages.ProcessorOpt {
	return messages.WithErrorCallback(func(wError werrors.WError) {
		logger.Error(
			"failed processing message",
			logattr.Error(wError.Message()))
	})
}
