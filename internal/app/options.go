package app

import (
	"log/slog"

	"reconciliation-engine/internal/circuitbreaker"
	"reconciliation-engine/internal/domain/reconciliation"
)

type Option func(app *App)

func WithRabbitmqHost(host string) func(a *App) { return func(a *App) { a.rabbitmqHost = host } }

func WithRabbitmqPort(port int) func(a *App) { return func(a *App) { a.rabbitmqPort = port } }

func WithRabbitmqUser(user string) func(a *App) { return func(a *App) { a.rabbitmqUser = user } }

func WithRabbitmqPassword(password string) func(a *App) {
	return func(a *App) { a.rabbitmqPassword = password }
}

func WithMongoDBURL(url string) func(a *App) { return func(a *App) { a.mongodbURL = url } }

func WithMongoDBName(name string) func(a *App) { return func(a *App) { a.mongodbName = name } }

// WithMemoryAdapters replaces MongoDB and RabbitMQ with in-process
// equivalents. Meant for tests and local runs.
func WithMemoryAdapters() func(a *App) { return func(a *App) { a.memoryAdapters = true } }

// WithProviderAdapter registers a payment provider adapter under the name
// reconciliation commands refer to it by.
func WithProviderAdapter(name string, adapter reconciliation.Adapter) func(a *App) {
	return func(a *App) { a.providerAdapters[name] = adapter }
}

func WithCircuitBreakerConfig(config circuitbreaker.Config) func(a *App) {
	return func(a *App) { a.breakerConfig = NewOptional[circuitbreaker.Config](config) }
}

func WithLogHandler(handler slog.Handler) func(app *App) {
	return func(app *App) { app.logHandler = handler }
}
