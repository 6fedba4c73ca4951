package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"reconciliation-engine/internal/app"
	"reconciliation-engine/internal/circuitbreaker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, ctxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer ctxCancel()

	opts := []app.Option{
		app.WithRabbitmqHost(mustGetEnv("RABBITMQ_HOST")),
		app.WithRabbitmqPort(mustGetIntEnv("RABBITMQ_PORT")),
		app.WithRabbitmqUser(mustGetEnv("RABBITMQ_USER")),
		app.WithRabbitmqPassword(mustGetEnv("RABBITMQ_PASSWORD")),
		app.WithMongoDBURL(mustGetEnv("MONGODB_URL")),
	}
	if mongodbName, found := os.LookupEnv("MONGODB_NAME"); found {
		opts = append(opts, app.WithMongoDBName(mongodbName))
	}
	if thresholdStr, found := os.LookupEnv("BREAKER_ERROR_THRESHOLD_PERCENTAGE"); found {
		threshold, err := strconv.ParseFloat(thresholdStr, 64)
		if err != nil {
			panic("env var is not a float: BREAKER_ERROR_THRESHOLD_PERCENTAGE")
		}
		opts = append(opts, app.WithCircuitBreakerConfig(circuitbreaker.Config{
			ErrorThresholdPercentage: threshold,
		}))
	}

	app, err := app.NewApp(opts...)
	if err != nil {
		panic(err)
	}

	err = app.Run(ctx)
	if err != nil {
		panic(err)
	}

	<-ctx.Done()

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCtxCancel()

	app.Stop(shutdownCtx)
}

func mustGetEnv(envName string) string {
	value, found := os.LookupEnv(envName)
	if !found {
		panic("env var not defined: " + envName)
	}
	return value
}

func mustGetIntEnv(envName string) int {
	strEnvValue := mustGetEnv(envName)
	intEnvValue, err := strconv.Atoi(strEnvValue)
	if err != nil {
		panic("env var is not an int: " + envName)
	}
	return intEnvValue
}
