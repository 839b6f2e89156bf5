package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/helper"
	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/kafka"
	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/postgresql"
	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/redis"
	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/worker"
)

func main() {
	helper.InitLogging()
	InitSentry()
	InitPrometheus()
	_ = postgresql.GetOrInit()
	_ = redis.GetOrInit()
	_ = kafka.GetOrInit()
	InitHealthCheck()
	_ = worker.GetOrInit()

	awaitShutdown()
	// We should never get to this await, but better to have it then to always close the program
	select {}
}

func awaitShutdown() {
	// Allow graceful shutdown
	sigs := make(chan os.Signal, 1)
	// It's important to handle both signals, allowing Kafka to shut down gracefully !
	// If this is not possible, it will attempt to rebalance itself, which will increase startup time
	signal.Notify(sigs, syscall.SIGTERM)

	sig := <-sigs
	// Log the received signal
	zap.S().Infof("Received SIG %v", sig)

	zap.S().Debugf("Shutting down kafka")
	kafka.GetOrInit().Close()
	sentry.Flush(2 * time.Second)
	os.Exit(0)
}

func InitSentry() {
	dsn, _ := env.GetAsString("SENTRY_DSN", false, "") //nolint:errcheck
	if dsn == "" {
		return
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn: dsn,
	})
	if err != nil {
		zap.S().Errorf("Error initializing sentry: %s", err)
	}
}

func InitPrometheus() {
	// Prometheus
	metricsPath := "/metrics"
	metricsPort := ":2112"
	zap.S().Debugf("Setting up metrics %s %v", metricsPath, metricsPort)

	http.Handle(metricsPath, promhttp.Handler())
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(metricsPort, nil)
		if err != nil {
			zap.S().Errorf("Error starting metrics: %s", err)
		}
	}()
}

func InitHealthCheck() {
	zap.S().Debugf("Setting up healthcheck")

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000000))

	health.AddReadinessCheck("database", postgresql.GetHealthCheck())
	health.AddLivenessCheck("database", postgresql.GetHealthCheck())
	health.AddReadinessCheck("redis", redis.GetHealthCheck())
	health.AddLivenessCheck("redis", redis.GetHealthCheck())
	health.AddReadinessCheck("kafka", kafka.GetReadinessCheck())
	health.AddLivenessCheck("kafka", kafka.GetLivenessCheck())
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe("0.0.0.0:8086", health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()

}
