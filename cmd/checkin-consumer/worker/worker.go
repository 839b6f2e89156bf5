// Package worker runs the consume loop: decode the envelope, feed the
// pseudo clock, run the check-in state machine and always advance the offset.
// One malformed or failing message must never wedge the partition.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/checkin"
	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/clock"
	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/gate"
	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/kafka"
	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/postgresql"
	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/redis"
	sharedStructs "github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

var resultCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "checkin_consumer_results_total",
	Help: "Check-in processing results by outcome and reporting SDK",
}, []string{"status", "sdk"})

// Processor handles one decoded check-in envelope.
type Processor interface {
	Process(ctx context.Context, wrapper *sharedStructs.CheckInMessage) (checkin.Outcome, error)
}

// ClockTicker advances the pseudo clock from message timestamps.
type ClockTicker interface {
	Tick(ctx context.Context, ts time.Time) error
}

type Worker struct {
	kafka     kafka.IConnection
	processor Processor
	// clock is nil unless high-volume mode is on.
	clock ClockTicker
}

var worker *Worker
var once sync.Once

func GetOrInit() *Worker {
	once.Do(func() {
		redisConn := redis.GetOrInit()
		postgresConn := postgresql.GetOrInit()

		highVolume, err := env.GetAsBool("HIGH_VOLUME_MODE", false, false)
		if err != nil {
			zap.S().Fatalf("Failed to get HIGH_VOLUME_MODE from env: %s", err)
		}
		var ticker ClockTicker
		if highVolume {
			ticker = clock.NewTrigger(redisConn, redisConn, nil)
		}

		worker = &Worker{
			kafka:     kafka.GetOrInit(),
			processor: checkin.NewProcessor(postgresConn, redisConn, gate.New(redisConn, redisConn), nil),
			clock:     ticker,
		}
		go worker.startWorkLoop()
	})
	return worker
}

// NewWorker wires an explicit dependency set. GetOrInit is the production path.
func NewWorker(conn kafka.IConnection, processor Processor, ticker ClockTicker) *Worker {
	return &Worker{kafka: conn, processor: processor, clock: ticker}
}

func (w *Worker) startWorkLoop() {
	zap.S().Debugf("Started work loop")
	messageChannel := w.kafka.GetMessages()
	for {
		msg := <-messageChannel
		w.handleMessage(context.Background(), msg)
	}
}

// handleMessage processes one record and always marks it afterwards. Results
// that are expected drops are counted, not logged as errors; faults are
// logged and reported but still advance the offset, favoring availability
// over redelivery loops.
func (w *Worker) handleMessage(ctx context.Context, msg *kafka.Message) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorf("Panic while processing message at %s/%d/%d: %v", msg.Topic, msg.Partition, msg.Offset, r)
			sentry.CurrentHub().Recover(r)
		}
		w.kafka.MarkMessage(msg)
	}()

	if w.clock != nil {
		if err := w.clock.Tick(ctx, msg.Timestamp); err != nil {
			zap.S().Warnf("Failed to advance pseudo clock: %s", err)
		}
	}

	wrapper, err := decodeEnvelope(msg.Value)
	if err != nil {
		zap.S().Warnf("Failed to decode message at %s/%d/%d: %s", msg.Topic, msg.Partition, msg.Offset, err)
		resultCounter.WithLabelValues(string(checkin.OutcomeFailedCheckInValidation), "unknown").Inc()
		return
	}

	outcome, err := w.processor.Process(ctx, wrapper)
	if err != nil {
		zap.S().Errorf("Failed to process check-in for project %s: %s", wrapper.ProjectID, err)
		sentry.CaptureException(err)
	}
	resultCounter.WithLabelValues(string(outcome), sdkLabel(wrapper.SDK)).Inc()
}

func decodeEnvelope(value []byte) (*sharedStructs.CheckInMessage, error) {
	var wrapper sharedStructs.CheckInMessage
	if err := msgpack.Unmarshal(value, &wrapper); err != nil {
		return nil, err
	}
	return &wrapper, nil
}

func sdkLabel(sdk string) string {
	if sdk == "" {
		return "unknown"
	}
	return sdk
}
