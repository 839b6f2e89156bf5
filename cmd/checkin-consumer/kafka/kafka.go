// Package kafka consumes the check-in ingest topic through a sarama consumer
// group. Messages flow out over a channel; callers mark them back once the
// offset may advance, which is after every message regardless of outcome.
package kafka

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/heptiolabs/healthcheck"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
)

// Message is one consumed record, detached from sarama so workers and tests
// never touch session state directly.
type Message struct {
	Headers   map[string]string
	Topic     string
	Key       []byte
	Value     []byte
	Offset    int64
	Partition int32
	Timestamp time.Time
}

// IConnection is what the worker consumes from; MockConnection substitutes
// for it in tests.
type IConnection interface {
	GetMessages() <-chan *Message
	MarkMessage(message *Message)
}

type Connection struct {
	topics             []string
	groupID            string
	incomingMessages   chan *Message
	messagesToMarkChan chan *Message
	read               atomic.Uint64
	marked             atomic.Uint64
	isReady            atomic.Bool
	client             sarama.Client
	consumerGroup      sarama.ConsumerGroup
}

var conn *Connection
var once sync.Once

func GetOrInit() *Connection {
	once.Do(func() {
		zap.S().Debugf("kafka.GetOrInit().once")
		KafkaBrokers, err := env.GetAsString("KAFKA_BROKERS", true, "localhost:9092")
		if err != nil {
			zap.S().Fatalf("Failed to get KAFKA_BROKERS from env")
		}
		KafkaTopic, err := env.GetAsString("KAFKA_TOPIC", false, "ingest-monitors")
		if err != nil {
			zap.S().Fatalf("Failed to get KAFKA_TOPIC from env")
		}
		KafkaConsumerGroup, err := env.GetAsString("KAFKA_CONSUMER_GROUP", false, "checkin-consumer")
		if err != nil {
			zap.S().Fatalf("Failed to get KAFKA_CONSUMER_GROUP from env")
		}

		brokers := strings.Split(KafkaBrokers, ",")
		instanceID := rand.Int63() //nolint:gosec

		sarama.Logger = zap.NewStdLog(zap.L())

		config := sarama.NewConfig()
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
		config.Consumer.Offsets.AutoCommit.Enable = true
		config.Consumer.Offsets.AutoCommit.Interval = 1 * time.Second
		config.Consumer.Group.InstanceId = strconv.FormatInt(instanceID, 10)
		config.Version = sarama.V2_3_0_0

		zap.S().Infof("Connecting to brokers: %v", brokers)
		zap.S().Infof("Consuming topic %s as group %s", KafkaTopic, KafkaConsumerGroup)

		client, err := sarama.NewClient(brokers, config)
		if err != nil {
			zap.S().Fatalf("Failed to create kafka client: %s", err)
		}
		consumerGroup, err := sarama.NewConsumerGroupFromClient(KafkaConsumerGroup, client)
		if err != nil {
			zap.S().Fatalf("Failed to create kafka consumer group: %s", err)
		}

		conn = &Connection{
			topics:             []string{KafkaTopic},
			groupID:            KafkaConsumerGroup,
			incomingMessages:   make(chan *Message, 100_000),
			messagesToMarkChan: make(chan *Message, 100_000),
			client:             client,
			consumerGroup:      consumerGroup,
		}
		go conn.start()
	})
	return conn
}

func (c *Connection) start() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for {
		handler := consumerGroupHandler{
			incomingMessages:   c.incomingMessages,
			messagesToMarkChan: c.messagesToMarkChan,
			ready:              &c.isReady,
			read:               &c.read,
			marked:             &c.marked,
		}
		err := c.consumerGroup.Consume(ctx, c.topics, &handler)
		if errors.Is(err, sarama.ErrClosedClient) || errors.Is(err, sarama.ErrClosedConsumerGroup) {
			zap.S().Infof("Consumer closed")
			return
		} else if err != nil {
			zap.S().Errorf("Consumer error: %v", err)
			time.Sleep(1 * time.Second)
		}
		if ctx.Err() != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// GetMessages returns the channel of consumed messages.
func (c *Connection) GetMessages() <-chan *Message {
	return c.incomingMessages
}

// MarkMessage queues the message for offset commit.
func (c *Connection) MarkMessage(message *Message) {
	c.messagesToMarkChan <- message
}

// GetStats returns the marked and read message counts.
func (c *Connection) GetStats() (uint64, uint64) {
	return c.marked.Load(), c.read.Load()
}

func (c *Connection) IsReady() bool {
	return c.isReady.Load()
}

func (c *Connection) Close() {
	if err := c.consumerGroup.Close(); err != nil {
		zap.S().Warnf("Failed to close consumer group: %s", err)
	}
	if err := c.client.Close(); err != nil {
		zap.S().Warnf("Failed to close kafka client: %s", err)
	}
}

var lastMarked atomic.Uint64
var lastChangeUTCSeconds atomic.Int64

func GetLivenessCheck() healthcheck.Check {
	return func() error {
		marked, _ := GetOrInit().GetStats()
		oldValue := lastMarked.Swap(marked)
		nowUTCSeconds := time.Now().UTC().Unix()
		if oldValue < marked {
			lastChangeUTCSeconds.Store(nowUTCSeconds)
			return nil
		} else if oldValue > marked {
			return errors.New("amount of marked messages went down")
		} else {
			// Check if last change is more then 5 minutes ago
			lastChange := lastChangeUTCSeconds.Load()
			elapsedSeconds := nowUTCSeconds - lastChange
			if elapsedSeconds > 60*5 {
				return errors.New("no new kafka message in the last 5 minutes")
			} else {
				return nil
			}
		}
	}
}

func GetReadinessCheck() healthcheck.Check {
	return func() error {
		if GetOrInit().IsReady() {
			return nil
		} else {
			return errors.New("kafka consumer is not running")
		}
	}
}
