package kafka

import (
	"sync/atomic"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// consumerGroupHandler bridges a sarama consumer group session to the
// connection's channels.
type consumerGroupHandler struct {
	ready              *atomic.Bool
	incomingMessages   chan *Message
	messagesToMarkChan chan *Message
	read               *atomic.Uint64
	marked             *atomic.Uint64
}

// Setup is run at the beginning of a new session, before ConsumeClaim
func (c *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	c.ready.Store(true)
	zap.S().Debugf("consumerGroupHandler set up for: %+v", session.Claims())
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited
func (c *consumerGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	zap.S().Debugf("consumerGroupHandler cleaned up")
	return nil
}

// ConsumeClaim forwards consumed records and commits marked offsets. It must
// return once the session context closes, otherwise rebalances stall.
func (c *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				zap.S().Infof("consumerGroupHandler: message channel closed")
				return nil
			}
			m := &Message{
				Headers:   make(map[string]string, len(message.Headers)),
				Topic:     message.Topic,
				Key:       message.Key,
				Value:     message.Value,
				Offset:    message.Offset,
				Partition: message.Partition,
				Timestamp: message.Timestamp,
			}
			for _, header := range message.Headers {
				m.Headers[string(header.Key)] = string(header.Value)
			}
			c.incomingMessages <- m
			c.read.Add(1)
		case msg := <-c.messagesToMarkChan:
			session.MarkOffset(msg.Topic, msg.Partition, msg.Offset+1, "")
			c.marked.Add(1)
		case <-session.Context().Done():
			zap.S().Infof("consumerGroupHandler: session context closed")
			return nil
		}
	}
}
