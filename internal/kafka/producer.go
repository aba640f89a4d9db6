package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrProducerClosed = errors.New("kafka: producer closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer queues messages in memory and writes them from a single
// goroutine. Close flushes whatever is queued before closing the writer.
type Producer struct {
	w            messageWriter
	log          *zap.Logger
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	once   sync.Once

	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewProducer(brokers []string, topic string, buf int, logger *zap.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}, buf, logger)
}

func newProducer(w messageWriter, buf int, logger *zap.Logger) *Producer {
	if buf <= 0 {
		buf = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		w:            w,
		log:          logger,
		writeTimeout: 10 * time.Second,
		inbox:        make(chan kafka.Message, buf),
		closeCh:      make(chan struct{}),
	}
}

// Start runs the write loop. Cancelling ctx has the same effect as Close.
func (p *Producer) Start(ctx context.Context) {
	go p.loop()
	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-p.closeCh:
		}
	}()
}

func (p *Producer) loop() {
	defer close(p.closeCh)
	for m := range p.inbox {
		ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
		if err := p.w.WriteMessages(ctx, m); err != nil {
			p.log.Error("kafka write failed",
				zap.String("key", string(m.Key)),
				zap.String("topic", m.Topic),
				zap.Error(err))
		}
		cancel()
	}
	if err := p.w.Close(); err != nil {
		p.log.Warn("kafka writer close", zap.Error(err))
	}
}

// Publish queues one message. It blocks while the queue is full.
func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case p.inbox <- kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages and lets the loop flush the queue.
// It is safe to call more than once.
func (p *Producer) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.inbox)
		p.mu.Unlock()
	})
}

// WaitClosed blocks until the queue is flushed and the writer closed.
func (p *Producer) WaitClosed() { <-p.closeCh }
