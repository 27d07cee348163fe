package machineupdate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	logx "socialsim/pkg/logx"

	"github.com/segmentio/kafka-go"
)

// KafkaSubmitter writes updates to a topic keyed by machine id so updates
// for one machine stay ordered within a partition.
type KafkaSubmitter struct {
	w   *kafka.Writer
	log logx.Logger
}

func NewKafka(cfg Config, log logx.Logger) (*KafkaSubmitter, error) {
	var brokers []string
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("queue.brokers is required for kafka")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = DefaultTopic
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: timeout,
		RequiredAcks: kafka.RequireOne,
	}
	log.Info("kafka writer ready", logx.Strings("brokers", brokers), logx.String("topic", topic))
	return &KafkaSubmitter{w: w, log: log}, nil
}

// Topic returns the destination topic.
func (s *KafkaSubmitter) Topic() string { return s.w.Topic }

func (s *KafkaSubmitter) Create(ctx context.Context, u MachineUpdate) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	key := u.MachineID
	if key == "" {
		key = u.Username
	}
	return s.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (s *KafkaSubmitter) Close() error { return s.w.Close() }
