// Package kafka forwards records to a Kafka topic with a sarama SyncProducer.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	jsoniter "github.com/json-iterator/go"

	"tributary/sink"
)

const headerEventType = "nakadi-event-type"

type Config struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	Acks     int16    `yaml:"required_acks"` // 0,1,-1
	ClientID string   `yaml:"client_id"`
}

// newProducer is swapped in tests.
var newProducer = func(brokers []string, sc *sarama.Config) (sarama.SyncProducer, error) {
	return sarama.NewSyncProducer(brokers, sc)
}

type driver struct {
	cfg Config
	p   sarama.SyncProducer

	closeOnce sync.Once
	closeErr  error
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return errors.New("kafka-sink: brokers and topic are required")
	}
	d.cfg = cfg

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0 // record headers
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Successes = true
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	var err error
	d.p, err = newProducer(cfg.Brokers, sc)
	return err
}

// Push sends one record and waits for the broker acknowledgement. Events
// carrying metadata.eid are keyed by it.
func (d *driver) Push(ctx context.Context, r *sink.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.cfg.Topic,
		Value: sarama.ByteEncoder(r.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerEventType), Value: []byte(r.EventType)},
		},
	}
	if eid := jsoniter.Get(r.Value, "metadata", "eid").ToString(); eid != "" {
		msg.Key = sarama.StringEncoder(eid)
	}
	if _, _, err := d.p.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka-sink: send to %s: %w", d.cfg.Topic, err)
	}
	return nil
}

func (d *driver) Close() error {
	d.closeOnce.Do(func() {
		if d.p != nil {
			d.closeErr = d.p.Close()
		}
	})
	return d.closeErr
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
