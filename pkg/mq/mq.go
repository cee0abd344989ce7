// Package mq optionally mirrors corpus events onto a RabbitMQ queue so
// external consumers (dashboards, triage pipelines) can follow a run live.
// It is enabled by RABBITMQ_URL; without it the publisher is a no-op.
package mq

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"shrinkfuzz/config"
	"shrinkfuzz/internal/fingerprint"
	"shrinkfuzz/internal/types"
)

const EventQueueName = "shrinkfuzz_events"

type Publisher struct {
	logger  *zap.Logger
	conn    *amqp.Connection
	channel *amqp.Channel

	closed bool
	mu     sync.Mutex
}

type Params struct {
	fx.In

	Config    *config.AppConfig
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

func NewPublisher(p Params) (*Publisher, error) {
	pub := &Publisher{logger: p.Logger.Named("mq")}
	if p.Config.RabbitMQURL == "" {
		return pub, nil
	}

	conn, err := amqp.Dial(p.Config.RabbitMQURL)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := channel.QueueDeclare(EventQueueName, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	pub.conn = conn
	pub.channel = channel

	closeChan := make(chan *amqp.Error, 1)
	conn.NotifyClose(closeChan)
	go pub.monitor(closeChan)

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			pub.mu.Lock()
			defer pub.mu.Unlock()
			if !pub.closed {
				pub.closed = true
				return pub.conn.Close()
			}
			return nil
		},
	})
	return pub, nil
}

func (p *Publisher) monitor(closeChan <-chan *amqp.Error) {
	if err, ok := <-closeChan; ok {
		p.logger.Error("RabbitMQ connection closed", zap.Error(err))
	}
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *Publisher) publish(event types.CorpusEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil || p.closed {
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal corpus event", zap.Error(err))
		return
	}
	err = p.channel.Publish("", EventQueueName, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		p.logger.Error("failed to publish corpus event", zap.Error(err))
	}
}

func (p *Publisher) Added(data []byte) {
	p.publish(types.CorpusEvent{Kind: "added", Fingerprint: fingerprint.Digest(data), Size: len(data)})
}

func (p *Publisher) Removed(data []byte) {
	p.publish(types.CorpusEvent{Kind: "removed", Fingerprint: fingerprint.Digest(data), Size: len(data)})
}

func (p *Publisher) BestChanged(labels []string, data []byte) {
	p.publish(types.CorpusEvent{Kind: "changed", Labels: labels, Fingerprint: fingerprint.Digest(data), Size: len(data)})
}

func (p *Publisher) Unstable(data []byte) {
	p.publish(types.CorpusEvent{Kind: "unstable", Fingerprint: fingerprint.Digest(data), Size: len(data)})
}
