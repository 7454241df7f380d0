package repository

import (
	"context"
	"time"

	"QuantSync/internal/domain/models"
	domrepo "QuantSync/internal/domain/repository"
	pkgkafka "QuantSync/pkg/kafka"
)

// Event is the envelope of everything this service publishes.
type Event struct {
	Type       string      `json:"type"`
	InstanceID string      `json:"instance_id"`
	At         time.Time   `json:"at"`
	Data       interface{} `json:"data"`
}

// KafkaDecisionPublisher implements DecisionPublisher. Events are keyed by
// symbol so each symbol keeps its order.
type KafkaDecisionPublisher struct {
	producer       *pkgkafka.Producer
	instanceID     string
	decisionsTopic string
	positionsTopic string
}

var _ domrepo.DecisionPublisher = (*KafkaDecisionPublisher)(nil)

func NewKafkaDecisionPublisher(producer *pkgkafka.Producer, instanceID, decisionsTopic, positionsTopic string) *KafkaDecisionPublisher {
	return &KafkaDecisionPublisher{
		producer:       producer,
		instanceID:     instanceID,
		decisionsTopic: decisionsTopic,
		positionsTopic: positionsTopic,
	}
}

func (p *KafkaDecisionPublisher) PublishDecision(ctx context.Context, d *models.FusedDecision) error {
	return p.producer.Publish(ctx, p.decisionsTopic, []byte(d.Symbol), Event{
		Type: "decision", InstanceID: p.instanceID, At: time.Now().UTC(), Data: d,
	})
}

func (p *KafkaDecisionPublisher) PublishPosition(ctx context.Context, pos *models.Position) error {
	return p.producer.Publish(ctx, p.positionsTopic, []byte(pos.Symbol), Event{
		Type: "position", InstanceID: p.instanceID, At: time.Now().UTC(), Data: pos,
	})
}

func (p *KafkaDecisionPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopPublisher drops events; used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishDecision(context.Context, *models.FusedDecision) error { return nil }
func (NopPublisher) PublishPosition(context.Context, *models.Position) error      { return nil }
func (NopPublisher) Close() error                                                 { return nil }
