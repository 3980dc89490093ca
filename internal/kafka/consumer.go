package kafka

import (
	"context"
	"encoding/json"
	"log"

	"github.com/IBM/sarama"

	"fulfillment-service/internal/models"
)

// ConsumerGroupHandler logs relayed audit batches. It stands in for the
// downstream compliance consumers that read the same topic.
type ConsumerGroupHandler struct{}

func (ConsumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var batch []models.AuditEvent
		if err := json.Unmarshal(msg.Value, &batch); err != nil {
			log.Printf("Skipping malformed audit batch at offset %d: %v", msg.Offset, err)
			session.MarkMessage(msg, "")
			continue
		}
		for _, e := range batch {
			log.Printf("Consumed audit event: order=%s %s.%s %q -> %q",
				e.OrderID, e.EntityName, e.ChangedParameter, e.OldValue, e.NewValue)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func StartSaramaConsumer(ctx context.Context, cfg *sarama.Config, brokers []string, groupID string, topics []string) {
	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		log.Fatalf("Error creating consumer group: %v", err)
	}
	defer func() {
		if err := consumerGroup.Close(); err != nil {
			log.Printf("Error closing consumer group: %v", err)
		}
	}()

	handler := ConsumerGroupHandler{}

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := consumerGroup.Consume(ctx, topics, handler); err != nil {
				log.Printf("Error from consumer: %v", err)
			}
		}
	}
}
