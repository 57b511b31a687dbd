package delivery

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Rierra/LoanCentral/internal/config"
)

func NewPublisherFromConfig(cfg config.Config, logger *slog.Logger) (Publisher, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.DeliveryMode))
	if mode == "" || mode == "stub" {
		return NewStubPublisher(logger), nil
	}
	if mode != "kafka" {
		return nil, fmt.Errorf("invalid DELIVERY_MODE: %s", cfg.DeliveryMode)
	}
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("missing KAFKA_BROKERS")
	}
	return NewKafkaPublisher(NewKafkaWriter(cfg.KafkaBrokers), cfg.RepliesTopic, cfg.ModmailTopic, logger)
}
