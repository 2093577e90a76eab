package broker

import (
	"fmt"

	"greplay/internal/config"
	"greplay/internal/constants"
	"greplay/internal/logger"
)

func NewPublisher(cfg config.BrokerConfig, clientID string, log logger.Logger) (Publisher, error) {
	switch cfg.Type {
	case constants.BrokerTypeMQTT:
		return NewMQTTPublisher(cfg, clientID, log)
	case constants.BrokerTypeKafka:
		return NewKafkaPublisher(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

func NewSubscriber(cfg config.BrokerConfig, clientID string, log logger.Logger) (Subscriber, error) {
	switch cfg.Type {
	case constants.BrokerTypeMQTT:
		return NewMQTTSubscriber(cfg, clientID, log)
	case constants.BrokerTypeKafka:
		return NewKafkaSubscriber(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
