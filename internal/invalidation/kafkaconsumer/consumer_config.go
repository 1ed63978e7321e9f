package kafkaconsumer

import "time"

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	RetryBackoff        time.Duration
	InitialOffsetOldest bool
}

// DefaultConfig starts new groups from the newest offset.
func DefaultConfig(brokers []string, topic, groupID string) Config {
	return Config{
		Brokers:          brokers,
		Topic:            topic,
		GroupID:          groupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		RetryBackoff:     2 * time.Second,
	}
}
