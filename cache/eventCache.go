package cache

import (
	"log"
	"time"

	"github.com/go-redis/redis"
)

// EventCache remembers the most recent webhook event applied per provider
// payment id, so duplicate deliveries can be spotted in the logs. The
// reconciler stays correct without it; this is observability, not locking.
type EventCache struct {
	cli    *redis.Client
	logger *log.Logger
}

// Construct Redis client
func New(address string, logger *log.Logger) *EventCache {
	client := redis.NewClient(&redis.Options{
		Addr: address,
	})

	return &EventCache{
		cli:    client,
		logger: logger,
	}
}

// Check connection function
func (ec *EventCache) Ping() {
	val, _ := ec.cli.Ping().Result()
	ec.logger.Println(val)
}

// Set last applied event for a payment with default expiration
func (ec *EventCache) SetLastEvent(paymentID string, event string) error {
	err := ec.cli.Set(constructKey(paymentID), event, 24*time.Hour).Err()
	if err != nil {
		ec.logger.Println(err)
	}
	return err
}

// Get last applied event for a payment; empty when none recorded
func (ec *EventCache) GetLastEvent(paymentID string) (string, error) {
	value, err := ec.cli.Get(constructKey(paymentID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		ec.logger.Println(err)
		return "", err
	}
	return value, nil
}
