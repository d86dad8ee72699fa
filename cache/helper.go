package cache

import (
	"fmt"
)

const cacheEvent = "webhook:%s"

func constructKey(paymentID string) string {
	return fmt.Sprintf(cacheEvent, paymentID)
}
