package redisx

import "time"

const (
	// Cached order status: order_status:{order_id} -> {"order_id":..,"state":..,"updated_at":..}
	KeyOrderStatus = "order_status:%d"

	// Dedup of consumed events: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 10 * time.Minute
	TTLDedup       = 48 * time.Hour
)
