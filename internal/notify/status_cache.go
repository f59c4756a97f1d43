package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/hub"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Status struct {
	OrderID   orders.OrderID `json:"order_id"`
	State     orders.State   `json:"state"`
	UpdatedAt time.Time      `json:"updated_at"`
	Live      bool           `json:"live"`
	Version   uint64         `json:"version"` // hub snapshot version that wrote it
}

// setIfNewer writes ARGV[1] unless the stored status carries a version at
// least ARGV[2].
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, doc = pcall(cjson.decode, cur)
  if ok and type(doc) == 'table' and tonumber(doc.version) and tonumber(doc.version) >= tonumber(ARGV[2]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// StatusCache mirrors each order's latest state into Redis so status stays
// readable after the order leaves the live index. Notifications can arrive
// out of order, so a write never replaces a newer snapshot's status.
type StatusCache struct {
	RDB     redis.Cmdable
	Log     *zap.Logger
	Timeout time.Duration
}

func (c *StatusCache) OrderIndexChanged(s hub.Snapshot) {
	o := s.Change.Order
	if o.ID == 0 {
		return
	}
	st := Status{OrderID: o.ID, State: o.State, UpdatedAt: o.UpdatedAt, Live: !s.Change.Removed, Version: s.Version}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.Put(ctx, st); err != nil && c.Log != nil {
		c.Log.Warn("cache order status", zap.Int64("order_id", int64(o.ID)), zap.Error(err))
	}
}

// Put stores st unless a status with the same or a later version is cached.
func (c *StatusCache) Put(ctx context.Context, st Status) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, st.OrderID)
	return setIfNewer.Run(ctx, c.RDB, []string{key}, b, st.Version, redisx.TTLStatusCache.Milliseconds()).Err()
}

// CachedStatus reports ok=false on a cache miss.
func CachedStatus(ctx context.Context, rdb redis.Cmdable, id orders.OrderID) (Status, bool, error) {
	raw, err := rdb.Get(ctx, fmt.Sprintf(redisx.KeyOrderStatus, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Status{}, false, nil
	}
	if err != nil {
		return Status{}, false, err
	}
	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return Status{}, false, err
	}
	return st, true, nil
}
