package orders

import "strconv"

const (
	TopicOrderState          = "shop.order.state"
	TopicFulfillmentCommands = "shop.fulfillment.commands"
)

// PartitionKey keeps every event of one order on the same partition.
func PartitionKey(id OrderID) []byte { return []byte(strconv.FormatInt(int64(id), 10)) }
