package event

// Order event types.
const (
	TypeOrderPlaced      Type = "order.placed"
	TypeOrderItemAdded   Type = "order.item_added"
	TypeOrderItemRemoved Type = "order.item_removed"
	TypeOrderShipped     Type = "order.shipped"
	TypeOrderCancelled   Type = "order.cancelled"
)

// Item event types.
const (
	TypeItemRegistered    Type = "item.registered"
	TypeItemRenamed       Type = "item.renamed"
	TypeItemPriceChanged  Type = "item.price_changed"
	TypeItemStockReceived Type = "item.stock_received"
	TypeItemStockReserved Type = "item.stock_reserved"
	TypeItemArchived      Type = "item.archived"
)

// OrderLine captures one item position inside an order payload. Name and
// price are copied from the catalog at placement time so the order keeps its
// historical values.
type OrderLine struct {
	ItemID     string `json:"item_id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

// OrderPlacedPayload is the payload for order.placed.
type OrderPlacedPayload struct {
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id,omitempty"`
	Lines      []OrderLine `json:"lines"`
}

// OrderItemAddedPayload is the payload for order.item_added.
type OrderItemAddedPayload struct {
	Line OrderLine `json:"line"`
}

// OrderItemRemovedPayload is the payload for order.item_removed.
type OrderItemRemovedPayload struct {
	ItemID string `json:"item_id"`
}

// OrderShippedPayload is the payload for order.shipped.
type OrderShippedPayload struct {
	Carrier string `json:"carrier,omitempty"`
}

// OrderCancelledPayload is the payload for order.cancelled.
type OrderCancelledPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ItemRegisteredPayload is the payload for item.registered.
type ItemRegisteredPayload struct {
	ItemID     string `json:"item_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

// ItemRenamedPayload is the payload for item.renamed.
type ItemRenamedPayload struct {
	Name string `json:"name"`
}

// ItemPriceChangedPayload is the payload for item.price_changed.
type ItemPriceChangedPayload struct {
	PriceCents int64 `json:"price_cents"`
}

// ItemStockReceivedPayload is the payload for item.stock_received.
type ItemStockReceivedPayload struct {
	Quantity int `json:"quantity"`
}

// ItemStockReservedPayload is the payload for item.stock_reserved.
type ItemStockReservedPayload struct {
	OrderID  string `json:"order_id"`
	Quantity int    `json:"quantity"`
}

// ItemArchivedPayload is the payload for item.archived.
type ItemArchivedPayload struct {
	Reason string `json:"reason,omitempty"`
}
