package domain

import "context"

// Exchange is the full surface the bot needs from a derivatives venue. All
// calls are synchronous request/response. Consumers should depend on the
// narrowest subset they use.
type Exchange interface {
	Account(ctx context.Context) (Account, error)
	Markets(ctx context.Context) (map[string]Market, error)
	Candles(ctx context.Context, market string, q CandleQuery) ([]Candle, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	OpenPositions(ctx context.Context) ([]ExchangePosition, error)
	CancelOrder(ctx context.Context, id string) error
	CancelAllOrders(ctx context.Context, market string) error
}

// Notifier delivers operator-facing messages.
type Notifier interface {
	SendMessage(ctx context.Context, text string) error
}
