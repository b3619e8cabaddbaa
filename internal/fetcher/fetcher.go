package fetcher

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"pricewatch/internal/market"
)

// ErrInvalidPrice marks a response without a usable positive price.
var ErrInvalidPrice = errors.New("fetcher: invalid price")

// PriceFetcher retrieves the latest price of a symbol on a venue.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, symbol string, kind market.Kind) (decimal.Decimal, error)
}
