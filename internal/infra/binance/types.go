package binance

import (
	"fmt"

	"github.com/shopspring/decimal"

	"orderflow/internal/domain"
)

// wireLevel is one [price, size] pair as decimal strings.
type wireLevel [2]string

func (l wireLevel) toPriceLevel() (domain.PriceLevel, error) {
	price, err := decimal.NewFromString(l[0])
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("parse price %q: %w", l[0], err)
	}
	size, err := decimal.NewFromString(l[1])
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("parse size %q: %w", l[1], err)
	}
	p, _ := price.Float64()
	s, _ := size.Float64()
	return domain.PriceLevel{Price: p, Size: s}, nil
}

func toPriceLevels(in []wireLevel) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		lvl, err := l.toPriceLevel()
		if err != nil {
			return nil, err
		}
		out = append(out, lvl)
	}
	return out, nil
}

// depthSnapshotResponse is the REST book snapshot payload.
type depthSnapshotResponse struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         []wireLevel `json:"bids"`
	Asks         []wireLevel `json:"asks"`
}

func (r depthSnapshotResponse) toDomain() (domain.DepthSnapshot, error) {
	bids, err := toPriceLevels(r.Bids)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("snapshot bids: %w", err)
	}
	asks, err := toPriceLevels(r.Asks)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("snapshot asks: %w", err)
	}
	return domain.DepthSnapshot{
		LastUpdateID: r.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

// streamEvent is the common header of every stream payload; Type
// discriminates depth updates from aggregated trades.
type streamEvent struct {
	Type   string `json:"e"`
	Symbol string `json:"s"`
}

// depthUpdateEvent is one incremental book update from the diff stream.
type depthUpdateEvent struct {
	Type          string      `json:"e"`
	EventTimeMs   int64       `json:"E"`
	Symbol        string      `json:"s"`
	FirstUpdateID int64       `json:"U"`
	FinalUpdateID int64       `json:"u"`
	Bids          []wireLevel `json:"b"`
	Asks          []wireLevel `json:"a"`
}

func (e depthUpdateEvent) toDomain() (domain.DepthDiff, error) {
	bids, err := toPriceLevels(e.Bids)
	if err != nil {
		return domain.DepthDiff{}, fmt.Errorf("diff bids: %w", err)
	}
	asks, err := toPriceLevels(e.Asks)
	if err != nil {
		return domain.DepthDiff{}, fmt.Errorf("diff asks: %w", err)
	}
	return domain.DepthDiff{
		FirstUpdateID: e.FirstUpdateID,
		FinalUpdateID: e.FinalUpdateID,
		Bids:          bids,
		Asks:          asks,
		EventTimeMs:   e.EventTimeMs,
	}, nil
}

// aggTradeEvent is one aggregated trade. BuyerIsMaker true means the
// aggressor hit the bid, so the trade is a sell.
type aggTradeEvent struct {
	Type         string `json:"e"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTimeMs  int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

func (e aggTradeEvent) toDomain(arrivalMs int64) (domain.Trade, error) {
	price, err := decimal.NewFromString(e.Price)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("parse trade price %q: %w", e.Price, err)
	}
	qty, err := decimal.NewFromString(e.Quantity)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("parse trade quantity %q: %w", e.Quantity, err)
	}

	side := domain.SideBuy
	if e.BuyerIsMaker {
		side = domain.SideSell
	}
	p, _ := price.Float64()
	q, _ := qty.Float64()
	return domain.Trade{
		Price:       p,
		Quantity:    q,
		Side:        side,
		TimestampMs: e.TradeTimeMs,
		ArrivalMs:   arrivalMs,
	}, nil
}

// openInterestResponse is the OI poll payload.
type openInterestResponse struct {
	Symbol       string `json:"symbol"`
	OpenInterest string `json:"openInterest"`
	TimeMs       int64  `json:"time"`
}

// premiumIndexResponse carries the funding fields of the premium index.
type premiumIndexResponse struct {
	Symbol            string `json:"symbol"`
	LastFundingRate   string `json:"lastFundingRate"`
	NextFundingTimeMs int64  `json:"nextFundingTime"`
}

// ExchangeSymbol is one tradable symbol of the exchange-info response,
// reduced to the filters the sizing path needs.
type ExchangeSymbol struct {
	Symbol            string `json:"symbol"`
	Status            string `json:"status"`
	PricePrecision    int    `json:"pricePrecision"`
	QuantityPrecision int    `json:"quantityPrecision"`

	StepSize    decimal.Decimal `json:"stepSize"`
	MinNotional decimal.Decimal `json:"minNotional"`
}

// ExchangeInfo is the parsed exchange-info document.
type ExchangeInfo struct {
	Symbols []ExchangeSymbol `json:"symbols"`
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol            string `json:"symbol"`
		Status            string `json:"status"`
		PricePrecision    int    `json:"pricePrecision"`
		QuantityPrecision int    `json:"quantityPrecision"`
		Filters           []struct {
			FilterType  string `json:"filterType"`
			StepSize    string `json:"stepSize"`
			MinNotional string `json:"notional"`
		} `json:"filters"`
	} `json:"symbols"`
}

func (r exchangeInfoResponse) toDomain() ExchangeInfo {
	out := ExchangeInfo{Symbols: make([]ExchangeSymbol, 0, len(r.Symbols))}
	for _, s := range r.Symbols {
		sym := ExchangeSymbol{
			Symbol:            s.Symbol,
			Status:            s.Status,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				if d, err := decimal.NewFromString(f.StepSize); err == nil {
					sym.StepSize = d
				}
			case "MIN_NOTIONAL":
				if d, err := decimal.NewFromString(f.MinNotional); err == nil {
					sym.MinNotional = d
				}
			}
		}
		out.Symbols = append(out.Symbols, sym)
	}
	return out
}
