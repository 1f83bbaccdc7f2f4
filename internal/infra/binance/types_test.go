package binance

import (
	"encoding/json"
	"math"
	"testing"

	"orderflow/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDepthSnapshotResponse_ToDomain(t *testing.T) {
	raw := `{
		"lastUpdateId": 1027024,
		"bids": [["100.50", "5.0"], ["100.40", "2.5"]],
		"asks": [["100.60", "1.0"]]
	}`
	var resp depthSnapshotResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	snap, err := resp.toDomain()
	if err != nil {
		t.Fatalf("toDomain: %v", err)
	}
	if snap.LastUpdateID != 1027024 {
		t.Errorf("lastUpdateId = %d", snap.LastUpdateID)
	}
	if len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Fatalf("levels = %d bids, %d asks", len(snap.Bids), len(snap.Asks))
	}
	if !almostEqual(snap.Bids[0].Price, 100.50) || !almostEqual(snap.Bids[0].Size, 5.0) {
		t.Errorf("bid[0] = %+v", snap.Bids[0])
	}
	if !almostEqual(snap.Asks[0].Price, 100.60) {
		t.Errorf("ask[0] = %+v", snap.Asks[0])
	}
}

func TestDepthSnapshotResponse_BadNumber(t *testing.T) {
	resp := depthSnapshotResponse{
		LastUpdateID: 1,
		Bids:         []wireLevel{{"not-a-price", "1.0"}},
	}
	if _, err := resp.toDomain(); err == nil {
		t.Fatal("expected parse error for malformed price")
	}
}

func TestDepthUpdateEvent_ToDomain(t *testing.T) {
	raw := `{
		"e": "depthUpdate",
		"E": 1700000000123,
		"s": "BTCUSDT",
		"U": 157,
		"u": 160,
		"b": [["0.0024", "10"]],
		"a": [["0.0026", "100"], ["0.0027", "0"]]
	}`
	var ev depthUpdateEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	diff, err := ev.toDomain()
	if err != nil {
		t.Fatalf("toDomain: %v", err)
	}
	if diff.FirstUpdateID != 157 || diff.FinalUpdateID != 160 {
		t.Errorf("update ids = %d..%d", diff.FirstUpdateID, diff.FinalUpdateID)
	}
	if diff.EventTimeMs != 1700000000123 {
		t.Errorf("event time = %d", diff.EventTimeMs)
	}
	if len(diff.Bids) != 1 || len(diff.Asks) != 2 {
		t.Fatalf("levels = %d bids, %d asks", len(diff.Bids), len(diff.Asks))
	}
	// Zero-size levels are deletions and must survive parsing.
	if !almostEqual(diff.Asks[1].Size, 0) {
		t.Errorf("ask[1].Size = %v, want 0", diff.Asks[1].Size)
	}
}

func TestAggTradeEvent_ToDomain(t *testing.T) {
	tests := []struct {
		name         string
		buyerIsMaker bool
		wantSide     domain.Side
	}{
		{"aggressive buy", false, domain.SideBuy},
		{"aggressive sell", true, domain.SideSell},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := aggTradeEvent{
				Type:         "aggTrade",
				Symbol:       "BTCUSDT",
				Price:        "99.5",
				Quantity:     "2.25",
				TradeTimeMs:  1700000000500,
				BuyerIsMaker: tt.buyerIsMaker,
			}
			trade, err := ev.toDomain(1700000000600)
			if err != nil {
				t.Fatalf("toDomain: %v", err)
			}
			if trade.Side != tt.wantSide {
				t.Errorf("side = %v, want %v", trade.Side, tt.wantSide)
			}
			if !almostEqual(trade.Price, 99.5) || !almostEqual(trade.Quantity, 2.25) {
				t.Errorf("trade = %+v", trade)
			}
			if trade.TimestampMs != 1700000000500 || trade.ArrivalMs != 1700000000600 {
				t.Errorf("timestamps = %d/%d", trade.TimestampMs, trade.ArrivalMs)
			}
		})
	}
}

func TestAggTradeEvent_BadQuantity(t *testing.T) {
	ev := aggTradeEvent{Price: "1.0", Quantity: "garbage"}
	if _, err := ev.toDomain(0); err == nil {
		t.Fatal("expected parse error for malformed quantity")
	}
}

func TestExchangeInfoResponse_FilterExtraction(t *testing.T) {
	raw := `{
		"symbols": [
			{
				"symbol": "BTCUSDT",
				"status": "TRADING",
				"pricePrecision": 2,
				"quantityPrecision": 3,
				"filters": [
					{"filterType": "PRICE_FILTER", "tickSize": "0.10"},
					{"filterType": "LOT_SIZE", "stepSize": "0.001"},
					{"filterType": "MIN_NOTIONAL", "notional": "100"}
				]
			},
			{
				"symbol": "ETHUSDT",
				"status": "TRADING",
				"pricePrecision": 2,
				"quantityPrecision": 3,
				"filters": []
			}
		]
	}`
	var resp exchangeInfoResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	info := resp.toDomain()
	if len(info.Symbols) != 2 {
		t.Fatalf("symbols = %d", len(info.Symbols))
	}

	btc := info.Symbols[0]
	if btc.Symbol != "BTCUSDT" || btc.QuantityPrecision != 3 {
		t.Errorf("btc = %+v", btc)
	}
	if btc.StepSize.String() != "0.001" {
		t.Errorf("stepSize = %s", btc.StepSize)
	}
	if btc.MinNotional.String() != "100" {
		t.Errorf("minNotional = %s", btc.MinNotional)
	}

	// Missing filters leave zero decimals.
	eth := info.Symbols[1]
	if !eth.StepSize.IsZero() || !eth.MinNotional.IsZero() {
		t.Errorf("eth filters should be zero, got %s/%s", eth.StepSize, eth.MinNotional)
	}
}
