package replay

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/valyalkin/piggy-backend/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var base = time.Date(2023, 10, 10, 10, 10, 10, 0, time.UTC)

// tx builds a transaction on the test key, offset by days from base.
func tx(id string, kind model.Kind, days int, qty int64, price string) model.Transaction {
	return model.Transaction{
		ID:        id,
		UserID:    "test",
		Ticker:    "AAPL",
		Currency:  model.USD,
		Timestamp: base.AddDate(0, 0, days),
		Kind:      kind,
		Quantity:  qty,
		Price:     d(price),
	}
}

func TestReplay_FirstTransactionBuy(t *testing.T) {
	res, err := Replay(nil, tx("t1", model.Buy, 0, 10, "100.50"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Holding.Quantity != 10 || !res.Holding.AverageCost.Equal(d("100.50")) {
		t.Errorf("expected 10 @ 100.50, got %d @ %s", res.Holding.Quantity, res.Holding.AverageCost)
	}
	if res.ReplaceRealized || len(res.Realized) != 0 {
		t.Error("first buy must not touch realized events")
	}
}

func TestReplay_FirstTransactionSell(t *testing.T) {
	_, err := Replay(nil, tx("t1", model.Sell, 0, 10, "100.50"))
	if !errors.Is(err, model.ErrDomainRule) {
		t.Fatalf("expected ErrDomainRule, got %v", err)
	}
}

func TestReplay_SellBeforeAllBuys(t *testing.T) {
	existing := []model.Transaction{tx("t1", model.Buy, 5, 10, "100.00")}
	_, err := Replay(existing, tx("t2", model.Sell, 1, 5, "110.00"))
	if !errors.Is(err, model.ErrDomainRule) {
		t.Fatalf("expected ErrDomainRule for sell preceding all buys, got %v", err)
	}
}

func TestReplay_AverageCostRounding(t *testing.T) {
	existing := []model.Transaction{tx("t1", model.Buy, 0, 10, "100.00")}
	res, err := Replay(existing, tx("t2", model.Buy, 1, 5, "90.00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Holding.Quantity != 15 {
		t.Errorf("expected quantity=15, got %d", res.Holding.Quantity)
	}
	if model.FormatDecimal(res.Holding.AverageCost) != "96.66" {
		t.Errorf("expected 96.66, got %s", res.Holding.AverageCost)
	}
	if res.ReplaceRealized {
		t.Error("buys only: realized events must not be replaced")
	}
}

func TestReplay_RealizedOnSell(t *testing.T) {
	existing := []model.Transaction{tx("t1", model.Buy, 0, 10, "80.00")}
	sell := tx("t2", model.Sell, 1, 10, "100.50")
	res, err := Replay(existing, sell)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ReplaceRealized {
		t.Error("sequence with a sell must replace realized events")
	}
	if len(res.Realized) != 1 {
		t.Fatalf("expected 1 realized event, got %d", len(res.Realized))
	}
	ev := res.Realized[0]
	if model.FormatDecimal(ev.Amount) != "205.00" {
		t.Errorf("expected 205.00, got %s", ev.Amount)
	}
	if !ev.Timestamp.Equal(sell.Timestamp) {
		t.Errorf("event must carry the sell timestamp, got %v", ev.Timestamp)
	}
	if res.Holding.Quantity != 0 || !res.Holding.AverageCost.Equal(d("80.00")) {
		t.Errorf("expected 0 @ 80.00, got %d @ %s", res.Holding.Quantity, res.Holding.AverageCost)
	}
}

func TestReplay_SellTooMuchAtAnyPoint(t *testing.T) {
	existing := []model.Transaction{
		tx("t1", model.Buy, 0, 10, "50.00"),
		tx("t2", model.Sell, 2, 10, "60.00"),
		tx("t3", model.Buy, 4, 10, "55.00"),
	}
	// Total bought is 20 and sold would be 15, but at day 3 only 0 are held.
	_, err := Replay(existing, tx("t4", model.Sell, 3, 5, "60.00"))
	if !errors.Is(err, model.ErrDomainRule) {
		t.Fatalf("expected ErrDomainRule, got %v", err)
	}
}

func TestReplay_EarlierBuyRegeneratesEvents(t *testing.T) {
	existing := []model.Transaction{
		tx("t1", model.Buy, 0, 10, "100.00"),
		tx("t2", model.Sell, 5, 5, "120.00"),
	}
	before, err := FromEmpty(existing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !before.Realized[0].Amount.Equal(d("100.00")) {
		t.Fatalf("expected 100.00 before insert, got %s", before.Realized[0].Amount)
	}

	// A cheaper buy dated before the sell lowers the sell's average cost.
	res, err := Replay(existing, tx("t3", model.Buy, 2, 10, "80.00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ReplaceRealized || len(res.Realized) != 1 {
		t.Fatalf("expected a full replacement set of 1 event, got %d", len(res.Realized))
	}
	// avg = 1800.00 / 20 = 90.00; (120 - 90) * 5 = 150.00
	if !res.Realized[0].Amount.Equal(d("150.00")) {
		t.Errorf("expected 150.00, got %s", res.Realized[0].Amount)
	}
	if res.Holding.Quantity != 15 || !res.Holding.AverageCost.Equal(d("90.00")) {
		t.Errorf("expected 15 @ 90.00, got %d @ %s", res.Holding.Quantity, res.Holding.AverageCost)
	}
}

func TestReplay_StableTieBreak(t *testing.T) {
	// Same instant as the existing buy: the incoming sell sorts after it.
	existing := []model.Transaction{tx("t1", model.Buy, 0, 10, "10.00")}
	res, err := Replay(existing, tx("t2", model.Sell, 0, 10, "12.00"))
	if err != nil {
		t.Fatalf("incoming should sort last among equal timestamps: %v", err)
	}
	if res.Merged[0].ID != "t1" || res.Merged[1].ID != "t2" {
		t.Errorf("unexpected order: %s, %s", res.Merged[0].ID, res.Merged[1].ID)
	}
}

func TestReplay_TiesKeepExistingOrder(t *testing.T) {
	existing := []model.Transaction{
		tx("t1", model.Buy, 0, 10, "10.00"),
		tx("t2", model.Buy, 1, 10, "20.00"),
		tx("t3", model.Buy, 1, 10, "30.00"),
	}
	res, err := Replay(existing, tx("t4", model.Buy, 1, 10, "40.00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"t1", "t2", "t3", "t4"}
	for i, id := range want {
		if res.Merged[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, res.Merged[i].ID)
		}
	}
}

func TestReplay_EventsInProcessingOrder(t *testing.T) {
	existing := []model.Transaction{
		tx("t1", model.Buy, 0, 30, "10.00"),
		tx("t2", model.Sell, 3, 10, "13.00"),
	}
	res, err := Replay(existing, tx("t3", model.Sell, 1, 10, "11.00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Realized) != 2 {
		t.Fatalf("expected 2 events, got %d", len(res.Realized))
	}
	if !res.Realized[0].Amount.Equal(d("10.00")) || !res.Realized[1].Amount.Equal(d("30.00")) {
		t.Errorf("unexpected amounts: %s, %s", res.Realized[0].Amount, res.Realized[1].Amount)
	}
}

func TestFromEmpty_Empty(t *testing.T) {
	res, err := FromEmpty(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Holding.Quantity != 0 || len(res.Realized) != 0 {
		t.Errorf("expected zero result, got %+v", res)
	}
}

func TestFromEmpty_DoesNotReorderInput(t *testing.T) {
	seq := []model.Transaction{
		tx("t2", model.Buy, 2, 1, "1.00"),
		tx("t1", model.Buy, 1, 1, "1.00"),
	}
	if _, err := FromEmpty(seq); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seq[0].ID != "t2" {
		t.Error("caller's slice must not be sorted in place")
	}
}
