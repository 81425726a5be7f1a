package venue

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

// Binance adapts the USD-M futures REST API to the Venue interface.
// Quantities are sent with 3 decimal places, which covers the major pairs;
// per-symbol precision filters are out of scope here.
type Binance struct {
	client *futures.Client

	levMu    chan struct{} // serializes leverage changes
	leverage map[string]int
}

func NewBinance(apiKey, apiSecret, baseURL string) *Binance {
	client := futures.NewClient(apiKey, apiSecret)
	if u := strings.TrimSpace(baseURL); u != "" {
		client.BaseURL = u
	}
	b := &Binance{
		client:   client,
		levMu:    make(chan struct{}, 1),
		leverage: map[string]int{},
	}
	b.levMu <- struct{}{}
	return b
}

func (b *Binance) Name() string { return "binance-futures" }

func (b *Binance) ensureLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage < 1 {
		return nil
	}
	<-b.levMu
	defer func() { b.levMu <- struct{}{} }()
	if b.leverage[symbol] == leverage {
		return nil
	}
	_, err := b.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return err
	}
	b.leverage[symbol] = leverage
	return nil
}

func (b *Binance) PlaceOrder(ctx context.Context, req OrderRequest) (Ack, error) {
	if err := b.ensureLeverage(ctx, req.Symbol, req.Leverage); err != nil {
		return Ack{}, err
	}

	side := futures.SideTypeBuy
	if req.Side == SideSell {
		side = futures.SideTypeSell
	}
	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		NewClientOrderID(req.ClientOrderID).
		Quantity(formatQty(req.Quantity))
	switch req.Kind {
	case KindMarket:
		svc = svc.Type(futures.OrderTypeMarket)
	case KindStopMarket:
		svc = svc.Type(futures.OrderTypeStopMarket).StopPrice(formatPrice(req.StopPrice))
	case KindTakeProfit:
		svc = svc.Type(futures.OrderTypeTakeProfitMarket).StopPrice(formatPrice(req.StopPrice))
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		// Could be a rejection or a lost response; the caller resolves via
		// OrderStatus with the client order ID.
		return Ack{}, err
	}
	return Ack{
		VenueOrderID: strconv.FormatInt(resp.OrderID, 10),
		State:        mapOrderState(resp.Status),
	}, nil
}

func (b *Binance) OrderStatus(ctx context.Context, symbol, clientOrderID string) (OrderStatus, error) {
	ord, err := b.client.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == -2013 {
			// "Order does not exist."
			return OrderStatus{}, ErrOrderUnknown
		}
		return OrderStatus{}, err
	}
	return OrderStatus{
		ClientOrderID:  clientOrderID,
		VenueOrderID:   strconv.FormatInt(ord.OrderID, 10),
		State:          mapOrderState(ord.Status),
		FilledQuantity: parseFloat(ord.ExecutedQuantity),
		AvgFillPrice:   parseFloat(ord.AvgPrice),
	}, nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	_, err := b.client.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code == -2011 {
		// "Unknown order sent." - already gone, which is what we wanted.
		return nil
	}
	return err
}

func (b *Binance) Equity(ctx context.Context) (float64, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, err
	}
	return parseFloat(acct.TotalMarginBalance), nil
}

func mapOrderState(s futures.OrderStatusType) OrderState {
	switch s {
	case futures.OrderStatusTypeNew:
		return StatePending
	case futures.OrderStatusTypePartiallyFilled:
		return StatePartiallyFilled
	case futures.OrderStatusTypeFilled:
		return StateFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return StateCancelled
	case futures.OrderStatusTypeRejected:
		return StateFailed
	default:
		return StatePending
	}
}

func formatQty(q float64) string {
	return decimal.NewFromFloat(q).Round(3).String()
}

func formatPrice(p float64) string {
	return decimal.NewFromFloat(p).Round(2).String()
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
