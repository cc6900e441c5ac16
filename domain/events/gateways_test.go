package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/testutil"
)

func TestGatewaysRouteEvents(t *testing.T) {
	h := newTestHub()
	ana := connect(t, h, "tok-ana")
	bruno := connect(t, h, "tok-bruno")
	_, err := h.Subscribe(bruno.ID(), "commodity:cafe")
	require.NoError(t, err)

	alerts := NewAlertsGateway(h, testutil.NewLogger())
	prices := NewPricesGateway(h, testutil.NewLogger())
	notifications := NewNotificationsGateway(h, testutil.NewLogger())
	ctx := context.Background()

	tests := []struct {
		name  string
		emit  func() Delivery
		to    *Client
		event string
		room  string
	}{
		{name: "new alert", emit: func() Delivery { return alerts.NewAlert(ctx, "ana", map[string]string{"type": "MARKET"}) }, to: ana, event: EventAlertNew, room: "user:ana"},
		{name: "weather alert", emit: func() Delivery { return alerts.WeatherAlert(ctx, "ana", map[string]string{"type": "WEATHER"}) }, to: ana, event: EventAlertWeather, room: "user:ana"},
		{name: "price update", emit: func() Delivery { return prices.PriceUpdate(ctx, "cafe", map[string]float64{"price": 1200}) }, to: bruno, event: EventPriceUpdate, room: "commodity:CAFE"},
		{name: "price alert", emit: func() Delivery { return prices.PriceAlert(ctx, "bruno", map[string]float64{"changePercent": 12}) }, to: bruno, event: EventPriceAlert, room: "user:bruno"},
		{name: "in-app notification", emit: func() Delivery { return notifications.NewNotification(ctx, "ana", map[string]string{"title": "oi"}) }, to: ana, event: EventNotificationNew, room: "user:ana"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.emit()
			assert.True(t, d.OK())
			assert.Equal(t, 1, d.Delivered)

			f := nextFrame(t, tt.to)
			assert.Equal(t, tt.event, f.Event)
			assert.Equal(t, tt.room, f.Room)
		})
	}
	assertNoFrame(t, ana)
	assertNoFrame(t, bruno)
}
