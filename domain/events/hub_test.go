package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/testutil"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/auth"
)

// fakeResolver maps tokens to user ids.
type fakeResolver map[string]string

func (f fakeResolver) Resolve(_ context.Context, token string) (*auth.Identity, error) {
	if token == "" {
		return nil, auth.ErrMissingToken
	}
	user, ok := f[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Identity{UserID: user, Roles: []string{auth.RoleFarmer}}, nil
}

var testTokens = fakeResolver{"tok-ana": "ana", "tok-bruno": "bruno"}

func newTestHub(opts ...HubOption) *Hub {
	return NewHub(testTokens, testutil.NewLogger(), opts...)
}

func connect(t *testing.T, h *Hub, token string) *Client {
	t.Helper()
	c, err := h.Connect(context.Background(), token)
	require.NoError(t, err)
	return c
}

func nextFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case f := <-c.Frames():
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return Frame{}
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case f := <-c.Frames():
		t.Fatalf("unexpected frame %s", f.Event)
	default:
	}
}

func TestNormalizeTopic(t *testing.T) {
	tests := []struct {
		topic   string
		want    string
		wantErr error
	}{
		{topic: "commodity:soja", want: "commodity:SOJA"},
		{topic: " COMMODITY:Milho ", want: "commodity:MILHO"},
		{topic: "commodity:", wantErr: ErrInvalidTopic},
		{topic: "soja", wantErr: ErrInvalidTopic},
		{topic: "farm:123", wantErr: ErrInvalidTopic},
		{topic: "user:bruno", wantErr: ErrReservedRoom},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := NormalizeTopic(tt.topic)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnectJoinsUserRoom(t *testing.T) {
	h := newTestHub()
	c := connect(t, h, "tok-ana")

	assert.Equal(t, "ana", c.UserID())
	assert.Equal(t, []string{"user:ana"}, h.Rooms(c.ID()))
	assert.Equal(t, 1, h.ConnectionCount())
	owner, ok := h.Owner(c.ID())
	assert.True(t, ok)
	assert.Equal(t, "ana", owner)
}

func TestConnectRejectsUnauthenticated(t *testing.T) {
	h := newTestHub()

	_, err := h.Connect(context.Background(), "")
	assert.ErrorIs(t, err, auth.ErrMissingToken)

	_, err = h.Connect(context.Background(), "forged")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	assert.Zero(t, h.ConnectionCount())
}

func TestSubscriptionMembership(t *testing.T) {
	h := newTestHub()
	c := connect(t, h, "tok-ana")

	room, err := h.Subscribe(c.ID(), "commodity:soja")
	require.NoError(t, err)
	assert.Equal(t, "commodity:SOJA", room)

	_, err = h.Subscribe(c.ID(), "commodity:SOJA")
	require.NoError(t, err)
	assert.Equal(t, 1, h.RoomSize("commodity:SOJA"), "subscribing twice keeps one membership")

	_, err = h.Unsubscribe(c.ID(), "commodity:soja")
	require.NoError(t, err)
	assert.Zero(t, h.RoomSize("commodity:SOJA"))

	_, err = h.Unsubscribe(c.ID(), "commodity:soja")
	assert.NoError(t, err, "leaving a room twice is a no-op")

	_, err = h.Subscribe(c.ID(), "user:bruno")
	assert.ErrorIs(t, err, ErrReservedRoom)

	_, err = h.Subscribe("conn_missing", "commodity:soja")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestDisconnectPurgesEveryMembership(t *testing.T) {
	h := newTestHub()
	c := connect(t, h, "tok-ana")
	other := connect(t, h, "tok-ana")

	for _, topic := range []string{"commodity:soja", "commodity:milho"} {
		_, err := h.Subscribe(c.ID(), topic)
		require.NoError(t, err)
	}

	assert.True(t, h.Disconnect(c.ID()))
	assert.False(t, h.Disconnect(c.ID()), "second disconnect is a no-op")

	assert.Nil(t, h.Rooms(c.ID()))
	assert.Zero(t, h.RoomSize("commodity:SOJA"))
	assert.Zero(t, h.RoomSize("commodity:MILHO"))
	assert.Equal(t, 1, h.RoomSize("user:ana"), "other connection of the user stays")
	assert.Equal(t, []string{"user:ana"}, h.Rooms(other.ID()))

	select {
	case <-c.Done():
	default:
		t.Fatal("client done channel not closed")
	}
}

func TestEmitToUserReachesEveryConnectionOfTheUser(t *testing.T) {
	h := newTestHub()
	a1 := connect(t, h, "tok-ana")
	a2 := connect(t, h, "tok-ana")
	b := connect(t, h, "tok-bruno")

	d := h.EmitToUser(context.Background(), "ana", EventAlertNew, map[string]string{"id": "alert-1"})
	assert.True(t, d.OK())
	assert.Equal(t, 2, d.Delivered)
	assert.Equal(t, Target{Kind: TargetUser, Key: "ana"}, d.Target)

	for _, c := range []*Client{a1, a2} {
		f := nextFrame(t, c)
		assert.Equal(t, EventAlertNew, f.Event)
		assert.Equal(t, "user:ana", f.Room)
		assert.JSONEq(t, `{"id":"alert-1"}`, string(f.Data))
	}
	assertNoFrame(t, b)
}

func TestEmitToUserWithoutConnections(t *testing.T) {
	h := newTestHub()

	d := h.EmitToUser(context.Background(), "nobody", EventAlertNew, map[string]string{"id": "x"})
	assert.True(t, d.OK())
	assert.Zero(t, d.Delivered)
	assert.Zero(t, d.Dropped)
}

func TestEmitToRoomAndAll(t *testing.T) {
	h := newTestHub()
	a := connect(t, h, "tok-ana")
	b := connect(t, h, "tok-bruno")
	_, err := h.Subscribe(a.ID(), "commodity:soja")
	require.NoError(t, err)

	d := h.EmitToRoom(context.Background(), CommodityRoom("soja"), EventPriceUpdate, map[string]float64{"price": 142.5})
	assert.Equal(t, 1, d.Delivered)
	assert.Equal(t, EventPriceUpdate, nextFrame(t, a).Event)
	assertNoFrame(t, b)

	d = h.EmitToAll(context.Background(), "maintenance", map[string]bool{"soon": true})
	assert.Equal(t, 2, d.Delivered)
	assert.Equal(t, "maintenance", nextFrame(t, a).Event)
	f := nextFrame(t, b)
	assert.Equal(t, "maintenance", f.Event)
	assert.Empty(t, f.Room)
}

func TestEmitEncodingFailure(t *testing.T) {
	h := newTestHub()
	connect(t, h, "tok-ana")

	d := h.EmitToUser(context.Background(), "ana", EventAlertNew, make(chan int))
	assert.False(t, d.OK())
	assert.Zero(t, d.Delivered)
}

func TestSlowConnectionDropsFrames(t *testing.T) {
	h := newTestHub(WithSendBuffer(1))
	c := connect(t, h, "tok-ana")

	first := h.EmitToUser(context.Background(), "ana", EventAlertNew, 1)
	second := h.EmitToUser(context.Background(), "ana", EventAlertNew, 2)

	assert.Equal(t, 1, first.Delivered)
	assert.Equal(t, 0, second.Delivered)
	assert.Equal(t, 1, second.Dropped)
	assert.True(t, second.OK(), "a dropped frame does not fail the emit")
	assert.Equal(t, json.RawMessage("1"), nextFrame(t, c).Data)
}

type failingBus struct{ LocalBus }

func (failingBus) Publish(context.Context, Envelope) error { return errors.New("bus down") }

func TestPublishFailureIsReportedNotFatal(t *testing.T) {
	h := newTestHub(WithBus(failingBus{}))
	c := connect(t, h, "tok-ana")

	d := h.EmitToUser(context.Background(), "ana", EventAlertNew, "x")
	assert.False(t, d.OK())
	assert.ErrorContains(t, d.Err, "bus down")
	assert.Equal(t, 1, d.Delivered, "local delivery happens before publishing")
	nextFrame(t, c)
}

func TestStopClosesConnections(t *testing.T) {
	h := newTestHub()
	c := connect(t, h, "tok-ana")

	require.NoError(t, h.Stop())
	assert.Zero(t, h.ConnectionCount())
	select {
	case <-c.Done():
	default:
		t.Fatal("client not closed by Stop")
	}
}

func TestRedisBusFansOutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	hubA := newTestHub(WithBus(NewRedisBus(rdb, "lavra:test", testutil.NewLogger())))
	hubB := newTestHub(WithBus(NewRedisBus(rdb, "lavra:test", testutil.NewLogger())))
	require.NoError(t, hubA.Start(ctx))
	require.NoError(t, hubB.Start(ctx))
	t.Cleanup(func() {
		_ = hubA.Stop()
		_ = hubB.Stop()
	})

	onA := connect(t, hubA, "tok-ana")
	onB := connect(t, hubB, "tok-ana")

	d := hubA.EmitToUser(ctx, "ana", EventPriceAlert, map[string]string{"commodity": "SOJA"})
	require.True(t, d.OK())
	assert.Equal(t, 1, d.Delivered, "only the local connection counts")

	fa := nextFrame(t, onA)
	fb := nextFrame(t, onB)
	assert.Equal(t, EventPriceAlert, fb.Event)
	assert.Equal(t, fa.Data, fb.Data)

	// the origin instance ignores its own publication
	time.Sleep(50 * time.Millisecond)
	assertNoFrame(t, onA)
}
