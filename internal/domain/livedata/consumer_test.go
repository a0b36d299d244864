package livedata

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/clinic-live/internal/platform/websocket"
	"github.com/ehr/clinic-live/internal/platform/wsclient"
	"github.com/ehr/clinic-live/pkg/wire"
)

type sent struct {
	typ wire.Type
	sub wire.Subscription
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (s *fakeSender) SendMessage(t wire.Type, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	sub, _ := data.(wire.Subscription)
	s.msgs = append(s.msgs, sent{t, sub})
	return nil
}

func (s *fakeSender) Sent() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.msgs...)
}

func update(t *testing.T, typ wire.Type, data any) wire.Message {
	t.Helper()
	m, err := wire.New(typ, data)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func f(v float64) *float64 { return &v }

func TestConsumer_SubscribeSends(t *testing.T) {
	s := &fakeSender{}
	c := NewConsumer(s, zerolog.Nop())

	if err := c.Subscribe("heart-rate", KindChart); err != nil {
		t.Fatal(err)
	}
	if err := c.Subscribe("", KindChart); err == nil {
		t.Fatal("expected error for empty channel")
	}
	if err := c.Subscribe("x", Kind("pie")); err == nil {
		t.Fatal("expected error for unknown kind")
	}

	got := s.Sent()
	if len(got) != 1 || got[0].typ != wire.TypeSubscribe || got[0].sub != (wire.Subscription{Channel: "heart-rate", DataType: "chart"}) {
		t.Fatalf("unexpected sends %+v", got)
	}
}

func TestConsumer_SubscribeWhileDisconnectedIsTracked(t *testing.T) {
	s := &fakeSender{err: wsclient.ErrNotConnected}
	c := NewConsumer(s, zerolog.Nop())

	if err := c.Subscribe("waiting-room", KindCounter); err != nil {
		t.Fatalf("not-connected should not be an error, got %v", err)
	}
	if len(c.Subscriptions()) != 1 {
		t.Fatal("expected the subscription to be tracked")
	}

	s.err = errors.New("queue full")
	if err := c.Subscribe("beds", KindCounter); err == nil {
		t.Fatal("other send errors should surface")
	}
}

func TestConsumer_OnConnectResubscribes(t *testing.T) {
	s := &fakeSender{err: wsclient.ErrNotConnected}
	c := NewConsumer(s, zerolog.Nop())
	_ = c.Subscribe("b", KindTable)
	_ = c.Subscribe("a", KindChart)

	s.err = nil
	c.OnConnect()

	got := s.Sent()
	if len(got) != 2 || got[0].sub.Channel != "a" || got[1].sub.Channel != "b" {
		t.Fatalf("expected sorted resubscribe of a,b got %+v", got)
	}
}

func TestConsumer_ChartCapped(t *testing.T) {
	c := NewConsumer(&fakeSender{}, zerolog.Nop())
	_ = c.Subscribe("hr", KindChart)

	for i := 0; i < 150; i++ {
		c.OnMessage(update(t, wire.TypeChartUpdate, ChartUpdate{Channel: "hr", Point: &Point{Timestamp: int64(i + 1), Value: float64(i)}}))
	}
	pts := c.Chart("hr")
	if len(pts) != MaxChartPoints {
		t.Fatalf("expected %d points, got %d", MaxChartPoints, len(pts))
	}
	if pts[0].Value != 50 || pts[len(pts)-1].Value != 149 {
		t.Fatalf("expected oldest-first 50..149, got %v..%v", pts[0].Value, pts[len(pts)-1].Value)
	}
}

func TestConsumer_ChartBatchAndTimestampDefault(t *testing.T) {
	c := NewConsumer(&fakeSender{}, zerolog.Nop())
	_ = c.Subscribe("bp", KindChart)

	m := update(t, wire.TypeChartUpdate, ChartUpdate{Channel: "bp", Points: []Point{{Value: 120}, {Value: 118, Timestamp: 9}}})
	c.OnMessage(m)

	pts := c.Chart("bp")
	if len(pts) != 2 || pts[0].Timestamp != m.Timestamp || pts[1].Timestamp != 9 {
		t.Fatalf("unexpected points %+v", pts)
	}
}

func TestConsumer_Counter(t *testing.T) {
	c := NewConsumer(&fakeSender{}, zerolog.Nop())
	_ = c.Subscribe("queue", KindCounter)

	c.OnMessage(update(t, wire.TypeCounterUpdate, CounterUpdate{Channel: "queue", Value: f(10)}))
	c.OnMessage(update(t, wire.TypeCounterUpdate, CounterUpdate{Channel: "queue", Delta: f(-3)}))
	c.OnMessage(update(t, wire.TypeCounterUpdate, CounterUpdate{Channel: "queue"}))

	if v, ok := c.Counter("queue"); !ok || v != 7 {
		t.Fatalf("expected 7, got %v (%v)", v, ok)
	}
}

func TestConsumer_TableNewestFirstAndCapped(t *testing.T) {
	c := NewConsumer(&fakeSender{}, zerolog.Nop())
	c.SetLimits(0, 3)
	_ = c.Subscribe("admissions", KindTable)

	c.OnMessage(update(t, wire.TypeTableUpdate, TableUpdate{Channel: "admissions", Row: Row{"id": "r1"}}))
	c.OnMessage(update(t, wire.TypeTableUpdate, TableUpdate{Channel: "admissions", Rows: []Row{{"id": "r3"}, {"id": "r2"}}}))
	c.OnMessage(update(t, wire.TypeTableUpdate, TableUpdate{Channel: "admissions", Row: Row{"id": "r4"}}))

	rows := c.Table("admissions")
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i, want := range []string{"r4", "r3", "r2"} {
		if rows[i]["id"] != want {
			t.Fatalf("rows[%d] = %v, want %s", i, rows[i]["id"], want)
		}
	}
}

func TestConsumer_IgnoresUnsubscribedAndMismatched(t *testing.T) {
	c := NewConsumer(&fakeSender{}, zerolog.Nop())
	_ = c.Subscribe("hr", KindChart)

	c.OnMessage(update(t, wire.TypeChartUpdate, ChartUpdate{Channel: "other", Point: &Point{Value: 1}}))
	c.OnMessage(update(t, wire.TypeCounterUpdate, CounterUpdate{Channel: "hr", Value: f(5)}))
	c.OnMessage(wire.Message{Type: wire.TypeChartUpdate, Data: []byte(`[1,2]`)})

	if len(c.Chart("other")) != 0 || len(c.Chart("hr")) != 0 {
		t.Fatal("no points should be recorded")
	}
	if _, ok := c.Counter("hr"); ok {
		t.Fatal("chart channel must not gain a counter")
	}
}

func TestConsumer_UnsubscribeDropsData(t *testing.T) {
	s := &fakeSender{}
	c := NewConsumer(s, zerolog.Nop())
	_ = c.Subscribe("hr", KindChart)
	c.OnMessage(update(t, wire.TypeChartUpdate, ChartUpdate{Channel: "hr", Point: &Point{Value: 1}}))

	if err := c.Unsubscribe("hr"); err != nil {
		t.Fatal(err)
	}
	if err := c.Unsubscribe("never"); err != nil {
		t.Fatal(err)
	}
	if len(c.Chart("hr")) != 0 || len(c.Subscriptions()) != 0 {
		t.Fatal("expected channel forgotten")
	}
	got := s.Sent()
	if got[len(got)-1].typ != wire.TypeUnsubscribe {
		t.Fatalf("expected unsubscribe last, got %+v", got)
	}
}

func TestConsumer_View(t *testing.T) {
	c := NewConsumer(nil, zerolog.Nop())
	_ = c.Subscribe("beds", KindCounter)
	_ = c.Subscribe("hr", KindChart)
	c.OnMessage(update(t, wire.TypeCounterUpdate, CounterUpdate{Channel: "beds", Value: f(4)}))

	view := c.View()
	if len(view) != 2 || view[0].Channel != "beds" || view[0].Value == nil || *view[0].Value != 4 {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"chart", "counter", "table"} {
		if _, err := ParseKind(s); err != nil {
			t.Errorf("ParseKind(%q): %v", s, err)
		}
	}
	if _, err := ParseKind("gauge"); err == nil {
		t.Error("expected error for gauge")
	}
}

// ---------------------------------------------------------------------------
// Processor
// ---------------------------------------------------------------------------

func TestProcessor_SubscribeUnsubscribe(t *testing.T) {
	hub := websocket.NewHub(zerolog.Nop())
	client := &websocket.Client{ID: "c1", Send: make(chan []byte, 4)}
	hub.Register(client)
	p := NewProcessor(hub)
	ctx := context.Background()

	if err := p.Process(ctx, client, update(t, wire.TypeSubscribe, wire.Subscription{Channel: "hr", DataType: "chart"})); err != nil {
		t.Fatal(err)
	}
	if hub.TopicCount(websocket.LiveTopic("hr")) != 1 {
		t.Fatal("expected client on live:hr")
	}
	if err := p.Process(ctx, client, update(t, wire.TypeUnsubscribe, wire.Subscription{Channel: "hr"})); err != nil {
		t.Fatal(err)
	}
	if hub.TopicCount(websocket.LiveTopic("hr")) != 0 {
		t.Fatal("expected client removed from live:hr")
	}
}

func TestProcessor_Rejects(t *testing.T) {
	hub := websocket.NewHub(zerolog.Nop())
	client := &websocket.Client{ID: "c1", Send: make(chan []byte, 4)}
	hub.Register(client)
	p := NewProcessor(hub)
	ctx := context.Background()

	if err := p.Process(ctx, client, update(t, wire.TypeSubscribe, wire.Subscription{Channel: "hr", DataType: "pie"})); err == nil {
		t.Error("expected bad dataType rejected")
	}
	if err := p.Process(ctx, client, update(t, wire.TypeSubscribe, wire.Subscription{DataType: "chart"})); err == nil {
		t.Error("expected missing channel rejected")
	}
	err := p.Process(ctx, client, update(t, wire.TypeCursorMove, nil))
	if !errors.Is(err, websocket.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}
