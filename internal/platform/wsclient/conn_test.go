package wsclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ehr/clinic-live/pkg/wire"
)

var testUpgrader = gorillawebsocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestGorillaDialer_EchoAndHeader(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := &GorillaDialer{}
	header := http.Header{}
	header.Set("Authorization", "Bearer t0k3n")
	conn, err := d.Dial(context.Background(), wsURL(srv), header)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if got := <-gotAuth; got != "Bearer t0k3n" {
		t.Errorf("expected Authorization header, got %q", got)
	}

	if err := conn.WriteMessage(gorillawebsocket.TextMessage, []byte(`{"type":"subscribe"}`)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(data) != `{"type":"subscribe"}` {
		t.Errorf("unexpected echo %s", data)
	}
}

func TestGorillaDialer_NormalCloseMapsToErrConnClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = ws.WriteMessage(gorillawebsocket.CloseMessage,
			gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
		ws.Close()
	}))
	defer srv.Close()

	conn, err := (&GorillaDialer{}).Dial(context.Background(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	if !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
}

func TestGorillaDialer_RejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := (&GorillaDialer{}).Dial(context.Background(), wsURL(srv), nil)
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestManager_EndToEndWithGorilla(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = ws.WriteMessage(gorillawebsocket.TextMessage,
			[]byte(`{"type":"notification","data":{"id":"n1","title":"Lab ready"},"timestamp":5}`))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	m, err := New(Options{URL: wsURL(srv), Logger: zerolog.Nop()}, rec)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	m.Connect()
	rec.expect(t, "connect", "message")
	msg := <-rec.messages
	if msg.Type != wire.TypeNotification {
		t.Errorf("expected notification, got %s", msg.Type)
	}

	m.Disconnect()
	rec.expect(t, "disconnect")
	if m.Status().Attempts != 0 {
		t.Errorf("expected no reconnect attempts after Disconnect, got %d", m.Status().Attempts)
	}
}
