package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mechgrid.ai/internal/observerproto"
	"mechgrid.ai/internal/protocol"
	"mechgrid.ai/internal/sim/catalogs"
	"mechgrid.ai/internal/sim/world"
)

func TestBootstrapHandler(t *testing.T) {
	w, err := world.New(world.WorldConfig{ID: "obs"}, catalogs.Defaults())
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	w.StepEdits([]world.EditEnvelope{{ClientID: "c1", Edit: protocol.EditMsg{
		Op: protocol.OpPlace, Pos: [3]int{0, 0, 0}, Block: "WATER_WHEEL", Facing: "NORTH",
	}}})
	h := NewServer(w, nil).BootstrapHandler()

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/observer/bootstrap", nil)
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-loopback status=%d, want 403", rec.Code)
	}

	req.RemoteAddr = "127.0.0.1:4242"
	rec = httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp observerproto.BootstrapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WorldID != "obs" || resp.Tick != 1 || resp.Blocks != 1 || len(resp.Networks) != 1 {
		t.Fatalf("bootstrap=%+v", resp)
	}
	if nw := resp.Networks[0]; nw.Direction != "NORTH" || nw.Speed != 4 || nw.Members != 1 {
		t.Fatalf("network=%+v", nw)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:80":     true,
		"10.0.0.1:80":  false,
		"garbage":      false,
	}
	for addr, want := range cases {
		if got := IsLoopback(addr); got != want {
			t.Fatalf("IsLoopback(%q)=%v, want %v", addr, got, want)
		}
	}
}

func TestWSHandlerStreamsObs(t *testing.T) {
	w, err := world.New(world.WorldConfig{ID: "obs", TickRateHz: 200, ObsEveryTicks: 1}, catalogs.Defaults())
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	w.StepEdits([]world.EditEnvelope{{ClientID: "c1", Edit: protocol.EditMsg{
		Op: protocol.OpPlace, Pos: [3]int{0, 0, 0}, Block: "WATER_WHEEL", Facing: "NORTH",
	}}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	srv := httptest.NewServer(NewServer(w, nil).WSHandler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var obs protocol.ObsMsg
	if err := json.Unmarshal(msg, &obs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if obs.Type != protocol.TypeObs || obs.Blocks != 1 || len(obs.Networks) != 1 {
		t.Fatalf("obs=%+v", obs)
	}
}

func TestWSHandlerRejectsMissingSubscribe(t *testing.T) {
	w, err := world.New(world.WorldConfig{ID: "obs"}, catalogs.Defaults())
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	srv := httptest.NewServer(NewServer(w, nil).WSHandler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(map[string]string{"type": "HELLO"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v, want policy violation close", err)
	}
}
