package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mechgrid.ai/internal/protocol"
	"mechgrid.ai/internal/sim/catalogs"
	"mechgrid.ai/internal/sim/world"
)

func startWorld(t *testing.T) *world.World {
	t.Helper()
	w, err := world.New(world.WorldConfig{ID: "test", TickRateHz: 50}, catalogs.Defaults())
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func dial(t *testing.T, w *world.World, hello string) *websocket.Conn {
	t.Helper()
	s, err := NewServer(w, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.WriteMessage(websocket.TextMessage, []byte(hello)); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
}

func TestHandler_HelloEditQuery(t *testing.T) {
	w := startWorld(t)
	conn := dial(t, w, `{"type":"HELLO","protocol_version":"1.0","client_name":"tester"}`)

	var welcome protocol.WelcomeMsg
	readJSON(t, conn, &welcome)
	if welcome.Type != protocol.TypeWelcome || welcome.SessionID == "" || welcome.WorldParams.WorldID != "test" {
		t.Fatalf("welcome=%+v", welcome)
	}
	if welcome.Catalog.PaletteDigest != catalogs.Defaults().Blocks.PaletteDigest {
		t.Fatalf("palette digest mismatch")
	}

	edit := `{"type":"EDIT","protocol_version":"1.0","edit_id":"e1","op":"PLACE","pos":[0,0,0],"block":"WINDMILL","facing":"EAST"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(edit)); err != nil {
		t.Fatalf("write edit: %v", err)
	}
	var res protocol.EditResultMsg
	readJSON(t, conn, &res)
	if res.Type != protocol.TypeEditResult || res.EditID != "e1" || !res.OK || res.NetworkID == nil {
		t.Fatalf("edit result=%+v", res)
	}

	// The view is published at the end of the tick that applied the edit.
	deadline := time.Now().Add(3 * time.Second)
	for {
		q := `{"type":"QUERY","protocol_version":"1.0","query_id":"q1","pos":[0,0,0]}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(q)); err != nil {
			t.Fatalf("write query: %v", err)
		}
		var rot protocol.RotationMsg
		readJSON(t, conn, &rot)
		if rot.Type != protocol.TypeRotation || rot.QueryID != "q1" {
			t.Fatalf("rotation=%+v", rot)
		}
		if rot.Registered {
			if rot.Block != "WINDMILL" || !rot.Connected || rot.Direction != "EAST" || rot.Speed != 8 || rot.Entry != "" {
				t.Fatalf("rotation=%+v", rot)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("placed block never appeared in the view")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestHandler_RejectsInvalidEdit(t *testing.T) {
	w := startWorld(t)
	conn := dial(t, w, `{"type":"HELLO","protocol_version":"1.0","client_name":"tester"}`)
	var welcome protocol.WelcomeMsg
	readJSON(t, conn, &welcome)

	bad := `{"type":"EDIT","protocol_version":"1.0","edit_id":"e2","op":"PLACE","pos":[0,0]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(bad)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var res protocol.EditResultMsg
	readJSON(t, conn, &res)
	if res.OK || res.Code != protocol.ErrProtoBadRequest || res.EditID != "e2" {
		t.Fatalf("result=%+v", res)
	}
}

func TestHandler_ObserveReceivesObs(t *testing.T) {
	w, err := world.New(world.WorldConfig{ID: "test", TickRateHz: 50, ObsEveryTicks: 1}, catalogs.Defaults())
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	conn := dial(t, w, `{"type":"HELLO","protocol_version":"1.0","client_name":"watcher","capabilities":{"observe":true}}`)
	var welcome protocol.WelcomeMsg
	readJSON(t, conn, &welcome)

	var obs protocol.ObsMsg
	readJSON(t, conn, &obs)
	if obs.Type != protocol.TypeObs {
		t.Fatalf("obs=%+v", obs)
	}
}

func TestHandler_RejectsMissingHello(t *testing.T) {
	w := startWorld(t)
	conn := dial(t, w, `{"type":"QUERY","protocol_version":"1.0","pos":[0,0,0]}`)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v, want policy violation close", err)
	}
}

func TestRotation_UnregisteredPos(t *testing.T) {
	w, _ := world.New(world.WorldConfig{}, catalogs.Defaults())
	rot := Rotation(w.View(), protocol.QueryMsg{QueryID: "q", Pos: [3]int{5, 5, 5}})
	if rot.Registered || rot.Connected || rot.Pos != [3]int{5, 5, 5} || rot.QueryID != "q" {
		t.Fatalf("rotation=%+v", rot)
	}
}
