package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"mechgrid.ai/internal/protocol"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "client name")
		x      = flag.Int("x", 0, "origin x")
		y      = flag.Int("y", 0, "origin y")
		z      = flag.Int("z", 0, "origin z")
		length = flag.Int("length", 8, "axles between source and cog")
		every  = flag.Duration("query_every", time.Second, "interval between QUERY probes")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 64},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	origin := [3]int{*x, *y, *z}
	edits := drivePlan(origin, *length)
	tail := edits[len(edits)-1].Pos

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	msgs := make(chan []byte, 16)
	go func() {
		defer close(msgs)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msgs <- msg
		}
	}()

	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	var queries int
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			queries++
			q := protocol.QueryMsg{
				Type:            protocol.TypeQuery,
				ProtocolVersion: protocol.Version,
				QueryID:         fmt.Sprintf("Q%d", queries),
				Pos:             tail,
			}
			if err := conn.WriteJSON(q); err != nil {
				logger.Printf("send QUERY: %v", err)
				return
			}
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeWelcome:
				var w protocol.WelcomeMsg
				if err := json.Unmarshal(msg, &w); err != nil {
					continue
				}
				logger.Printf("WELCOME session=%s world=%s tick=%d tick_rate=%d", w.SessionID, w.WorldParams.WorldID, w.WorldParams.Tick, w.WorldParams.TickRateHz)
				for _, e := range edits {
					if err := conn.WriteJSON(e); err != nil {
						logger.Fatalf("send EDIT: %v", err)
					}
				}

			case protocol.TypeEditResult:
				var r protocol.EditResultMsg
				if err := json.Unmarshal(msg, &r); err != nil {
					continue
				}
				if !r.OK {
					logger.Printf("EDIT %s rejected code=%s msg=%s", r.EditID, r.Code, r.Message)
				}

			case protocol.TypeRotation:
				var r protocol.RotationMsg
				if err := json.Unmarshal(msg, &r); err != nil {
					continue
				}
				logger.Printf("ROTATION %s tick=%d pos=%v connected=%t dir=%s speed=%g", r.QueryID, r.Tick, r.Pos, r.Connected, r.Direction, r.Speed)
			}
		}
	}
}

// drivePlan lays an east-facing windmill at origin, length axles after it and
// a small cog at the end.
func drivePlan(origin [3]int, length int) []protocol.EditMsg {
	if length < 0 {
		length = 0
	}
	mk := func(i int, block string) protocol.EditMsg {
		return protocol.EditMsg{
			Type:            protocol.TypeEdit,
			ProtocolVersion: protocol.Version,
			EditID:          fmt.Sprintf("E%d", i),
			Op:              protocol.OpPlace,
			Pos:             [3]int{origin[0] + i, origin[1], origin[2]},
			Block:           block,
			Facing:          "EAST",
		}
	}
	out := make([]protocol.EditMsg, 0, length+2)
	out = append(out, mk(0, "WINDMILL"))
	for i := 1; i <= length; i++ {
		out = append(out, mk(i, "AXLE"))
	}
	out = append(out, mk(length+1, "SMALL_COG"))
	return out
}
