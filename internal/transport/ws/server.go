package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"mechgrid.ai/internal/protocol"
	"mechgrid.ai/internal/sim/kinetics"
	"mechgrid.ai/internal/sim/world"
)

type Server struct {
	world     *world.World
	log       *log.Logger
	validator *protocol.Validator

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(w *world.World, logger *log.Logger) (*Server, error) {
	v, err := protocol.NewValidator()
	if err != nil {
		return nil, err
	}
	return &Server{
		world:     w,
		log:       logger,
		validator: v,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}, nil
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sid, hello, ok := s.handshake(conn)
		if !ok {
			return
		}

		maxQ := hello.Capabilities.MaxQueue
		if maxQ <= 0 {
			maxQ = 32
		}
		if maxQ > 256 {
			maxQ = 256
		}
		out := make(chan []byte, maxQ)
		results := make(chan protocol.EditResultMsg, maxQ)

		if hello.Capabilities.Observe {
			s.world.Subscribe() <- world.Subscription{ID: sid, Out: out}
			defer func() {
				select {
				case s.world.Unsubscribe() <- sid:
				default:
				}
			}()
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case b = <-out:
				case res := <-results:
					b, _ = json.Marshal(res)
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeEdit:
				s.handleEdit(sid, msg, results)
			case protocol.TypeQuery:
				s.handleQuery(msg, out)
			}
		}
	}
}

func (s *Server) handleEdit(sid string, msg []byte, results chan protocol.EditResultMsg) {
	var edit protocol.EditMsg
	_ = json.Unmarshal(msg, &edit)

	reject := func(code, message string) {
		select {
		case results <- protocol.EditResultMsg{
			Type:            protocol.TypeEditResult,
			ProtocolVersion: protocol.Version,
			EditID:          edit.EditID,
			Tick:            s.world.CurrentTick(),
			Code:            code,
			Message:         message,
		}:
		default:
		}
	}
	if err := s.validator.Validate(protocol.TypeEdit, msg); err != nil {
		reject(protocol.ErrProtoBadRequest, err.Error())
		return
	}
	if edit.ProtocolVersion != protocol.Version {
		reject(protocol.ErrProtoBadRequest, "bad protocol_version")
		return
	}
	select {
	case s.world.Inbox() <- world.EditEnvelope{ClientID: sid, Edit: edit, Resp: results}:
	default:
		reject(protocol.ErrWorldBusy, "world inbox full")
	}
}

// handleQuery answers from the published view without entering the world loop.
func (s *Server) handleQuery(msg []byte, out chan []byte) {
	if err := s.validator.Validate(protocol.TypeQuery, msg); err != nil {
		return
	}
	var q protocol.QueryMsg
	if err := json.Unmarshal(msg, &q); err != nil {
		return
	}
	b, _ := json.Marshal(Rotation(s.world.View(), q))
	select {
	case out <- b:
	default:
	}
}

// Rotation builds the ROTATION reply for a query against v.
func Rotation(v *world.View, q protocol.QueryMsg) protocol.RotationMsg {
	resp := protocol.RotationMsg{
		Type:            protocol.TypeRotation,
		ProtocolVersion: protocol.Version,
		QueryID:         q.QueryID,
		Tick:            v.Tick(),
		Pos:             q.Pos,
	}
	p, ok := v.Get(kinetics.Pos{X: q.Pos[0], Y: q.Pos[1], Z: q.Pos[2]})
	if !ok {
		return resp
	}
	resp.Registered = true
	resp.Block = p.Block.ID
	for _, d := range p.Entry.Node.Faces.Dirs() {
		resp.Faces = append(resp.Faces, d.String())
	}
	if id, ok := p.Entry.State.Network(); ok {
		resp.Connected = true
		resp.NetworkID = id
	}
	if d, ok := p.Entry.State.EntryDirection(); ok {
		resp.Entry = d.String()
	}
	if r, ok := p.Entry.Output(); ok {
		resp.Direction = r.Direction.String()
		resp.Speed = r.Speed
	}
	return resp
}

func (s *Server) handshake(conn *websocket.Conn) (string, protocol.HelloMsg, bool) {
	var hello protocol.HelloMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", hello, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return "", hello, false
	}
	if err := s.validator.Validate(protocol.TypeHello, msg); err != nil {
		closeWith(conn, "bad HELLO")
		return "", hello, false
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", hello, false
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return "", hello, false
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	sid := fmt.Sprintf("S%d", s.nextID.Add(1))
	cfg := s.world.Config()
	cats := s.world.Catalogs()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sid,
		WorldParams: protocol.WorldParams{
			WorldID:    cfg.ID,
			TickRateHz: cfg.TickRateHz,
			BoundaryR:  cfg.BoundaryR,
			Tick:       s.world.CurrentTick(),
		},
		Catalog: protocol.CatalogDigests{
			Palette:       cats.Blocks.Palette,
			PaletteDigest: cats.Blocks.PaletteDigest,
			DefsDigest:    cats.Blocks.DefsDigest,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", hello, false
	}
	if s.log != nil {
		s.log.Printf("session %s: %s connected", sid, hello.ClientName)
	}
	return sid, hello, true
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
