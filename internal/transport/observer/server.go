package observer

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"mechgrid.ai/internal/observerproto"
	"mechgrid.ai/internal/protocol"
	"mechgrid.ai/internal/sim/world"
)

// Server exposes a loopback-only, read-only feed for dashboards: a bootstrap
// JSON document and a websocket that streams OBS messages.
type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	return &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !IsLoopback(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.world.Config()
		v := s.world.View()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			WorldID:         cfg.ID,
			Tick:            v.Tick(),
			WorldParams: observerproto.WorldParams{
				TickRateHz:    cfg.TickRateHz,
				BoundaryR:     cfg.BoundaryR,
				ObsEveryTicks: cfg.ObsEveryTicks,
			},
			BlockPalette: s.world.Catalogs().Blocks.Palette,
			Blocks:       v.Len(),
			Networks:     make([]protocol.NetworkObs, 0, len(v.Networks())),
		}
		for _, nw := range v.Networks() {
			resp.Networks = append(resp.Networks, protocol.NetworkObs{
				ID:        nw.ID,
				Source:    [3]int{nw.Source.X, nw.Source.Y, nw.Source.Z},
				Direction: nw.Drive.Direction.String(),
				Speed:     nw.Drive.Speed,
				Members:   nw.Members,
			})
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

// WSHandler upgrades, waits for SUBSCRIBE, then streams OBS until the client
// goes away. Pings keep idle proxies from closing the socket between OBS.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !IsLoopback(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := readSubscribe(conn); err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, err.Error())
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 16)
		select {
		case s.world.Subscribe() <- world.Subscription{ID: sid, Out: out}:
		default:
			closeWith(conn, websocket.CloseTryAgainLater, "server busy")
			return
		}
		defer func() {
			select {
			case s.world.Unsubscribe() <- sid:
			default:
			}
		}()
		if s.log != nil {
			s.log.Printf("observer %s subscribed from %s", sid, r.RemoteAddr)
		}

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(idleTimeout))
			})
			for {
				_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(pingEvery)
		defer ping.Stop()
		for {
			select {
			case <-gone:
				return
			case b := <-out:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					return
				}
			}
		}
	}
}

const (
	idleTimeout  = 60 * time.Second
	pingEvery    = 20 * time.Second
	writeTimeout = 5 * time.Second
)

func readSubscribe(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != observerproto.TypeSubscribe {
		return fmt.Errorf("expected SUBSCRIBE")
	}
	if sub.ProtocolVersion != observerproto.Version {
		return fmt.Errorf("unsupported protocol_version %q", sub.ProtocolVersion)
	}
	return nil
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

// IsLoopback reports whether remoteAddr (host:port or bare host) is a
// loopback address.
func IsLoopback(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
