package world

import (
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"mechgrid.ai/internal/persistence/snapshot"
	"mechgrid.ai/internal/protocol"
	"mechgrid.ai/internal/sim/catalogs"
	"mechgrid.ai/internal/sim/kinetics"
)

type WorldConfig struct {
	ID         string
	TickRateHz int
	BoundaryR  int

	// Operational parameters. These are included in snapshots for deterministic replay/resume.
	SnapshotEveryTicks int
	ObsEveryTicks      int
	MaxEditsPerTick    int
	RateLimits         RateLimitConfig
}

type RateLimitConfig struct {
	EditWindowTicks int
	EditMax         int
}

func (c *WorldConfig) applyDefaults() {
	if c.ID == "" {
		c.ID = "world_1"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.BoundaryR <= 0 {
		c.BoundaryR = 4096
	}
	if c.MaxEditsPerTick <= 0 {
		c.MaxEditsPerTick = 256
	}
}

// Block is a placed mechanical block. Faces is zero unless the block was
// configured with explicit faces.
type Block struct {
	ID      string
	Facing  kinetics.Direction
	Turn    kinetics.Direction
	Engaged bool
	Faces   kinetics.Faces
}

func (b Block) placement() catalogs.Placement {
	return catalogs.Placement{Block: b.ID, Facing: b.Facing, Turn: b.Turn, Engaged: b.Engaged, Faces: b.Faces}
}

// EditEnvelope carries one client edit into the world loop. Resp, if set,
// should be buffered; a full channel drops the result.
type EditEnvelope struct {
	ClientID string
	Edit     protocol.EditMsg
	Resp     chan protocol.EditResultMsg
}

// Subscription registers Out to receive OBS messages.
type Subscription struct {
	ID  string
	Out chan []byte
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// Metrics receives world loop measurements. The manager's own mutation
// observer is attached separately via SetMutationObserver.
type Metrics interface {
	ObserveEdit(op string, code string)
	ObserveTick(d time.Duration, networks int, blocks int)
}

type TickLogEntry struct {
	Tick   uint64         `json:"tick"`
	Edits  []RecordedEdit `json:"edits,omitempty"`
	Digest string         `json:"digest"`
}

type RecordedEdit struct {
	ClientID string           `json:"client_id"`
	Edit     protocol.EditMsg `json:"edit"`
	OK       bool             `json:"ok"`
	Code     string           `json:"code,omitempty"`
}

type AuditEntry struct {
	Tick      uint64 `json:"tick"`
	Actor     string `json:"actor"`
	Action    string `json:"action"` // PLACE, BREAK, CONFIGURE
	Pos       [3]int `json:"pos"`
	Block     string `json:"block"`
	NetworkID uint64 `json:"network_id,omitempty"`
	Connected bool   `json:"connected"`
}

type rateWindow struct {
	start uint64
	count int
}

// World is a single-threaded authoritative simulation of mechanical blocks.
// All state except the published View must be accessed only from the world
// loop goroutine.
type World struct {
	cfg      WorldConfig
	catalogs *catalogs.Catalogs
	log      *log.Logger

	tick atomic.Uint64

	mgr    *kinetics.Manager
	blocks map[kinetics.Pos]Block
	rates  map[string]*rateWindow

	view atomic.Pointer[View]

	inbox       chan EditEnvelope
	subscribe   chan Subscription
	unsubscribe chan string
	snapshotReq chan chan uint64
	stop        chan struct{}
	subs        map[string]chan []byte

	// Optional sinks (may be nil).
	tickLogger   TickLogger
	auditLogger  AuditLogger
	snapshotSink chan<- snapshot.SnapshotV1
	metrics      Metrics
}

func New(cfg WorldConfig, cats *catalogs.Catalogs) (*World, error) {
	cfg.applyDefaults()
	if cats == nil {
		return nil, fmt.Errorf("world %s: nil catalogs", cfg.ID)
	}
	w := &World{
		cfg:         cfg,
		catalogs:    cats,
		log:         log.New(io.Discard, "", 0),
		mgr:         kinetics.NewManager(),
		blocks:      map[kinetics.Pos]Block{},
		rates:       map[string]*rateWindow{},
		inbox:       make(chan EditEnvelope, 1024),
		subscribe:   make(chan Subscription, 64),
		unsubscribe: make(chan string, 64),
		snapshotReq: make(chan chan uint64),
		stop:        make(chan struct{}),
		subs:        map[string]chan []byte{},
	}
	w.view.Store(emptyView())
	return w, nil
}

func (w *World) ID() string { return w.cfg.ID }
func (w *World) Config() WorldConfig { return w.cfg }
func (w *World) Catalogs() *catalogs.Catalogs { return w.catalogs }
func (w *World) CurrentTick() uint64 { return w.tick.Load() }
func (w *World) Inbox() chan<- EditEnvelope { return w.inbox }
func (w *World) Subscribe() chan<- Subscription { return w.subscribe }
func (w *World) Unsubscribe() chan<- string { return w.unsubscribe }
func (w *World) SetLogger(l *log.Logger) { w.log = l }
func (w *World) SetTickLogger(l TickLogger) { w.tickLogger = l }
func (w *World) SetAuditLogger(l AuditLogger) { w.auditLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }
func (w *World) SetMetrics(m Metrics) { w.metrics = m }
func (w *World) SetMutationObserver(o kinetics.Observer) { w.mgr.SetObserver(o) }
func (w *World) Stop() { close(w.stop) }

// View returns the latest published read-only view. Safe from any goroutine.
func (w *World) View() *View { return w.view.Load() }

// Validate checks the manager's invariants. World loop goroutine only.
func (w *World) Validate() error { return w.mgr.Validate() }
