package observerproto

import "mechgrid.ai/internal/protocol"

// Version is the observer protocol version (separate from the client WS protocol).
const Version = "0.1"

const TypeSubscribe = "SUBSCRIBE"

// Client -> Server. First message on the observer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string                `json:"protocol_version"`
	WorldID         string                `json:"world_id"`
	Tick            uint64                `json:"tick"`
	WorldParams     WorldParams           `json:"world_params"`
	BlockPalette    []string              `json:"block_palette"`
	Blocks          int                   `json:"blocks"`
	Networks        []protocol.NetworkObs `json:"networks"`
}

type WorldParams struct {
	TickRateHz    int `json:"tick_rate_hz"`
	BoundaryR     int `json:"boundary_r"`
	ObsEveryTicks int `json:"obs_every_ticks"`
}
