package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	MaxQueue int  `json:"max_queue,omitempty"`
	Observe  bool `json:"observe,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	WorldParams     WorldParams    `json:"world_params"`
	Catalog         CatalogDigests `json:"catalog"`
}

type WorldParams struct {
	WorldID    string `json:"world_id"`
	TickRateHz int    `json:"tick_rate_hz"`
	BoundaryR  int    `json:"boundary_r"`
	Tick       uint64 `json:"tick"`
}

type CatalogDigests struct {
	Palette       []string `json:"palette"`
	PaletteDigest string   `json:"palette_digest"`
	DefsDigest    string   `json:"defs_digest"`
}

// Edit ops.
const (
	OpPlace     = "PLACE"
	OpBreak     = "BREAK"
	OpConfigure = "CONFIGURE"
)

// EDIT (client -> server). Faces, when set, replaces the block's declared faces;
// Engaged toggles a clutch.
type EditMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	EditID          string   `json:"edit_id,omitempty"`
	Op              string   `json:"op"`
	Pos             [3]int   `json:"pos"`
	Block           string   `json:"block,omitempty"`
	Facing          string   `json:"facing,omitempty"`
	Turn            string   `json:"turn,omitempty"`
	Faces           []string `json:"faces,omitempty"`
	Engaged         *bool    `json:"engaged,omitempty"`
}

// EDIT_RESULT (server -> client)
type EditResultMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	EditID          string  `json:"edit_id,omitempty"`
	Tick            uint64  `json:"tick"`
	OK              bool    `json:"ok"`
	Code            string  `json:"code,omitempty"`
	Message         string  `json:"message,omitempty"`
	NetworkID       *uint64 `json:"network_id,omitempty"`
}

// QUERY (client -> server)
type QueryMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	QueryID         string `json:"query_id,omitempty"`
	Pos             [3]int `json:"pos"`
}

// ROTATION (server -> client), the answer to QUERY.
type RotationMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	QueryID         string   `json:"query_id,omitempty"`
	Tick            uint64   `json:"tick"`
	Pos             [3]int   `json:"pos"`
	Registered      bool     `json:"registered"`
	Block           string   `json:"block,omitempty"`
	Faces           []string `json:"faces,omitempty"`
	Connected       bool     `json:"connected"`
	NetworkID       uint64   `json:"network_id,omitempty"`
	Entry           string   `json:"entry,omitempty"`
	Direction       string   `json:"direction,omitempty"`
	Speed           float32  `json:"speed,omitempty"`
}

// OBS (server -> observing clients), sent every obs_every_ticks.
type ObsMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	Blocks          int          `json:"blocks"`
	Networks        []NetworkObs `json:"networks"`
}

type NetworkObs struct {
	ID        uint64  `json:"id"`
	Source    [3]int  `json:"source"`
	Direction string  `json:"direction"`
	Speed     float32 `json:"speed"`
	Members   int     `json:"members"`
}
