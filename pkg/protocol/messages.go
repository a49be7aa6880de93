// Package protocol defines the JSON messages exchanged with the sync server.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound message types.
const (
	TypeHandshakeAck    = "handshake_ack"
	TypeSnapshotFull    = "snapshot_full"
	TypePatch           = "patch"
	TypeDigest          = "digest"
	TypeAdminAck        = "admin_ack"
	TypePong            = "pong"
	TypePositions       = "positions"
	TypeWaypointsUpdate = "waypoints_update"
	TypeWaypointsDelete = "waypoints_delete"
)

// Outbound message types.
const (
	TypeHandshake           = "handshake"
	TypeResyncRequest       = "resync_req"
	TypePing                = "ping"
	TypeMarkSet             = "command_player_mark_set"
	TypeMarkClear           = "command_player_mark_clear"
	TypeMarkClearAll        = "command_player_mark_clear_all"
	TypeSameServerFilterSet = "command_same_server_filter_set"
)

const (
	ProtocolVersion        = 2
	NetworkProtocolVersion = "0.2.0"
	DefaultChannelPurpose  = "map_overlay"
)

// Reasons sent with resync_req.
const (
	ResyncReasonNoBaseline = "patch before baseline"
	ResyncReasonDrift      = "baseline_drift"
	ResyncReasonDigest     = "digest_mismatch"
	ResyncReasonManual     = "manual"
)

// Scope names as they appear on the wire.
const (
	ScopePlayers   = "players"
	ScopeEntities  = "entities"
	ScopeWaypoints = "waypoints"
	ScopeMarks     = "playerMarks"
)

// Envelope is the minimal shape shared by every message. Only the type is
// decoded; handlers decode the full frame into their own struct.
type Envelope struct {
	Type string `json:"type"`
}

// Peek returns the message type of a raw frame.
func Peek(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("malformed frame: %w", err)
	}
	return env.Type, nil
}

// Handshake declares client capabilities right after the channel opens.
type Handshake struct {
	Type                   string `json:"type"`
	ProtocolVersion        int    `json:"protocolVersion"`
	NetworkProtocolVersion string `json:"networkProtocolVersion"`
	SupportsDelta          bool   `json:"supportsDelta"`
	Channel                string `json:"channel"`
	RoomCode               string `json:"roomCode,omitempty"`
	ClientID               string `json:"submitPlayerId,omitempty"`
}

// NewHandshake builds the handshake for this client.
func NewHandshake(channel, roomCode, clientID string) Handshake {
	if channel == "" {
		channel = DefaultChannelPurpose
	}
	return Handshake{
		Type:                   TypeHandshake,
		ProtocolVersion:        ProtocolVersion,
		NetworkProtocolVersion: NetworkProtocolVersion,
		SupportsDelta:          true,
		Channel:                channel,
		RoomCode:               roomCode,
		ClientID:               clientID,
	}
}

// HandshakeAck is the server's answer to Handshake.
type HandshakeAck struct {
	Type              string  `json:"type"`
	Ready             bool    `json:"ready"`
	ProtocolVersion   int     `json:"protocolVersion"`
	DeltaEnabled      bool    `json:"deltaEnabled"`
	DigestIntervalSec float64 `json:"digestIntervalSec"`
	Rev               *int64  `json:"rev,omitempty"`
}

// Snapshot is a full replacement of the server state. The revision may be
// carried as "revision" (admin broadcast) or "rev" (delta protocol).
type Snapshot struct {
	Type        string                     `json:"type"`
	Revision    *int64                     `json:"revision,omitempty"`
	Rev         *int64                     `json:"rev,omitempty"`
	ServerTime  *float64                   `json:"server_time,omitempty"`
	Players     map[string]json.RawMessage `json:"players,omitempty"`
	Entities    map[string]json.RawMessage `json:"entities,omitempty"`
	Waypoints   map[string]json.RawMessage `json:"waypoints,omitempty"`
	PlayerMarks map[string]json.RawMessage `json:"playerMarks,omitempty"`

	// Aux holds every top-level key not listed above.
	Aux map[string]json.RawMessage `json:"-"`
}

var snapshotKeys = map[string]bool{
	"type": true, "revision": true, "rev": true, "server_time": true,
	ScopePlayers: true, ScopeEntities: true, ScopeWaypoints: true, ScopeMarks: true,
}

// DecodeSnapshot parses a full snapshot frame and collects auxiliary keys.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	s.Aux = make(map[string]json.RawMessage)
	for k, v := range all {
		if !snapshotKeys[k] {
			s.Aux[k] = v
		}
	}
	return &s, nil
}

// RevisionValue returns the carried revision, preferring "revision" over "rev".
func (s *Snapshot) RevisionValue() (int64, bool) {
	return pickRevision(s.Revision, s.Rev)
}

// ScopePatch is an upsert/delete delta for one scope.
type ScopePatch struct {
	Upsert map[string]json.RawMessage `json:"upsert,omitempty"`
	Delete []string                   `json:"delete,omitempty"`
}

// Patch carries one delta per scope.
type Patch struct {
	Type       string                     `json:"type"`
	Revision   *int64                     `json:"revision,omitempty"`
	Rev        *int64                     `json:"rev,omitempty"`
	ServerTime *float64                   `json:"server_time,omitempty"`
	Players    *ScopePatch                `json:"players,omitempty"`
	Entities   *ScopePatch                `json:"entities,omitempty"`
	Waypoints  *ScopePatch                `json:"waypoints,omitempty"`
	Meta       map[string]json.RawMessage `json:"meta,omitempty"`

	// PlayerMarks is either a ScopePatch or, when it has neither "upsert"
	// nor "delete", a full replacement map.
	PlayerMarks json.RawMessage `json:"playerMarks,omitempty"`
}

// MarksPatch interprets PlayerMarks. Exactly one of the results is non-nil
// when the patch touches marks at all.
func (p *Patch) MarksPatch() (*ScopePatch, map[string]json.RawMessage, error) {
	raw := bytes.TrimSpace(p.PlayerMarks)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil, nil
	}
	var node map[string]json.RawMessage
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, nil, fmt.Errorf("decoding playerMarks: %w", err)
	}
	_, hasUpsert := node["upsert"]
	_, hasDelete := node["delete"]
	if !hasUpsert && !hasDelete {
		return nil, node, nil
	}
	var sp ScopePatch
	if err := json.Unmarshal(raw, &sp); err != nil {
		return nil, nil, fmt.Errorf("decoding playerMarks: %w", err)
	}
	return &sp, nil, nil
}

// RevisionValue returns the carried revision, preferring "revision" over "rev".
func (p *Patch) RevisionValue() (int64, bool) {
	return pickRevision(p.Revision, p.Rev)
}

// Digest carries per-scope state hashes computed by the server.
type Digest struct {
	Type   string            `json:"type"`
	Rev    *int64            `json:"rev,omitempty"`
	Hashes map[string]string `json:"hashes"`
}

// AdminAck acknowledges the most recent command.
type AdminAck struct {
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// WaypointsUpdate is the legacy waypoint upsert frame.
type WaypointsUpdate struct {
	Type      string                     `json:"type"`
	Waypoints map[string]json.RawMessage `json:"waypoints"`
}

// WaypointsDelete is the legacy waypoint delete frame.
type WaypointsDelete struct {
	Type        string   `json:"type"`
	WaypointIDs []string `json:"waypointIds"`
}

// ResyncRequest asks the server for a fresh full snapshot.
type ResyncRequest struct {
	Type     string `json:"type"`
	Reason   string `json:"reason"`
	AckRev   int64  `json:"ackRev"`
	ClientID string `json:"submitPlayerId,omitempty"`
}

// Ping is the keepalive frame.
type Ping struct {
	Type string `json:"type"`
}

// MarkSet assigns a mark to a player.
type MarkSet struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
	Team     string `json:"team"`
	Color    string `json:"color"`
	Label    string `json:"label"`
}

// MarkClear removes a player's mark.
type MarkClear struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
}

// MarkClearAll removes every mark.
type MarkClearAll struct {
	Type string `json:"type"`
}

// SameServerFilterSet toggles the server-side same-server filter.
type SameServerFilterSet struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

func pickRevision(revision, rev *int64) (int64, bool) {
	if revision != nil {
		return *revision, true
	}
	if rev != nil {
		return *rev, true
	}
	return 0, false
}
