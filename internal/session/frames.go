package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nodemc/mapsync/internal/command"
	"github.com/nodemc/mapsync/internal/dispatcher"
	"github.com/nodemc/mapsync/internal/mirror"
	"github.com/nodemc/mapsync/internal/status"
	"github.com/nodemc/mapsync/internal/storage"
	"github.com/nodemc/mapsync/pkg/protocol"
)

func (m *Manager) registerHandlers() {
	r := m.router
	r.Register(protocol.TypeHandshakeAck, m.handleHandshakeAck, dispatcher.Logged())
	r.Register(protocol.TypeSnapshotFull, m.handleSnapshot, dispatcher.Logged())
	r.Register(protocol.TypePositions, m.handleSnapshot, dispatcher.Logged())
	r.Register(protocol.TypePatch, m.handlePatch)
	r.Register(protocol.TypeDigest, m.handleDigest, dispatcher.Logged())
	r.Register(protocol.TypeAdminAck, m.handleAdminAck, dispatcher.Logged())
	r.Register(protocol.TypePong, m.handlePong)
	r.Register(protocol.TypeWaypointsUpdate, m.handleWaypointsUpdate)
	r.Register(protocol.TypeWaypointsDelete, m.handleWaypointsDelete)
	r.Fallback(m.handleUntyped)
}

func (m *Manager) onMessage(data []byte, received time.Time) {
	m.counters.Frames++
	typ, err := protocol.Peek(data)
	if err != nil {
		m.fail(&mirror.MalformedMessageError{Err: err})
		return
	}

	err = m.router.Dispatch(dispatcher.Frame{Type: typ, Data: data, Received: received})
	switch {
	case err == nil:
	case errors.Is(err, dispatcher.ErrUnknownType):
		m.logger.Debug("ignoring frame", "type", typ)
	default:
		m.fail(err)
	}
}

// fail records a frame-level error. The channel stays open.
func (m *Manager) fail(err error) {
	var malformed *mirror.MalformedMessageError
	if errors.As(err, &malformed) {
		m.counters.Malformed++
	}
	m.lastError = err.Error()
	m.logger.Warn("frame rejected", "error", err)
}

func decode(f dispatcher.Frame, v any) error {
	if err := json.Unmarshal(f.Data, v); err != nil {
		return &mirror.MalformedMessageError{Type: f.Type, Err: err}
	}
	return nil
}

func (m *Manager) handleHandshakeAck(f dispatcher.Frame) error {
	var ack protocol.HandshakeAck
	if err := decode(f, &ack); err != nil {
		return err
	}
	m.protocolVersion = ack.ProtocolVersion
	m.deltaEnabled = ack.DeltaEnabled
	m.digestInterval = ack.DigestIntervalSec
	if ack.Rev != nil {
		m.mirror.SetRevision(*ack.Rev)
	}
	m.logger.Info("handshake acknowledged",
		"protocolVersion", ack.ProtocolVersion,
		"deltaEnabled", ack.DeltaEnabled,
		"digestIntervalSec", ack.DigestIntervalSec)
	return nil
}

func (m *Manager) handleSnapshot(f dispatcher.Frame) error {
	s, err := protocol.DecodeSnapshot(f.Data)
	if err != nil {
		return &mirror.MalformedMessageError{Type: f.Type, Err: err}
	}
	m.applySnapshot(f.Type, s)
	return nil
}

// handleUntyped accepts the legacy admin broadcast: an object without a
// type that carries players.
func (m *Manager) handleUntyped(f dispatcher.Frame) error {
	if f.Type != "" {
		return fmt.Errorf("%w: %q", dispatcher.ErrUnknownType, f.Type)
	}
	s, err := protocol.DecodeSnapshot(f.Data)
	if err != nil {
		return &mirror.MalformedMessageError{Err: err}
	}
	if s.Players == nil {
		return fmt.Errorf("%w: untyped frame without players", dispatcher.ErrUnknownType)
	}
	m.applySnapshot("legacy", s)
	return nil
}

func (m *Manager) applySnapshot(source string, s *protocol.Snapshot) {
	res := m.mirror.ApplySnapshot(s)
	m.counters.Snapshots++
	m.phase = status.PhaseSynchronized
	if len(res.Skipped) > 0 {
		m.logger.Warn("skipped undecodable records", "ids", res.Skipped)
	}
	m.project()
	m.record(storage.KindSnapshot, map[string]any{
		"source": source,
		"counts": scopeCounts(res.Counts),
	})
}

func (m *Manager) handlePatch(f dispatcher.Frame) error {
	var p protocol.Patch
	if err := decode(f, &p); err != nil {
		return err
	}
	return m.applyPatch(&p)
}

func (m *Manager) handleWaypointsUpdate(f dispatcher.Frame) error {
	var u protocol.WaypointsUpdate
	if err := decode(f, &u); err != nil {
		return err
	}
	return m.applyPatch(&protocol.Patch{
		Type:      protocol.TypePatch,
		Waypoints: &protocol.ScopePatch{Upsert: u.Waypoints},
	})
}

func (m *Manager) handleWaypointsDelete(f dispatcher.Frame) error {
	var d protocol.WaypointsDelete
	if err := decode(f, &d); err != nil {
		return err
	}
	return m.applyPatch(&protocol.Patch{
		Type:      protocol.TypePatch,
		Waypoints: &protocol.ScopePatch{Delete: d.WaypointIDs},
	})
}

func (m *Manager) applyPatch(p *protocol.Patch) error {
	res, err := m.mirror.ApplyPatch(p)

	var drift *mirror.DriftError
	switch {
	case errors.Is(err, mirror.ErrPatchBeforeBaseline):
		m.requestResync(protocol.ResyncReasonNoBaseline)
		return err
	case errors.As(err, &drift):
		m.counters.Drift++
		m.metrics.drift.Add(m.life, 1)
	}

	m.counters.Patches++
	m.project()

	detail := map[string]any{"changed": res.Changed()}
	if drift != nil {
		ids := make(map[string][]string, len(drift.IDs))
		for scope, list := range drift.IDs {
			ids[string(scope)] = list
		}
		detail["drift"] = ids
	}
	m.record(storage.KindPatch, detail)

	if drift != nil {
		m.requestResync(protocol.ResyncReasonDrift)
	}
	return err
}

func (m *Manager) handleDigest(f dispatcher.Frame) error {
	var d protocol.Digest
	if err := decode(f, &d); err != nil {
		return err
	}
	if !m.mirror.HasBaseline() {
		return nil
	}
	if d.Rev != nil && *d.Rev != m.mirror.Revision() {
		m.logger.Debug("digest for another revision", "digestRev", *d.Rev, "revision", m.mirror.Revision())
		return nil
	}

	bad := m.mirror.VerifyDigest(d.Hashes)
	if len(bad) == 0 {
		return nil
	}
	scopes := make([]string, len(bad))
	for i, s := range bad {
		scopes[i] = string(s)
	}
	m.counters.DigestMismatches++
	m.logger.Warn("digest mismatch", "scopes", scopes, "revision", m.mirror.Revision())
	m.record(storage.KindDigestMismatch, map[string]any{"scopes": scopes})
	m.requestResync(protocol.ResyncReasonDigest)
	return nil
}

func (m *Manager) handleAdminAck(f dispatcher.Frame) error {
	var ack protocol.AdminAck
	if err := decode(f, &ack); err != nil {
		return err
	}
	m.commands.HandleAck(ack)
	return nil
}

func (m *Manager) handlePong(dispatcher.Frame) error {
	m.lastError = ""
	return nil
}

// requestResync sends resync_req unless one went out within the cooldown.
func (m *Manager) requestResync(reason string) bool {
	if !m.limiter.Allow() {
		m.logger.Debug("resync suppressed by cooldown", "reason", reason)
		return false
	}
	ok := m.send(protocol.ResyncRequest{
		Type:     protocol.TypeResyncRequest,
		Reason:   reason,
		AckRev:   m.mirror.Revision(),
		ClientID: m.opts.ClientID,
	})
	if !ok {
		return false
	}
	m.counters.Resyncs++
	m.metrics.resyncs.Add(m.life, 1)
	if m.mirror.HasBaseline() {
		m.phase = status.PhaseResyncing
	}
	m.logger.Info("resync requested", "reason", reason, "ackRev", m.mirror.Revision())
	m.record(storage.KindResync, map[string]any{"reason": reason})
	return true
}

func (m *Manager) project() {
	if m.projector == nil {
		return
	}
	ops, err := m.projector.Project(m.mirror)
	if err != nil {
		m.logger.Warn("projection incomplete", "error", err)
	}
	if ops.Total() > 0 {
		m.logger.Debug("markers reconciled", "placed", ops.Placed, "updated", ops.Updated, "removed", ops.Removed)
	}
}

func (m *Manager) commandResult(err error) {
	switch {
	case err == nil:
		m.lastError = ""
	case errors.Is(err, command.ErrRefused):
		// send already recorded the cause
		m.counters.CommandsFailed++
	default:
		m.counters.CommandsFailed++
		m.lastError = err.Error()
	}
}

func (m *Manager) commandSent(in command.Intent) {
	m.counters.CommandsSent++
	m.record(storage.KindCommandSent, map[string]any{"type": in.Type})
}

func (m *Manager) commandAcked(in command.Intent, ack protocol.AdminAck) {
	detail := map[string]any{"type": in.Type, "ok": ack.OK}
	if ack.Error != "" {
		detail["error"] = ack.Error
	}
	m.record(storage.KindCommandAcked, detail)
}

func scopeCounts(in map[mirror.Scope]int) map[string]int {
	out := make(map[string]int, len(in))
	for s, n := range in {
		out[string(s)] = n
	}
	return out
}
