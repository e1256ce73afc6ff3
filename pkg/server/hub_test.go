package server

import (
	"testing"
	"time"

	"github.com/relaykv/relaykv/pkg/binlog"
	"github.com/relaykv/relaykv/pkg/config"
)

func testConfig(t *testing.T, peers ...config.PeerConfig) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ServerID = 1
	cfg.DataDir = t.TempDir()
	cfg.CacheCapacity = 128
	cfg.TrysyncInterval = 50 * time.Millisecond
	cfg.Peers = peers
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Test config invalid: %v", err)
	}
	return &cfg
}

// TestHub_StartStop tests the hub lifecycle with no peers configured
func TestHub_StartStop(t *testing.T) {
	hub, err := New(testConfig(t), nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := hub.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := hub.Start(); err == nil {
		t.Error("Expected second Start to fail")
	}
	if err := hub.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := hub.Stop(); err != nil {
		t.Errorf("Expected repeated Stop to be a no-op, got %v", err)
	}
}

// TestHub_ApplyWrite tests the local write path
func TestHub_ApplyWrite(t *testing.T) {
	hub, err := New(testConfig(t), nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := hub.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer hub.Stop()

	if err := hub.ApplyWrite(binlog.OpSet, "k", "v", 100); err != nil {
		t.Fatalf("ApplyWrite failed: %v", err)
	}

	state := hub.ReplicationState()
	if state.BinlogNumber != 0 || state.BinlogOffset == 0 {
		t.Errorf("Expected the write to land in segment 0, got (%d, %d)",
			state.BinlogNumber, state.BinlogOffset)
	}
}

// TestHub_ReplicationState tests the status snapshot before any handshakes
func TestHub_ReplicationState(t *testing.T) {
	hub, err := New(testConfig(t,
		config.PeerConfig{ID: 2, IP: "10.0.0.2", Port: 6379},
		config.PeerConfig{ID: 3, IP: "10.0.0.3", Port: 6379},
	), nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	state := hub.ReplicationState()
	if state.ServerID != 1 {
		t.Errorf("Expected server id 1, got %d", state.ServerID)
	}
	if len(state.Peers) != 2 {
		t.Fatalf("Expected 2 peers, got %d", len(state.Peers))
	}

	first := state.Peers[0]
	if first.ID != 2 || first.Addr != "10.0.0.2:6379" {
		t.Errorf("Expected peer 2 at 10.0.0.2:6379, got %d at %s", first.ID, first.Addr)
	}
	if !first.NeedsSync {
		t.Error("Expected a fresh peer to need sync")
	}
	if first.Diagnostic != "none" {
		t.Errorf("Expected diagnostic none, got %s", first.Diagnostic)
	}
	if first.SenderAlive {
		t.Error("Expected no sender before a handshake")
	}

	// The offset matrix covers the full configured id grid.
	if len(state.RecoverOffsets) != 3 {
		t.Errorf("Expected a 3-row offset matrix, got %d rows", len(state.RecoverOffsets))
	}
}

// TestHub_MarkPeer tests the removal and resync flags
func TestHub_MarkPeer(t *testing.T) {
	hub, err := New(testConfig(t,
		config.PeerConfig{ID: 2, IP: "10.0.0.2", Port: 6379},
	), nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if !hub.MarkPeerForRemoval(2) {
		t.Error("Expected removal mark to succeed for a known peer")
	}
	if hub.MarkPeerForRemoval(9) {
		t.Error("Expected removal mark to fail for an unknown peer")
	}
	if !hub.MarkPeerForSync(2) {
		t.Error("Expected sync mark to succeed for a known peer")
	}
	if hub.MarkPeerForSync(9) {
		t.Error("Expected sync mark to fail for an unknown peer")
	}
}
