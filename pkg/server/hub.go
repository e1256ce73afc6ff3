// Package server wires the hub together: binlog, conflict cache, peer
// registry, offset matrix, and the replication loops.
package server

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/relaykv/relaykv/pkg/binlog"
	"github.com/relaykv/relaykv/pkg/cache"
	"github.com/relaykv/relaykv/pkg/config"
	"github.com/relaykv/relaykv/pkg/logging"
	"github.com/relaykv/relaykv/pkg/metrics"
	"github.com/relaykv/relaykv/pkg/replication"
)

// Hub is the composition root of a relaykv node.
type Hub struct {
	cfg *config.Config

	log      *binlog.Binlog
	cache    *cache.ConflictCache
	registry *replication.PeerRegistry
	offsets  *replication.OffsetMatrix
	trysync  *replication.TrysyncSupervisor
	factory  replication.ClientFactory
	logger   logging.Logger
	metrics  *metrics.Registry

	senderWG  sync.WaitGroup
	running   bool
	runningMu sync.Mutex
}

// New builds a hub from the given configuration. logger and reg may be nil.
func New(cfg *config.Config, logger logging.Logger, reg *metrics.Registry) (*Hub, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}

	log, err := binlog.Open(cfg.DataDir, binlog.Config{SegmentSize: cfg.SegmentSize})
	if err != nil {
		return nil, fmt.Errorf("failed to open binlog: %w", err)
	}

	registry := replication.NewPeerRegistry()
	for _, p := range cfg.Peers {
		registry.Add(p.ID, &replication.PeerStatus{
			IP:        p.IP,
			Port:      p.Port,
			NeedsSync: true,
		})
	}

	h := &Hub{
		cfg:      cfg,
		log:      log,
		cache:    cache.NewConflictCache(cfg.CacheCapacity),
		registry: registry,
		offsets:  replication.NewOffsetMatrix(cfg.ServerIDs()),
		factory:  replication.TCPClientFactory{},
		logger:   logger,
		metrics:  reg,
	}

	h.trysync = replication.NewTrysyncSupervisor(
		replication.TrysyncConfig{
			LocalIP:   cfg.LocalIP,
			LocalPort: cfg.LocalPort,
			Interval:  cfg.TrysyncInterval,
		},
		registry, h.factory, logger, reg, h.startSender,
	)

	return h, nil
}

// Start launches the replication loops.
func (h *Hub) Start() error {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()

	if h.running {
		return fmt.Errorf("hub already running")
	}
	if err := h.trysync.Start(); err != nil {
		return err
	}
	h.running = true

	h.logger.Info("hub started",
		logging.Int32("server_id", h.cfg.ServerID),
		logging.Int("peers", h.registry.Len()))
	return nil
}

// Stop tears the hub down in reverse order: no new senders, then the
// running senders, then the binlog.
func (h *Hub) Stop() error {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()

	if !h.running {
		return nil
	}

	h.trysync.Stop()

	h.registry.Update(func(peers map[int32]*replication.PeerStatus) {
		for _, st := range peers {
			if st.Sender != nil {
				st.Sender.Stop()
				st.Sender = nil
			}
		}
	})
	h.senderWG.Wait()

	if err := h.log.Close(); err != nil {
		h.logger.Error("failed to close binlog", logging.Err(err))
	}

	h.running = false
	h.logger.Info("hub stopped")
	return nil
}

// ApplyWrite is the local write path: the operation is appended to the
// binlog and its exec time recorded in the conflict cache, making it
// visible to every peer's sender.
func (h *Hub) ApplyWrite(op binlog.OpCode, key, value string, execTime int32) error {
	rec := binlog.Record{
		ServerID: h.cfg.ServerID,
		Key:      key,
		Value:    value,
		Op:       op,
		ExecTime: execTime,
	}
	if err := h.log.Append(rec); err != nil {
		return err
	}
	h.cache.Put(key, execTime)

	h.metrics.BinlogWritesTotal.Inc()
	number, _ := h.log.Position()
	h.metrics.BinlogSegmentNumber.Set(float64(number))
	return nil
}

// MarkPeerForRemoval schedules a peer for disposal on the next supervisor
// cycle. Returns false when the peer is unknown.
func (h *Hub) MarkPeerForRemoval(id int32) bool {
	return h.registry.Visit(id, func(st *replication.PeerStatus) {
		st.MarkedForRemoval = true
	})
}

// MarkPeerForSync flags a peer for renegotiation, re-enabling a sender that
// went fatal. Returns false when the peer is unknown.
func (h *Hub) MarkPeerForSync(id int32) bool {
	return h.registry.Visit(id, func(st *replication.PeerStatus) {
		st.NeedsSync = true
		st.Diagnostic = replication.DiagnosticNone
	})
}

// startSender is installed as the supervisor's SenderStarter hook. The
// supervisor guarantees it is only called for peers without a live sender.
func (h *Hub) startSender(id int32) {
	st, ok := h.registry.Get(id)
	if !ok || st.MarkedForRemoval {
		return
	}

	reader, err := h.log.NewReader(st.SendNumber, st.SendOffset)
	if err != nil {
		h.logger.Error("failed to open reader for peer",
			logging.Int32("peer", id), logging.Err(err))
		h.registry.Visit(id, func(p *replication.PeerStatus) {
			p.Diagnostic = replication.DiagnosticFatal
		})
		return
	}

	sender := replication.NewBinlogSender(replication.SenderOptions{
		ServerID: id,
		IP:       st.IP,
		Port:     st.Port,
		Registry: h.registry,
		Offsets:  h.offsets,
		Cache:    h.cache,
		Manager:  h.log,
		Reader:   reader,
		Factory:  h.factory,
		Logger:   h.logger,
		Metrics:  h.metrics,
	})

	installed := false
	h.registry.Visit(id, func(p *replication.PeerStatus) {
		if p.Sender == nil && !p.MarkedForRemoval {
			p.Sender = sender
			installed = true
		}
	})
	if !installed {
		reader.Close()
		return
	}

	h.senderWG.Add(1)
	go func() {
		defer h.senderWG.Done()
		sender.Run()
	}()
	h.logger.Info("sender started", logging.Int32("peer", id))
}

// PeerState is one peer's replication status as reported over HTTP.
type PeerState struct {
	ID          int32  `json:"id"`
	Addr        string `json:"addr"`
	NeedsSync   bool   `json:"needs_sync"`
	Diagnostic  string `json:"diagnostic"`
	SenderAlive bool   `json:"sender_alive"`
	SendNumber  uint64 `json:"send_number"`
	SendOffset  uint64 `json:"send_offset"`
}

// ReplicationState is the hub-wide replication status.
type ReplicationState struct {
	ServerID       int32                       `json:"server_id"`
	Peers          []PeerState                 `json:"peers"`
	RecoverOffsets map[int32]map[int32]uint64  `json:"recover_offsets"`
	BinlogNumber   uint64                      `json:"binlog_number"`
	BinlogOffset   uint64                      `json:"binlog_offset"`
}

// ReplicationState snapshots the registry and offset matrix.
func (h *Hub) ReplicationState() ReplicationState {
	state := ReplicationState{
		ServerID:       h.cfg.ServerID,
		RecoverOffsets: h.offsets.Snapshot(),
	}
	state.BinlogNumber, state.BinlogOffset = h.log.Position()

	for _, id := range h.registry.IDs() {
		st, ok := h.registry.Get(id)
		if !ok {
			continue
		}
		state.Peers = append(state.Peers, PeerState{
			ID:          id,
			Addr:        net.JoinHostPort(st.IP, strconv.Itoa(st.Port)),
			NeedsSync:   st.NeedsSync,
			Diagnostic:  st.Diagnostic.String(),
			SenderAlive: st.Sender != nil,
			SendNumber:  st.SendNumber,
			SendOffset:  st.SendOffset,
		})
	}
	return state
}
