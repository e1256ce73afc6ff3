package replication

import (
	"bytes"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/relaykv/relaykv/pkg/binlog"
	"github.com/relaykv/relaykv/pkg/cache"
	"github.com/relaykv/relaykv/pkg/logging"
	"github.com/relaykv/relaykv/pkg/metrics"
)

// BinlogSender streams the local binlog to one peer. It owns its reader and
// its data connection; shared state is reached only through the registry,
// the offset matrix, and the conflict cache.
//
// The loop moves through connect → stream → (on failure) reset-reader →
// connect. Connection failures retry forever; read failures are bounded by
// MaxRetryTimes and then fatal for this peer until the next trysync.
type BinlogSender struct {
	serverID int32 // id of the peer this sender feeds
	ip       string
	port     int

	registry *PeerRegistry
	offsets  *OffsetMatrix
	cache    *cache.ConflictCache
	manager  binlog.Manager
	factory  ClientFactory
	logger   logging.Logger
	metrics  *metrics.Registry

	peerLabel string

	readerMu sync.Mutex
	reader   binlog.Reader

	errorTimes int

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// SenderOptions carries the dependencies of a BinlogSender.
type SenderOptions struct {
	ServerID int32
	IP       string
	Port     int

	Registry *PeerRegistry
	Offsets  *OffsetMatrix
	Cache    *cache.ConflictCache
	Manager  binlog.Manager

	// Reader positioned at the peer's resume point.
	Reader binlog.Reader

	Factory ClientFactory
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// NewBinlogSender creates a sender. The caller starts the loop with Run,
// usually on its own goroutine.
func NewBinlogSender(opts SenderOptions) *BinlogSender {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &BinlogSender{
		serverID:  opts.ServerID,
		ip:        opts.IP,
		port:      opts.Port,
		registry:  opts.Registry,
		offsets:   opts.Offsets,
		cache:     opts.Cache,
		manager:   opts.Manager,
		factory:   opts.Factory,
		logger:    logger.With(logging.Int32("peer", opts.ServerID)),
		metrics:   reg,
		peerLabel: strconv.FormatInt(int64(opts.ServerID), 10),
		reader:    opts.Reader,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run executes the sending loop until a fatal failure, a graceful reader
// exit, or Stop.
func (s *BinlogSender) Run() {
	defer close(s.done)

	s.metrics.ActiveSenders.Inc()
	defer s.metrics.ActiveSenders.Dec()

	var (
		cli         Client
		buf         bytes.Buffer
		resetReader bool
		rollback    uint64
	)
	defer func() {
		if cli != nil {
			cli.Close()
		}
		s.closeReader()
	}()

	for !s.shouldStop() {
		if resetReader {
			if !s.resetReader(rollback) {
				return
			}
			resetReader = false
		}

		if cli == nil {
			c := s.factory.NewClient()
			addr := net.JoinHostPort(s.ip, strconv.Itoa(s.port+DataPortOffset))
			if err := c.Connect(addr, ConnectTimeout); err != nil {
				s.logger.Error("connect to peer data channel failed",
					logging.String("addr", addr), logging.Err(err))
				s.metrics.ConnectFailuresTotal.WithLabelValues(s.peerLabel).Inc()
				if !s.sleep(connectRetryInterval) {
					return
				}
				continue
			}
			cli = c
			s.registry.Visit(s.serverID, func(st *PeerStatus) {
				st.Descriptor = cli.Descriptor()
				st.Diagnostic = DiagnosticNone
			})
			s.logger.Info("connected to peer data channel", logging.String("addr", addr))
		}

		// Flush the batch accumulated on the previous pass before
		// reading more. A failed transmission drops the connection and
		// regenerates the batch from the last durable resume point;
		// re-delivery is harmless because the commands are idempotent
		// and the receiver applies the same freshness check.
		if buf.Len() > 0 {
			if err := cli.Send(buf.Bytes(), SendTimeout); err != nil {
				s.logger.Error("send batch to peer failed", logging.Err(err))
				s.metrics.SendFailuresTotal.WithLabelValues(s.peerLabel).Inc()
				s.registry.Visit(s.serverID, func(st *PeerStatus) {
					st.Diagnostic = DiagnosticSendFailed
					st.Descriptor = -1
				})
				cli.Close()
				cli = nil
				buf.Reset()
				if !s.sleep(sendRetryInterval) {
					return
				}
				resetReader = true
				continue
			}
			buf.Reset()
		}

		records, err := s.currentReader().ReadRecords()
		switch {
		case err == nil:
			s.errorTimes = 0
			for i := range records {
				s.filterRecord(&records[i], &buf)
			}
			s.updateSendOffset(&rollback)

		case errors.Is(err, binlog.ErrReaderExit):
			s.logger.Info("reader exit")
			return

		default:
			s.errorTimes++
			if s.errorTimes > MaxRetryTimes {
				s.logger.Error("read records failed, disabling sender", logging.Err(err))
				s.metrics.FatalSendersTotal.Inc()
				s.registry.Visit(s.serverID, func(st *PeerStatus) {
					st.Diagnostic = DiagnosticFatal
					st.Descriptor = -1
					st.Sender = nil
				})
				return
			}
			s.logger.Warn("read records failed, retrying",
				logging.Int("attempt", s.errorTimes), logging.Err(err))
			s.metrics.ReadRetriesTotal.WithLabelValues(s.peerLabel).Inc()
			if !s.sleep(readRetryInterval) {
				return
			}
			resetReader = true
		}
	}
}

// filterRecord applies loop prevention and the last-writer-wins check, and
// appends the wire command for an accepted record to the send buffer.
func (s *BinlogSender) filterRecord(rec *binlog.Record, buf *bytes.Buffer) {
	// Never echo a peer's own writes back to it.
	if rec.ServerID == s.serverID {
		s.metrics.RecordsDroppedTotal.WithLabelValues(s.peerLabel, "self_origin").Inc()
		return
	}

	s.offsets.Advance(rec.ServerID, s.serverID, rec.FileNum)

	execTime, ok := s.cache.Lookup(rec.Key)
	if !ok {
		// Cannot establish freshness; fail safe by not forwarding.
		s.logger.Error("key not in conflict cache, dropping record",
			logging.String("key", rec.Key))
		s.metrics.CacheMissesTotal.Inc()
		s.metrics.RecordsDroppedTotal.WithLabelValues(s.peerLabel, "cache_miss").Inc()
		return
	}
	s.metrics.CacheHitsTotal.Inc()
	if rec.ExecTime < execTime {
		s.metrics.RecordsDroppedTotal.WithLabelValues(s.peerLabel, "stale").Inc()
		return
	}

	switch rec.Op {
	case binlog.OpSet:
		buf.Write(SerializeCommand("set", rec.Key, rec.Value))
	case binlog.OpDel:
		buf.Write(SerializeCommand("del", rec.Key))
	case binlog.OpExpireAt:
		buf.Write(SerializeCommand("expireat", rec.Key, rec.Value))
	}
	s.metrics.RecordsForwardedTotal.WithLabelValues(s.peerLabel).Inc()
}

// updateSendOffset persists the reader's position as the peer's durable
// resume point and folds the rollback segment forward. The rollback never
// passes what has been durably sent and never regresses.
func (s *BinlogSender) updateSendOffset(rollback *uint64) {
	number, offset := s.currentReader().Offset()
	s.registry.Visit(s.serverID, func(st *PeerStatus) {
		st.SendNumber = number
		st.SendOffset = offset
	})
	if number > *rollback+1 {
		*rollback = number - 1
	}
}

// resetReader disposes the current reader and reopens at segment rollback,
// byte offset 0. The persisted send offset is not guaranteed to sit on a
// record boundary, so resuming mid-segment could skip a partially-read
// record; re-reading the whole segment is safe under the freshness check.
// Returns false when the sender must stop.
func (s *BinlogSender) resetReader(rollback uint64) bool {
	s.closeReader()

	if !s.registry.Has(s.serverID) {
		s.logger.Error("peer vanished from registry during reset")
		return false
	}

	reader, err := s.manager.NewReader(rollback, 0)
	if err != nil {
		s.logger.Error("reopen reader failed, disabling sender",
			logging.Uint64("segment", rollback), logging.Err(err))
		s.metrics.FatalSendersTotal.Inc()
		s.registry.Visit(s.serverID, func(st *PeerStatus) {
			st.Diagnostic = DiagnosticFatal
			st.Descriptor = -1
			st.Sender = nil
		})
		return false
	}

	s.readerMu.Lock()
	s.reader = reader
	s.readerMu.Unlock()
	s.logger.Info("reset reader", logging.Uint64("segment", rollback))
	return true
}

func (s *BinlogSender) currentReader() binlog.Reader {
	s.readerMu.Lock()
	defer s.readerMu.Unlock()
	return s.reader
}

func (s *BinlogSender) closeReader() {
	s.readerMu.Lock()
	defer s.readerMu.Unlock()
	if s.reader != nil {
		s.reader.Close()
		s.reader = nil
	}
}

// Stop requests a cooperative shutdown. The reader is closed to unblock a
// pending read; the loop exits at the next iteration boundary.
func (s *BinlogSender) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.readerMu.Lock()
		if s.reader != nil {
			s.reader.Close()
		}
		s.readerMu.Unlock()
	})
}

// Done is closed when the sending loop has exited.
func (s *BinlogSender) Done() <-chan struct{} {
	return s.done
}

func (s *BinlogSender) shouldStop() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// sleep waits for d or until Stop, returning false on stop.
func (s *BinlogSender) sleep(d time.Duration) bool {
	select {
	case <-s.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}
