package replication

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relaykv/relaykv/pkg/logging"
	"github.com/relaykv/relaykv/pkg/metrics"
)

// SenderStarter is invoked by the supervisor after a successful handshake
// to bring up the peer's sending loop. The implementation must set the
// peer's Sender handle under the registry lock.
type SenderStarter func(id int32)

// TrysyncSupervisor periodically sweeps the peer registry: peers marked for
// removal are disposed, and peers that need (re)negotiation get a trysync
// handshake. Network I/O happens strictly outside the registry lock.
type TrysyncSupervisor struct {
	localIP   string
	localPort int
	interval  time.Duration

	registry    *PeerRegistry
	factory     ClientFactory
	logger      logging.Logger
	metrics     *metrics.Registry
	startSender SenderStarter

	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex
}

// TrysyncConfig configures the supervisor.
type TrysyncConfig struct {
	// LocalIP and LocalPort identify this hub in the handshake; peers
	// stream their own binlog back to this address.
	LocalIP   string
	LocalPort int

	// Interval between supervision cycles. Defaults to
	// DefaultTrysyncInterval.
	Interval time.Duration
}

// NewTrysyncSupervisor creates a supervisor. startSender may be nil when no
// sending loops should be spawned (status-only deployments and tests).
func NewTrysyncSupervisor(
	config TrysyncConfig,
	registry *PeerRegistry,
	factory ClientFactory,
	logger logging.Logger,
	reg *metrics.Registry,
	startSender SenderStarter,
) *TrysyncSupervisor {
	if config.Interval <= 0 {
		config.Interval = DefaultTrysyncInterval
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &TrysyncSupervisor{
		localIP:     config.LocalIP,
		localPort:   config.LocalPort,
		interval:    config.Interval,
		registry:    registry,
		factory:     factory,
		logger:      logger,
		metrics:     reg,
		startSender: startSender,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the supervision loop.
func (t *TrysyncSupervisor) Start() error {
	t.runningMu.Lock()
	defer t.runningMu.Unlock()

	if t.running {
		return fmt.Errorf("trysync supervisor already running")
	}
	t.running = true
	t.wg.Add(1)
	go t.loop()

	t.logger.Info("trysync supervisor started",
		logging.String("local_ip", t.localIP), logging.Int("local_port", t.localPort))
	return nil
}

// Stop terminates the loop and waits for it to exit.
func (t *TrysyncSupervisor) Stop() error {
	t.runningMu.Lock()
	defer t.runningMu.Unlock()

	if !t.running {
		return nil
	}
	close(t.stopCh)
	t.wg.Wait()
	t.running = false

	t.logger.Info("trysync supervisor stopped")
	return nil
}

func (t *TrysyncSupervisor) loop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		t.cycle()
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// trysyncTarget is a snapshot of the fields a handshake needs, taken under
// the registry lock so the handshake itself can run unlocked.
type trysyncTarget struct {
	id         int32
	ip         string
	port       int
	recvNumber uint64
	recvOffset uint64
}

// cycle performs one sweep: disposal of removed peers and collection of
// handshake candidates under the lock, then the handshakes outside it.
func (t *TrysyncSupervisor) cycle() {
	var targets []trysyncTarget

	t.registry.Update(func(peers map[int32]*PeerStatus) {
		for id, st := range peers {
			if st.MarkedForRemoval {
				if st.Sender != nil {
					st.Sender.Stop()
					st.Sender = nil
				}
				delete(peers, id)
				t.logger.Info("peer removed", logging.Int32("peer", id))
				continue
			}
			if st.NeedsSync && st.Sender == nil {
				targets = append(targets, trysyncTarget{
					id:         id,
					ip:         st.IP,
					port:       st.Port,
					recvNumber: st.RecvNumber,
					recvOffset: st.RecvOffset,
				})
			}
		}
	})

	for _, target := range targets {
		select {
		case <-t.stopCh:
			return
		default:
		}
		t.trysync(target)
	}
}

// trysync performs one handshake. The control connection is never reused
// for streaming; it is closed whatever the outcome.
func (t *TrysyncSupervisor) trysync(target trysyncTarget) {
	peerLabel := strconv.FormatInt(int64(target.id), 10)
	addr := net.JoinHostPort(target.ip, strconv.Itoa(target.port))

	cli := t.factory.NewClient()
	defer cli.Close()

	if err := cli.Connect(addr, ConnectTimeout); err != nil {
		t.logger.Error("trysync connect failed",
			logging.Int32("peer", target.id), logging.String("addr", addr), logging.Err(err))
		t.metrics.HandshakesTotal.WithLabelValues(peerLabel, "error").Inc()
		return
	}

	cmd := SerializeCommand("internaltrysync",
		t.localIP,
		strconv.Itoa(t.localPort),
		strconv.FormatUint(target.recvNumber, 10),
		strconv.FormatUint(target.recvOffset, 10),
	)
	if err := cli.Send(cmd, SendTimeout); err != nil {
		t.logger.Error("trysync send failed",
			logging.Int32("peer", target.id), logging.String("addr", addr), logging.Err(err))
		t.metrics.HandshakesTotal.WithLabelValues(peerLabel, "error").Inc()
		return
	}

	reply, err := cli.Recv(RecvTimeout)
	if err != nil {
		t.logger.Error("trysync recv failed",
			logging.Int32("peer", target.id), logging.String("addr", addr), logging.Err(err))
		t.metrics.HandshakesTotal.WithLabelValues(peerLabel, "error").Inc()
		return
	}
	if len(reply) == 0 || !strings.EqualFold(reply[0], "ok") {
		got := ""
		if len(reply) > 0 {
			got = reply[0]
		}
		t.logger.Error("trysync rejected by peer",
			logging.Int32("peer", target.id), logging.String("reply", got))
		t.metrics.HandshakesTotal.WithLabelValues(peerLabel, "rejected").Inc()
		return
	}

	t.registry.Visit(target.id, func(st *PeerStatus) {
		st.NeedsSync = false
	})
	t.logger.Info("trysync success",
		logging.Int32("peer", target.id), logging.String("addr", addr))
	t.metrics.HandshakesTotal.WithLabelValues(peerLabel, "ok").Inc()

	if t.startSender != nil {
		t.startSender(target.id)
	}
}
