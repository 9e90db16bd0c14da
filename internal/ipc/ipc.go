// Package ipc implements the IPC Server / Command Dispatcher: a local unix
// stream socket accepting newline-delimited JSON commands
// and broadcasting typed events, including a periodic deduped Snapshot.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshjon/kit/log"

	"fuel/internal/broker"
	"fuel/internal/completion"
	"fuel/internal/config"
	"fuel/internal/health"
	"fuel/internal/ipcproto"
	"fuel/internal/snapshot"
	"fuel/internal/spawner"
	"fuel/internal/supervisor"
	"fuel/internal/task"
)

// StopRequest is published when a client sends the Stop command, for the
// daemon's lifecycle loop to act on.
type StopRequest struct {
	Graceful bool
}

// Server owns the unix socket, one goroutine pair (reader/writer) per
// connected client, and the periodic snapshot broadcast loop.
type Server struct {
	socketPath string
	instanceID string
	logger     log.Logger

	tasks    *task.Store
	cfgStore *config.Store
	health   *health.Tracker
	spawner  *spawner.Spawner
	snap     *snapshot.Builder

	stopCh chan StopRequest

	listener net.Listener

	clientsMu sync.Mutex
	clients   map[int64]*client
	nextID    int64

	clientBufferBytes int
}

type client struct {
	id     int64
	conn   net.Conn
	sendCh chan []byte

	bufferedBytes atomic.Int64
}

// New creates a Server bound to socketPath. Listen must be called to start
// accepting connections.
func New(
	socketPath, instanceID string,
	tasks *task.Store,
	cfgStore *config.Store,
	healthTracker *health.Tracker,
	sp *spawner.Spawner,
	snap *snapshot.Builder,
	logger log.Logger,
) *Server {
	cfg := cfgStore.Get()
	bufBytes := cfg.ClientBufferBytes
	if bufBytes <= 0 {
		bufBytes = 1 << 20
	}
	return &Server{
		socketPath:        socketPath,
		instanceID:        instanceID,
		logger:            logger.With("component", "ipc"),
		tasks:             tasks,
		cfgStore:          cfgStore,
		health:            healthTracker,
		spawner:           sp,
		snap:              snap,
		stopCh:            make(chan StopRequest, 1),
		clients:           make(map[int64]*client),
		clientBufferBytes: bufBytes,
	}
}

// StopRequests returns the channel the daemon's lifecycle loop should select
// on to learn a client asked the daemon to stop.
func (s *Server) StopRequests() <-chan StopRequest {
	return s.stopCh
}

// Listen opens the unix socket, removing a stale one left behind by a
// previous daemon instance first.
func (s *Server) Listen() error {
	_ = os.Remove(s.socketPath)
	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on ipc socket: %w", err)
	}
	s.listener = l
	return nil
}

// Close stops accepting new connections, closes every client connection, and
// removes the socket file.
func (s *Server) Close() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.clientsMu.Lock()
	for _, c := range s.clients {
		_ = c.conn.Close()
	}
	s.clientsMu.Unlock()
	_ = os.Remove(s.socketPath)
}

// Run accepts connections and fans in broker broadcasts until ctx is
// cancelled. Call Listen first.
func (s *Server) Run(
	ctx context.Context,
	spawned *broker.Broker[spawner.TaskSpawned],
	completed *broker.Broker[completion.TaskCompleted],
	healthCh *broker.Broker[completion.HealthChange],
	output *broker.Broker[supervisor.OutputChunk],
) {
	spawnedCh := spawned.Subscribe(32)
	completedCh := completed.Subscribe(32)
	healthEvCh := healthCh.Subscribe(32)
	outputCh := output.Subscribe(256)
	defer spawned.Unsubscribe(spawnedCh)
	defer completed.Unsubscribe(completedCh)
	defer healthCh.Unsubscribe(healthEvCh)
	defer output.Unsubscribe(outputCh)

	go s.acceptLoop(ctx)

	interval := time.Duration(s.cfgStore.Get().IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.broadcastSnapshotIfChanged(ctx)
			timer.Reset(interval)
		case ev := <-spawnedCh:
			s.broadcastAll(ipcproto.TaskSpawnedEvent{
				Envelope:    s.envelope(ipcproto.EvtTaskSpawned, ""),
				TaskShortID: ev.TaskShortID,
				Agent:       ev.Agent,
				ProcessType: ev.ProcessType,
				RunID:       ev.RunID,
			}, false)
		case ev := <-completedCh:
			s.broadcastAll(ipcproto.TaskCompletedEvent{
				Envelope:    s.envelope(ipcproto.EvtTaskCompleted, ""),
				TaskShortID: ev.TaskShortID,
				RunID:       ev.RunID,
				ProcessType: ev.ProcessType,
				Success:     ev.Success,
				FailureKind: ev.FailureKind,
			}, false)
			s.broadcastSnapshotIfChanged(ctx)
		case ev := <-healthEvCh:
			s.broadcastAll(ipcproto.HealthChangeEvent{
				Envelope: s.envelope(ipcproto.EvtHealthChange, ""),
				Agent:    ev.Agent,
				Before:   string(ev.Before),
				After:    string(ev.After),
			}, false)
		case chunk := <-outputCh:
			s.broadcastAll(ipcproto.OutputChunkEvent{
				Envelope:    s.envelope(ipcproto.EvtOutputChunk, ""),
				TaskShortID: chunk.TaskShortID,
				RunID:       chunk.RunID,
				Stream:      chunk.Stream,
				Data:        chunk.Data,
			}, true)
		}
	}
}

func (s *Server) envelope(typ, requestID string) ipcproto.Envelope {
	return ipcproto.NewEnvelope(typ, s.instanceID, requestID)
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.Info("accept failed", "err", err.Error())
				return
			}
		}
		go s.handleClient(ctx, conn)
	}
}

func (s *Server) handleClient(ctx context.Context, conn net.Conn) {
	c := &client{
		id:     atomic.AddInt64(&s.nextID, 1),
		conn:   conn,
		sendCh: make(chan []byte, 256),
	}
	s.clientsMu.Lock()
	s.clients[c.id] = c
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c.id)
		s.clientsMu.Unlock()
		_ = conn.Close()
	}()

	go s.writeLoop(c)

	s.sendTo(c, ipcproto.HelloEvent{Envelope: s.envelope(ipcproto.EvtHello, ""), Version: "1"}, false)
	if snap, err := s.snap.Build(ctx); err == nil {
		s.sendTo(c, ipcproto.SnapshotEvent{Envelope: s.envelope(ipcproto.EvtSnapshot, ""), ConsumeSnapshot: snap}, false)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		s.dispatch(ctx, c, line)
	}
}

func (s *Server) writeLoop(c *client) {
	for payload := range c.sendCh {
		c.bufferedBytes.Add(-int64(len(payload)))
		if _, err := c.conn.Write(payload); err != nil {
			return
		}
	}
}

// sendTo enqueues payload for c's writer. When droppable is true and c's
// outstanding buffer already exceeds the configured ceiling, the message is
// dropped and counted instead of queued, so a slow client can't stall the
// broadcast loop or grow without bound.
func (s *Server) sendTo(c *client, msg any, droppable bool) {
	raw, err := json.Marshal(msg)
	if err != nil {
		s.logger.Info("marshal event failed", "err", err.Error())
		return
	}
	raw = append(raw, '\n')

	if droppable && c.bufferedBytes.Load()+int64(len(raw)) > int64(s.clientBufferBytes) {
		s.snap.RecordDrop(fmt.Sprintf("%d", c.id))
		return
	}
	c.bufferedBytes.Add(int64(len(raw)))
	select {
	case c.sendCh <- raw:
	default:
		c.bufferedBytes.Add(-int64(len(raw)))
		s.snap.RecordDrop(fmt.Sprintf("%d", c.id))
	}
}

func (s *Server) broadcastAll(msg any, droppable bool) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for _, c := range s.clients {
		s.sendTo(c, msg, droppable)
	}
}

func (s *Server) broadcastSnapshotIfChanged(ctx context.Context) {
	snap, err := s.snap.Build(ctx)
	if err != nil {
		s.logger.Info("build snapshot failed", "err", err.Error())
		return
	}
	if !s.snap.Changed(snap) {
		return
	}
	s.broadcastAll(ipcproto.SnapshotEvent{Envelope: s.envelope(ipcproto.EvtSnapshot, ""), ConsumeSnapshot: snap}, false)
}
