// Package server wires the keyspace, dispatcher and replication manager
// together behind a TCP accept loop, and owns graceful shutdown.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"redislite/internal/config"
	"redislite/internal/dispatcher"
	"redislite/internal/rdb"
	"redislite/internal/replication"
	"redislite/internal/resp"
	"redislite/internal/store"
)

// Server is the top-level object cmd/server/main.go constructs and runs.
type Server struct {
	cfg  *config.Config
	repl *replication.Manager
	store *store.Store
	disp *dispatcher.Dispatcher

	listener net.Listener

	mu              sync.Mutex
	isShutdown      bool
	connections     sync.Map
	connIDCounter   atomic.Int64
	activeConnCount atomic.Int64
	wg              sync.WaitGroup
}

// New assembles a Server from cfg. It loads the RDB snapshot named by
// cfg.Dir/cfg.DBFilename (tolerating a missing file as an empty
// keyspace), and if cfg.ReplicaOf names an upstream, connects to it as a
// follower before returning.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := store.New()

	role := replication.RoleLeader
	if _, _, ok := cfg.ReplicaOfHostPort(); ok {
		role = replication.RoleFollower
	}
	repl := replication.NewManager(role)
	repl.SetListeningPort(cfg.Port)

	disp := dispatcher.New(s, cfg, repl, cfg.IdleTimeout)

	srv := &Server{cfg: cfg, repl: repl, store: s, disp: disp}

	path := cfg.Dir + "/" + cfg.DBFilename
	entries, err := rdb.Load(path)
	if err != nil {
		log.WithError(err).Warn("server: failed to parse RDB snapshot, starting with an empty keyspace")
		entries = nil
	}
	for _, e := range entries {
		s.LoadEntry(e.Key, e.Value, e.ExpiresAtMs, e.HasExpiry)
	}
	log.WithField("count", len(entries)).Info("server: loaded keys from snapshot")

	repl.SetExecutor(func(cmd *resp.Command) error {
		return applyReplicatedCommand(s, cmd)
	})

	if host, port, ok := cfg.ReplicaOfHostPort(); ok {
		err := repl.ConnectToLeader(ctx, host, port, func(entries []rdb.Entry) {
			for _, e := range entries {
				s.LoadEntry(e.Key, e.Value, e.ExpiresAtMs, e.HasExpiry)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("server: connect to leader %s:%d: %w", host, port, err)
		}
		log.WithFields(log.Fields{"host": host, "port": port}).Info("server: attached to leader")
	}

	return srv, nil
}

// applyReplicatedCommand replays one command read off the replication
// stream against the local keyspace. Only SET and DEL ever reach here —
// everything else propagated would be a bug in the leader.
func applyReplicatedCommand(s *store.Store, cmd *resp.Command) error {
	switch cmd.Name {
	case "SET":
		if len(cmd.Args) != 2 && len(cmd.Args) != 4 {
			return fmt.Errorf("replicated SET has %d args", len(cmd.Args))
		}
		key, value := cmd.Args[0], cmd.Args[1]
		if len(cmd.Args) == 4 {
			ttlMs, err := parsePXArg(cmd.Args[3])
			if err != nil {
				return err
			}
			s.Set(key, value, ttlMs, true)
			return nil
		}
		s.Set(key, value, 0, false)
		return nil
	case "DEL":
		if len(cmd.Args) < 1 {
			return fmt.Errorf("replicated DEL has no key")
		}
		s.Del(cmd.Args[0])
		return nil
	default:
		return fmt.Errorf("unexpected command on replication stream: %s", cmd.Name)
	}
}

func parsePXArg(b []byte) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(string(b), "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("bad PX value %q: %w", b, err)
	}
	return n, nil
}

// Run listens on cfg.Host:cfg.Port and serves connections until ctx is
// canceled, then drains in-flight connections and returns.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	s.listener = ln
	log.WithField("addr", addr).Info("server: listening")

	go s.acceptLoop(ctx)

	<-ctx.Done()
	s.shutdown()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			down := s.isShutdown
			s.mu.Unlock()
			if down {
				return
			}
			log.WithError(err).Warn("server: accept error")
			continue
		}

		if s.activeConnCount.Load() >= int64(s.cfg.MaxConnections) {
			log.WithField("remote", conn.RemoteAddr()).Warn("server: max connections reached, rejecting")
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	id := s.connIDCounter.Add(1)
	s.activeConnCount.Add(1)
	defer s.activeConnCount.Add(-1)

	s.connections.Store(id, conn)
	defer s.connections.Delete(id)

	s.disp.HandleConn(conn)
}

func (s *Server) shutdown() {
	s.mu.Lock()
	if s.isShutdown {
		s.mu.Unlock()
		return
	}
	s.isShutdown = true
	s.mu.Unlock()

	log.Info("server: shutting down")
	if s.listener != nil {
		s.listener.Close()
	}

	s.connections.Range(func(_, v interface{}) bool {
		if conn, ok := v.(net.Conn); ok {
			conn.Close()
		}
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("server: all connections closed")
	case <-time.After(5 * time.Second):
		log.Warn("server: shutdown timeout reached, forcing exit")
	}

	s.store.Close()
}
