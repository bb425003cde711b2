// Package replication implements the leader/follower replication engine:
// a PSYNC-based full-resync handshake, command propagation to followers,
// ACK tracking, and WAIT. There is no partial resync, no backlog, and no
// runtime role switch — a server is either a leader or a follower for its
// whole lifetime, decided once at startup from --replicaof.
package replication

import (
	"bufio"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"redislite/internal/resp"
)

// Role is fixed for the lifetime of a Manager.
type Role int

const (
	RoleLeader Role = iota
	RoleFollower
)

func (r Role) String() string {
	if r == RoleFollower {
		return "slave"
	}
	return "master"
}

// Executor applies a replicated write to the local keyspace. The
// dispatcher supplies this so the replication package never imports
// internal/store directly — it only needs to replay commands, not
// interpret them.
type Executor func(cmd *resp.Command) error

// Manager owns both the leader-side follower bookkeeping and the
// follower-side connection to an upstream leader. Only one side is ever
// active, chosen by Role.
type Manager struct {
	role   Role
	replID string
	offset atomic.Int64

	mu            sync.Mutex
	followers     map[uint64]*followerConn
	nextFollower  uint64
	listeningPort int

	executor Executor

	processedOffset atomic.Int64
	masterConn      net.Conn
}

type followerConn struct {
	id      uint64
	conn    net.Conn
	w       *bufio.Writer
	wmu     sync.Mutex
	lastAck atomic.Int64
}

// NewManager constructs a Manager fixed to role for the process lifetime.
func NewManager(role Role) *Manager {
	return &Manager{
		role:      role,
		replID:    generateReplID(),
		followers: make(map[uint64]*followerConn),
	}
}

// generateReplID mints a 40 hex-character ID with crypto/rand, falling
// back to a timestamp-derived ID if the system RNG is ever unavailable.
func generateReplID() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		log.WithError(err).Warn("replication: crypto/rand unavailable, using timestamp-derived replid")
		return fmt.Sprintf("%040d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", b)
}

func (m *Manager) Role() Role     { return m.role }
func (m *Manager) ReplID() string { return m.replID }

// Offset reports the counter relevant to this server's role: the leader's
// total propagated byte count, or the follower's processed byte count.
func (m *Manager) Offset() int64 {
	if m.role == RoleFollower {
		return m.processedOffset.Load()
	}
	return m.offset.Load()
}

// SetExecutor wires in the callback used to apply commands read off a
// replication stream (follower side) to the local keyspace.
func (m *Manager) SetExecutor(fn Executor) { m.executor = fn }

// SetListeningPort records the port this server itself listens on, sent
// to an upstream leader via REPLCONF listening-port during our own
// follower handshake.
func (m *Manager) SetListeningPort(p int) { m.listeningPort = p }

// FollowerCount returns how many followers are currently attached.
func (m *Manager) FollowerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.followers)
}

func (m *Manager) addFollower(f *followerConn) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextFollower++
	f.id = m.nextFollower
	m.followers[f.id] = f
	return f.id
}

func (m *Manager) removeFollower(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.followers, id)
}
