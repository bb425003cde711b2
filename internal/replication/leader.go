package replication

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc64"
	"net"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"redislite/internal/resp"
)

// broadcast writes raw to every attached follower, dropping any that
// error, and advances master_repl_offset by the bytes sent. Centralizing
// the offset bump here means both Propagate and the GETACK probe count
// toward the same stream, the way a real Redis replication link does.
func (m *Manager) broadcast(raw []byte) {
	m.mu.Lock()
	conns := make([]*followerConn, 0, len(m.followers))
	for _, f := range m.followers {
		conns = append(conns, f)
	}
	m.mu.Unlock()

	for _, f := range conns {
		f.wmu.Lock()
		_, err := f.w.Write(raw)
		if err == nil {
			err = f.w.Flush()
		}
		f.wmu.Unlock()
		if err != nil {
			log.WithError(err).WithField("follower", f.id).Warn("replication: dropping follower after write failure")
			m.removeFollower(f.id)
		}
	}
	m.offset.Add(int64(len(raw)))
}

// Propagate fans out a write command to every follower verbatim, in the
// same RESP array-of-bulk-strings form the original client request took.
// A no-op when this server is not a leader.
func (m *Manager) Propagate(args [][]byte) {
	if m.role != RoleLeader {
		return
	}
	m.broadcast(resp.EncodeCommand(args))
}

func (m *Manager) sendGetAck() {
	m.broadcast(resp.EncodeCommand([][]byte{[]byte("REPLCONF"), []byte("GETACK"), []byte("*")}))
}

// Wait blocks until numReplicas followers have acknowledged at least the
// offset that was current when Wait was called, or until timeoutMs
// elapses, returning how many followers had reached that point. If no
// write has ever been propagated, there is nothing to wait for and this
// returns the current follower count immediately.
func (m *Manager) Wait(numReplicas int, timeoutMs int64) int {
	if m.role != RoleLeader {
		return 0
	}
	target := m.offset.Load()
	if target == 0 {
		return m.FollowerCount()
	}

	m.sendGetAck()

	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	limiter := rate.NewLimiter(rate.Every(20*time.Millisecond), 1)

	for {
		count := m.countAcked(target)
		if count >= numReplicas || !time.Now().Before(deadline) {
			return count
		}
		if err := limiter.Wait(ctx); err != nil {
			return m.countAcked(target)
		}
	}
}

func (m *Manager) countAcked(target int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.followers {
		if f.lastAck.Load() >= target {
			n++
		}
	}
	return n
}

// HandlePSYNC replies to a PSYNC ? -1 request with a full resync: a
// +FULLRESYNC reply, then the RDB payload as a bulk string with no
// trailing CRLF, then blocks reading REPLCONF ACK frames from the new
// follower until it disconnects. The caller's connection is owned by this
// call for as long as it runs.
func (m *Manager) HandlePSYNC(conn net.Conn, w *bufio.Writer, r *bufio.Reader) error {
	if _, err := w.WriteString(fmt.Sprintf("+FULLRESYNC %s %d\r\n", m.replID, m.offset.Load())); err != nil {
		return fmt.Errorf("replication: write FULLRESYNC: %w", err)
	}

	payload := emptyRDBPayload()
	if _, err := w.WriteString(fmt.Sprintf("$%d\r\n", len(payload))); err != nil {
		return fmt.Errorf("replication: write rdb bulk header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("replication: write rdb payload: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("replication: flush handshake: %w", err)
	}

	f := &followerConn{conn: conn, w: w}
	id := m.addFollower(f)
	defer m.removeFollower(id)
	log.WithField("follower", id).Info("replication: follower attached")

	return m.ackReadLoop(r, f)
}

// ackReadLoop reads REPLCONF ACK <offset> frames off a follower
// connection until it disconnects or sends something malformed.
func (m *Manager) ackReadLoop(r *bufio.Reader, f *followerConn) error {
	framer := resp.NewFramer(r)
	for {
		v, _, err := framer.Next()
		if err != nil {
			return nil // peer disconnected or stream ended; not an error for the leader
		}
		cmd, err := resp.CommandFromValue(v)
		if err != nil {
			return fmt.Errorf("replication: malformed frame from follower %d: %w", f.id, err)
		}
		if cmd.Name != "REPLCONF" || len(cmd.Args) != 2 || !strings.EqualFold(string(cmd.Args[0]), "ACK") {
			continue
		}
		n, err := strconv.ParseInt(string(cmd.Args[1]), 10, 64)
		if err != nil {
			continue
		}
		f.lastAck.Store(n)
	}
}

// emptyRDBPayload builds a minimal, valid RDB image: header, one aux
// field, EOF and its CRC64 tail. A fresh follower loads this as an empty
// keyspace and then tracks subsequent writes purely through propagation.
func emptyRDBPayload() []byte {
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")
	writeAuxField(&buf, "redis-ver", "7.0.0")
	buf.WriteByte(0xFF)
	sum := crc64.Checksum(buf.Bytes(), crc64.MakeTable(crc64.ECMA))
	var tail [8]byte
	binary.LittleEndian.PutUint64(tail[:], sum)
	buf.Write(tail[:])
	return buf.Bytes()
}

func writeAuxField(buf *bytes.Buffer, name, value string) {
	buf.WriteByte(0xFA)
	buf.WriteByte(byte(len(name) & 0x3F))
	buf.WriteString(name)
	buf.WriteByte(byte(len(value) & 0x3F))
	buf.WriteString(value)
}
