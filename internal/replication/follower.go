package replication

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"redislite/internal/rdb"
	"redislite/internal/resp"
)

// RDBLoader applies decoded RDB entries to the local keyspace. The
// dispatcher wiring supplies this so replication never imports
// internal/store directly.
type RDBLoader func(entries []rdb.Entry)

// ConnectToLeader dials host:port, performs the PSYNC handshake, loads
// the full-resync RDB snapshot via load, and then starts the background
// apply loop that replays propagated commands through executor. Per
// spec.md, a lost connection to the leader terminates replication for
// this process; there is no automatic reconnect.
func (m *Manager) ConnectToLeader(ctx context.Context, host string, port int, load RDBLoader) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("replication: dial leader %s: %w", addr, err)
	}

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	if err := m.handshake(r, w); err != nil {
		conn.Close()
		return fmt.Errorf("replication: handshake with %s: %w", addr, err)
	}

	entries, err := m.receiveFullResync(r)
	if err != nil {
		conn.Close()
		return fmt.Errorf("replication: full resync from %s: %w", addr, err)
	}
	load(entries)

	m.masterConn = conn
	go m.applyLoop(ctx, conn, r, w)
	return nil
}

// handshake runs PING / REPLCONF listening-port / REPLCONF capa psync2 /
// PSYNC ? -1, stopping at the +FULLRESYNC line (the RDB bulk payload is
// read separately since it has no trailing CRLF to hand to the generic
// RESP decoder).
func (m *Manager) handshake(r *bufio.Reader, w *bufio.Writer) error {
	if err := sendCommand(w, "PING"); err != nil {
		return err
	}
	if _, err := readSimpleLine(r); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	if err := sendCommand(w, "REPLCONF", "listening-port", strconv.Itoa(m.listeningPort)); err != nil {
		return err
	}
	if _, err := readSimpleLine(r); err != nil {
		return fmt.Errorf("replconf listening-port: %w", err)
	}

	if err := sendCommand(w, "REPLCONF", "capa", "psync2"); err != nil {
		return err
	}
	if _, err := readSimpleLine(r); err != nil {
		return fmt.Errorf("replconf capa: %w", err)
	}

	if err := sendCommand(w, "PSYNC", "?", "-1"); err != nil {
		return err
	}
	line, err := readSimpleLine(r)
	if err != nil {
		return fmt.Errorf("psync: %w", err)
	}
	if !strings.HasPrefix(line, "FULLRESYNC") {
		return fmt.Errorf("psync: unexpected reply %q", line)
	}
	return nil
}

func sendCommand(w *bufio.Writer, args ...string) error {
	argv := make([][]byte, len(args))
	for i, a := range args {
		argv[i] = []byte(a)
	}
	if _, err := w.Write(resp.EncodeCommand(argv)); err != nil {
		return err
	}
	return w.Flush()
}

// readSimpleLine reads a "+...\r\n" reply and returns the text after '+'.
func readSimpleLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) == 0 || line[0] != '+' {
		return "", fmt.Errorf("expected simple string reply, got %q", line)
	}
	return line[1:], nil
}

// receiveFullResync reads the "$<len>\r\n<rdb-bytes>" framing a PSYNC
// full resync sends (no trailing CRLF after the payload, unlike an
// ordinary RESP bulk string) and parses it with the same RDB decoder the
// snapshot-file reader uses.
func (m *Manager) receiveFullResync(r *bufio.Reader) ([]rdb.Entry, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read rdb bulk header: %w", err)
	}
	header = strings.TrimRight(header, "\r\n")
	if len(header) == 0 || header[0] != '$' {
		return nil, fmt.Errorf("expected rdb bulk header, got %q", header)
	}
	length, err := strconv.Atoi(header[1:])
	if err != nil {
		return nil, fmt.Errorf("bad rdb bulk length %q: %w", header[1:], err)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read rdb payload: %w", err)
	}

	entries, err := rdb.ParseStream(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decode rdb payload: %w", err)
	}
	return entries, nil
}

// applyLoop reads commands the leader propagates and either applies them
// (SET/DEL) or replies to a GETACK probe, tracking processed_offset as
// the exact byte length of every frame consumed — the GETACK probe's own
// bytes included, matching how the leader's own offset accounts for it.
// Any parse or executor error is fatal to this follower session, per
// spec.md: replicated-stream errors are not recoverable mid-stream.
func (m *Manager) applyLoop(ctx context.Context, conn net.Conn, r *bufio.Reader, w *bufio.Writer) {
	defer conn.Close()
	framer := resp.NewFramer(r)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		v, n, err := framer.Next()
		if err != nil {
			if err != io.EOF {
				log.WithError(err).Warn("replication: follower stream ended")
			}
			return
		}
		cmd, err := resp.CommandFromValue(v)
		if err != nil {
			log.WithError(err).Error("replication: malformed command on replication stream, closing")
			return
		}
		m.processedOffset.Add(int64(n))

		if cmd.Name == "REPLCONF" && len(cmd.Args) >= 1 && strings.EqualFold(string(cmd.Args[0]), "GETACK") {
			reply := resp.EncodeCommand([][]byte{
				[]byte("REPLCONF"), []byte("ACK"),
				[]byte(strconv.FormatInt(m.processedOffset.Load(), 10)),
			})
			if _, err := w.Write(reply); err != nil || w.Flush() != nil {
				log.WithError(err).Warn("replication: failed to send ACK to leader")
				return
			}
			continue
		}

		if m.executor == nil {
			continue
		}
		if err := m.executor(cmd); err != nil {
			log.WithError(err).WithField("command", cmd.Name).Error("replication: failed to apply replicated command, closing")
			return
		}
	}
}
