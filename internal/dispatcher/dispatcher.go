// Package dispatcher owns the per-connection command loop: it decodes
// RESP requests off a socket, runs them against a fixed command table,
// and writes back replies. PSYNC requests are the one exception — once a
// connection asks to become a replica, the dispatcher hands it off to the
// replication manager, which owns the socket for the rest of its life.
package dispatcher

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"redislite/internal/config"
	"redislite/internal/replication"
	"redislite/internal/resp"
	"redislite/internal/store"
)

// Dispatcher wires together the keyspace, config and replication manager
// a connection's commands are executed against.
type Dispatcher struct {
	store       *store.Store
	cfg         *config.Config
	repl        *replication.Manager
	idleTimeout time.Duration
}

// New builds a Dispatcher. idleTimeout of zero disables read deadlines.
func New(s *store.Store, cfg *config.Config, repl *replication.Manager, idleTimeout time.Duration) *Dispatcher {
	return &Dispatcher{store: s, cfg: cfg, repl: repl, idleTimeout: idleTimeout}
}

// HandleConn runs the command loop for one client connection until the
// peer disconnects, a protocol error occurs, or the connection is handed
// off to the replication manager via PSYNC.
func (d *Dispatcher) HandleConn(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	framer := resp.NewFramer(r)

	for {
		if d.idleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(d.idleTimeout))
		}

		v, _, err := framer.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.WithError(err).Debug("dispatcher: connection closed")
			}
			return
		}
		if d.idleTimeout > 0 {
			conn.SetReadDeadline(time.Time{})
		}

		cmd, err := resp.CommandFromValue(v)
		if err != nil {
			writeAndFlush(w, resp.Error("ERR Protocol error: "+err.Error()))
			return
		}

		if cmd.Name == "PSYNC" {
			d.handlePSYNC(conn, w, r, cmd)
			return
		}

		reply := d.dispatch(cmd)
		if reply == nil {
			continue
		}
		if err := writeAndFlush(w, *reply); err != nil {
			return
		}
	}
}

func (d *Dispatcher) handlePSYNC(conn net.Conn, w *bufio.Writer, r *bufio.Reader, cmd *resp.Command) {
	if len(cmd.Args) != 2 || string(cmd.Args[0]) != "?" || string(cmd.Args[1]) != "-1" {
		writeAndFlush(w, resp.Error("ERR unsupported PSYNC arguments"))
		return
	}
	if err := d.repl.HandlePSYNC(conn, w, r); err != nil {
		log.WithError(err).Warn("dispatcher: replication session ended with error")
	}
}

func writeAndFlush(w *bufio.Writer, v resp.Value) error {
	if _, err := w.Write(resp.Encode(v)); err != nil {
		return err
	}
	return w.Flush()
}

// dispatch runs one already-decoded command against the command table and
// returns the reply to send, or nil if no reply is ever sent for that
// command (REPLCONF ACK, on the rare connection that sends it directly
// rather than over the replication stream).
func (d *Dispatcher) dispatch(cmd *resp.Command) *resp.Value {
	switch cmd.Name {
	case "PING":
		return reply(resp.SimpleString("PONG"))
	case "ECHO":
		return d.handleEcho(cmd)
	case "SET":
		return d.handleSet(cmd)
	case "GET":
		return d.handleGet(cmd)
	case "DEL":
		return d.handleDel(cmd)
	case "KEYS":
		return d.handleKeys(cmd)
	case "CONFIG":
		return d.handleConfig(cmd)
	case "INFO":
		return d.handleInfo(cmd)
	case "REPLCONF":
		return d.handleReplconf(cmd)
	case "WAIT":
		return d.handleWait(cmd)
	default:
		return reply(resp.Error("ERR unknown command '" + cmd.Name + "'"))
	}
}

func reply(v resp.Value) *resp.Value { return &v }

// propagate forwards an accepted write to every follower, a no-op unless
// this server is currently a leader.
func (d *Dispatcher) propagate(cmd *resp.Command) {
	d.repl.Propagate(cmd.Full())
}
