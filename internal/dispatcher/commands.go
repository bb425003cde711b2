package dispatcher

import (
	"strconv"
	"strings"

	"redislite/internal/resp"
)

func (d *Dispatcher) handleEcho(cmd *resp.Command) *resp.Value {
	if len(cmd.Args) != 1 {
		return reply(resp.Error("ERR wrong number of arguments for 'echo' command"))
	}
	return reply(resp.Bulk(cmd.Args[0]))
}

func (d *Dispatcher) handleSet(cmd *resp.Command) *resp.Value {
	if len(cmd.Args) != 2 && len(cmd.Args) != 4 {
		return reply(resp.Error("ERR wrong number of arguments for 'set' command"))
	}
	key, value := cmd.Args[0], cmd.Args[1]

	var ttlMs int64
	hasTTL := false
	if len(cmd.Args) == 4 {
		if !strings.EqualFold(string(cmd.Args[2]), "PX") {
			return reply(resp.Error("ERR syntax error"))
		}
		n, err := strconv.ParseInt(string(cmd.Args[3]), 10, 64)
		if err != nil || n <= 0 {
			return reply(resp.Error("ERR PX value is not an integer or out of range"))
		}
		ttlMs = n
		hasTTL = true
	}

	d.store.Set(key, value, ttlMs, hasTTL)
	d.propagate(cmd)
	return reply(resp.SimpleString("OK"))
}

func (d *Dispatcher) handleGet(cmd *resp.Command) *resp.Value {
	if len(cmd.Args) != 1 {
		return reply(resp.Error("ERR wrong number of arguments for 'get' command"))
	}
	v, ok := d.store.Get(cmd.Args[0])
	if !ok {
		return reply(resp.NullBulk())
	}
	return reply(resp.Bulk(v))
}

func (d *Dispatcher) handleDel(cmd *resp.Command) *resp.Value {
	if len(cmd.Args) < 1 {
		return reply(resp.Error("ERR wrong number of arguments for 'del' command"))
	}
	n := d.store.Del(cmd.Args[0])
	d.propagate(cmd)
	return reply(resp.Integer(int64(n)))
}

func (d *Dispatcher) handleKeys(cmd *resp.Command) *resp.Value {
	if len(cmd.Args) != 1 || string(cmd.Args[0]) != "*" {
		return reply(resp.Error("ERR syntax error"))
	}
	keys := d.store.KeysAll()
	items := make([]resp.Value, len(keys))
	for i, k := range keys {
		items[i] = resp.Bulk(k)
	}
	return reply(resp.Array(items...))
}

func (d *Dispatcher) handleConfig(cmd *resp.Command) *resp.Value {
	if len(cmd.Args) != 2 || !strings.EqualFold(string(cmd.Args[0]), "GET") {
		return reply(resp.Error("ERR unknown CONFIG subcommand"))
	}
	param := strings.ToLower(string(cmd.Args[1]))
	val, ok := d.cfg.Get(param)
	if !ok {
		return reply(resp.Array())
	}
	return reply(resp.Array(resp.BulkString(param), resp.BulkString(val)))
}

func (d *Dispatcher) handleInfo(cmd *resp.Command) *resp.Value {
	if len(cmd.Args) != 1 || !strings.EqualFold(string(cmd.Args[0]), "replication") {
		return reply(resp.Error("ERR unsupported INFO section"))
	}
	body := "role:" + d.repl.Role().String() +
		"\r\nmaster_replid:" + d.repl.ReplID() +
		"\r\nmaster_repl_offset:" + strconv.FormatInt(d.repl.Offset(), 10) + "\r\n"
	return reply(resp.BulkString(body))
}

func (d *Dispatcher) handleReplconf(cmd *resp.Command) *resp.Value {
	if len(cmd.Args) < 1 {
		return reply(resp.Error("ERR wrong number of arguments for 'replconf' command"))
	}
	switch strings.ToUpper(string(cmd.Args[0])) {
	case "LISTENING-PORT", "CAPA":
		return reply(resp.SimpleString("OK"))
	case "GETACK":
		return reply(resp.Array(
			resp.BulkString("REPLCONF"),
			resp.BulkString("ACK"),
			resp.BulkString(strconv.FormatInt(d.repl.Offset(), 10)),
		))
	case "ACK":
		return nil
	default:
		return reply(resp.Error("ERR unknown REPLCONF subcommand"))
	}
}

func (d *Dispatcher) handleWait(cmd *resp.Command) *resp.Value {
	if len(cmd.Args) != 2 {
		return reply(resp.Error("ERR wrong number of arguments for 'wait' command"))
	}
	numReplicas, err1 := strconv.Atoi(string(cmd.Args[0]))
	timeoutMs, err2 := strconv.ParseInt(string(cmd.Args[1]), 10, 64)
	if err1 != nil || err2 != nil {
		return reply(resp.Error("ERR value is not an integer or out of range"))
	}
	count := d.repl.Wait(numReplicas, timeoutMs)
	return reply(resp.Integer(int64(count)))
}
