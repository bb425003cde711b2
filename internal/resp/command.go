package resp

import (
	"fmt"
	"strings"
)

// Command is a parsed client or replication-stream request: a RESP array
// whose elements were all bulk strings, the shape every Redis request
// takes on the wire.
type Command struct {
	Name string   // upper-cased
	Args [][]byte // everything after the command name
}

// CommandFromValue converts a decoded array Value into a Command. It
// rejects anything that isn't a non-null array of non-null bulk strings
// with at least one element, mirroring how a real Redis server treats a
// malformed request as a protocol error.
func CommandFromValue(v Value) (*Command, error) {
	if v.Type != TypeArray || v.IsNull {
		return nil, fmt.Errorf("resp: expected array request, got %v", v.Type)
	}
	if len(v.Array) == 0 {
		return nil, fmt.Errorf("resp: empty command array")
	}
	args := make([][]byte, len(v.Array))
	for i, el := range v.Array {
		if el.Type != TypeBulk || el.IsNull {
			return nil, fmt.Errorf("resp: command element %d is not a bulk string", i)
		}
		args[i] = el.Bulk
	}
	return &Command{
		Name: strings.ToUpper(string(args[0])),
		Args: args[1:],
	}, nil
}

// Full reconstructs the wire-form argv, command name included, suitable
// for EncodeCommand when re-propagating a request verbatim.
func (c *Command) Full() [][]byte {
	full := make([][]byte, 0, len(c.Args)+1)
	full = append(full, []byte(c.Name))
	return append(full, c.Args...)
}
