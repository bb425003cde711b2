// Package store implements the in-memory keyspace: a single-goroutine
// actor that owns all key data, reached only through its request channel.
// No field on Store is ever touched from more than one goroutine, so no
// mutex is needed on the map itself — the actor loop below is the global
// serialization point spec.md allows in place of an explicit lock.
package store

import (
	"time"
)

type opKind int

const (
	opSet opKind = iota
	opGet
	opDel
	opKeys
	opLoad
)

type op struct {
	kind   opKind
	key    []byte
	value  []byte
	expiry int64
	hasTTL bool
	resp   chan opResult
}

type opResult struct {
	value []byte
	found bool
	count int
	keys  [][]byte
}

// entry is one keyspace slot. expiresAt is a millisecond Unix timestamp;
// hasExpiry false means the key never expires.
type entry struct {
	value     []byte
	expiresAt int64
	hasExpiry bool
}

// Store is the actor handle returned to callers; every method sends a
// request on ops and blocks for the single reply.
type Store struct {
	ops  chan *op
	done chan struct{}
}

// New starts the keyspace actor goroutine and returns a handle to it.
func New() *Store {
	s := &Store{
		ops:  make(chan *op, 256),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Store) run() {
	data := make(map[string]entry)
	for {
		select {
		case o := <-s.ops:
			s.apply(data, o)
		case <-s.done:
			return
		}
	}
}

func (s *Store) apply(data map[string]entry, o *op) {
	now := nowMillis()
	switch o.kind {
	case opSet:
		e := entry{value: o.value}
		if o.hasTTL {
			e.expiresAt = o.expiry
			e.hasExpiry = true
		}
		data[string(o.key)] = e
		o.resp <- opResult{}
	case opLoad:
		// Used only to seed the keyspace from an RDB snapshot (a dump
		// file or a full-resync payload); skip entries that are already expired so a
		// stale snapshot doesn't resurrect dead keys.
		if o.hasTTL && o.expiry <= now {
			o.resp <- opResult{}
			return
		}
		e := entry{value: o.value}
		if o.hasTTL {
			e.expiresAt = o.expiry
			e.hasExpiry = true
		}
		data[string(o.key)] = e
		o.resp <- opResult{}
	case opGet:
		e, ok := data[string(o.key)]
		if !ok {
			o.resp <- opResult{found: false}
			return
		}
		if e.hasExpiry && now >= e.expiresAt {
			delete(data, string(o.key))
			o.resp <- opResult{found: false}
			return
		}
		o.resp <- opResult{value: e.value, found: true}
	case opDel:
		n := 0
		if e, ok := data[string(o.key)]; ok {
			if e.hasExpiry && now >= e.expiresAt {
				delete(data, string(o.key))
			} else {
				delete(data, string(o.key))
				n = 1
			}
		}
		o.resp <- opResult{count: n}
	case opKeys:
		keys := make([][]byte, 0, len(data))
		for k, e := range data {
			if e.hasExpiry && now >= e.expiresAt {
				delete(data, k)
				continue
			}
			keys = append(keys, []byte(k))
		}
		o.resp <- opResult{keys: keys}
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Set stores value under key. If hasTTL is true, the key expires ttlMs
// milliseconds from now.
func (s *Store) Set(key, value []byte, ttlMs int64, hasTTL bool) {
	o := &op{kind: opSet, key: key, value: value, resp: make(chan opResult, 1)}
	if hasTTL {
		o.hasTTL = true
		o.expiry = nowMillis() + ttlMs
	}
	s.ops <- o
	<-o.resp
}

// LoadEntry seeds key directly with an absolute millisecond expiry
// timestamp, bypassing the "ttl from now" arithmetic Set uses. It is
// used for bulk population from RDB entries: a dump file at startup or
// the payload of a full resync. Replicated writes go through Set.
func (s *Store) LoadEntry(key, value []byte, expiresAtMs int64, hasExpiry bool) {
	o := &op{kind: opLoad, key: key, value: value, resp: make(chan opResult, 1)}
	if hasExpiry {
		o.hasTTL = true
		o.expiry = expiresAtMs
	}
	s.ops <- o
	<-o.resp
}

// Get returns the value for key and whether it was present and unexpired.
func (s *Store) Get(key []byte) ([]byte, bool) {
	o := &op{kind: opGet, key: key, resp: make(chan opResult, 1)}
	s.ops <- o
	r := <-o.resp
	return r.value, r.found
}

// Del removes key, returning 1 if it existed (and was not already
// expired) or 0 otherwise.
func (s *Store) Del(key []byte) int {
	o := &op{kind: opDel, key: key, resp: make(chan opResult, 1)}
	s.ops <- o
	r := <-o.resp
	return r.count
}

// KeysAll returns a consistent snapshot of every live key: expired keys
// encountered along the way are swept before the snapshot is taken, so no
// two calls can observe a half-updated map.
func (s *Store) KeysAll() [][]byte {
	o := &op{kind: opKeys, resp: make(chan opResult, 1)}
	s.ops <- o
	r := <-o.resp
	return r.keys
}

// Close stops the actor goroutine. Pending requests already queued on ops
// are lost; callers should stop issuing requests before calling Close.
func (s *Store) Close() {
	close(s.done)
}
