package presence

import (
	"sort"
	"sync"

	"github.com/Tyrowin/lfgrelay/internal/protocol"
)

// Domain separates chat rooms from voice rooms that share a room key.
type Domain string

// Room domains.
const (
	DomainChat  Domain = "chat"
	DomainVoice Domain = "voice"
)

// Key identifies a room. ID is already canonical (see protocol.CanonicalRoomKey).
type Key struct {
	Domain Domain
	Type   protocol.RoomType
	ID     string
}

func (k Key) String() string {
	return string(k.Domain) + ":" + string(k.Type) + ":" + k.ID
}

// Change describes how a membership operation affected the user.
type Change struct {
	// Entered is set when the connection is the user's first in the room.
	Entered bool
	// Departed is set when the user's last connection left the room.
	Departed bool
}

type member struct {
	user  protocol.User
	conns map[string]Conn
}

// Room is a view of one room's membership. It is only valid inside the
// callback it was passed to, while the table lock is held.
type Room struct {
	key     Key
	members map[string]*member
}

// Key returns the room's key.
func (r *Room) Key() Key { return r.key }

// Len returns the number of distinct users in the room.
func (r *Room) Len() int { return len(r.members) }

// Has reports whether the user holds at least one connection in the room.
func (r *Room) Has(userID string) bool {
	_, ok := r.members[userID]
	return ok
}

// Holds reports whether c itself is in the room.
func (r *Room) Holds(c Conn) bool {
	m := r.members[c.User().ID]
	if m == nil {
		return false
	}
	_, ok := m.conns[c.ID()]
	return ok
}

// Names returns the members' display names, one per user, sorted.
func (r *Room) Names() []string {
	names := make([]string, 0, len(r.members))
	for _, m := range r.members {
		names = append(names, m.user.Username)
	}
	sort.Strings(names)
	return names
}

// Members returns one reference per user, excluding exceptUserID, sorted by
// username then id.
func (r *Room) Members(exceptUserID string) []protocol.UserRef {
	refs := make([]protocol.UserRef, 0, len(r.members))
	for id, m := range r.members {
		if id == exceptUserID {
			continue
		}
		refs = append(refs, protocol.UserRef{UserID: id, Username: m.user.Username})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Username != refs[j].Username {
			return refs[i].Username < refs[j].Username
		}
		return refs[i].UserID < refs[j].UserID
	})
	return refs
}

// Broadcast queues msg on every connection in the room and returns how many
// accepted it.
func (r *Room) Broadcast(msg []byte) int {
	return r.BroadcastExcept("", msg)
}

// BroadcastExcept queues msg on every connection not owned by exceptUserID.
func (r *Room) BroadcastExcept(exceptUserID string, msg []byte) int {
	sent := 0
	for id, m := range r.members {
		if id == exceptUserID {
			continue
		}
		for _, c := range m.conns {
			if c.Send(msg) {
				sent++
			}
		}
	}
	return sent
}

// Table is the room membership table for one domain. A single mutex guards
// every room, and callbacks run under it so that broadcasts computed from a
// membership change are delivered in the order the changes happened. Callbacks
// must not block and must not call back into the table.
type Table struct {
	mu     sync.Mutex
	domain Domain
	rooms  map[Key]*Room
	byConn map[string]map[Key]struct{}
}

// NewTable returns an empty table for domain.
func NewTable(domain Domain) *Table {
	return &Table{
		domain: domain,
		rooms:  make(map[Key]*Room),
		byConn: make(map[string]map[Key]struct{}),
	}
}

// Key builds a key in this table's domain.
func (t *Table) Key(roomType protocol.RoomType, id string) Key {
	return Key{Domain: t.domain, Type: roomType, ID: id}
}

// Join adds c to the room, creating the room if needed, then calls fn with the
// updated room.
func (t *Table) Join(key Key, c Conn, fn func(*Room, Change)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	room := t.rooms[key]
	if room == nil {
		room = &Room{key: key, members: make(map[string]*member)}
		t.rooms[key] = room
	}

	user := c.User()
	var ch Change
	m := room.members[user.ID]
	if m == nil {
		m = &member{user: user, conns: make(map[string]Conn)}
		room.members[user.ID] = m
		ch.Entered = true
	}
	m.conns[c.ID()] = c

	keys := t.byConn[c.ID()]
	if keys == nil {
		keys = make(map[Key]struct{})
		t.byConn[c.ID()] = keys
	}
	keys[key] = struct{}{}

	if fn != nil {
		fn(room, ch)
	}
}

// Leave removes c from the room. It returns false without calling fn when c
// was not in the room.
func (t *Table) Leave(key Key, c Conn, fn func(*Room, Change)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ch, ok := t.remove(key, c)
	if !ok {
		return false
	}
	if fn != nil {
		fn(room, ch)
	}
	t.collect(room)
	return true
}

// Purge removes c from every room it joined, calling fn once per room, and
// returns the number of rooms affected. Purging a connection that holds no
// rooms does nothing.
func (t *Table) Purge(c Conn, fn func(*Room, Change)) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]Key, 0, len(t.byConn[c.ID()]))
	for key := range t.byConn[c.ID()] {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	n := 0
	for _, key := range keys {
		room, ch, ok := t.remove(key, c)
		if !ok {
			continue
		}
		n++
		if fn != nil {
			fn(room, ch)
		}
		t.collect(room)
	}
	return n
}

// View calls fn with the room if it exists and reports whether it did.
func (t *Table) View(key Key, fn func(*Room)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	room := t.rooms[key]
	if room == nil {
		return false
	}
	fn(room)
	return true
}

// Rooms returns the number of non-empty rooms.
func (t *Table) Rooms() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}

// RoomsOf returns the keys of every room c has joined, sorted.
func (t *Table) RoomsOf(c Conn) []Key {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]Key, 0, len(t.byConn[c.ID()]))
	for key := range t.byConn[c.ID()] {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// remove must be called with t.mu held.
func (t *Table) remove(key Key, c Conn) (*Room, Change, bool) {
	room := t.rooms[key]
	if room == nil {
		return nil, Change{}, false
	}
	userID := c.User().ID
	m := room.members[userID]
	if m == nil {
		return nil, Change{}, false
	}
	if _, ok := m.conns[c.ID()]; !ok {
		return nil, Change{}, false
	}

	delete(m.conns, c.ID())
	var ch Change
	if len(m.conns) == 0 {
		delete(room.members, userID)
		ch.Departed = true
	}

	if keys := t.byConn[c.ID()]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(t.byConn, c.ID())
		}
	}
	return room, ch, true
}

// collect drops the room once it is empty. Must be called with t.mu held.
func (t *Table) collect(room *Room) {
	if len(room.members) == 0 {
		delete(t.rooms, room.key)
	}
}
