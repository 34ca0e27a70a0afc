// Package session 维护连接与用户身份之间的绑定表。
//
// 同一用户名（大小写不敏感）任一时刻最多只有一个活动会话；在另一条连接上
// 绑定同名用户会抢占旧会话。查找已有会话、驱逐、插入新会话在一把锁内完成，
// 因此并发的 Bind 不会同时看到“尚无会话”。状态变化通过 Event 通知订阅者，
// 订阅者在锁释放后按发生顺序被同步调用。
package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Session struct {
	ConnectionID string    `json:"connectionId"`
	Username     string    `json:"username"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

type BindKind int

const (
	Created BindKind = iota + 1
	Reaffirmed
	TookOver
)

func (k BindKind) String() string {
	switch k {
	case Created:
		return "created"
	case Reaffirmed:
		return "reaffirmed"
	case TookOver:
		return "took_over"
	}
	return "unknown"
}

type BindResult struct {
	Kind                BindKind
	Session             Session
	EvictedConnectionID string
}

type EventKind int

const (
	// SessionCreated 新会话已建立。
	SessionCreated EventKind = iota + 1
	// SessionEvicted 会话因同名用户在其他连接登录而被强制终止。
	SessionEvicted
	// SessionEnded 会话因断线、管理员移除或连接改绑其他用户名而结束。
	SessionEnded
)

type Event struct {
	Kind    EventKind
	Session Session
	Active  int // 事件发生后的活动会话数
}

type Listener func(Event)

type entry struct {
	session Session
	seq     uint64
}

type Registry struct {
	mu        sync.Mutex
	byConn    map[string]*entry
	byName    map[string]string // lower(username) -> connection id
	seq       uint64
	listeners []Listener
	now       func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*entry),
		byName: make(map[string]string),
		now:    time.Now,
	}
}

// Subscribe 注册事件监听器，应在开始接收连接前调用。
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

func key(username string) string { return strings.ToLower(username) }

// Bind 把 username 绑定到连接上。
//
//   - 该用户名没有活动会话：新建，返回 Created。
//   - 已绑定在同一连接上：幂等确认，返回 Reaffirmed，不产生事件。
//   - 已绑定在其他连接上：驱逐旧会话并新建，返回 TookOver。
//
// 若该连接此前绑定的是另一个用户名，旧绑定先以 SessionEnded 结束。
func (r *Registry) Bind(connectionID, username string) BindResult {
	r.mu.Lock()
	var events []Event
	k := key(username)

	if existingConn, ok := r.byName[k]; ok && existingConn == connectionID {
		sess := r.byConn[connectionID].session
		r.mu.Unlock()
		log.Debug().Str("conn_id", connectionID).Str("username", username).Msg("session reaffirmed")
		return BindResult{Kind: Reaffirmed, Session: sess}
	}

	result := BindResult{Kind: Created}
	if old, ok := r.byConn[connectionID]; ok {
		// 同一连接换了用户名。
		r.remove(connectionID)
		events = append(events, Event{Kind: SessionEnded, Session: old.session, Active: len(r.byConn)})
	}
	if existingConn, ok := r.byName[k]; ok {
		evicted := r.byConn[existingConn].session
		r.remove(existingConn)
		result.Kind = TookOver
		result.EvictedConnectionID = existingConn
		events = append(events, Event{Kind: SessionEvicted, Session: evicted, Active: len(r.byConn)})
	}

	r.seq++
	sess := Session{ConnectionID: connectionID, Username: username, ConnectedAt: r.now()}
	r.byConn[connectionID] = &entry{session: sess, seq: r.seq}
	r.byName[k] = connectionID
	result.Session = sess
	events = append(events, Event{Kind: SessionCreated, Session: sess, Active: len(r.byConn)})
	listeners := r.listeners
	r.mu.Unlock()

	ev := log.Info().Str("conn_id", connectionID).Str("username", username).Str("kind", result.Kind.String())
	if result.EvictedConnectionID != "" {
		ev = ev.Str("evicted_conn_id", result.EvictedConnectionID)
	}
	ev.Msg("session bound")
	notify(listeners, events)
	return result
}

// Unbind 移除并返回连接上的会话；未绑定时返回 false。可重复调用。
func (r *Registry) Unbind(connectionID string) (Session, bool) {
	r.mu.Lock()
	e, ok := r.byConn[connectionID]
	if !ok {
		r.mu.Unlock()
		return Session{}, false
	}
	r.remove(connectionID)
	events := []Event{{Kind: SessionEnded, Session: e.session, Active: len(r.byConn)}}
	listeners := r.listeners
	r.mu.Unlock()

	log.Info().Str("conn_id", connectionID).Str("username", e.session.Username).Msg("session ended")
	notify(listeners, events)
	return e.session, true
}

// remove 调用方必须持有锁。
func (r *Registry) remove(connectionID string) {
	e := r.byConn[connectionID]
	delete(r.byConn, connectionID)
	if r.byName[key(e.session.Username)] == connectionID {
		delete(r.byName, key(e.session.Username))
	}
}

func notify(listeners []Listener, events []Event) {
	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}

func (r *Registry) LookupByConnection(connectionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byConn[connectionID]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

func (r *Registry) LookupByUsername(username string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	connID, ok := r.byName[key(username)]
	if !ok {
		return Session{}, false
	}
	return r.byConn[connID].session, true
}

// ListActive 按绑定顺序返回全部活动会话。
func (r *Registry) ListActive() []Session {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.byConn))
	for _, e := range r.byConn {
		entries = append(entries, e)
	}
	r.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]Session, len(entries))
	for i, e := range entries {
		out[i] = e.session
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn)
}
