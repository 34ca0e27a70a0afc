package gateway

import (
	"chatgateway/internal/metrics"
	"chatgateway/internal/session"

	"github.com/rs/zerolog/log"
)

// PresenceBroadcaster 订阅会话表事件，负责上下线广播与被顶替连接的下线通知。
type PresenceBroadcaster struct {
	sessions Sessions
	out      Emitter
}

func NewPresenceBroadcaster(sessions Sessions, out Emitter) *PresenceBroadcaster {
	return &PresenceBroadcaster{sessions: sessions, out: out}
}

func (p *PresenceBroadcaster) Handle(ev session.Event) {
	metrics.ActiveSessions.Set(float64(ev.Active))
	switch ev.Kind {
	case session.SessionCreated:
		log.Info().Str("conn_id", ev.Session.ConnectionID).Str("username", ev.Session.Username).Int("active", ev.Active).Msg("session created")
		p.out.Broadcast(EvUserJoined, Presence{Username: ev.Session.Username, UserCount: ev.Active})
		p.BroadcastUserList()
	case session.SessionEvicted:
		log.Info().Str("conn_id", ev.Session.ConnectionID).Str("username", ev.Session.Username).Msg("session evicted")
		metrics.SessionEvictions.Inc()
		p.out.Emit(ev.Session.ConnectionID, EvError, Notice{Message: msgAnotherLocation})
		p.out.Disconnect(ev.Session.ConnectionID)
	case session.SessionEnded:
		log.Info().Str("conn_id", ev.Session.ConnectionID).Str("username", ev.Session.Username).Int("active", ev.Active).Msg("session ended")
		p.out.Broadcast(EvUserLeft, Presence{Username: ev.Session.Username, UserCount: ev.Active})
		p.BroadcastUserList()
	}
}

// BroadcastUserList 向所有连接推送当前在线列表。
func (p *PresenceBroadcaster) BroadcastUserList() {
	p.out.Broadcast(EvUserList, UserList(p.sessions.ListActive()))
}

func UserList(active []session.Session) []UserEntry {
	list := make([]UserEntry, 0, len(active))
	for _, s := range active {
		list = append(list, UserEntry{Username: s.Username, ConnectionID: s.ConnectionID})
	}
	return list
}
