package app

import (
	"encoding/json"
	"time"

	"github.com/stagehand-live/stagehand/internal/core"
	"github.com/stagehand-live/stagehand/internal/domain"
)

// MediaInfo is the per-tag publish state mirrored into the session so
// sync reads never have to query the engine.
type MediaInfo struct {
	Paused    bool            `json:"paused"`
	Encodings json.RawMessage `json:"encodings,omitempty"`
}

// LayerState tracks simulcast layers for one consumer: what the engine
// currently delivers and what the client asked for.
type LayerState struct {
	CurrentLayer        *int `json:"currentLayer"`
	ClientSelectedLayer *int `json:"clientSelectedLayer"`
}

// Session is the authoritative liveness and media record for one
// connected peer. Never shared by reference outside the room state;
// reads hand out copies.
type Session struct {
	Peer           *domain.Peer
	JoinTs         time.Time
	LastSeenTs     time.Time
	Media          map[domain.MediaTag]*MediaInfo
	ConsumerLayers map[core.ConsumerID]*LayerState
	Stats          map[string]core.StatsSnapshot
}

func newSession(peer *domain.Peer, now time.Time) *Session {
	return &Session{
		Peer:           peer,
		JoinTs:         now,
		LastSeenTs:     now,
		Media:          make(map[domain.MediaTag]*MediaInfo),
		ConsumerLayers: make(map[core.ConsumerID]*LayerState),
		Stats:          make(map[string]core.StatsSnapshot),
	}
}

// PeerView is the read-only per-peer slice of a sync response.
type PeerView struct {
	Peer           domain.Peer                    `json:"peer"`
	JoinTs         time.Time                      `json:"joinTs"`
	Media          map[domain.MediaTag]MediaInfo  `json:"media"`
	ConsumerLayers map[core.ConsumerID]LayerState `json:"consumerLayers,omitempty"`
	Stats          map[string]core.StatsSnapshot  `json:"stats,omitempty"`
}

func (s *Session) view(includePrivate bool) PeerView {
	v := PeerView{
		Peer:   *s.Peer,
		JoinTs: s.JoinTs,
		Media:  make(map[domain.MediaTag]MediaInfo, len(s.Media)),
	}
	for tag, mi := range s.Media {
		v.Media[tag] = *mi
	}
	if !includePrivate {
		return v
	}
	v.ConsumerLayers = make(map[core.ConsumerID]LayerState, len(s.ConsumerLayers))
	for cid, ls := range s.ConsumerLayers {
		v.ConsumerLayers[cid] = *ls
	}
	v.Stats = make(map[string]core.StatsSnapshot, len(s.Stats))
	for rid, snap := range s.Stats {
		v.Stats[rid] = snap
	}
	return v
}
