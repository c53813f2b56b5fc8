package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/core"
	"github.com/stagehand-live/stagehand/internal/domain"
)

// TransportEntry tags an engine transport with its owner. Direction is
// immutable after creation.
type TransportEntry struct {
	ID        core.TransportID
	Owner     domain.PeerID
	Direction core.Direction
	Connected bool
	Handle    core.TransportHandle
}

type ProducerEntry struct {
	ID        core.ProducerID
	Owner     domain.PeerID
	Transport core.TransportID
	Tag       domain.MediaTag
	Kind      core.MediaKind
	Paused    bool
	Handle    core.ProducerHandle
}

// ConsumerEntry: Owner is the receiver; Source+Tag identify the
// producer it reads from.
type ConsumerEntry struct {
	ID        core.ConsumerID
	Owner     domain.PeerID
	Transport core.TransportID
	Source    domain.PeerID
	Tag       domain.MediaTag
	Paused    bool
	Handle    core.ConsumerHandle
}

// ActiveSpeaker is empty when ProducerID is "".
type ActiveSpeaker struct {
	ProducerID core.ProducerID `json:"producerId,omitempty"`
	PeerID     domain.PeerID   `json:"peerId,omitempty"`
	Volume     int             `json:"volume,omitempty"`
}

// Removed collects everything a cascade popped out of the registries.
// Handles are closed by the caller after the lock is released.
type Removed struct {
	Session    bool
	Transports []*TransportEntry
	Producers  []*ProducerEntry
	Consumers  []*ConsumerEntry
}

func (r *Removed) Empty() bool {
	return !r.Session && len(r.Transports) == 0 && len(r.Producers) == 0 && len(r.Consumers) == 0
}

// RoomState is the process-wide room aggregate: the session registry,
// the three resource registries and the active speaker. One mutex
// guards all of it, so the cascading cleanups never interleave with a
// concurrent create for the same peer. Engine calls happen outside the
// lock; entries are committed only after the engine call succeeded.
type RoomState struct {
	mu         sync.RWMutex
	sessions   map[domain.PeerID]*Session
	transports map[core.TransportID]*TransportEntry
	producers  map[core.ProducerID]*ProducerEntry
	consumers  map[core.ConsumerID]*ConsumerEntry
	speaker    ActiveSpeaker

	version  uint64
	watchers map[int]chan struct{}
	nextWID  int
}

func NewRoomState() *RoomState {
	return &RoomState{
		sessions:   make(map[domain.PeerID]*Session),
		transports: make(map[core.TransportID]*TransportEntry),
		producers:  make(map[core.ProducerID]*ProducerEntry),
		consumers:  make(map[core.ConsumerID]*ConsumerEntry),
		watchers:   make(map[int]chan struct{}),
	}
}

// bump wakes every sync watcher. Callers hold the write lock.
func (s *RoomState) bump() {
	s.version++
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch returns a coalesced notification channel that receives after
// every state mutation, plus a cancel func detaching the watcher.
func (s *RoomState) Watch() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextWID
	s.nextWID++
	ch := make(chan struct{}, 1)
	s.watchers[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

func (s *RoomState) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// --- sessions ---

// Join creates the session if absent; a second join for the same peer
// is a reconnection and keeps the original JoinTs. Returns the peer
// record and whether it was created.
func (s *RoomState) Join(peerID domain.PeerID, displayName string, now time.Time) (domain.Peer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[peerID]; ok {
		if sess.Peer.Banned {
			return domain.Peer{}, false, domain.ErrPeerBanned
		}
		sess.LastSeenTs = now
		if displayName != "" {
			if err := sess.Peer.SetDisplayName(displayName); err != nil {
				return domain.Peer{}, false, err
			}
		}
		s.bump()
		return *sess.Peer, false, nil
	}
	if displayName == "" {
		displayName = "guest"
	}
	peer, err := domain.NewPeer(peerID, displayName)
	if err != nil {
		return domain.Peer{}, false, err
	}
	s.sessions[peerID] = newSession(peer, now)
	s.bump()
	log.Info().Str("module", "app.state").Str("peer", string(peerID)).Msg("session created")
	return *peer, true, nil
}

// Authorize is the guard's storage half: it verifies the session exists
// and is not stale, then refreshes LastSeenTs. It returns a copy of the
// peer record.
func (s *RoomState) Authorize(peerID domain.PeerID, now time.Time, staleAfter time.Duration) (domain.Peer, *core.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[peerID]
	if !ok {
		return domain.Peer{}, core.ErrSessionNotFound(string(peerID))
	}
	if now.Sub(sess.LastSeenTs) > staleAfter {
		return domain.Peer{}, core.ErrSessionStale(string(peerID))
	}
	if sess.Peer.Banned {
		return domain.Peer{}, core.ErrUnauthorized("peer is banned")
	}
	sess.LastSeenTs = now
	return *sess.Peer, nil
}

// StalePeers lists sessions past the staleness threshold.
func (s *RoomState) StalePeers(now time.Time, staleAfter time.Duration) []domain.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PeerID
	for id, sess := range s.sessions {
		if now.Sub(sess.LastSeenTs) > staleAfter {
			out = append(out, id)
		}
	}
	return out
}

func (s *RoomState) HasSession(peerID domain.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[peerID]
	return ok
}

func (s *RoomState) SetRole(peerID domain.PeerID, role domain.Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[peerID]
	if !ok {
		return false
	}
	sess.Peer.Role = role
	s.bump()
	log.Info().Str("module", "app.state").Str("peer", string(peerID)).Str("role", string(role)).Msg("role updated")
	return true
}

func (s *RoomState) SetBanned(peerID domain.PeerID, banned bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[peerID]
	if !ok {
		return false
	}
	sess.Peer.Banned = banned
	s.bump()
	return true
}

// RemovePeer pops the session and every resource that references the
// peer, transitively removing dependent consumers on other peers. This
// is the single cascade behind leave, ban and the stale reaper.
func (s *RoomState) RemovePeer(peerID domain.PeerID) Removed {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rm Removed
	if _, ok := s.sessions[peerID]; ok {
		rm.Session = true
	}
	s.removeResourcesLocked(peerID, &rm)
	delete(s.sessions, peerID)
	if rm.Session || !rm.Empty() {
		s.bump()
	}
	return rm
}

// RemovePeerResources cascades every resource the peer holds but keeps
// the session record, so flags like banned stay readable.
func (s *RoomState) RemovePeerResources(peerID domain.PeerID) Removed {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rm Removed
	s.removeResourcesLocked(peerID, &rm)
	if !rm.Empty() {
		s.bump()
	}
	return rm
}

func (s *RoomState) removeResourcesLocked(peerID domain.PeerID, rm *Removed) {
	for tid, te := range s.transports {
		if te.Owner == peerID {
			s.removeTransportLocked(tid, rm)
		}
	}
	// Leftovers whose transport is already gone still must not survive
	// the owner's session.
	for pid, pe := range s.producers {
		if pe.Owner == peerID {
			s.removeProducerLocked(pid, rm)
		}
	}
	for cid, ce := range s.consumers {
		if ce.Owner == peerID {
			s.removeConsumerLocked(cid, rm)
		}
	}
}

// --- transports ---

// CommitTransport stores a transport created by the engine. The owner's
// session may have been reaped while the engine call was in flight; in
// that case the entry is refused and the caller closes the handle.
func (s *RoomState) CommitTransport(e *TransportEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[e.Owner]; !ok {
		return false
	}
	s.transports[e.ID] = e
	s.bump()
	return true
}

func (s *RoomState) Transport(id core.TransportID) (TransportEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	te, ok := s.transports[id]
	if !ok {
		return TransportEntry{}, false
	}
	return *te, true
}

func (s *RoomState) MarkTransportConnected(id core.TransportID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	te, ok := s.transports[id]
	if !ok {
		return false
	}
	te.Connected = true
	s.bump()
	return true
}

// RecvTransportOf finds the peer's recv transport, if any.
func (s *RoomState) RecvTransportOf(peerID domain.PeerID) (TransportEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, te := range s.transports {
		if te.Owner == peerID && te.Direction == core.DirectionRecv {
			return *te, true
		}
	}
	return TransportEntry{}, false
}

// RemoveTransport runs the transport cascade: the transport itself,
// every producer riding it (with their dependent consumers on other
// peers) and every consumer riding it. Same path for an explicit close
// and an engine-reported transport close.
func (s *RoomState) RemoveTransport(id core.TransportID) Removed {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rm Removed
	s.removeTransportLocked(id, &rm)
	if !rm.Empty() {
		s.bump()
	}
	return rm
}

func (s *RoomState) removeTransportLocked(id core.TransportID, rm *Removed) {
	te, ok := s.transports[id]
	if !ok {
		return
	}
	delete(s.transports, id)
	rm.Transports = append(rm.Transports, te)
	for pid, pe := range s.producers {
		if pe.Transport == id {
			s.removeProducerLocked(pid, rm)
		}
	}
	for cid, ce := range s.consumers {
		if ce.Transport == id {
			s.removeConsumerLocked(cid, rm)
		}
	}
}

// --- producers ---

// CommitProducer stores a freshly produced producer, popping any
// previous producer for the same (owner, tag): last writer wins, no
// orphaned duplicate publishers. The popped cascade is returned for the
// caller to close. ok is false when the owner's session vanished while
// the engine call was in flight.
func (s *RoomState) CommitProducer(e *ProducerEntry, encodings []byte) (Removed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rm Removed
	sess, ok := s.sessions[e.Owner]
	if !ok {
		return rm, false
	}
	for pid, pe := range s.producers {
		if pe.Owner == e.Owner && pe.Tag == e.Tag {
			s.removeProducerLocked(pid, &rm)
		}
	}
	s.producers[e.ID] = e
	sess.Media[e.Tag] = &MediaInfo{Paused: e.Paused, Encodings: encodings}
	s.bump()
	return rm, true
}

func (s *RoomState) Producer(id core.ProducerID) (ProducerEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pe, ok := s.producers[id]
	if !ok {
		return ProducerEntry{}, false
	}
	return *pe, true
}

// ProducerByTag finds the unique active producer for (source, tag).
func (s *RoomState) ProducerByTag(source domain.PeerID, tag domain.MediaTag) (ProducerEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pe := range s.producers {
		if pe.Owner == source && pe.Tag == tag {
			return *pe, true
		}
	}
	return ProducerEntry{}, false
}

// SetProducerPaused mirrors the pause flag into the owner's media map
// so sync reads stay consistent without re-querying the engine.
func (s *RoomState) SetProducerPaused(id core.ProducerID, paused bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pe, ok := s.producers[id]
	if !ok {
		return false
	}
	pe.Paused = paused
	if sess, ok := s.sessions[pe.Owner]; ok {
		if mi, ok := sess.Media[pe.Tag]; ok {
			mi.Paused = paused
		}
	}
	s.bump()
	return true
}

// RemoveProducer pops the producer, its owner's media-map entry and
// every consumer reading from it. Same path for an explicit close, a
// replace-on-republish and an engine-reported producer close.
func (s *RoomState) RemoveProducer(id core.ProducerID) Removed {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rm Removed
	s.removeProducerLocked(id, &rm)
	if !rm.Empty() {
		s.bump()
	}
	return rm
}

func (s *RoomState) removeProducerLocked(id core.ProducerID, rm *Removed) {
	pe, ok := s.producers[id]
	if !ok {
		return
	}
	delete(s.producers, id)
	rm.Producers = append(rm.Producers, pe)
	if sess, ok := s.sessions[pe.Owner]; ok {
		delete(sess.Media, pe.Tag)
		delete(sess.Stats, string(id))
	}
	if s.speaker.ProducerID == id {
		s.speaker = ActiveSpeaker{}
	}
	for cid, ce := range s.consumers {
		if ce.Source == pe.Owner && ce.Tag == pe.Tag {
			s.removeConsumerLocked(cid, rm)
		}
	}
}

// --- consumers ---

// CommitConsumer stores a consumer and initializes the owner's layer
// state. Consumers are always created paused.
func (s *RoomState) CommitConsumer(e *ConsumerEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[e.Owner]
	if !ok {
		return false
	}
	e.Paused = true
	s.consumers[e.ID] = e
	sess.ConsumerLayers[e.ID] = &LayerState{}
	s.bump()
	return true
}

func (s *RoomState) Consumer(id core.ConsumerID) (ConsumerEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ce, ok := s.consumers[id]
	if !ok {
		return ConsumerEntry{}, false
	}
	return *ce, true
}

func (s *RoomState) SetConsumerPaused(id core.ConsumerID, paused bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ce, ok := s.consumers[id]
	if !ok {
		return false
	}
	ce.Paused = paused
	s.bump()
	return true
}

// SetClientLayer records the layer the client asked for.
func (s *RoomState) SetClientLayer(id core.ConsumerID, spatial int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ce, ok := s.consumers[id]
	if !ok {
		return false
	}
	if sess, ok := s.sessions[ce.Owner]; ok {
		if ls, ok := sess.ConsumerLayers[id]; ok {
			l := spatial
			ls.ClientSelectedLayer = &l
		}
	}
	s.bump()
	return true
}

// SetCurrentLayer records an engine layers-change notification. Pure
// read-model update, no protocol action.
func (s *RoomState) SetCurrentLayer(id core.ConsumerID, spatial int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ce, ok := s.consumers[id]
	if !ok {
		return
	}
	if sess, ok := s.sessions[ce.Owner]; ok {
		if ls, ok := sess.ConsumerLayers[id]; ok {
			l := spatial
			ls.CurrentLayer = &l
			s.bump()
		}
	}
}

func (s *RoomState) RemoveConsumer(id core.ConsumerID) Removed {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rm Removed
	s.removeConsumerLocked(id, &rm)
	if !rm.Empty() {
		s.bump()
	}
	return rm
}

func (s *RoomState) removeConsumerLocked(id core.ConsumerID, rm *Removed) {
	ce, ok := s.consumers[id]
	if !ok {
		return
	}
	delete(s.consumers, id)
	rm.Consumers = append(rm.Consumers, ce)
	if sess, ok := s.sessions[ce.Owner]; ok {
		delete(sess.ConsumerLayers, id)
		delete(sess.Stats, string(id))
	}
}

// --- stats / speaker ---

// VideoProducers returns copies of every video producer entry.
func (s *RoomState) VideoProducers() []ProducerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProducerEntry, 0, len(s.producers))
	for _, pe := range s.producers {
		if pe.Kind == core.KindVideo {
			out = append(out, *pe)
		}
	}
	return out
}

func (s *RoomState) Consumers() []ConsumerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ConsumerEntry, 0, len(s.consumers))
	for _, ce := range s.consumers {
		out = append(out, *ce)
	}
	return out
}

// WriteStats overwrites the owner's snapshot for one resource. Owners
// reaped mid-poll are skipped silently.
func (s *RoomState) WriteStats(owner domain.PeerID, resource string, snap core.StatsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[owner]
	if !ok {
		return
	}
	sess.Stats[resource] = snap
	s.bump()
}

// SetActiveSpeaker resolves the producer's owner and publishes it as
// the room's active speaker. Unknown producers clear nothing.
func (s *RoomState) SetActiveSpeaker(producerID core.ProducerID, volume int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pe, ok := s.producers[producerID]
	if !ok {
		return false
	}
	s.speaker = ActiveSpeaker{ProducerID: producerID, PeerID: pe.Owner, Volume: volume}
	s.bump()
	return true
}

func (s *RoomState) ClearActiveSpeaker() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speaker.ProducerID == "" {
		return
	}
	s.speaker = ActiveSpeaker{}
	s.bump()
}

func (s *RoomState) Speaker() ActiveSpeaker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speaker
}

// --- read model ---

// Counts reports registry sizes for metrics and tests.
func (s *RoomState) Counts() (sessions, transports, producers, consumers int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), len(s.transports), len(s.producers), len(s.consumers)
}

// PeerReferenced reports whether any registry still references the
// peer, in any role.
func (s *RoomState) PeerReferenced(peerID domain.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[peerID]; ok {
		return true
	}
	for _, te := range s.transports {
		if te.Owner == peerID {
			return true
		}
	}
	for _, pe := range s.producers {
		if pe.Owner == peerID {
			return true
		}
	}
	for _, ce := range s.consumers {
		if ce.Owner == peerID || ce.Source == peerID {
			return true
		}
	}
	return false
}

// Peers returns the sync read model: every session as a copy, with the
// caller's private fields (layers, stats) included only on its own view.
func (s *RoomState) Peers(caller domain.PeerID) map[domain.PeerID]PeerView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.PeerID]PeerView, len(s.sessions))
	for id, sess := range s.sessions {
		out[id] = sess.view(id == caller)
	}
	return out
}
