package orch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-live/stagehand/internal/app"
	"github.com/stagehand-live/stagehand/internal/core"
	"github.com/stagehand-live/stagehand/internal/domain"
)

type fixture struct {
	o   *Orchestrator
	eng *fakeEngine
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		eng: newFakeEngine(),
		now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	f.o = New(app.NewRoomState(), f.eng, &fakeScenes{}, DefaultTimings())
	f.o.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) join(t *testing.T, peerID domain.PeerID) {
	t.Helper()
	_, err := f.o.Join(peerID, string(peerID))
	require.Nil(t, err)
}

func (f *fixture) transport(t *testing.T, peerID domain.PeerID, dir core.Direction) core.TransportID {
	t.Helper()
	opts, err := f.o.CreateTransport(context.Background(), peerID, dir)
	require.Nil(t, err)
	return opts.ID
}

func (f *fixture) produce(t *testing.T, peerID domain.PeerID, tid core.TransportID, tag domain.MediaTag, kind core.MediaKind) core.ProducerID {
	t.Helper()
	res, err := f.o.SendTrack(context.Background(), peerID, tid, kind, json.RawMessage(`{}`), tag, false)
	require.Nil(t, err)
	return res.ProducerID
}

func (f *fixture) consume(t *testing.T, peerID, source domain.PeerID, tag domain.MediaTag) core.ConsumerID {
	t.Helper()
	opts, err := f.o.RecvTrack(context.Background(), peerID, source, tag, json.RawMessage(`{}`))
	require.Nil(t, err)
	return opts.ID
}

func TestJoinIsIdempotent(t *testing.T) {
	f := newFixture(t)

	res1, err := f.o.Join("alice", "Alice")
	require.Nil(t, err)
	assert.Equal(t, domain.RoleVisitor, res1.Peer.Role)
	assert.NotEmpty(t, res1.RouterCapabilities)

	// A second join is a reconnection, not an error, and does not reset
	// the session's resources.
	tid := f.transport(t, "alice", core.DirectionSend)
	_, err = f.o.Join("alice", "")
	require.Nil(t, err)
	_, ok := f.o.State.Transport(tid)
	assert.True(t, ok)

	sessions, _, _, _ := f.o.State.Counts()
	assert.Equal(t, 1, sessions)
}

func TestAuthorizeRejectsUnknownAndStale(t *testing.T) {
	f := newFixture(t)

	err := f.o.Leave("ghost")
	require.NotNil(t, err)
	assert.Equal(t, core.CodeBadRequest, err.Code)

	f.join(t, "alice")
	f.advance(f.o.Timings.StaleAfter + time.Second)
	_, err = f.o.Sync(context.Background(), "alice")
	require.NotNil(t, err)
	assert.Equal(t, core.CodePreconditionFailed, err.Code)
}

func TestAuthorizeRefreshesLiveness(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")

	// Each authorized call pushes staleness out; the session stays live
	// as long as any procedure keeps arriving in time.
	for i := 0; i < 3; i++ {
		f.advance(f.o.Timings.StaleAfter - time.Second)
		_, err := f.o.Sync(context.Background(), "alice")
		require.Nil(t, err)
	}
}

func TestLeaveRemovesEveryReference(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	f.join(t, "bob")

	sendT := f.transport(t, "alice", core.DirectionSend)
	f.transport(t, "bob", core.DirectionRecv)
	f.produce(t, "alice", sendT, domain.TagCamVideo, core.KindVideo)
	cid := f.consume(t, "bob", "alice", domain.TagCamVideo)

	require.Nil(t, f.o.Leave("alice"))

	// Bob's consumer read from alice, so it is gone too.
	assert.False(t, f.o.State.PeerReferenced("alice"))
	_, ok := f.o.State.Consumer(cid)
	assert.False(t, ok)
	assert.True(t, f.eng.consumers[cid].isClosed())
	assert.True(t, f.eng.transports[sendT].isClosed())

	sessions, transports, producers, consumers := f.o.State.Counts()
	assert.Equal(t, 1, sessions)
	assert.Equal(t, 1, transports)
	assert.Equal(t, 0, producers)
	assert.Equal(t, 0, consumers)
}

func TestStaleReapCascades(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	f.join(t, "bob")

	sendT := f.transport(t, "alice", core.DirectionSend)
	f.transport(t, "bob", core.DirectionRecv)
	f.produce(t, "alice", sendT, domain.TagCamAudio, core.KindAudio)
	cid := f.consume(t, "bob", "alice", domain.TagCamAudio)

	// Bob keeps calling, alice goes quiet.
	f.advance(f.o.Timings.StaleAfter - time.Second)
	_, err := f.o.Sync(context.Background(), "bob")
	require.Nil(t, err)
	f.advance(2 * time.Second)

	f.o.ReapStale()

	assert.False(t, f.o.State.PeerReferenced("alice"))
	assert.True(t, f.o.State.HasSession("bob"))
	_, ok := f.o.State.Consumer(cid)
	assert.False(t, ok, "bob's consumer depended on alice")
	assert.True(t, f.eng.consumers[cid].isClosed())
}

func TestSendTrackReplacesOnRepublish(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	f.join(t, "bob")

	sendT := f.transport(t, "alice", core.DirectionSend)
	f.transport(t, "bob", core.DirectionRecv)
	first := f.produce(t, "alice", sendT, domain.TagCamVideo, core.KindVideo)
	cid := f.consume(t, "bob", "alice", domain.TagCamVideo)

	second := f.produce(t, "alice", sendT, domain.TagCamVideo, core.KindVideo)

	// Last writer wins: the old producer and its consumers are closed,
	// the tag resolves to the new producer.
	assert.NotEqual(t, first, second)
	_, ok := f.o.State.Producer(first)
	assert.False(t, ok)
	assert.True(t, f.eng.producers[first].isClosed())
	assert.True(t, f.eng.consumers[cid].isClosed())
	pe, ok := f.o.State.ProducerByTag("alice", domain.TagCamVideo)
	require.True(t, ok)
	assert.Equal(t, second, pe.ID)

	_, _, producers, consumers := f.o.State.Counts()
	assert.Equal(t, 1, producers)
	assert.Equal(t, 0, consumers)
}

func TestSendTrackValidation(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	f.join(t, "bob")
	recvT := f.transport(t, "alice", core.DirectionRecv)
	sendT := f.transport(t, "alice", core.DirectionSend)

	_, err := f.o.SendTrack(context.Background(), "alice", recvT, core.KindVideo, json.RawMessage(`{}`), domain.TagCamVideo, false)
	require.NotNil(t, err)
	assert.Equal(t, core.CodeBadRequest, err.Code)

	// Producing on someone else's transport is a stale-reference error.
	_, err = f.o.SendTrack(context.Background(), "bob", sendT, core.KindVideo, json.RawMessage(`{}`), domain.TagCamVideo, false)
	require.NotNil(t, err)
	assert.Equal(t, core.CodeNotFound, err.Code)
}

func TestTransportCloseCascade(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	f.join(t, "bob")
	f.join(t, "carol")

	sendT := f.transport(t, "alice", core.DirectionSend)
	f.transport(t, "bob", core.DirectionRecv)
	f.transport(t, "carol", core.DirectionRecv)
	pid := f.produce(t, "alice", sendT, domain.TagScreenVideo, core.KindVideo)
	bobC := f.consume(t, "bob", "alice", domain.TagScreenVideo)
	carolC := f.consume(t, "carol", "alice", domain.TagScreenVideo)

	require.Nil(t, f.o.CloseTransport("alice", sendT))

	// One call empties the whole subtree: the transport, the producer
	// riding it and both peers' dependent consumers.
	_, ok := f.o.State.Transport(sendT)
	assert.False(t, ok)
	_, ok = f.o.State.Producer(pid)
	assert.False(t, ok)
	assert.True(t, f.eng.transports[sendT].isClosed())
	assert.True(t, f.eng.producers[pid].isClosed())
	for _, cid := range []core.ConsumerID{bobC, carolC} {
		_, ok = f.o.State.Consumer(cid)
		assert.False(t, ok)
		assert.True(t, f.eng.consumers[cid].isClosed())
	}

	// Alice still has a session; only the transport's subtree is gone.
	assert.True(t, f.o.State.HasSession("alice"))
}

func TestEngineTransportClosedHookCascades(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	sendT := f.transport(t, "alice", core.DirectionSend)
	pid := f.produce(t, "alice", sendT, domain.TagCamAudio, core.KindAudio)

	// Unsolicited close reported by the engine runs the same cascade as
	// an explicit request.
	f.eng.getHooks().TransportClosed(sendT)

	_, ok := f.o.State.Transport(sendT)
	assert.False(t, ok)
	_, ok = f.o.State.Producer(pid)
	assert.False(t, ok)
}

func TestConsumerCreatedPausedResumeNeedsConnect(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	f.join(t, "bob")

	sendT := f.transport(t, "alice", core.DirectionSend)
	recvT := f.transport(t, "bob", core.DirectionRecv)
	f.produce(t, "alice", sendT, domain.TagCamVideo, core.KindVideo)
	cid := f.consume(t, "bob", "alice", domain.TagCamVideo)

	ce, ok := f.o.State.Consumer(cid)
	require.True(t, ok)
	assert.True(t, ce.Paused, "consumers start paused")

	// Resuming before the recv transport finished its handshake would
	// lose the first keyframe.
	err := f.o.ResumeConsumer(context.Background(), "bob", cid)
	require.NotNil(t, err)
	assert.Equal(t, core.CodePreconditionFailed, err.Code)

	_, cerr := f.o.ConnectTransport(context.Background(), "bob", recvT, json.RawMessage(`{}`))
	require.Nil(t, cerr)
	require.Nil(t, f.o.ResumeConsumer(context.Background(), "bob", cid))

	ce, _ = f.o.State.Consumer(cid)
	assert.False(t, ce.Paused)
	assert.False(t, f.eng.consumers[cid].isPaused())
}

func TestRecvTrackErrors(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	f.join(t, "bob")
	sendT := f.transport(t, "alice", core.DirectionSend)

	// No such producer.
	_, err := f.o.RecvTrack(context.Background(), "bob", "alice", domain.TagCamVideo, json.RawMessage(`{}`))
	require.NotNil(t, err)
	assert.Equal(t, core.CodeNotFound, err.Code)

	f.produce(t, "alice", sendT, domain.TagCamVideo, core.KindVideo)

	// No recv transport yet.
	_, err = f.o.RecvTrack(context.Background(), "bob", "alice", domain.TagCamVideo, json.RawMessage(`{}`))
	require.NotNil(t, err)
	assert.Equal(t, core.CodeNotFound, err.Code)

	f.transport(t, "bob", core.DirectionRecv)

	// Capability mismatch is a conflict, not retryable as-is.
	f.eng.canConsume = false
	_, err = f.o.RecvTrack(context.Background(), "bob", "alice", domain.TagCamVideo, json.RawMessage(`{}`))
	require.NotNil(t, err)
	assert.Equal(t, core.CodeConflict, err.Code)
}

func TestProducerPauseMirrorsIntoMedia(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	sendT := f.transport(t, "alice", core.DirectionSend)
	pid := f.produce(t, "alice", sendT, domain.TagCamAudio, core.KindAudio)

	require.Nil(t, f.o.PauseProducer(context.Background(), "alice", pid))
	view := f.o.State.Peers("alice")["alice"]
	assert.True(t, view.Media[domain.TagCamAudio].Paused)

	require.Nil(t, f.o.ResumeProducer(context.Background(), "alice", pid))
	view = f.o.State.Peers("alice")["alice"]
	assert.False(t, view.Media[domain.TagCamAudio].Paused)
}

func TestProducerCloseCascadesToConsumers(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	f.join(t, "bob")
	sendT := f.transport(t, "alice", core.DirectionSend)
	f.transport(t, "bob", core.DirectionRecv)
	pid := f.produce(t, "alice", sendT, domain.TagCamVideo, core.KindVideo)
	cid := f.consume(t, "bob", "alice", domain.TagCamVideo)

	require.Nil(t, f.o.CloseProducer("alice", pid))

	_, ok := f.o.State.Producer(pid)
	assert.False(t, ok)
	assert.True(t, f.eng.consumers[cid].isClosed())
	view := f.o.State.Peers("alice")["alice"]
	assert.NotContains(t, view.Media, domain.TagCamVideo)
}

func TestSetRoleRequiresManager(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	f.join(t, "bob")

	err := f.o.SetRole("alice", "bob", domain.RoleManager)
	require.NotNil(t, err)
	assert.Equal(t, core.CodeUnauthorized, err.Code)

	f.o.State.SetRole("alice", domain.RoleManager)
	require.Nil(t, f.o.SetRole("alice", "bob", domain.RoleManager))
	view := f.o.State.Peers("alice")["bob"]
	assert.Equal(t, domain.RoleManager, view.Peer.Role)
}

func TestBanCascadesAndRefusesRejoin(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	f.join(t, "bob")
	f.o.State.SetRole("alice", domain.RoleManager)

	sendT := f.transport(t, "bob", core.DirectionSend)
	pid := f.produce(t, "bob", sendT, domain.TagCamVideo, core.KindVideo)

	require.Nil(t, f.o.BanPeer("alice", "bob"))

	// Resources are gone, the flagged session survives.
	_, ok := f.o.State.Producer(pid)
	assert.False(t, ok)
	assert.True(t, f.eng.transports[sendT].isClosed())
	assert.True(t, f.o.State.HasSession("bob"))

	_, err := f.o.Join("bob", "Bob")
	require.NotNil(t, err)
	assert.Equal(t, core.CodeUnauthorized, err.Code)

	_, err = f.o.Sync(context.Background(), "bob")
	require.NotNil(t, err)
	assert.Equal(t, core.CodeUnauthorized, err.Code)
}

func TestSyncResolvesSettings(t *testing.T) {
	f := newFixture(t)
	f.o.Scenes = &fakeScenes{
		scene: &domain.Scene{Name: "open-stage", Layout: "grid", VisitorAudio: true},
		overrides: map[domain.Setting]domain.Override{
			domain.SettingVisitorAudio: domain.OverrideForcedOff,
			domain.SettingChat:         domain.OverrideForcedOn,
		},
	}
	f.join(t, "alice")

	res, err := f.o.Sync(context.Background(), "alice")
	require.Nil(t, err)
	require.NotNil(t, res.Scene)
	assert.Equal(t, "open-stage", res.Scene.Name)
	assert.False(t, res.Settings[domain.SettingVisitorAudio])
	assert.True(t, res.Settings[domain.SettingChat])
	assert.Contains(t, res.Peers, domain.PeerID("alice"))
}

func TestSyncSurvivesSceneSourceOutage(t *testing.T) {
	f := newFixture(t)
	f.o.Scenes = &fakeScenes{err: context.DeadlineExceeded}
	f.join(t, "alice")

	res, err := f.o.Sync(context.Background(), "alice")
	require.Nil(t, err)
	assert.Nil(t, res.Scene)
	assert.True(t, res.Settings[domain.SettingCurtains])
	assert.False(t, res.Settings[domain.SettingChat])
}

func TestActiveSpeakerFollowsVolumes(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	f.join(t, "bob")
	aT := f.transport(t, "alice", core.DirectionSend)
	bT := f.transport(t, "bob", core.DirectionSend)
	aPid := f.produce(t, "alice", aT, domain.TagCamAudio, core.KindAudio)
	bPid := f.produce(t, "bob", bT, domain.TagCamAudio, core.KindAudio)

	hooks := f.eng.getHooks()
	hooks.Volumes([]core.VolumeSample{
		{ProducerID: aPid, Volume: -50},
		{ProducerID: bPid, Volume: -20},
	})
	sp := f.o.State.Speaker()
	assert.Equal(t, domain.PeerID("bob"), sp.PeerID)
	assert.Equal(t, bPid, sp.ProducerID)

	hooks.Silence()
	assert.Equal(t, app.ActiveSpeaker{}, f.o.State.Speaker())
}

func TestSpeakerClearedWhenProducerRemoved(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	aT := f.transport(t, "alice", core.DirectionSend)
	pid := f.produce(t, "alice", aT, domain.TagCamAudio, core.KindAudio)

	f.eng.getHooks().Volumes([]core.VolumeSample{{ProducerID: pid, Volume: -30}})
	require.Equal(t, pid, f.o.State.Speaker().ProducerID)

	require.Nil(t, f.o.CloseProducer("alice", pid))
	assert.Equal(t, app.ActiveSpeaker{}, f.o.State.Speaker())
}

func TestSetConsumerLayers(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	f.join(t, "bob")
	sendT := f.transport(t, "alice", core.DirectionSend)
	f.transport(t, "bob", core.DirectionRecv)
	f.produce(t, "alice", sendT, domain.TagCamVideo, core.KindVideo)
	cid := f.consume(t, "bob", "alice", domain.TagCamVideo)

	require.Nil(t, f.o.SetConsumerLayers(context.Background(), "bob", cid, 2))

	view := f.o.State.Peers("bob")["bob"]
	ls, ok := view.ConsumerLayers[cid]
	require.True(t, ok)
	require.NotNil(t, ls.ClientSelectedLayer)
	assert.Equal(t, 2, *ls.ClientSelectedLayer)

	// Engine confirmation lands in the read model without any action.
	f.eng.getHooks().LayersChanged(cid, 1)
	view = f.o.State.Peers("bob")["bob"]
	require.NotNil(t, view.ConsumerLayers[cid].CurrentLayer)
	assert.Equal(t, 1, *view.ConsumerLayers[cid].CurrentLayer)
}

func TestPollStatsWritesSnapshots(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	f.join(t, "bob")
	sendT := f.transport(t, "alice", core.DirectionSend)
	f.transport(t, "bob", core.DirectionRecv)
	pid := f.produce(t, "alice", sendT, domain.TagCamVideo, core.KindVideo)
	cid := f.consume(t, "bob", "alice", domain.TagCamVideo)

	f.o.PollStats(context.Background())

	aView := f.o.State.Peers("alice")["alice"]
	assert.Contains(t, aView.Stats, string(pid))
	bView := f.o.State.Peers("bob")["bob"]
	assert.Contains(t, bView.Stats, string(cid))

	// Stats are private to their owner.
	assert.Empty(t, f.o.State.Peers("bob")["alice"].Stats)
}

func TestCrossPeerResourceAccessDenied(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	f.join(t, "bob")
	sendT := f.transport(t, "alice", core.DirectionSend)
	pid := f.produce(t, "alice", sendT, domain.TagCamVideo, core.KindVideo)

	err := f.o.CloseProducer("bob", pid)
	require.NotNil(t, err)
	assert.Equal(t, core.CodeNotFound, err.Code)

	err = f.o.CloseTransport("bob", sendT)
	require.NotNil(t, err)
	assert.Equal(t, core.CodeNotFound, err.Code)
}
