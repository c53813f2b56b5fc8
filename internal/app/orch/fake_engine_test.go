package orch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/stagehand-live/stagehand/internal/core"
	"github.com/stagehand-live/stagehand/internal/domain"
)

// fakeEngine stands in for the media engine: handles are plain records
// and every call succeeds unless a test flips a failure switch.
type fakeEngine struct {
	mu         sync.Mutex
	hooks      core.EngineHooks
	nextID     int
	canConsume bool

	transports map[core.TransportID]*fakeTransport
	producers  map[core.ProducerID]*fakeProducer
	consumers  map[core.ConsumerID]*fakeConsumer
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		canConsume: true,
		transports: make(map[core.TransportID]*fakeTransport),
		producers:  make(map[core.ProducerID]*fakeProducer),
		consumers:  make(map[core.ConsumerID]*fakeConsumer),
	}
}

func (e *fakeEngine) id(prefix string) string {
	e.nextID++
	return fmt.Sprintf("%s-%d", prefix, e.nextID)
}

func (e *fakeEngine) RouterCapabilities() core.RTPCapabilities {
	return json.RawMessage(`{"codecs":[]}`)
}

func (e *fakeEngine) CanConsume(core.ProducerID, core.RTPCapabilities) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canConsume
}

func (e *fakeEngine) CreateTransport(_ context.Context, peerID string, dir core.Direction) (core.TransportHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := &fakeTransport{eng: e, tid: core.TransportID(e.id("t")), dir: dir}
	e.transports[t.tid] = t
	return t, nil
}

func (e *fakeEngine) SetHooks(h core.EngineHooks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = h
}

func (e *fakeEngine) getHooks() core.EngineHooks {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hooks
}

func (e *fakeEngine) Close() error { return nil }

type fakeTransport struct {
	eng *fakeEngine
	tid core.TransportID
	dir core.Direction

	mu        sync.Mutex
	closed    bool
	connected bool
}

func (t *fakeTransport) ID() core.TransportID { return t.tid }

func (t *fakeTransport) Options() core.TransportOptions {
	return core.TransportOptions{ID: t.tid, Direction: t.dir}
}

func (t *fakeTransport) Connect(context.Context, core.DTLSParameters) (core.ConnectReply, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil, nil
}

func (t *fakeTransport) Produce(_ context.Context, kind core.MediaKind, _ core.RTPParameters, paused bool) (core.ProducerHandle, error) {
	t.eng.mu.Lock()
	defer t.eng.mu.Unlock()
	p := &fakeProducer{pid: core.ProducerID(t.eng.id("p")), kind: kind, paused: paused}
	t.eng.producers[p.pid] = p
	return p, nil
}

func (t *fakeTransport) Consume(_ context.Context, producerID core.ProducerID, _ core.RTPCapabilities, paused bool) (core.ConsumerHandle, error) {
	t.eng.mu.Lock()
	defer t.eng.mu.Unlock()
	c := &fakeConsumer{cid: core.ConsumerID(t.eng.id("c")), producerID: producerID, paused: paused}
	t.eng.consumers[c.cid] = c
	return c, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeProducer struct {
	pid  core.ProducerID
	kind core.MediaKind

	mu     sync.Mutex
	paused bool
	closed bool
}

func (p *fakeProducer) ID() core.ProducerID  { return p.pid }
func (p *fakeProducer) Kind() core.MediaKind { return p.kind }

func (p *fakeProducer) Pause(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	return nil
}

func (p *fakeProducer) Resume(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	return nil
}

func (p *fakeProducer) Stats(context.Context) (core.StatsSnapshot, error) {
	return core.StatsSnapshot{At: time.Now(), Data: json.RawMessage(`{"bitrate":1}`)}, nil
}

func (p *fakeProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeProducer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeConsumer struct {
	cid        core.ConsumerID
	producerID core.ProducerID

	mu     sync.Mutex
	paused bool
	closed bool
	layer  int
}

func (c *fakeConsumer) ID() core.ConsumerID { return c.cid }

func (c *fakeConsumer) Options() core.ConsumerOptions {
	return core.ConsumerOptions{ID: c.cid, ProducerID: c.producerID}
}

func (c *fakeConsumer) Pause(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	return nil
}

func (c *fakeConsumer) Resume(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	return nil
}

func (c *fakeConsumer) SetPreferredLayers(_ context.Context, spatial int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layer = spatial
	return nil
}

func (c *fakeConsumer) Stats(context.Context) (core.StatsSnapshot, error) {
	return core.StatsSnapshot{At: time.Now(), Data: json.RawMessage(`{"bitrate":1}`)}, nil
}

func (c *fakeConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConsumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConsumer) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// fakeScenes is a SceneSource with fixed content.
type fakeScenes struct {
	scene     *domain.Scene
	overrides map[domain.Setting]domain.Override
	err       error
}

func (f *fakeScenes) Current(context.Context) (*domain.Scene, map[domain.Setting]domain.Override, error) {
	return f.scene, f.overrides, f.err
}
