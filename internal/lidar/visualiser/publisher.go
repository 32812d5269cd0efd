package visualiser

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Config contains configuration for the scene publisher.
type Config struct {
	ListenAddr   string // gRPC listen address, e.g. "localhost:50051"
	QueueSize    int    // scenes buffered between the pipelines and the broadcast loop
	ClientBuffer int    // scenes buffered per subscriber
	MaxClients   int    // 0 means unlimited
}

// DefaultConfig returns default publisher configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50051",
		QueueSize:    16,
		ClientBuffer: 4,
		MaxClients:   8,
	}
}

// Publisher fans scenes out to gRPC subscribers. Publish never blocks.
type Publisher struct {
	config Config

	queue chan *Scene

	clientsMu sync.RWMutex
	clients   map[uint64]*subscriber
	nextID    atomic.Uint64

	latestMu sync.RWMutex
	latest   map[string]*Scene

	published atomic.Uint64
	dropped   atomic.Uint64
	metrics   *publisherMetrics

	server   *grpc.Server
	listener net.Listener
	running  atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type subscriber struct {
	id   uint64
	kind string
	ch   chan *structpb.Struct
}

type publisherMetrics struct {
	published   prometheus.Counter
	dropped     *prometheus.CounterVec
	subscribers prometheus.Gauge
}

// NewPublisher creates a publisher. When reg is non-nil the publisher
// registers its counters with it.
func NewPublisher(cfg Config, reg prometheus.Registerer) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	p := &Publisher{
		config:  cfg,
		queue:   make(chan *Scene, cfg.QueueSize),
		clients: make(map[uint64]*subscriber),
		latest:  make(map[string]*Scene),
		stopCh:  make(chan struct{}),
	}
	if reg != nil {
		f := promauto.With(reg)
		p.metrics = &publisherMetrics{
			published: f.NewCounter(prometheus.CounterOpts{
				Name: "cloudmotion_visualiser_scenes_published_total",
				Help: "Scenes accepted into the publish queue",
			}),
			dropped: f.NewCounterVec(prometheus.CounterOpts{
				Name: "cloudmotion_visualiser_scenes_dropped_total",
				Help: "Scenes dropped because the queue or a subscriber was full",
			}, []string{"where"}),
			subscribers: f.NewGauge(prometheus.GaugeOpts{
				Name: "cloudmotion_visualiser_subscribers",
				Help: "Connected scene stream subscribers",
			}),
		}
	}
	return p
}

// Start listens on the configured address and serves the scene stream.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.config.ListenAddr, err)
	}
	return p.Serve(lis)
}

// Serve serves the scene stream on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis

	// Large clouds easily exceed the 4 MB default.
	const maxMsgSize = 16 * 1024 * 1024
	p.server = grpc.NewServer(grpc.MaxSendMsgSize(maxMsgSize))
	RegisterSceneService(p.server, p)

	p.wg.Add(2)
	go p.broadcastLoop()
	go func() {
		defer p.wg.Done()
		opsf("gRPC scene stream listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			opsf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop closes all streams and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	if p.server != nil {
		p.server.GracefulStop()
	}
	p.wg.Wait()
	opsf("gRPC scene stream stopped")
}

// Publish offers a scene to subscribers and records it as the latest scene
// of its kind. It drops the scene when the queue is full.
func (p *Publisher) Publish(s *Scene) {
	if s == nil {
		return
	}
	p.latestMu.Lock()
	p.latest[s.Kind] = s
	p.latestMu.Unlock()

	if !p.running.Load() {
		return
	}
	select {
	case p.queue <- s:
		p.published.Add(1)
		if p.metrics != nil {
			p.metrics.published.Inc()
		}
	default:
		n := p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.WithLabelValues("queue").Inc()
		}
		tracef("dropped %s scene %s, queue full (total dropped: %d)", s.Kind, s.FrameID, n)
	}
}

// Latest returns the most recent scene of the given kind.
func (p *Publisher) Latest(kind string) (*Scene, bool) {
	p.latestMu.RLock()
	defer p.latestMu.RUnlock()
	s, ok := p.latest[kind]
	return s, ok
}

// broadcastLoop encodes each scene once and offers it to every matching
// subscriber.
func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case s := <-p.queue:
			msg, err := s.ToStruct()
			if err != nil {
				opsf("%v", err)
				continue
			}
			p.clientsMu.RLock()
			for _, c := range p.clients {
				if c.kind != "" && c.kind != s.Kind {
					continue
				}
				select {
				case c.ch <- msg:
				default:
					p.dropped.Add(1)
					if p.metrics != nil {
						p.metrics.dropped.WithLabelValues("subscriber").Inc()
					}
				}
			}
			p.clientsMu.RUnlock()
			tracef("broadcast %s scene %s (%d points)", s.Kind, s.FrameID, s.PointCount())
		}
	}
}

// StreamScenes implements SceneServiceServer.
func (p *Publisher) StreamScenes(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	kind := req.GetFields()["kind"].GetStringValue()
	switch kind {
	case "", KindDynamic, KindDetection:
	default:
		return status.Errorf(codes.InvalidArgument, "unknown scene kind %q", kind)
	}

	sub, err := p.addClient(kind)
	if err != nil {
		return err
	}
	defer p.removeClient(sub.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case msg := <-sub.ch:
			if err := stream.Send(msg); err != nil {
				diagf("subscriber %d send failed: %v", sub.id, err)
				return err
			}
		}
	}
}

func (p *Publisher) addClient(kind string) (*subscriber, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return nil, status.Errorf(codes.ResourceExhausted, "max subscribers (%d) reached", p.config.MaxClients)
	}
	sub := &subscriber{
		id:   p.nextID.Add(1),
		kind: kind,
		ch:   make(chan *structpb.Struct, p.config.ClientBuffer),
	}
	p.clients[sub.id] = sub
	if p.metrics != nil {
		p.metrics.subscribers.Set(float64(len(p.clients)))
	}
	opsf("subscriber %d connected (kind=%q, total: %d)", sub.id, kind, len(p.clients))
	return sub, nil
}

func (p *Publisher) removeClient(id uint64) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; !ok {
		return
	}
	delete(p.clients, id)
	if p.metrics != nil {
		p.metrics.subscribers.Set(float64(len(p.clients)))
	}
	opsf("subscriber %d disconnected (remaining: %d)", id, len(p.clients))
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	p.clientsMu.RLock()
	clients := len(p.clients)
	p.clientsMu.RUnlock()
	return PublisherStats{
		Published:   p.published.Load(),
		Dropped:     p.dropped.Load(),
		ClientCount: clients,
		Running:     p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	Published   uint64
	Dropped     uint64
	ClientCount int
	Running     bool
}
