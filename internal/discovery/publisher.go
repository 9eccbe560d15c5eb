// Package discovery announces active stream endpoints over DNS-SD so
// ground stations can find them without static configuration.
package discovery

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/smazurov/camlink/internal/events"
	"github.com/smazurov/camlink/internal/logging"
	"github.com/smazurov/camlink/internal/metrics"
)

const (
	serviceType   = "_rtsp._tcp"
	serviceDomain = "local."
)

// announcement is a registered service record that can be withdrawn.
type announcement interface {
	Shutdown()
}

// registerFunc registers one service record. Production wires this to
// zeroconf.Register; tests substitute their own.
type registerFunc func(instance, service, domain string, port int, txt []string) (announcement, error)

// record is everything needed to (re-)announce one stream.
type record struct {
	stream     string
	path       string
	codec      string
	resolution string

	server announcement // nil while the last announce attempt failed
}

// Publisher mirrors pipeline state onto mDNS service records: a record
// exists exactly while its pipeline is streaming. Announce failures are
// never fatal; the periodic re-announce retries them.
type Publisher struct {
	bus      *events.Bus
	port     int
	interval time.Duration
	register registerFunc
	logger   *slog.Logger

	mu      sync.Mutex
	records map[string]*record
}

// NewPublisher creates a publisher announcing on the given RTSP port.
func NewPublisher(bus *events.Bus, port int, reannounceInterval time.Duration) *Publisher {
	return &Publisher{
		bus:      bus,
		port:     port,
		interval: reannounceInterval,
		register: func(instance, service, domain string, port int, txt []string) (announcement, error) {
			return zeroconf.Register(instance, service, domain, port, txt, nil)
		},
		logger:  logging.GetLogger("discovery"),
		records: make(map[string]*record),
	}
}

// Run subscribes to pipeline transitions and re-announces all active
// records on a fixed interval, surviving mDNS responder restarts. It
// blocks until ctx is cancelled, then withdraws everything.
func (p *Publisher) Run(ctx context.Context) {
	unsubscribe := p.bus.Subscribe(func(ev events.PipelineStateChangedEvent) {
		p.handleTransition(ev)
	})
	defer unsubscribe()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.withdrawAll()
			return
		case <-ticker.C:
			p.reannounce()
		}
	}
}

func (p *Publisher) handleTransition(ev events.PipelineStateChangedEvent) {
	if ev.NewState == "streaming" {
		p.announce(&record{
			stream:     ev.Stream,
			path:       "/" + ev.Stream,
			codec:      ev.Codec,
			resolution: ev.Resolution,
		})
		return
	}
	p.withdraw(ev.Stream)
}

// announce registers the record and tracks it. On failure the record is
// still tracked so the next re-announce tick retries it.
func (p *Publisher) announce(rec *record) {
	server, err := p.register(instanceName(rec.stream), serviceType, serviceDomain, p.port, rec.txt())
	if err != nil {
		metrics.DiscoveryPublishFailuresTotal.Inc()
		p.logger.Warn("Service announce failed, will retry", "stream", rec.stream, "error", err)
	} else {
		rec.server = server
		p.logger.Info("Stream announced", "stream", rec.stream, "codec", rec.codec)
	}

	p.mu.Lock()
	if old := p.records[rec.stream]; old != nil && old.server != nil {
		old.server.Shutdown()
	}
	p.records[rec.stream] = rec
	p.mu.Unlock()
}

func (p *Publisher) withdraw(stream string) {
	p.mu.Lock()
	rec, ok := p.records[stream]
	delete(p.records, stream)
	p.mu.Unlock()
	if !ok {
		return
	}
	if rec.server != nil {
		rec.server.Shutdown()
	}
	p.logger.Info("Stream announcement withdrawn", "stream", stream)
}

// reannounce re-registers every tracked record. Registration happens
// under the lock; announce traffic is light enough that contention with
// transition handling does not matter.
func (p *Publisher) reannounce() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, rec := range p.records {
		if rec.server != nil {
			rec.server.Shutdown()
			rec.server = nil
		}
		server, err := p.register(instanceName(rec.stream), serviceType, serviceDomain, p.port, rec.txt())
		if err != nil {
			metrics.DiscoveryPublishFailuresTotal.Inc()
			p.logger.Warn("Service re-announce failed", "stream", rec.stream, "error", err)
			continue
		}
		rec.server = server
	}
}

func (p *Publisher) withdrawAll() {
	p.mu.Lock()
	records := p.records
	p.records = make(map[string]*record)
	p.mu.Unlock()

	for _, rec := range records {
		if rec.server != nil {
			rec.server.Shutdown()
		}
	}
}

func (r *record) txt() []string {
	return []string{
		"path=" + r.path,
		"codec=" + r.codec,
		"resolution=" + r.resolution,
	}
}

// instanceName flattens a stream name into a DNS-SD instance label.
func instanceName(stream string) string {
	return "camlink-" + strings.ReplaceAll(stream, "/", "-")
}
