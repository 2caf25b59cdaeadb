// Package poller implements the client-side cache-coherency polling loop.
//
// A Poller periodically fetches the backend's version vector and turns
// counter increases into invalidation signals. Consumers hold cached views
// of backend state and refetch whichever resource family a signal names.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"agent-proxy-go/internal/model"
)

// Family names a cached resource family tracked by one counter of the
// version vector.
type Family string

const (
	FamilyGraphs     Family = "graphs"
	FamilyAssistants Family = "assistants"
	FamilySchemas    Family = "schemas"
	FamilyThreads    Family = "threads"
)

// Signal reports that one family's counter increased. The counter change is
// the signal; the payload it invalidates is fetched by the consumer.
type Signal struct {
	Family Family
	From   int64
	To     int64
}

// TokenFunc supplies the current bearer credential for a tick. Returning an
// empty string skips the tick without error: a logged-out client simply
// stops polling work until a session reappears.
type TokenFunc func() string

// Poller polls the cache-state endpoint at a fixed interval and emits
// invalidation signals on counter increases.
//
// Ticks are serialized: a tick that fires while the previous request is
// still in flight is skipped, bounding outstanding requests at one. Failed
// ticks are swallowed; the next tick is the retry, so staleness is bounded
// by the interval rather than a backoff policy.
type Poller struct {
	endpoint   string
	httpClient *http.Client
	token      TokenFunc
	interval   time.Duration
	logger     *slog.Logger

	signals chan Signal

	mu       sync.Mutex
	last     *model.CacheVersions
	inFlight bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Poller for the given cache-state endpoint. httpClient may
// be nil to use a default client with a 10s timeout.
func New(endpoint string, httpClient *http.Client, token TokenFunc, interval time.Duration, logger *slog.Logger) *Poller {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Poller{
		endpoint:   endpoint,
		httpClient: httpClient,
		token:      token,
		interval:   interval,
		logger:     logger.With("component", "cache_poller"),
		signals:    make(chan Signal, 64),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins polling: one immediate tick, then one per interval until
// Stop is called or ctx is canceled. Start must be called at most once.
func (p *Poller) Start(ctx context.Context) {
	go p.run(ctx)
}

// Stop cancels the timer deterministically. No ticks occur after Stop
// returns; the signal channel is closed once any in-flight tick settles.
// The last-seen vector remains readable via Last.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

// Signals returns the invalidation signal channel. It is closed on Stop.
func (p *Poller) Signals() <-chan Signal {
	return p.signals
}

// Last returns the most recently observed version vector, or nil before
// the first successful tick.
func (p *Poller) Last() *model.CacheVersions {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	v := *p.last
	return &v
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	defer close(p.signals)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick performs one poll. Any failure is logged at debug and swallowed.
func (p *Poller) tick(ctx context.Context) {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		p.logger.Debug("tick skipped; previous still in flight")
		return
	}
	p.inFlight = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	token := p.token()
	if token == "" {
		return
	}

	versions, err := p.fetch(ctx, token)
	if err != nil {
		p.logger.Debug("tick failed", "err", err)
		return
	}

	p.mu.Lock()
	prev := p.last
	p.last = versions
	p.mu.Unlock()

	if prev == nil {
		return
	}
	p.diff(prev, versions)
}

func (p *Poller) fetch(ctx context.Context, token string) (*model.CacheVersions, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("cache state returned %d", resp.StatusCode)
	}

	var versions model.CacheVersions
	if err := json.NewDecoder(resp.Body).Decode(&versions); err != nil {
		return nil, err
	}
	return &versions, nil
}

// diff emits a signal per family whose counter increased. A full channel
// drops the signal: consumers that far behind will refetch on the next one.
func (p *Poller) diff(prev, next *model.CacheVersions) {
	pairs := []struct {
		family Family
		from   int64
		to     int64
	}{
		{FamilyGraphs, prev.Graphs, next.Graphs},
		{FamilyAssistants, prev.Assistants, next.Assistants},
		{FamilySchemas, prev.Schemas, next.Schemas},
		{FamilyThreads, prev.Threads, next.Threads},
	}

	for _, pair := range pairs {
		if pair.to <= pair.from {
			continue
		}
		select {
		case p.signals <- Signal{Family: pair.family, From: pair.from, To: pair.to}:
		default:
			p.logger.Debug("signal dropped; consumer is behind", "family", pair.family)
		}
	}
}
