// Package health runs a background poller over every registered
// connector, tracking healthy/unhealthy transitions and escalating
// through internal/notify when a connector goes down.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaultline/cashops/internal/connector"
	"github.com/vaultline/cashops/internal/notify"
)

// Poller continuously checks every registered connector's reachability
// at a fixed interval.
type Poller struct {
	registry *connector.Registry
	alerts   *notify.Client
	logger   zerolog.Logger
	interval time.Duration

	mu         sync.RWMutex
	lastStatus map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Poller checking all registered connectors at the given
// interval (minimum 5 seconds).
func New(registry *connector.Registry, alerts *notify.Client, logger zerolog.Logger, interval time.Duration) *Poller {
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	return &Poller{
		registry:   registry,
		alerts:     alerts,
		logger:     logger.With().Str("component", "health-poller").Logger(),
		interval:   interval,
		lastStatus: make(map[string]bool),
		done:       make(chan struct{}),
	}
}

// Start begins the background polling loop. Call Stop to shut it down.
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.logger.Info().Dur("interval", p.interval).Msg("starting connector health poller")
	go p.loop(ctx)
}

func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
	p.logger.Info().Msg("connector health poller stopped")
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, p.interval/2)
	defer cancel()

	results := p.registry.TestAll(pollCtx)

	p.mu.Lock()
	defer p.mu.Unlock()

	healthy, unhealthy := 0, 0
	for connectionID, result := range results {
		wasHealthy, known := p.lastStatus[connectionID]
		if known && wasHealthy != result.Success {
			if result.Success {
				p.logger.Info().Str("connection_id", connectionID).Msg("connector recovered")
				if p.alerts != nil {
					_ = p.alerts.AlertConnectorRecovered(connectionID)
				}
			} else {
				p.logger.Warn().Str("connection_id", connectionID).Str("message", result.Message).
					Msg("connector degraded")
				if p.alerts != nil {
					_ = p.alerts.AlertConnectorDown(connectionID, result.Message)
				}
			}
		}
		p.lastStatus[connectionID] = result.Success
		if result.Success {
			healthy++
		} else {
			unhealthy++
		}
	}
	p.logger.Debug().Int("healthy", healthy).Int("unhealthy", unhealthy).Msg("connector health poll complete")
}

// IsHealthy returns whether a connector was reachable at last poll.
func (p *Poller) IsHealthy(connectionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	healthy, ok := p.lastStatus[connectionID]
	return ok && healthy
}
