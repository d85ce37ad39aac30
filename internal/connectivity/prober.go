package connectivity

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sugreev38/v0-hospital-emr-software/pkg/logger"
)

// Prober polls a health URL and feeds the result into a Monitor
type Prober struct {
	client   *resty.Client
	url      string
	interval time.Duration
	monitor  *Monitor
	logger   *logger.Logger
}

// NewProber creates a prober for url
func NewProber(monitor *Monitor, url string, interval, timeout time.Duration, log *logger.Logger) *Prober {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Prober{
		client:   client,
		url:      url,
		interval: interval,
		monitor:  monitor,
		logger:   log,
	}
}

// Probe reports whether the health URL answered with a 2xx status
func (p *Prober) Probe(ctx context.Context) bool {
	resp, err := p.client.R().SetContext(ctx).Get(p.url)
	if err != nil {
		p.logger.WithComponent("connectivity").WithError(err).Debug("Connectivity probe failed")
		return false
	}
	return resp.IsSuccess()
}

// Run probes immediately and then on every interval until ctx is done
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		online := p.Probe(ctx)
		if ctx.Err() != nil {
			return
		}
		p.monitor.SetOnline(online)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
