package app

import (
	"context"
	"net/http"
	"time"

	"github.com/fiffu/releasewatch/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewHTTPClient is the single outbound client shared by source adapters and
// transports. Per-call deadlines come from the caller's context.
func NewHTTPClient(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *http.Client {
	tpt := NewTransport(log, http.DefaultTransport.(*http.Transport).Clone())
	client := &http.Client{Transport: tpt}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			client.CloseIdleConnections()
			return nil
		},
	})
	return client
}

func NewTransport(log *zap.Logger, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &transport{base, log}
}

type transport struct {
	base http.RoundTripper
	log  *zap.Logger
}

func (tpt *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := tpt.base.RoundTrip(req)
	elapsed := time.Since(start).Milliseconds()

	// Query strings may carry tokens, so only host and path are logged.
	if err != nil {
		tpt.log.Sugar().Debugw("Outbound request failed",
			"method", req.Method, "host", req.URL.Host, "path", req.URL.Path, "elapsed_msecs", elapsed, "err", err)
		return nil, err
	}
	tpt.log.Sugar().Debugw("Outbound request",
		"method", req.Method, "host", req.URL.Host, "path", req.URL.Path, "status", resp.StatusCode, "elapsed_msecs", elapsed)
	return resp, nil
}
