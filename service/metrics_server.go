package service

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

type MetricsServer struct {
	ctx    context.Context
	server *http.Server
	addr   net.Addr
}

func (m *MetricsServer) Start(ctx context.Context, addr string, ready chan<- net.Addr) error {
	hdlr := http.NewServeMux()
	hdlr.Handle("/metrics", promhttp.Handler())
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return serve(ctx, addr, c.Handler(hdlr), func(server *http.Server, bound net.Addr) {
		m.server = server
		m.ctx = ctx
		m.addr = bound
	}, ready)
}

func (m *MetricsServer) Addr() net.Addr {
	return m.addr
}

func (m *MetricsServer) Shutdown() error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(m.ctx)
}
