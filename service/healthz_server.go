package service

import (
	"context"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

type HealthzServer struct {
	ctx    context.Context
	server *http.Server
	log    log.Logger
	addr   net.Addr
}

// Start binds addr and serves until Shutdown. The bound address is
// available from Addr once Start has returned from binding.
func (h *HealthzServer) Start(ctx context.Context, addr string, ready chan<- net.Addr) error {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return serve(ctx, addr, c.Handler(hdlr), func(server *http.Server, bound net.Addr) {
		h.server = server
		h.ctx = ctx
		h.addr = bound
	}, ready)
}

func (h *HealthzServer) Addr() net.Addr {
	return h.addr
}

func (h *HealthzServer) Shutdown() error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(h.ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	if h.log != nil {
		h.log.Debug("Received health check request", "path", r.URL.Path)
	}
	w.Write([]byte("OK")) //nolint:errcheck
}

// serve binds addr, reports the listener through onBind and ready, then
// blocks serving handler.
func serve(ctx context.Context, addr string, handler http.Handler, onBind func(*http.Server, net.Addr), ready chan<- net.Addr) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		if ready != nil {
			close(ready)
		}
		return err
	}
	server := &http.Server{
		Handler: handler,
		Addr:    ln.Addr().String(),
	}
	onBind(server, ln.Addr())
	if ready != nil {
		ready <- ln.Addr()
		close(ready)
	}
	return server.Serve(ln)
}
