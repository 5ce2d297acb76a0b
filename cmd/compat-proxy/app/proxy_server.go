package app

import (
	"context"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"

	"github.com/atlassian/apicompat/pkg/util/logz"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ProxyServer forwards every request to the API server at Upstream through Transport.
type ProxyServer struct {
	Logger    *zap.Logger
	Addr      string
	Upstream  *url.URL
	Transport http.RoundTripper

	mu          sync.Mutex
	listenAddr  net.Addr
	upstreamErr error
}

func (p *ProxyServer) Run(ctx context.Context) error {
	// No write timeout, watches are long running.
	srv := http.Server{
		Addr:        p.Addr,
		Handler:     p.constructHandler(),
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}
	defer p.setListenAddr(nil)
	return startStopServer(ctx, &srv, shutdownTimeout, p.setListenAddr)
}

// Ready returns nil while the proxy is accepting connections and the last upstream round trip succeeded.
func (p *ProxyServer) Ready() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listenAddr == nil {
		return errors.New("proxy is not listening")
	}
	if p.upstreamErr != nil {
		return errors.Wrap(p.upstreamErr, "upstream unavailable")
	}
	return nil
}

// ListenAddr returns the bound address, nil when not running.
func (p *ProxyServer) ListenAddr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listenAddr
}

func (p *ProxyServer) setListenAddr(addr net.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listenAddr = addr
}

func (p *ProxyServer) setUpstreamErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.upstreamErr = err
}

func (p *ProxyServer) constructHandler() *chi.Mux {
	upstream := p.Upstream
	proxy := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(upstream)
			r.Out.Host = upstream.Host
			// Credentials come from the client configuration only
			r.Out.Header.Del("Authorization")
		},
		Transport: p.Transport,
		// Flush immediately so watch events are not buffered
		FlushInterval: -1,
		ModifyResponse: func(_ *http.Response) error {
			p.setUpstreamErr(nil)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if r.Context().Err() != nil {
				// Client went away
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			p.Logger.Warn("Upstream request failed", logz.Method(r.Method), logz.URL(r.URL.String()), zap.Error(err))
			p.setUpstreamErr(err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Handle("/*", proxy)
	return router
}
