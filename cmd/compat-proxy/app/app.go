package app

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ash2k/stager"
	"github.com/atlassian/apicompat"
	"github.com/atlassian/apicompat/pkg/client"
	"github.com/atlassian/apicompat/pkg/compat"
	"github.com/atlassian/apicompat/pkg/transport"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/rest"
)

const (
	defaultListenAddress = "127.0.0.1:8001"
	defaultAuxAddress    = ":9090"
)

type App struct {
	Logger     *zap.Logger
	RestConfig *rest.Config
	Resolver   *compat.Resolver
	ListenAddr string
	AuxAddr    string
	Debug      bool
}

func (a *App) Run(ctx context.Context) error {
	// Metrics
	registry := prometheus.NewPedanticRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return errors.WithStack(err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return errors.WithStack(err)
	}
	metrics := transport.NewMetrics(apicompat.AppName)
	if err := metrics.Register(registry); err != nil {
		return err
	}

	// Upstream
	proxy, err := a.proxyServer(metrics)
	if err != nil {
		return err
	}
	aux := AuxServer{
		Logger:   a.Logger,
		Addr:     a.AuxAddr,
		Gatherer: registry,
		Ready:    proxy.Ready,
		Debug:    a.Debug,
	}

	// Stager will perform ordered, graceful shutdown
	stgr := stager.New()
	defer stgr.Shutdown()

	stage := stgr.NextStage()
	stage.StartWithContext(func(ctx context.Context) {
		if err := aux.Run(ctx); err != nil {
			a.Logger.Error("Auxiliary server failed", zap.Error(err))
		}
	})

	a.Logger.Info("Proxying", zap.String("listen", a.ListenAddr), zap.String("upstream", proxy.Upstream.String()))
	return proxy.Run(ctx)
}

func (a *App) proxyServer(metrics *transport.Metrics) (*ProxyServer, error) {
	cfg := client.WithCompat(a.RestConfig, transport.Wrapper(a.Resolver, a.Logger, metrics))
	upstream, _, err := rest.DefaultServerURL(cfg.Host, "", schema.GroupVersion{}, rest.IsConfigTransportTLS(*cfg))
	if err != nil {
		return nil, errors.Wrap(err, "invalid API server address")
	}
	rt, err := rest.TransportFor(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create upstream transport")
	}
	return &ProxyServer{
		Logger:    a.Logger,
		Addr:      a.ListenAddr,
		Upstream:  upstream,
		Transport: rt,
	}, nil
}

// CancelOnInterrupt calls f when os.Interrupt or SIGTERM is received.
// It ignores subsequent interrupts on purpose - program should exit correctly after the first signal.
func CancelOnInterrupt(ctx context.Context, f context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ctx.Done():
		case <-c:
			f()
		}
	}()
}

func NewFromFlags(flagset *flag.FlagSet, arguments []string) (*App, error) {
	a := App{}
	flagset.StringVar(&a.ListenAddr, "listen-address", defaultListenAddress, "Address to accept API requests on")
	flagset.StringVar(&a.AuxAddr, "aux-address", defaultAuxAddress, "Auxiliary address to listen on. Used for Prometheus metrics server and pprof endpoint. Empty to disable")
	flagset.BoolVar(&a.Debug, "debug", false, "Enables pprof and debug logging")
	tableFile := flagset.String("compat-table-file", "",
		"YAML file with compatibility rules applied on top of the built-in ones. Built-in rules only if empty.")
	var configOpts client.ConfigOptions
	flagset.StringVar(&configOpts.From, "client-config-from", client.ConfigFromInCluster,
		"Source of REST client configuration. 'in-cluster' (default), 'environment', 'file' and 'kubeconfig' are valid options.")
	flagset.StringVar(&configOpts.FileName, "client-config-file-name", "",
		"Load REST client configuration from the specified Kubernetes config file. This is only applicable if --client-config-from=file is set.")
	flagset.StringVar(&configOpts.Context, "client-config-context", "",
		"Context to use for REST client configuration. This is only applicable if --client-config-from is 'file' or 'kubeconfig'.")

	if err := flagset.Parse(arguments); err != nil {
		return nil, err
	}

	logger, err := newLogger(a.Debug)
	if err != nil {
		return nil, err
	}
	a.Logger = logger

	a.Resolver, err = compat.ResolverFromFile(*tableFile)
	if err != nil {
		return nil, err
	}

	a.RestConfig, err = client.LoadConfig(configOpts)
	if err != nil {
		return nil, err
	}

	return &a, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	var loggerConfig zap.Config
	if debug {
		loggerConfig = zap.NewDevelopmentConfig()
	} else {
		loggerConfig = zap.NewProductionConfig()
	}
	loggerConfig.DisableStacktrace = true
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logger")
	}
	return logger, nil
}
