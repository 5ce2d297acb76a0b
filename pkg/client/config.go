package client

import (
	"net"
	"os"

	"github.com/atlassian/apicompat"
	"github.com/pkg/errors"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	client_transport "k8s.io/client-go/transport"
)

// Sources of REST client configuration.
const (
	ConfigFromInCluster   = "in-cluster"
	ConfigFromEnvironment = "environment"
	ConfigFromFile        = "file"
	// ConfigFromKubeconfig follows kubectl: $KUBECONFIG, then ~/.kube/config.
	ConfigFromKubeconfig = "kubeconfig"
)

// ConfigOptions selects where REST client configuration is loaded from.
type ConfigOptions struct {
	From string
	// FileName is only used with ConfigFromFile.
	FileName string
	// Context overrides the current context for ConfigFromFile and ConfigFromKubeconfig.
	Context string
	// UserAgent defaults to apicompat.AppName.
	UserAgent string
}

// ConfigFromEnv builds a client certificate based configuration from KUBERNETES_* variables.
func ConfigFromEnv() (*rest.Config, error) {
	host, port := os.Getenv("KUBERNETES_SERVICE_HOST"), os.Getenv("KUBERNETES_SERVICE_PORT")
	if host == "" || port == "" {
		return nil, errors.New("KUBERNETES_SERVICE_HOST and KUBERNETES_SERVICE_PORT must be defined")
	}
	tls := rest.TLSClientConfig{
		CAFile:   os.Getenv("KUBERNETES_CA_PATH"),
		CertFile: os.Getenv("KUBERNETES_CLIENT_CERT"),
		KeyFile:  os.Getenv("KUBERNETES_CLIENT_KEY"),
	}
	if tls.CAFile == "" || tls.CertFile == "" || tls.KeyFile == "" {
		return nil, errors.New("KUBERNETES_CA_PATH, KUBERNETES_CLIENT_CERT and KUBERNETES_CLIENT_KEY must be defined")
	}
	return &rest.Config{
		Host:            "https://" + net.JoinHostPort(host, port),
		TLSClientConfig: tls,
	}, nil
}

// LoadConfig loads REST client configuration from the source named by opts.From.
func LoadConfig(opts ConfigOptions) (*rest.Config, error) {
	var config *rest.Config
	var err error

	switch opts.From {
	case ConfigFromInCluster:
		config, err = rest.InClusterConfig()
	case ConfigFromEnvironment:
		config, err = ConfigFromEnv()
	case ConfigFromFile:
		if opts.FileName == "" {
			return nil, errors.New("configuration file name must be set")
		}
		rules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: opts.FileName}
		config, err = deferredConfig(rules, opts.Context)
	case ConfigFromKubeconfig:
		config, err = deferredConfig(clientcmd.NewDefaultClientConfigLoadingRules(), opts.Context)
	default:
		err = errors.Errorf("invalid value %q for 'client config from' parameter", opts.From)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load REST client configuration from %q", opts.From)
	}
	config.UserAgent = opts.UserAgent
	if config.UserAgent == "" {
		config.UserAgent = apicompat.AppName
	}
	return config, nil
}

func deferredConfig(rules *clientcmd.ClientConfigLoadingRules, context string) (*rest.Config, error) {
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{
		CurrentContext: context,
	}).ClientConfig()
}

// WithCompat returns a copy of config whose transport is wrapped by wrap.
// config is not modified. A nil wrap yields a plain copy.
func WithCompat(config *rest.Config, wrap client_transport.WrapperFunc) *rest.Config {
	cfg := rest.CopyConfig(config)
	if wrap != nil {
		cfg.Wrap(wrap)
	}
	return cfg
}
