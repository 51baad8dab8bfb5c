// Command anvil runs the intercepting forward proxy.
package main

import (
	"encoding/pem"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anvilproxy/anvil/proxy"
	"github.com/anvilproxy/anvil/version"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to a YAML configuration file")
		addr        = flag.String("addr", "127.0.0.1:8080", "explicit endpoint address when no config file is given")
		certStore   = flag.String("cert-store", "", "directory holding the root CA (default ~/.anvilproxy)")
		upstreamURL = flag.String("upstream", "", "route all traffic through this proxy URL (http, https or socks5)")
		metricsAddr = flag.String("metrics", "", "serve Prometheus metrics on this address")
		debug       = flag.Bool("debug", false, "enable debug logging")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("anvil", version.String())
		return
	}

	if err := run(*configPath, *addr, *certStore, *upstreamURL, *metricsAddr, *debug); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath, addr, certStore, upstreamURL, metricsAddr string, debug bool) error {
	cfg := &fileConfig{}
	if configPath != "" {
		loaded, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	setupLogging(cfg.LogLevel, debug)

	opts, err := cfg.options()
	if err != nil {
		return err
	}
	if certStore != "" {
		opts.CertStorePath = certStore
	}
	if upstreamURL != "" {
		external, err := parseExternalProxy(upstreamURL)
		if err != nil {
			return err
		}
		opts.ExternalHTTP = external
		opts.ExternalHTTPS = external
	}
	opts.ErrorFunc = func(err error) {
		slog.Error("proxy error", "error", err)
	}

	registry := prometheus.NewRegistry()
	if metricsAddr != "" {
		opts.Metrics = registry
	}

	endpoints, err := cfg.endpoints()
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		ep, err := endpointFromAddr(addr)
		if err != nil {
			return err
		}
		endpoints = []proxy.Endpoint{ep}
	}

	p := proxy.NewProxy(opts)
	for _, ep := range endpoints {
		if err := p.AddEndpoint(ep); err != nil {
			return err
		}
	}

	if err := p.Start(); err != nil {
		return err
	}
	defer p.Close()

	if root := p.RootCert(); root != nil {
		slog.Info("trust this certificate to intercept TLS",
			"subject", root.Subject.CommonName,
			"pem", string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Raw})))
	}

	if metricsAddr != "" {
		go serveMetrics(metricsAddr, registry)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	slog.Info("shutting down")
	return nil
}

func setupLogging(level string, debug bool) {
	logLevel := slog.LevelInfo
	if level == "debug" || debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func endpointFromAddr(addr string) (proxy.Endpoint, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return proxy.Endpoint{}, fmt.Errorf("bad listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return proxy.Endpoint{}, fmt.Errorf("bad listen port %q: %w", portStr, err)
	}
	return proxy.Endpoint{Kind: proxy.Explicit, Address: host, Port: port}, nil
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	slog.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server failed", "error", err)
	}
}
