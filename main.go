package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/burrow/internal/dialer"
	"github.com/die-net/burrow/internal/httpproxy"
	"github.com/die-net/burrow/internal/listener"
	"github.com/die-net/burrow/internal/logging"
	"github.com/die-net/burrow/internal/metrics"
	"github.com/die-net/burrow/internal/socks5"
	"github.com/die-net/burrow/internal/ssh"
	"github.com/die-net/burrow/internal/tproxy"
	"github.com/die-net/burrow/internal/tunnel"
)

func main() {
	err := run(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := loadOptions(args)
	if err != nil {
		return err
	}

	logger, err := logging.New(opts.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	up, err := dialer.New(dialer.Config{
		DialTimeout:        opts.DialTimeout,
		NegotiationTimeout: opts.NegotiationTimeout,
		KeepAlive:          opts.KeepAlive,
		SSHKeyPath:         opts.SSHKey,
		SSHKnownHostsPath:  opts.SSHKnownHosts,
		Logger:             logger.Named("dialer"),
	}, opts.Upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	reg := metrics.NewRegistry()
	srv := tunnel.NewServer(up, logger.Named("tunnel"),
		tunnel.WithMetrics(metrics.New(reg)),
		tunnel.WithVerbose(opts.Verbose),
	)

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.DebugListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/debug/", http.DefaultServeMux)
		mux.Handle("/metrics", metrics.Handler(reg))
		debugSrv := &http.Server{Handler: mux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: opts.KeepAlive}
		debugLn, err := lc.Listen(ctx, "tcp", opts.DebugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		logger.Info("debug listening", zap.String("addr", opts.DebugListen))
	}

	serve := func(name string, l tunnel.Listener) {
		context.AfterFunc(ctx, func() {
			_ = l.Close()
		})
		g.Go(func() error {
			if err := srv.Serve(ctx, l); err != nil {
				return fmt.Errorf("%s serve: %w", name, err)
			}
			return nil
		})
		logger.Info(name+" listening", zap.Stringer("addr", l.Addr()))
	}

	if opts.HTTPListen != "" {
		l, err := listener.NewHTTPProxy(ctx, opts.HTTPListen, httpproxy.Config{
			Timeout:   opts.NegotiationTimeout,
			Auth:      httpproxy.Auth{Username: opts.HTTPUser, Password: opts.HTTPPass},
			KeepAlive: opts.KeepAlive,
		})
		if err != nil {
			return err
		}
		serve("http proxy", l)
	}

	if opts.SOCKS5Listen != "" {
		l, err := listener.NewSOCKS5(ctx, opts.SOCKS5Listen, socks5.Config{
			Timeout:   opts.SOCKS5Timeout,
			Auth:      socks5.Auth{Username: opts.SOCKS5User, Password: opts.SOCKS5Pass},
			KeepAlive: opts.KeepAlive,
		})
		if err != nil {
			return err
		}
		serve("socks5 proxy", l)
	}

	if opts.TProxyListen != "" {
		l, err := listener.NewTProxy(ctx, opts.TProxyListen, tproxy.Config{KeepAlive: opts.KeepAlive})
		if err != nil {
			return err
		}
		serve("tproxy", l)
	}

	if opts.SSHListen != "" {
		cfg, err := sshListenerConfig(opts, logger)
		if err != nil {
			return err
		}
		l, err := listener.NewSSH(ctx, opts.SSHListen, cfg)
		if err != nil {
			return err
		}
		serve("ssh", l)
	}

	err = g.Wait()
	logger.Info("shutting down")
	srv.Wait()
	return err
}

func sshListenerConfig(opts *options, logger *zap.Logger) (ssh.Config, error) {
	hostKey, err := ssh.LoadHostKey(opts.SSHHostKey)
	if err != nil {
		return ssh.Config{}, fmt.Errorf("--ssh-host-key: %w", err)
	}
	if opts.SSHHostKey == "" {
		logger.Warn("no --ssh-host-key given, using a temporary host key",
			zap.String("fingerprint", gossh.FingerprintSHA256(hostKey.PublicKey())))
	}

	cfg := ssh.Config{
		Timeout:   opts.NegotiationTimeout,
		HostKeys:  []gossh.Signer{hostKey},
		Auth:      ssh.Auth{Username: opts.SSHUser, Password: opts.SSHPass},
		KeepAlive: opts.KeepAlive,
	}
	if opts.SSHAuthorizedKeys != "" {
		cfg.AuthorizedKeys, err = ssh.LoadAuthorizedKeys(opts.SSHAuthorizedKeys)
		if err != nil {
			return ssh.Config{}, fmt.Errorf("--ssh-authorized-keys: %w", err)
		}
	}
	return cfg, nil
}
