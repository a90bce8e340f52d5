// Command ftpd runs the FTP server as a standalone process, mapping
// its command-line flags onto ftpd.Options.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ftpd/internal/auth"
	"ftpd/internal/ftpd"
)

func main() {
	if os.Getenv("FTPD_SUBPROCESS_FD") != "" || os.Getenv("FTPD_PREFORK_LISTENER_FD") != "" {
		runSubprocessWorker()
		return
	}

	fs := flag.NewFlagSet("ftpd", flag.ExitOnError)
	addr := fs.String("addr", ":2121", "listen address")
	rootDir := fs.String("root", ".", "anonymous/default root directory")
	banner := fs.String("banner", "", "greeting banner (default: built-in)")
	maxCons := fs.Int("max-cons", 256, "maximum simultaneous connections")
	maxConsPerIP := fs.Int("max-cons-per-ip", 0, "maximum simultaneous connections per source IP (0: unlimited)")
	passiveFrom := fs.Int("passive-port-min", 0, "lowest passive-mode port (0: kernel-assigned)")
	passiveTo := fs.Int("passive-port-max", 0, "highest passive-mode port")
	masqueradeAddr := fs.String("masquerade-address", "", "public address advertised in PASV replies")
	certFile := fs.String("certfile", "", "TLS certificate file (enables AUTH TLS)")
	keyFile := fs.String("keyfile", "", "TLS private key file")
	tlsControlRequired := fs.Bool("tls-control-required", false, "require AUTH TLS before login")
	tlsDataRequired := fs.Bool("tls-data-required", false, "require PROT P before transfers")
	useGMT := fs.Bool("use-gmt-times", false, "report file times in GMT instead of local time")
	useSendfile := fs.Bool("use-sendfile", true, "enable the sendfile(2) fast path for downloads")
	anonymous := fs.Bool("anonymous", false, "enable the anonymous user with read-only access to -root")
	adminUser := fs.String("admin-user", "", "username permitted to issue SITE administrative commands")
	usersFile := fs.String("users-file", "", "JSON user database to load at startup and save on SIGHUP-free exit")
	model := fs.String("concurrency-model", "async", "one of: async, thread, process, prefork")
	preforkWorkers := fs.Int("prefork-workers", 4, "worker process count under -concurrency-model=prefork")
	fs.Parse(os.Args[1:])

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	authorizer := auth.NewMemoryAuthorizer()
	if *usersFile != "" {
		if err := authorizer.LoadUsersFromFile(*usersFile); err != nil {
			logger.Error("loading users file", "err", err)
			os.Exit(1)
		}
	}
	if *anonymous {
		if err := authorizer.AddAnonymous(*rootDir, "elr"); err != nil {
			logger.Error("configuring anonymous user", "err", err)
			os.Exit(1)
		}
	}
	var siteAdmin *auth.SiteAdmin
	if *adminUser != "" {
		siteAdmin = auth.NewSiteAdmin(authorizer, *adminUser)
	}

	concurrency, err := parseModel(*model)
	if err != nil {
		logger.Error("invalid concurrency model", "err", err)
		os.Exit(1)
	}

	opts := []ftpd.Option{
		ftpd.WithAddr(*addr),
		ftpd.WithMaxConnections(*maxCons),
		ftpd.WithMaxConnectionsPerIP(*maxConsPerIP),
		ftpd.WithPassivePorts(*passiveFrom, *passiveTo),
		ftpd.WithMasqueradeAddress(*masqueradeAddr),
		ftpd.WithUseGMTTimes(*useGMT),
		ftpd.WithUseSendfile(*useSendfile),
		ftpd.WithAuthorizer(authorizer),
		ftpd.WithLogger(logger),
		ftpd.WithConcurrencyModel(concurrency),
		ftpd.WithPreForkWorkers(*preforkWorkers),
	}
	if *banner != "" {
		opts = append(opts, ftpd.WithBanner(*banner))
	}
	if siteAdmin != nil {
		opts = append(opts, ftpd.WithSiteAdmin(siteAdmin))
	}
	if *certFile != "" {
		opts = append(opts, ftpd.WithTLS(*certFile, *keyFile, *tlsControlRequired, *tlsDataRequired))
	}

	server, err := ftpd.New(opts...)
	if err != nil {
		logger.Error("configuring server", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.ListenAndServe(ctx); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}

	if *usersFile != "" {
		if err := authorizer.SaveUsersToFile(*usersFile); err != nil {
			logger.Error("saving users file", "err", err)
		}
	}
}

func parseModel(s string) (ftpd.ConcurrencyModel, error) {
	switch s {
	case "async":
		return ftpd.ModelAsync, nil
	case "thread":
		return ftpd.ModelThreadPerConnection, nil
	case "process":
		return ftpd.ModelProcessPerConnection, nil
	case "prefork":
		return ftpd.ModelPreFork, nil
	default:
		return 0, fmt.Errorf("unknown concurrency model %q", s)
	}
}
