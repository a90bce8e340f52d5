package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"ftpd/internal/auth"
	"ftpd/internal/ftpd"
	"ftpd/internal/reactor"
	"ftpd/internal/session"
)

// runSubprocessWorker is the entry point for a re-exec'd child under
// ModelProcessPerConnection (a single accepted connection on fd 3) or
// ModelPreFork (a shared listening socket on fd 3). The parent process
// selects which by setting exactly one of FTPD_SUBPROCESS_FD or
// FTPD_PREFORK_LISTENER_FD.
func runSubprocessWorker() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if os.Getenv("FTPD_PREFORK_LISTENER_FD") != "" {
		runPreForkWorker(logger)
		return
	}
	runConnectionWorker(logger)
}

func runConnectionWorker(logger *slog.Logger) {
	f := os.NewFile(3, "ftpd-conn")
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		logger.Error("subprocess worker: reconstructing connection from fd", "err", err)
		os.Exit(1)
	}

	r, err := reactor.New(reactor.MaxFDHint(4), logger)
	if err != nil {
		logger.Error("subprocess worker: creating reactor", "err", err)
		os.Exit(1)
	}
	go r.Run()
	defer r.Stop()

	authorizer := auth.NewMemoryAuthorizer()
	if err := authorizer.LoadUsersFromFile(os.Getenv("FTPD_USERS_FILE")); err != nil {
		logger.Warn("subprocess worker: loading users file", "err", err)
	}

	cfg := &session.Config{Logger: logger, Authorizer: authorizer}
	sess := session.New(cfg, conn, r)
	sess.Serve()
}

func runPreForkWorker(logger *slog.Logger) {
	f := os.NewFile(3, "ftpd-listener")
	ln, err := net.FileListener(f)
	f.Close()
	if err != nil {
		logger.Error("pre-fork worker: reconstructing listener from fd", "err", err)
		os.Exit(1)
	}

	authorizer := auth.NewMemoryAuthorizer()
	if usersFile := os.Getenv("FTPD_USERS_FILE"); usersFile != "" {
		if err := authorizer.LoadUsersFromFile(usersFile); err != nil {
			logger.Warn("pre-fork worker: loading users file", "err", err)
		}
	}

	server, err := ftpd.New(
		ftpd.WithAuthorizer(authorizer),
		ftpd.WithLogger(logger),
	)
	if err != nil {
		logger.Error("pre-fork worker: configuring server", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := server.ServeListener(ctx, ln); err != nil {
		logger.Error("pre-fork worker exited with error", "err", err)
		os.Exit(1)
	}
}
