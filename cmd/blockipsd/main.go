package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strconv"
	"strings"
	"syscall"
	"time"

	"blockips/constant"
	v1 "blockips/internal/api/v1"
	"blockips/internal/app"
	"blockips/internal/audit"
	"blockips/internal/logbuffer"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func getPIDPath(pid int) (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
}

func checkPIDFile() error {
	data, err := os.ReadFile(constant.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return errors.New("invalid PID file content")
	}

	currPID, _ := getPIDPath(os.Getpid())
	filePID, _ := getPIDPath(pid)
	if path.Base(currPID) == path.Base(filePID) {
		return fmt.Errorf("process %d is already running", pid)
	}

	_ = os.Remove(constant.PIDFile)
	return nil
}

func createPIDFile() error {
	return os.WriteFile(constant.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func removePIDFile() {
	_ = os.Remove(constant.PIDFile)
}

func serve(name string, listener net.Listener, apiRouter chi.Router, errChan chan error, cleanup func()) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Mount("/api", apiRouter)

	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if e := srv.Serve(listener); e != nil && e != http.ErrServerClosed {
			errChan <- fmt.Errorf("failed to serve %s: %v", name, e)
		}
		_ = listener.Close()
		if cleanup != nil {
			cleanup()
		}
	}()
	return srv
}

func setupUnixSocket(apiRouter chi.Router, errChan chan error) (*http.Server, error) {
	if err := os.Remove(constant.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove existing UNIX socket: %w", err)
	}
	socket, err := net.Listen("unix", constant.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("error while serving UNIX socket: %v", err)
	}
	if err := os.Chmod(constant.SocketPath, 0600); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to restrict UNIX socket: %w", err)
	}
	return serve("UNIX socket", socket, apiRouter, errChan, func() {
		_ = os.Remove(constant.SocketPath)
	}), nil
}

func setupHTTP(addr string, apiRouter chi.Router, errChan chan error) (*http.Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("error while listening HTTP: %v", err)
	}
	return serve("HTTP", listener, apiRouter, errChan, nil), nil
}

func shutdownServer(ctx context.Context, name string, srv *http.Server) {
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Msgf("%s shutdown timed out; some connections may not have closed cleanly", name)
		} else {
			log.Error().Err(err).Msgf("%s shutdown error", name)
		}
	}
}

func main() {
	console := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = log.Output(console)
	log.Info().
		Str("version", constant.Version).
		Str("commit", constant.Commit).
		Msg("starting block-ips daemon")

	cfg, err := app.LoadConfig(constant.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config file")
	}
	app.SetupLogging(cfg.LogLevel)

	if err := checkPIDFile(); err != nil {
		log.Fatal().Err(err).Msg("failed to check PID file")
	}
	if err := createPIDFile(); err != nil {
		log.Fatal().Err(err).Msg("failed to create PID file")
	}
	defer removePIDFile()

	logs := logbuffer.NewRingBuffer(512)
	store := audit.NewStore(cfg.LogDir)
	daemonLog, err := store.OpenRunLog("blockipsd")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open daemon log")
	}
	defer daemonLog.Close()
	log.Logger = log.Output(zerolog.MultiLevelWriter(
		console,
		zerolog.ConsoleWriter{Out: daemonLog, NoColor: true},
		logs,
	))

	deps, err := app.NewSystemDeps(cfg, logs, zerolog.MultiLevelWriter(console, logs))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise host access")
	}
	core := app.New(cfg, deps)

	apiRouter := v1.NewRouter(v1.NewHandler(core))
	errChan := make(chan error, 2)

	srvUnix, err := setupUnixSocket(apiRouter, errChan)
	if err != nil {
		log.Fatal().Err(err).Msg("setupUnixSocket error")
	}
	log.Info().Msgf("Starting UNIX socket on %s", constant.SocketPath)

	var srvHTTP *http.Server
	if cfg.Control.HTTP.Enabled {
		addr := net.JoinHostPort(cfg.Control.HTTP.Address, strconv.Itoa(int(cfg.Control.HTTP.Port)))
		srvHTTP, err = setupHTTP(addr, apiRouter, errChan)
		if err != nil {
			log.Fatal().Err(err).Msg("setupHTTP error")
		}
		log.Info().Msgf("Starting HTTP server on %s", addr)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Error().Err(err).Msg("server error")
	case sig := <-sigChan:
		log.Info().Msgf("received signal: %v", sig)
	}

	log.Info().Msg("shutting down service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownServer(shutdownCtx, "HTTP server", srvHTTP)
	shutdownServer(shutdownCtx, "UNIX socket server", srvUnix)
	log.Info().Msg("service stopped")
}
