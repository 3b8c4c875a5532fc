package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/conf"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/logbuf"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/timeouts"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core"
)

type Server struct {
	Base     *core.BaseServer
	Logbuf   *logbuf.Logger
	upgrader websocket.Upgrader
}

func New(base *core.BaseServer) *Server {
	return &Server{
		Base: base,
		Logbuf: logbuf.New(
			slog.String("version", base.Config.Version),
			slog.Int("port", base.Env.PORT),
		),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Run serves HTTP and drives the job consumer and the maintenance schedule
// until ctx is cancelled or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Base.Env.LISTEN_ADDR)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: timeouts.SecondDefault,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	logger := s.Base.Logger

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", listener.Addr().String()))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownTimeout := conf.Duration(s.Base.Config.Server.ShutdownTimeout)
		if shutdownTimeout <= 0 {
			shutdownTimeout = timeouts.Shutdown
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", slog.String("error", err.Error()))
			return err
		}
		logger.Info("http server stopped")
		return nil
	})
	g.Go(func() error {
		return s.Base.Jobs.Consume(ctx, s.Base.Config.Queue.Workers)
	})
	if s.Base.Scheduler != nil {
		g.Go(func() error {
			return s.Base.Scheduler.Run(ctx)
		})
	}
	return g.Wait()
}
