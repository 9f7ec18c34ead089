package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/grafana/dskit/services"

	"github.com/cairndb/cairn/pkg/util/log"
)

const serverShutdownTimeout = 30 * time.Second

// server owns the http listener shared by all modules.
type server struct {
	HTTP *mux.Router

	srv *http.Server
}

func newServer(listenAddress string, listenPort int) *server {
	router := mux.NewRouter()

	return &server{
		HTTP: router,
		srv: &http.Server{
			Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(listenPort)),
			Handler: router,
		},
	}
}

// newServerService wraps the http server in a service. On shutdown the server
// waits for all other services to terminate so in flight flushes can finish
// before the listener closes.
func newServerService(s *server, servicesToWaitFor func() []services.Service) services.Service {
	serverDone := make(chan error, 1)

	runFn := func(ctx context.Context) error {
		level.Info(log.Logger).Log("msg", "http server starting", "addr", s.srv.Addr)

		go func() {
			serverDone <- s.srv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			return nil
		case err := <-serverDone:
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return fmt.Errorf("http server stopped unexpectedly")
		}
	}

	stoppingFn := func(_ error) error {
		for _, svc := range servicesToWaitFor() {
			_ = svc.AwaitTerminated(context.Background())
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()

		return s.srv.Shutdown(shutdownCtx)
	}

	return services.NewBasicService(nil, runFn, stoppingFn)
}
