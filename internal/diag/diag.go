// Package diag implements a read-only HTTP introspection server: active
// skeleton Servers, proxy Connections and RemoteServer entries, rendered
// as JSON. Every request is access-logged, with the caller attributed to
// its real client IP when a local reverse proxy sits in front.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/ara-ipc/binding/internal/proxy"
	"github.com/ara-ipc/binding/internal/remoteserver"
	"github.com/ara-ipc/binding/internal/skeleton"
	"github.com/jpillora/requestlog"
	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"
	"github.com/tomasen/realip"
)

// Sources is the set of live managers Server introspects. Every field is
// optional; a nil manager is simply omitted from the report.
type Sources struct {
	Skeleton      *skeleton.Manager
	Proxy         *proxy.Manager
	RemoteServers *remoteserver.Manager
}

// Server is the HTTP introspection endpoint: an asyncobj.Helper-managed
// net/http.Server over a single listener, started with ListenAndServe and
// torn down by StartShutdown/WaitShutdown.
type Server struct {
	*asyncobj.Helper

	addr    string
	sources Sources
	httpSrv *http.Server
	ln      net.Listener
}

// New constructs a Server that will report on sources once started. It
// does not listen until it is activated, by ListenAndServe or by a direct
// DoOnceActivate call.
func New(log logger.Logger, addr string, sources Sources) *Server {
	s := &Server{addr: addr, sources: sources}
	s.Helper = asyncobj.NewHelper(log.ForkLogStr(fmt.Sprintf("diag(%s)", addr)), s)
	return s
}

// HandleOnceActivate implements asyncobj.OnceActivateHandler: binds the
// listener and starts serving in the background.
func (s *Server) HandleOnceActivate() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)

	h := requestlog.Wrap(withRealIP(mux))
	s.httpSrv = &http.Server{Handler: h}

	go func() {
		err := s.httpSrv.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			s.WLogf("diag server exited: %s", err)
		}
	}()
	return nil
}

// HandleOnceShutdown implements asyncobj.OnceShutdownHandler.
func (s *Server) HandleOnceShutdown(completionErr error) error {
	if s.httpSrv != nil {
		err := s.httpSrv.Shutdown(context.Background())
		if completionErr == nil {
			completionErr = err
		}
	}
	return completionErr
}

// ListenAndServe starts the introspection server and blocks until it shuts
// down (via StartShutdown or a listener failure).
func (s *Server) ListenAndServe() error {
	if err := s.DoOnceActivate(nil, false); err != nil {
		return err
	}
	return s.WaitShutdown()
}

// withRealIP overwrites r.RemoteAddr with the caller's real IP
// (accounting for a local reverse proxy's X-Forwarded-For/X-Real-IP), so
// handlers and the requestlog wrapper both see it there.
func withRealIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := realip.FromRequest(r); ip != "" {
			r.RemoteAddr = ip
		}
		next.ServeHTTP(w, r)
	})
}

type statusReport struct {
	Servers       []serverStatus       `json:"servers,omitempty"`
	Connections   []connectionStatus   `json:"connections,omitempty"`
	RemoteServers []remoteServerStatus `json:"remote_servers,omitempty"`
}

type serverStatus struct {
	Provided    string `json:"provided"`
	Address     string `json:"address"`
	Connections int    `json:"connections"`
}

type connectionStatus struct {
	Address  string `json:"address"`
	State    string `json:"state"`
	RefCount int    `json:"ref_count"`
}

type remoteServerStatus struct {
	Provided string `json:"provided"`
	Required string `json:"required"`
	Address  string `json:"address"`
	RefCount int    `json:"ref_count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := statusReport{}

	if s.sources.Skeleton != nil {
		for _, srv := range s.sources.Skeleton.Servers() {
			report.Servers = append(report.Servers, serverStatus{
				Provided:    srv.Provided.String(),
				Address:     srv.Address.String(),
				Connections: len(srv.Connections()),
			})
		}
	}
	if s.sources.Proxy != nil {
		for _, c := range s.sources.Proxy.Connections() {
			report.Connections = append(report.Connections, connectionStatus{
				Address:  c.Address().String(),
				State:    c.State().String(),
				RefCount: c.RefCount(),
			})
		}
	}
	if s.sources.RemoteServers != nil {
		for _, rs := range s.sources.RemoteServers.Entries() {
			report.RemoteServers = append(report.RemoteServers, remoteServerStatus{
				Provided: rs.Provided.String(),
				Required: rs.Required.String(),
				Address:  rs.Address.String(),
				RefCount: rs.RefCount(),
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
