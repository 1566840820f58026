// Package http implements the server of the frame extraction service. The
// API is served plain over HTTP/1.1 and with TLS over HTTP/2 and HTTP/3.
package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"
)

type Option func(*Server) error

// Address is the address of the plain HTTP/1.1 listener.
func Address(address string) Option {
	return func(s *Server) error {
		s.h1.Addr = address
		return nil
	}
}

// TLSAddress is the address shared by the HTTP/2 (TCP) and HTTP/3 (UDP)
// listeners.
func TLSAddress(address string) Option {
	return func(s *Server) error {
		s.h2.Addr = address
		s.h3.Addr = address
		return nil
	}
}

func Handle(handler http.Handler) Option {
	return func(s *Server) error {
		s.handler = handler
		return nil
	}
}

func RequestLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.requestLogger = logger
		return nil
	}
}

func CertificateFile(file string) Option {
	return func(s *Server) error {
		s.certFile = file
		return nil
	}
}

func CertificateKeyFile(file string) Option {
	return func(s *Server) error {
		s.keyFile = file
		return nil
	}
}

type Server struct {
	certFile string
	keyFile  string

	logger        *slog.Logger
	requestLogger *slog.Logger

	handler http.Handler

	tlsConfig *tls.Config
	h1        *http.Server
	h2        *http.Server
	h3        *http3.Server
}

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		logger:    slog.Default(),
		handler:   http.DefaultServeMux,
		tlsConfig: &tls.Config{NextProtos: []string{http3.NextProtoH3}},
		h1:        &http.Server{},
		h2:        &http.Server{},
		h3:        &http3.Server{},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	cert, err := tls.LoadX509KeyPair(s.certFile, s.keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read TLS certificate or key: %v", err)
	}
	s.tlsConfig.Certificates = []tls.Certificate{cert}
	s.h2.TLSConfig = s.tlsConfig
	s.h3.TLSConfig = s.tlsConfig

	s.handler = s.setAltSvcHeader(s.handler)
	if s.requestLogger != nil {
		s.handler = s.logRequest(s.handler)
	}
	s.h1.Handler = s.handler
	s.h2.Handler = s.handler
	s.h3.Handler = s.handler

	return s, nil
}

func (s *Server) ListenAndServe() error {
	eg, ctx := errgroup.WithContext(context.Background())
	eg.Go(func() error {
		s.logger.Info("serving HTTP/1.1", "address", s.h1.Addr)
		return s.h1.ListenAndServe()
	})
	eg.Go(func() error {
		s.logger.Info("serving HTTP/2", "address", s.h2.Addr)
		return s.h2.ListenAndServeTLS("", "")
	})
	eg.Go(func() error {
		s.logger.Info("serving HTTP/3", "address", s.h3.Addr)
		return s.listenAndServeQUIC(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		return s.shutdown(context.Cause(ctx))
	})
	return eg.Wait()
}

func (s *Server) shutdown(cause error) error {
	if errors.Is(cause, http.ErrServerClosed) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return errors.Join(cause, s.h1.Shutdown(ctx), s.h2.Shutdown(ctx), s.h3.Shutdown(ctx))
	}
	return errors.Join(cause, s.h1.Close(), s.h2.Close(), s.h3.Close())
}

func (s *Server) listenAndServeQUIC(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.h3.Addr)
	if err != nil {
		return err
	}
	udpConn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	tr := quic.Transport{
		Conn: udpConn,
	}
	ln, err := tr.Listen(s.tlsConfig, &quic.Config{})
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept(ctx)
		if errors.Is(err, quic.ErrServerClosed) || ctx.Err() != nil {
			return http.ErrServerClosed
		}
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.h3.ServeQUICConn(conn); err != nil {
				s.logger.Error("error on serving QUICConn", "error", err)
			}
			if err := conn.CloseWithError(0, "bye"); err != nil {
				s.logger.Error("error on closing QUIC conn", "error", err)
			}
		}()
	}
}

// Middleware

func (s *Server) setAltSvcHeader(next http.Handler) http.Handler {
	_, portStr, err := net.SplitHostPort(s.h3.Addr)
	if err != nil {
		s.logger.Error("failed to set Alt-Svc header", "error", err)
		return next
	}
	portInt, err := net.LookupPort("tcp", portStr)
	if err != nil {
		s.logger.Error("failed to set Alt-Svc header", "error", err)
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ProtoMajor < 3 {
			altSvc := fmt.Sprintf(`%s=":%d"; ma=2592000`, http3.NextProtoH3, portInt)
			w.Header()["Alt-Svc"] = []string{altSvc}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestLogger.Info("got request", "method", r.Method, "path", r.URL.Path, "proto", r.Proto)
		next.ServeHTTP(w, r)
	})
}
