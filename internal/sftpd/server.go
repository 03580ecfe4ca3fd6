// Package sftpd serves the confined store over SFTP.
//
// The SSH layer accepts any client; there is no access control beyond the
// root confinement the store itself applies.
package sftpd

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/fruitsalade/rootshare/internal/events"
	"github.com/fruitsalade/rootshare/internal/logging"
	"github.com/fruitsalade/rootshare/internal/metrics"
	"github.com/fruitsalade/rootshare/internal/storage"
)

// Config holds SFTP server settings.
type Config struct {
	ListenAddr  string
	HostKeyPath string
}

// Server accepts SSH connections and runs the SFTP subsystem on them.
type Server struct {
	handlers sftp.Handlers
	ssh      *ssh.ServerConfig

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// New creates an SFTP server for store. The host key is read from
// cfg.HostKeyPath, or generated (and written there, if a path is set).
func New(cfg Config, store storage.Store, pub events.Publisher) (*Server, error) {
	signer, err := LoadHostKey(cfg.HostKeyPath)
	if err != nil {
		return nil, err
	}
	sc := &ssh.ServerConfig{NoClientAuth: true}
	sc.AddHostKey(signer)

	return &Server{
		handlers: Handlers(store, pub),
		ssh:      sc,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// LoadHostKey reads a PEM private key from path. A missing file gets a new
// ed25519 key; an empty path keeps the key in memory only.
func LoadHostKey(path string) (ssh.Signer, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			signer, err := ssh.ParsePrivateKey(data)
			if err != nil {
				return nil, fmt.Errorf("parse host key %s: %w", path, err)
			}
			return signer, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read host key: %w", err)
		}
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("host key signer: %w", err)
	}
	if path == "" {
		logging.Warn("using an ephemeral SFTP host key")
		return signer, nil
	}

	block, err := ssh.MarshalPrivateKey(priv, "rootshare host key")
	if err != nil {
		return nil, fmt.Errorf("marshal host key: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("write host key: %w", err)
	}
	logging.Info("generated SFTP host key", zap.String("path", path))
	return signer, nil
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("sftp listen: %w", err)
	}
	logging.Info("SFTP server listening", zap.String("addr", ln.Addr().String()))
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. Open sessions are
// closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	defer s.closeAll()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sftp accept: %w", err)
		}
		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := logging.WithContext(ctx).With(zap.String("remote", conn.RemoteAddr().String()))

	sconn, chans, reqs, err := ssh.NewServerConn(conn, s.ssh)
	if err != nil {
		log.Debug("ssh handshake failed", zap.Error(err))
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	log.Info("sftp client connected", zap.String("client", string(sconn.ClientVersion())))
	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			log.Warn("accept channel", zap.Error(err))
			continue
		}
		go s.handleSession(ctx, ch, requests, log)
	}
}

func (s *Server) handleSession(ctx context.Context, ch ssh.Channel, requests <-chan *ssh.Request, log *zap.Logger) {
	defer ch.Close()
	for req := range requests {
		ok := req.Type == "subsystem" && subsystem(req.Payload) == "sftp"
		req.Reply(ok, nil)
		if !ok {
			continue
		}
		go ssh.DiscardRequests(requests)
		if err := s.ServeSession(ctx, ch); err != nil {
			log.Warn("sftp session ended", zap.Error(err))
		}
		return
	}
}

// ServeSession runs the SFTP protocol on an established channel until the
// client disconnects.
func (s *Server) ServeSession(ctx context.Context, rwc io.ReadWriteCloser) error {
	metrics.SFTPSessionOpened()
	defer metrics.SFTPSessionClosed()

	srv := sftp.NewRequestServer(rwc, s.handlers, sftp.WithStartDirectory("/"))
	defer srv.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			srv.Close()
		case <-done:
		}
	}()

	if err := srv.Serve(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// subsystem decodes the SSH string in a subsystem request payload.
func subsystem(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload)
	if uint32(len(payload)-4) < n {
		return ""
	}
	return string(payload[4 : 4+n])
}
