// Package sshserver accepts SSH connections and runs the SFTP subsystem on them.
package sshserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/mevdschee/sftpjail/internal/fileserver"
	"github.com/mevdschee/sftpjail/internal/logger"
	"github.com/mevdschee/sftpjail/internal/metrics"
	"golang.org/x/crypto/ssh"
)

// Options configures the SSH listener and its single account.
type Options struct {
	Address            string
	HostKeyPath        string
	Username           string
	Password           string
	AuthorizedKeysPath string
	// MaxBytesPerSec throttles each SFTP channel; 0 disables throttling.
	MaxBytesPerSec int64
}

// Server is an SSH server that only offers the sftp subsystem.
type Server struct {
	opts       Options
	config     *ssh.ServerConfig
	dispatcher *fileserver.Dispatcher
	metrics    metrics.Metrics

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer creates a new SSH server serving d.
func NewServer(opts Options, d *fileserver.Dispatcher, m metrics.Metrics) (*Server, error) {
	if m == nil {
		m = metrics.Noop()
	}
	s := &Server{
		opts:       opts,
		dispatcher: d,
		metrics:    m,
		conns:      make(map[net.Conn]struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	config := &ssh.ServerConfig{
		ServerVersion: "SSH-2.0-sftpjail",
	}
	if opts.Password != "" {
		config.PasswordCallback = s.checkPassword
	}
	if opts.AuthorizedKeysPath != "" {
		keys, err := loadAuthorizedKeys(opts.AuthorizedKeysPath)
		if err != nil {
			return nil, err
		}
		config.PublicKeyCallback = s.publicKeyChecker(keys)
	}
	if config.PasswordCallback == nil && config.PublicKeyCallback == nil {
		return nil, errors.New("no authentication method configured")
	}

	hostKey, err := loadOrGenerateHostKey(opts.HostKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load host key: %w", err)
	}
	config.AddHostKey(hostKey)
	s.config = config

	return s, nil
}

// Start begins listening for SSH connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Address, err)
	}
	s.listener = listener

	logger.Info("SSH server listening", logger.KeyAddress, listener.Addr().String(), "root", s.dispatcher.Root())

	go s.acceptLoop()
	return nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and waits for connected sessions to finish until
// ctx expires, after which the remaining connections are dropped.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("Shutdown timeout, closing remaining connections", "connections", s.activeConns())
		s.cancel()
		s.closeConns()
		<-done
	}
	s.cancel()
	return err
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Error("Failed to accept connection", logger.KeyError, err)
			}
			return
		}
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			logger.Warn("Failed SSH handshake", logger.KeyClientAddr, addr, logger.KeyError, err)
		}
		conn.Close()
		return
	}
	defer sshConn.Close()

	username := sshConn.User()
	logger.Info("Client connected", logger.KeyUsername, username, logger.KeyClientAddr, addr)
	defer logger.Info("Client disconnected", logger.KeyUsername, username, logger.KeyClientAddr, addr)

	go ssh.DiscardRequests(reqs)

	var channels sync.WaitGroup
	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, fmt.Sprintf("unknown channel type: %s", newChannel.ChannelType()))
			continue
		}
		channels.Add(1)
		go func() {
			defer channels.Done()
			s.handleSession(newChannel, username, addr)
		}()
	}
	channels.Wait()
}

func (s *Server) handleSession(newChannel ssh.NewChannel, username, addr string) {
	channel, requests, err := newChannel.Accept()
	if err != nil {
		logger.Warn("Could not accept session", logger.KeyClientAddr, addr, logger.KeyError, err)
		return
	}
	defer channel.Close()

	// The subsystem goroutine closes the channel when it ends, which closes
	// requests; its session teardown must finish before we return.
	var subsystem sync.WaitGroup
	defer subsystem.Wait()

	started := false
	for req := range requests {
		if req.Type != "subsystem" || started || subsystemName(req.Payload) != "sftp" {
			logger.Debug("Rejected session request", logger.KeyClientAddr, addr, "type", req.Type)
			req.Reply(false, nil)
			continue
		}
		started = true
		req.Reply(true, nil)
		subsystem.Add(1)
		go func() {
			defer subsystem.Done()
			s.serveSFTP(channel, username, addr)
		}()
	}
}

func (s *Server) serveSFTP(channel ssh.Channel, username, addr string) {
	stream := fileserver.NewRateLimitedReadWriteCloser(channel, s.opts.MaxBytesPerSec)
	sess := fileserver.NewSession(s.dispatcher, username, logger.KeyClientAddr, addr)

	var status uint32
	if err := fileserver.Serve(s.ctx, stream, sess); err != nil {
		status = 1
		logger.Warn("SFTP session ended with error", logger.KeySessionID, sess.ID, logger.KeyError, err)
	}

	// Signal exit to the client before closing the channel.
	channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
	stream.Close()
}

func subsystemName(payload []byte) string {
	var p struct{ Name string }
	if err := ssh.Unmarshal(payload, &p); err != nil {
		return ""
	}
	return p.Name
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) activeConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}
