// Package client is a small SFTP client for pushing feed files to and pulling
// them from an sftpjail server.
package client

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/mevdschee/sftpjail/internal/logger"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const chunkSize = 32 * 1024

// Options describes how to reach and authenticate to the server.
type Options struct {
	Host           string
	Port           int
	User           string
	Password       string
	IdentityFile   string
	KnownHostsFile string
	Timeout        time.Duration
}

// Client wraps an SFTP session and the connection it runs on.
type Client struct {
	sftp *sftp.Client
	conn io.Closer
}

// Transfer summarizes a completed upload or download.
type Transfer struct {
	Bytes  int64
	SHA256 string
}

// unverifiedHostKey accepts any server key. It warns with the key's
// fingerprint so the user can pin it in a known_hosts file.
func unverifiedHostKey(hostname string, remote net.Addr, key ssh.PublicKey) error {
	logger.Warn("Host key not verified, set a known_hosts file to check it",
		logger.KeyAddress, hostname, "fingerprint", ssh.FingerprintSHA256(key))
	return nil
}

// Dial connects over SSH and starts the sftp subsystem.
func Dial(opts Options) (*Client, error) {
	config := &ssh.ClientConfig{
		User:    opts.User,
		Timeout: opts.Timeout,
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	if opts.KnownHostsFile != "" {
		cb, err := knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		config.HostKeyCallback = cb
	} else {
		config.HostKeyCallback = unverifiedHostKey
	}

	if opts.IdentityFile != "" {
		signer, err := loadKey(opts.IdentityFile)
		if err != nil {
			return nil, err
		}
		config.Auth = append(config.Auth, ssh.PublicKeys(signer))
	}
	if opts.Password != "" {
		config.Auth = append(config.Auth, ssh.Password(opts.Password))
	}
	if len(config.Auth) == 0 {
		return nil, errors.New("no password or identity file given")
	}

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	sshClient, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("SSH handshake failed: %w", err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("SFTP client failed: %w", err)
	}
	return &Client{sftp: sftpClient, conn: sshClient}, nil
}

// New wraps an existing SFTP client; closing it closes only the SFTP session.
func New(c *sftp.Client) *Client {
	return &Client{sftp: c}
}

// Close ends the SFTP session and the underlying connection.
func (c *Client) Close() error {
	err := c.sftp.Close()
	if c.conn != nil {
		if cerr := c.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// List returns the sorted entry names of dir.
func (c *Client) List(dir string) ([]string, error) {
	infos, err := c.sftp.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not list %s: %w", dir, err)
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Download copies remote into dest while hashing it.
func (c *Client) Download(remote string, dest io.Writer) (Transfer, error) {
	remoteFile, err := c.sftp.Open(remote)
	if err != nil {
		return Transfer{}, fmt.Errorf("could not open remote file: %w", err)
	}
	defer remoteFile.Close()

	hash := sha256.New()
	buf := make([]byte, chunkSize)
	var t Transfer
	for {
		n, err := remoteFile.Read(buf)
		if n > 0 {
			if _, werr := dest.Write(buf[:n]); werr != nil {
				return t, werr
			}
			hash.Write(buf[:n])
			t.Bytes += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return t, err
		}
	}
	t.SHA256 = hex.EncodeToString(hash.Sum(nil))
	return t, nil
}

// Upload writes src to remote, replacing any existing file.
func (c *Client) Upload(src io.Reader, remote string) (Transfer, error) {
	remoteFile, err := c.sftp.OpenFile(remote, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return Transfer{}, fmt.Errorf("could not create remote file: %w", err)
	}

	hash := sha256.New()
	buf := make([]byte, chunkSize)
	var t Transfer
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := remoteFile.Write(buf[:n]); werr != nil {
				remoteFile.Close()
				return t, werr
			}
			hash.Write(buf[:n])
			t.Bytes += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			remoteFile.Close()
			return t, err
		}
	}
	if err := remoteFile.Close(); err != nil {
		return t, fmt.Errorf("could not close remote file: %w", err)
	}
	t.SHA256 = hex.EncodeToString(hash.Sum(nil))
	return t, nil
}

func loadKey(path string) (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read identity %s: %w", filepath.Base(path), err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("could not parse identity %s: %w", filepath.Base(path), err)
	}
	return signer, nil
}
