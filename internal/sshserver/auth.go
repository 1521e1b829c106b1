package sshserver

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"os"

	"github.com/mevdschee/sftpjail/internal/logger"
	"golang.org/x/crypto/ssh"
)

func (s *Server) checkPassword(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	userOK := subtle.ConstantTimeCompare([]byte(c.User()), []byte(s.opts.Username)) == 1
	passOK := subtle.ConstantTimeCompare(password, []byte(s.opts.Password)) == 1
	ok := userOK && passOK

	s.metrics.RecordAuth("password", ok)
	if !ok {
		logger.Warn("Password authentication failed", logger.KeyUsername, c.User(), logger.KeyClientAddr, c.RemoteAddr().String())
		return nil, fmt.Errorf("password rejected for %q", c.User())
	}
	return &ssh.Permissions{Extensions: map[string]string{"auth-method": "password"}}, nil
}

func (s *Server) publicKeyChecker(authorized map[string]bool) func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
	return func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
		ok := c.User() == s.opts.Username && authorized[string(key.Marshal())]
		s.metrics.RecordAuth("publickey", ok)
		if !ok {
			logger.Debug("Public key rejected", logger.KeyUsername, c.User(), logger.KeyClientAddr, c.RemoteAddr().String(),
				"fingerprint", ssh.FingerprintSHA256(key))
			return nil, fmt.Errorf("unknown public key for %q", c.User())
		}
		return &ssh.Permissions{Extensions: map[string]string{
			"auth-method": "publickey",
			"pubkey-fp":   ssh.FingerprintSHA256(key),
		}}, nil
	}
}

// loadAuthorizedKeys reads an OpenSSH authorized_keys file.
func loadAuthorizedKeys(path string) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read authorized keys: %w", err)
	}

	keys := make(map[string]bool)
	for len(bytes.TrimSpace(data)) > 0 {
		pub, _, _, rest, err := ssh.ParseAuthorizedKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		keys[string(pub.Marshal())] = true
		data = rest
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no keys in %s", path)
	}
	return keys, nil
}
