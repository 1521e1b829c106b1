package sshserver

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mevdschee/sftpjail/internal/fileserver"
	"github.com/mevdschee/sftpjail/internal/metrics"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const (
	testUser     = "eagle"
	testPassword = "s3cret"
)

type testServer struct {
	*Server
	root string
	dir  string
}

func startTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	dir := t.TempDir()
	d, err := fileserver.NewRootDispatcher(filepath.Join(dir, "sftp-root"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, d.EnsureLayout([]string{"incoming/products", "incoming/inventory", "incoming/orders"}))

	opts.Address = "127.0.0.1:0"
	if opts.HostKeyPath == "" {
		opts.HostKeyPath = filepath.Join(dir, "keys", "host_key")
	}
	if opts.Username == "" {
		opts.Username = testUser
	}

	s, err := NewServer(opts, d, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return &testServer{Server: s, root: d.Root(), dir: dir}
}

func dial(t *testing.T, addr string, auth ssh.AuthMethod) (*ssh.Client, error) {
	t.Helper()
	return ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            testUser,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
}

func TestPasswordSession(t *testing.T) {
	s := startTestServer(t, Options{Password: testPassword})

	conn, err := dial(t, s.Addr(), ssh.Password(testPassword))
	require.NoError(t, err)
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	require.NoError(t, err)
	defer client.Close()

	infos, err := client.ReadDir("/incoming")
	require.NoError(t, err)
	assert.Len(t, infos, 3)

	f, err := client.OpenFile("/incoming/orders/o-7.csv", os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	require.NoError(t, err)
	_, err = f.Write([]byte("id,qty\n7,1\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := os.ReadFile(filepath.Join(s.root, "incoming", "orders", "o-7.csv"))
	require.NoError(t, err)
	assert.Equal(t, "id,qty\n7,1\n", string(got))

	r, err := client.Open("/incoming/orders/o-7.csv")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, "id,qty\n7,1\n", string(data))

	_, err = client.Open("/../" + filepath.Base(s.dir))
	assert.Error(t, err)
}

func TestWrongPassword(t *testing.T) {
	s := startTestServer(t, Options{Password: testPassword})
	_, err := dial(t, s.Addr(), ssh.Password("guess"))
	assert.Error(t, err)
}

func TestPublicKeySession(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	keysPath := filepath.Join(t.TempDir(), "authorized_keys")
	require.NoError(t, os.WriteFile(keysPath, ssh.MarshalAuthorizedKey(signer.PublicKey()), 0600))

	s := startTestServer(t, Options{AuthorizedKeysPath: keysPath})

	conn, err := dial(t, s.Addr(), ssh.PublicKeys(signer))
	require.NoError(t, err)
	defer conn.Close()
	client, err := sftp.NewClient(conn)
	require.NoError(t, err)
	defer client.Close()
	wd, err := client.Getwd()
	require.NoError(t, err)
	assert.Equal(t, "/", wd)

	t.Run("unknown key", func(t *testing.T) {
		_, other, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		otherSigner, err := ssh.NewSignerFromKey(other)
		require.NoError(t, err)
		_, err = dial(t, s.Addr(), ssh.PublicKeys(otherSigner))
		assert.Error(t, err)
	})

	t.Run("password not offered", func(t *testing.T) {
		_, err := dial(t, s.Addr(), ssh.Password(testPassword))
		assert.Error(t, err)
	})
}

func TestOnlySFTPSubsystem(t *testing.T) {
	s := startTestServer(t, Options{Password: testPassword})
	conn, err := dial(t, s.Addr(), ssh.Password(testPassword))
	require.NoError(t, err)
	defer conn.Close()

	session, err := conn.NewSession()
	require.NoError(t, err)
	defer session.Close()
	assert.Error(t, session.Shell())

	session2, err := conn.NewSession()
	require.NoError(t, err)
	defer session2.Close()
	assert.Error(t, session2.RequestSubsystem("scp"))

	_, _, err = conn.OpenChannel("direct-tcpip", nil)
	assert.Error(t, err)
}

func TestHostKeyPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_key")
	first, err := loadOrGenerateHostKey(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := loadOrGenerateHostKey(path)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey().Marshal(), second.PublicKey().Marshal())
}

func TestNewServerRequiresAuth(t *testing.T) {
	d, err := fileserver.NewRootDispatcher(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = NewServer(Options{Address: "127.0.0.1:0", HostKeyPath: filepath.Join(t.TempDir(), "k"), Username: testUser}, d, nil)
	assert.Error(t, err)

	_, err = NewServer(Options{Username: testUser, AuthorizedKeysPath: filepath.Join(t.TempDir(), "missing")}, d, nil)
	assert.Error(t, err)
}

func TestStopClosesSessions(t *testing.T) {
	s := startTestServer(t, Options{Password: testPassword})
	conn, err := dial(t, s.Addr(), ssh.Password(testPassword))
	require.NoError(t, err)
	defer conn.Close()
	client, err := sftp.NewClient(conn)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	_, err = client.Getwd()
	assert.Error(t, err)
	_, err = dial(t, s.Addr(), ssh.Password(testPassword))
	assert.Error(t, err)
}

type sessionCounter struct {
	metrics.Metrics
	closed   atomic.Int32
	released atomic.Int32
}

func (c *sessionCounter) SessionClosed(released int) {
	c.closed.Add(1)
	c.released.Add(int32(released))
}

func TestStopWaitsForSessionTeardown(t *testing.T) {
	counter := &sessionCounter{Metrics: metrics.Noop()}
	d, err := fileserver.NewRootDispatcher(t.TempDir(), counter)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	s, err := NewServer(Options{
		Address:     "127.0.0.1:0",
		HostKeyPath: filepath.Join(t.TempDir(), "host_key"),
		Username:    testUser,
		Password:    testPassword,
	}, d, counter)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	conn, err := dial(t, s.Addr(), ssh.Password(testPassword))
	require.NoError(t, err)
	client, err := sftp.NewClient(conn)
	require.NoError(t, err)
	f, err := client.Create("/upload.csv")
	require.NoError(t, err)
	_, err = f.Write([]byte("id,qty\n"))
	require.NoError(t, err)

	// Drop the connection with the upload handle still open.
	require.NoError(t, conn.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	assert.Equal(t, int32(1), counter.closed.Load(), "session closed before Stop returned")
	assert.Equal(t, int32(1), counter.released.Load())
}
