// SPDX-License-Identifier: MIT

package transfer

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Client is the remote filesystem surface the uploader needs. The production
// implementation wraps an SFTP session; tests substitute an in-memory fake.
type Client interface {
	MkdirAll(path string) error
	Create(path string) (io.WriteCloser, error)
	Rename(oldPath, newPath string) error
	Size(path string) (int64, error)
	Remove(path string) error
	Close() error
}

// Dialer establishes an authenticated Client for a destination.
type Dialer interface {
	Dial(ctx context.Context, dest Destination, signer ssh.Signer) (Client, error)
}

// LoadSigner reads and parses an unencrypted private key. Password and
// passphrase authentication are not supported.
func LoadSigner(keyPath string) (ssh.Signer, error) {
	raw, err := os.ReadFile(keyPath) // #nosec G304 -- operator-configured key path
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", keyPath, err)
	}
	return signer, nil
}

// SFTPDialer dials SSH with public-key auth and opens an SFTP subsystem.
type SFTPDialer struct {
	// Timeout bounds the TCP connect and SSH handshake.
	Timeout time.Duration

	// HostKeyCallback defaults to accepting any host key. Deployments that
	// maintain a known_hosts file should set a stricter callback.
	HostKeyCallback ssh.HostKeyCallback
}

func (d *SFTPDialer) Dial(ctx context.Context, dest Destination, signer ssh.Signer) (Client, error) {
	hk := d.HostKeyCallback
	if hk == nil {
		hk = ssh.InsecureIgnoreHostKey() // #nosec G106 -- see HostKeyCallback doc
	}
	cfg := &ssh.ClientConfig{
		User:            dest.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hk,
		Timeout:         d.Timeout,
	}

	var nd net.Dialer
	nd.Timeout = d.Timeout
	conn, err := nd.DialContext(ctx, "tcp", dest.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", dest.Addr(), err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, dest.Addr(), cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", dest.Addr(), err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sc, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("open sftp subsystem: %w", err)
	}
	return &sftpClient{ssh: client, sftp: sc}, nil
}

type sftpClient struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (c *sftpClient) MkdirAll(path string) error { return c.sftp.MkdirAll(path) }

func (c *sftpClient) Create(path string) (io.WriteCloser, error) { return c.sftp.Create(path) }

func (c *sftpClient) Rename(oldPath, newPath string) error {
	// Overwrite semantics: a stale file from an earlier attempt must not
	// block redelivery.
	_ = c.sftp.Remove(newPath)
	return c.sftp.Rename(oldPath, newPath)
}

func (c *sftpClient) Size(path string) (int64, error) {
	fi, err := c.sftp.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (c *sftpClient) Remove(path string) error { return c.sftp.Remove(path) }

func (c *sftpClient) Close() error {
	serr := c.sftp.Close()
	cerr := c.ssh.Close()
	if serr != nil {
		return serr
	}
	return cerr
}
