package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrHostKeyMismatch means a known host presented a different key.
var ErrHostKeyMismatch = errors.New("ssh: host key mismatch")

// HostKeyCallback verifies upstream host keys against the known_hosts file at
// path, trusting and recording hosts seen for the first time. An empty path
// disables host key checking. The file and its directory are created when
// missing.
func HostKeyCallback(path string, logger *zap.Logger) (ssh.HostKeyCallback, error) {
	if path == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // Checking was turned off by configuration.
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("known_hosts: %w", err)
	}
	_ = f.Close()

	check, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("known_hosts: %w", err)
	}

	t := &trustOnFirstUse{path: path, check: check, logger: logger}
	return t.verify, nil
}

type trustOnFirstUse struct {
	path   string
	check  ssh.HostKeyCallback
	logger *zap.Logger

	mu      sync.Mutex
	learned map[string]ssh.PublicKey
}

func (t *trustOnFirstUse) verify(hostname string, remote net.Addr, key ssh.PublicKey) error {
	err := t.check(hostname, remote, key)
	var keyErr *knownhosts.KeyError
	if err == nil || !errors.As(err, &keyErr) {
		return err
	}
	if len(keyErr.Want) > 0 {
		return fmt.Errorf("%w for %s: %w", ErrHostKeyMismatch, hostname, err)
	}

	host := knownhosts.Normalize(hostname)

	t.mu.Lock()
	defer t.mu.Unlock()

	// check only knows the file as it was loaded; hosts added since are
	// remembered here.
	if prev, ok := t.learned[host]; ok {
		if string(prev.Marshal()) != string(key.Marshal()) {
			return fmt.Errorf("%w for %s", ErrHostKeyMismatch, hostname)
		}
		return nil
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
	if err != nil {
		return fmt.Errorf("known_hosts: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(knownhosts.Line([]string{host}, key) + "\n"); err != nil {
		return fmt.Errorf("known_hosts: %w", err)
	}

	if t.learned == nil {
		t.learned = make(map[string]ssh.PublicKey)
	}
	t.learned[host] = key
	t.logger.Info("trusting new ssh host key",
		zap.String("host", hostname),
		zap.String("fingerprint", ssh.FingerprintSHA256(key)),
		zap.String("known_hosts", t.path))
	return nil
}
