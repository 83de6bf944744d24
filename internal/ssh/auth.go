package ssh

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AgentKeyPath is the --ssh-key value that selects the running SSH agent.
const AgentKeyPath = "agent"

// LoadSigners returns the client keys named by keyPath: nothing for "",
// every key held by the agent for AgentKeyPath, otherwise the single private
// key stored at keyPath.
func LoadSigners(keyPath string) ([]ssh.Signer, error) {
	switch keyPath {
	case "":
		return nil, nil
	case AgentKeyPath:
		return agentSigners()
	}
	signer, err := loadPrivateKey(keyPath)
	if err != nil {
		return nil, err
	}
	return []ssh.Signer{signer}, nil
}

func agentSigners() ([]ssh.Signer, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, errors.New("ssh agent: SSH_AUTH_SOCK not set")
	}

	var d net.Dialer
	c, err := d.DialContext(context.Background(), "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("ssh agent: %w", err)
	}
	// The signers use c for every signature, so it stays open.
	signers, err := agent.NewClient(c).Signers()
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ssh agent: %w", err)
	}
	if len(signers) == 0 {
		_ = c.Close()
		return nil, errors.New("ssh agent: no keys loaded")
	}
	return signers, nil
}

func loadPrivateKey(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", path, err)
	}
	return signer, nil
}

// LoadHostKey reads the listener's private host key from path. With an empty
// path a fresh Ed25519 key is generated, so clients will see a new host key
// on every start.
func LoadHostKey(path string) (ssh.Signer, error) {
	if path != "" {
		return loadPrivateKey(path)
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	return ssh.NewSignerFromKey(priv)
}

// LoadAuthorizedKeys parses an authorized_keys file.
func LoadAuthorizedKeys(path string) ([]ssh.PublicKey, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("read authorized keys: %w", err)
	}

	var keys []ssh.PublicKey
	for len(bytes.TrimSpace(data)) > 0 {
		key, _, _, rest, err := ssh.ParseAuthorizedKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse authorized keys %s: %w", path, err)
		}
		keys = append(keys, key)
		data = rest
	}
	return keys, nil
}
