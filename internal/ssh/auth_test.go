package ssh

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
)

func writePrivateKey(t *testing.T) (string, ssh.PublicKey) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return path, signer.PublicKey()
}

func TestLoadSigners(t *testing.T) {
	signers, err := LoadSigners("")
	if err != nil || signers != nil {
		t.Fatalf("expected no signers, got %v %v", signers, err)
	}

	path, pub := writePrivateKey(t)
	signers, err = LoadSigners(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(signers) != 1 || !bytes.Equal(signers[0].PublicKey().Marshal(), pub.Marshal()) {
		t.Fatal("loaded key does not match")
	}

	if _, err := LoadSigners(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing key")
	}

	t.Setenv("SSH_AUTH_SOCK", "")
	if _, err := LoadSigners(AgentKeyPath); err == nil {
		t.Fatal("expected error without an agent")
	}
}

func TestLoadHostKey(t *testing.T) {
	a, err := LoadHostKey("")
	if err != nil {
		t.Fatal(err)
	}
	b, err := LoadHostKey("")
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a.PublicKey().Marshal(), b.PublicKey().Marshal()) {
		t.Fatal("expected a fresh key each time")
	}

	path, pub := writePrivateKey(t)
	k, err := LoadHostKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(k.PublicKey().Marshal(), pub.Marshal()) {
		t.Fatal("loaded host key does not match")
	}
}

func TestLoadAuthorizedKeys(t *testing.T) {
	k1 := mustGenerateKey(t).PublicKey()
	k2 := mustGenerateKey(t).PublicKey()

	var buf bytes.Buffer
	buf.WriteString("# team keys\n")
	buf.Write(ssh.MarshalAuthorizedKey(k1))
	buf.WriteString("\n")
	buf.Write(ssh.MarshalAuthorizedKey(k2))
	path := filepath.Join(t.TempDir(), "authorized_keys")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}

	keys, err := LoadAuthorizedKeys(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || !bytes.Equal(keys[0].Marshal(), k1.Marshal()) || !bytes.Equal(keys[1].Marshal(), k2.Marshal()) {
		t.Fatalf("unexpected keys %v", keys)
	}

	if err := os.WriteFile(path, []byte("not a key\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAuthorizedKeys(path); err == nil {
		t.Fatal("expected parse error")
	}
}
