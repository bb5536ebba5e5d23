package commandmanager

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

type SSHKeyManager interface {
	ReadPrivateKeys(keyPassphrase string) ([]ssh.Signer, error)
}

// FileSSHKeyManager loads ~/.ssh/id_* private keys.
type FileSSHKeyManager struct {
	// Dir overrides ~/.ssh.
	Dir string
}

// AgentSSHKeyManager fetches signers from the agent at SSH_AUTH_SOCK. The
// agent connection stays open until Close because agent signers sign
// through it.
type AgentSSHKeyManager struct {
	mu   sync.Mutex
	conn net.Conn
}

func (km *AgentSSHKeyManager) ReadPrivateKeys(_ string) ([]ssh.Signer, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, errors.New("SSH_AUTH_SOCK not set")
	}

	km.mu.Lock()
	defer km.mu.Unlock()
	if km.conn == nil {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return nil, fmt.Errorf("could not connect to SSH agent: %w", err)
		}
		km.conn = conn
	}

	signers, err := agent.NewClient(km.conn).Signers()
	if err != nil {
		return nil, fmt.Errorf("could not get signers from SSH agent: %w", err)
	}
	if len(signers) == 0 {
		return nil, errors.New("no keys found in SSH agent")
	}
	return signers, nil
}

func (km *AgentSSHKeyManager) Close() error {
	km.mu.Lock()
	defer km.mu.Unlock()
	if km.conn == nil {
		return nil
	}
	err := km.conn.Close()
	km.conn = nil
	return err
}

func (km *FileSSHKeyManager) ReadPrivateKeys(keyPassphrase string) ([]ssh.Signer, error) {
	dir := km.Dir
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".ssh")
	}
	files, err := filepath.Glob(filepath.Join(dir, "id_*"))
	if err != nil {
		return nil, err
	}

	var signers []ssh.Signer
	for _, file := range files {
		if strings.HasSuffix(file, ".pub") {
			continue
		}

		keyBytes, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}

		var signer ssh.Signer
		if keyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(keyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			// Not ours to decrypt; try the next key.
			continue
		}
		signers = append(signers, signer)
	}

	if len(signers) == 0 {
		return nil, fmt.Errorf("no usable private keys in %s", dir)
	}
	return signers, nil
}
