// genkey generates the Ed25519 key a workbench client signs its agent tokens
// with.
//
// Usage (run from the repo root):
//
//	go run ./scripts/genkey -dir data -agent my-agent
//
// Writes <dir>/<agent>.pem (PKCS#8, mode 0600) and <dir>/<agent>.pub.pem.
// Register the public key with the backend for the agent id, then set
//
//	WORKBENCH_AGENT_ID=<agent>
//	WORKBENCH_JWT_PRIVATE_KEY=<dir>/<agent>.pem
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	dir := flag.String("dir", "data", "output directory")
	agent := flag.String("agent", "workbench-agent", "agent id the key belongs to")
	flag.Parse()

	if err := run(*dir, *agent); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(dir, agent string) error {
	if agent == "" {
		return errors.New("-agent must not be empty")
	}
	privPath := filepath.Join(dir, agent+".pem")
	pubPath := filepath.Join(dir, agent+".pub.pem")

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	// Never overwrite: a replaced key invalidates every token already minted.
	for _, path := range []string{privPath, pubPath} {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists; delete it first to rotate the key", path)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}

	if err := writePEM(privPath, "PRIVATE KEY", privDER); err != nil {
		return err
	}
	if err := writePEM(pubPath, "PUBLIC KEY", pubDER); err != nil {
		return err
	}

	fmt.Printf("wrote %s\nwrote %s\n\n", privPath, pubPath)
	fmt.Printf("WORKBENCH_AGENT_ID=%s\nWORKBENCH_JWT_PRIVATE_KEY=%s\n", agent, privPath)
	return nil
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
