package goftp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testConfig is the connection config used against fakeServer.
func testConfig() ConnectionConfig {
	return ConnectionConfig{
		Host:     "ftp.example.com",
		Port:     21,
		Username: "u",
		Password: "p",
		Passive:  true,
	}
}

// fastRetry retries once with no meaningful pause.
func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}
}

// newTestClient returns a Client connected to srv. Extra options are
// applied after the defaults.
func newTestClient(t *testing.T, srv *fakeServer, opts ...Option) *Client {
	t.Helper()

	base := []Option{
		WithDialer(srv),
		WithRetryConfig(fastRetry()),
		WithTempDir(t.TempDir()),
	}
	client := New(append(base, opts...)...)
	t.Cleanup(func() { _ = client.Close() })

	if err := client.Connect(context.Background(), testConfig()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return client
}

// generateTestRSAKey creates a test RSA private key and returns both PEM-encoded
// key content and a path to a temp file containing the key.
func generateTestRSAKey(t *testing.T) (string, string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	privateKeyPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}))

	keyPath := filepath.Join(t.TempDir(), "test_key")
	if err := os.WriteFile(keyPath, []byte(privateKeyPEM), 0600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}

	return privateKeyPEM, keyPath
}

// createTempFile creates a temporary file with the given content.
func createTempFile(t *testing.T, content []byte) string {
	t.Helper()

	tmpFile := filepath.Join(t.TempDir(), "test_file")
	if err := os.WriteFile(tmpFile, content, 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}

	return tmpFile
}

// readLocalFile returns the content of a local file, failing the test if
// it cannot be read.
func readLocalFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// tempDownloads lists leftover in-memory download files in dir.
func tempDownloads(t *testing.T, dir string) []string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(dir, tempFilePrefix+"*"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	return matches
}

func containsCommand(cmds []string, want string) bool {
	for _, c := range cmds {
		if c == want {
			return true
		}
	}
	return false
}
