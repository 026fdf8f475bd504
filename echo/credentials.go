// Package echo talks to Echo, the billing layer in front of the model router:
// it resolves and persists the user's API key and reads or tops up the
// account balance.
package echo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/browser"
	"golang.org/x/term"
)

// ErrNoAPIKey is returned when the user enters an empty key.
var ErrNoAPIKey = errors.New("No API key provided")

// CredentialStore persists a single API key in an owner-only file.
type CredentialStore struct {
	path string
}

// NewCredentialStore creates a store backed by the file at path.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Path returns the credential file location.
func (s *CredentialStore) Path() string {
	return s.path
}

// Load returns the saved key with surrounding whitespace removed. A missing or
// blank file yields "".
func (s *CredentialStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save writes key followed by a newline. The directory is created 0700 and
// the file is left at 0600 even if it already existed with wider permissions.
func (s *CredentialStore) Save(key string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(key+"\n"), 0600); err != nil {
		return fmt.Errorf("write api key: %w", err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		return fmt.Errorf("chmod api key: %w", err)
	}
	return nil
}

// KeysURL is the page where a user creates an API key for appID.
func KeysURL(echoURL, appID string) string {
	return strings.TrimRight(echoURL, "/") + "/app/" + appID + "/keys"
}

// Resolver finds the API key to use: an explicit key first, then the saved
// file, then an interactive registration flow whose result is persisted.
type Resolver struct {
	Store   *CredentialStore
	EchoURL string
	AppID   string
	// Override short-circuits the lookup, typically from ECHOGENT_API_KEY.
	Override string

	In  io.Reader
	Out io.Writer
	// OpenURL defaults to browser.OpenURL.
	OpenURL func(url string) error
	// ReadSecret reads a line without echo; by default term.ReadPassword is
	// used when In is a terminal.
	ReadSecret func() (string, error)
}

// Resolve returns a non-empty API key or an error.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	if key := strings.TrimSpace(r.Override); key != "" {
		return key, nil
	}

	saved, err := r.Store.Load()
	if err != nil {
		return "", err
	}
	if saved != "" {
		fmt.Fprintf(r.out(), "Using saved API key from %s\n", r.Store.Path())
		return saved, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fmt.Fprintln(r.out(), "Opening Echo to create your API key...")
	url := KeysURL(r.EchoURL, r.AppID)
	if err := r.openURL(url); err != nil {
		fmt.Fprintf(r.out(), "Could not open a browser; visit %s\n", url)
	}

	fmt.Fprint(r.out(), "Enter your API key: ")
	line, err := r.readKey()
	if err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return "", ErrNoAPIKey
	}

	if err := r.Store.Save(key); err != nil {
		return "", err
	}
	fmt.Fprintf(r.out(), "Saved API key to %s\n", r.Store.Path())
	return key, nil
}

func (r *Resolver) out() io.Writer {
	if r.Out == nil {
		return io.Discard
	}
	return r.Out
}

func (r *Resolver) openURL(url string) error {
	if r.OpenURL != nil {
		return r.OpenURL(url)
	}
	return openBrowser(url)
}

func openBrowser(url string) error {
	return browser.OpenURL(url)
}

func (r *Resolver) readKey() (string, error) {
	if r.ReadSecret != nil {
		return r.ReadSecret()
	}
	if f, ok := r.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(r.out())
		return string(b), err
	}
	if r.In == nil {
		return "", nil
	}
	return readLine(r.In)
}

// readLine reads through the next newline one byte at a time, leaving the
// rest of in unread for the console driver.
func readLine(in io.Reader) (string, error) {
	var sb strings.Builder
	b := make([]byte, 1)
	for {
		n, err := in.Read(b)
		if n > 0 {
			sb.WriteByte(b[0])
			if b[0] == '\n' {
				return sb.String(), nil
			}
		}
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
	}
}
