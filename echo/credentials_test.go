package echo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialStoreRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".echogent")
	store := NewCredentialStore(filepath.Join(dir, "api-key.txt"))

	key, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, key, "missing file is not an error")

	require.NoError(t, store.Save("sk-123"))
	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, "sk-123\n", string(data))

	key, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-123", key)

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(store.Path())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())
		di, err := os.Stat(dir)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0700), di.Mode().Perm())
	}
}

func TestCredentialStoreTightensExistingFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	path := filepath.Join(t.TempDir(), "api-key.txt")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	require.NoError(t, NewCredentialStore(path).Save("new"))
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())
}

func TestCredentialStoreBlankFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api-key.txt")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0600))

	key, err := NewCredentialStore(path).Load()
	require.NoError(t, err)
	assert.Empty(t, key)
}

func newResolver(t *testing.T, input string) (*Resolver, *bytes.Buffer, *[]string) {
	t.Helper()
	var out bytes.Buffer
	var opened []string
	r := &Resolver{
		Store:   NewCredentialStore(filepath.Join(t.TempDir(), "api-key.txt")),
		EchoURL: "https://echo.example/",
		AppID:   "app-1",
		In:      strings.NewReader(input),
		Out:     &out,
		OpenURL: func(url string) error {
			opened = append(opened, url)
			return nil
		},
	}
	return r, &out, &opened
}

func TestResolverOverride(t *testing.T) {
	r, out, opened := newResolver(t, "")
	r.Override = " env-key "

	key, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "env-key", key)
	assert.Empty(t, out.String())
	assert.Empty(t, *opened)
}

func TestResolverUsesSavedKey(t *testing.T) {
	r, out, opened := newResolver(t, "")
	require.NoError(t, r.Store.Save("saved"))

	key, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "saved", key)
	assert.Equal(t, "Using saved API key from "+r.Store.Path()+"\n", out.String())
	assert.Empty(t, *opened)
}

func TestResolverPromptsAndPersists(t *testing.T) {
	r, out, opened := newResolver(t, "  typed-key  \n")

	key, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "typed-key", key)
	assert.Equal(t, []string{"https://echo.example/app/app-1/keys"}, *opened)
	assert.Contains(t, out.String(), "Opening Echo to create your API key...")
	assert.Contains(t, out.String(), "Enter your API key:")
	assert.Contains(t, out.String(), "Saved API key to "+r.Store.Path())

	saved, err := r.Store.Load()
	require.NoError(t, err)
	assert.Equal(t, "typed-key", saved)
}

func TestResolverLeavesPipedRequestsUnread(t *testing.T) {
	r, _, _ := newResolver(t, "typed-key\nlist the files\nnow read main.go\n")

	key, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "typed-key", key)

	rest, err := io.ReadAll(r.In)
	require.NoError(t, err)
	assert.Equal(t, "list the files\nnow read main.go\n", string(rest))
}

func TestResolverEmptyInput(t *testing.T) {
	r, _, _ := newResolver(t, "\n")

	_, err := r.Resolve(context.Background())
	require.ErrorIs(t, err, ErrNoAPIKey)
	assert.Equal(t, "No API key provided", err.Error())

	_, statErr := os.Stat(r.Store.Path())
	assert.True(t, os.IsNotExist(statErr), "nothing is persisted")
}

func TestResolverBrowserFailureStillPrompts(t *testing.T) {
	r, out, _ := newResolver(t, "k")
	r.OpenURL = func(string) error { return errors.New("no display") }

	key, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "k", key)
	assert.Contains(t, out.String(), "visit https://echo.example/app/app-1/keys")
}

func TestResolverReadSecret(t *testing.T) {
	r, _, _ := newResolver(t, "ignored\n")
	r.ReadSecret = func() (string, error) { return "hidden", nil }

	key, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hidden", key)
}

func TestKeysURL(t *testing.T) {
	assert.Equal(t, "https://echo.merit.systems/app/abc/keys", KeysURL("https://echo.merit.systems", "abc"))
}
