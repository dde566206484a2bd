package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubOMDB(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case q.Get("i") == "tt1375666":
			_, _ = w.Write([]byte(`{"Response":"True","Title":"Inception","Year":"2010","Genre":"Action, Sci-Fi","Plot":"A thief who steals corporate secrets."}`))
		case q.Get("i") != "":
			_, _ = w.Write([]byte(`{"Response":"False","Error":"Incorrect IMDb ID."}`))
		case q.Get("s") == "movie" && q.Get("page") == "2":
			_, _ = w.Write([]byte(`{"Response":"True","totalResults":"12","Search":[{"Title":"Alien","Year":"1979","imdbID":"tt0078748","Type":"movie"},{"Title":"Inception","imdbID":"tt1375666"}]}`))
		case q.Get("s") == "movie":
			_, _ = w.Write([]byte(`{"Response":"True","totalResults":"12","Search":[{"Title":"Inception","Year":"2010","imdbID":"tt1375666","Type":"movie"}]}`))
		default:
			_, _ = w.Write([]byte(`{"Response":"False","Error":"Movie not found!"}`))
		}
	}))
	t.Cleanup(server.Close)
	return server
}

// run executes the CLI in an isolated directory against the stub upstream.
func run(t *testing.T, baseURL string, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("OMDB_API_KEY", "test-key")
	t.Setenv("OMDB_BASE_URL", baseURL)

	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPopularCommand(t *testing.T) {
	server := stubOMDB(t)

	out, err := run(t, server.URL, "popular")
	require.NoError(t, err)
	assert.Contains(t, out, "tt1375666")
	assert.Contains(t, out, "Inception")
	assert.Contains(t, out, "Page 1 of 2 (12 results)")
}

func TestSearchCommandNoMatches(t *testing.T) {
	server := stubOMDB(t)

	_, err := run(t, server.URL, "search", "zzzz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Movie not found!")
}

func TestMovieCommand(t *testing.T) {
	server := stubOMDB(t)

	t.Run("prints details", func(t *testing.T) {
		out, err := run(t, server.URL, "movie", "tt1375666")
		require.NoError(t, err)
		assert.Contains(t, out, "Inception (2010)")
		assert.Contains(t, out, "Action, Sci-Fi")
		assert.Contains(t, out, "A thief who steals corporate secrets.")
	})

	t.Run("json output", func(t *testing.T) {
		out, err := run(t, server.URL, "movie", "tt1375666", "--json")
		require.NoError(t, err)

		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &payload))
		assert.Equal(t, "Inception", payload["Title"])
		assert.Equal(t, "True", payload["Response"])
	})

	t.Run("unknown id fails", func(t *testing.T) {
		_, err := run(t, server.URL, "movie", "tt0000000")
		require.Error(t, err)
		assert.Equal(t, "Failed to fetch movie: Incorrect IMDb ID.", err.Error())
	})
}

func TestIDsCommand(t *testing.T) {
	server := stubOMDB(t)

	out, err := run(t, server.URL, "ids")
	require.NoError(t, err)
	assert.Equal(t, []string{"tt1375666", "tt0078748"}, strings.Fields(out))
}

func TestMissingAPIKey(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("OMDB_API_KEY", "")
	require.NoError(t, os.Unsetenv("OMDB_API_KEY"))
	t.Setenv("CINESCOPE_OMDB_API_KEY", "")
	require.NoError(t, os.Unsetenv("CINESCOPE_OMDB_API_KEY"))
	t.Setenv("OMDB_BASE_URL", "https://www.omdbapi.com")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"popular"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "omdb.api_key is required")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
