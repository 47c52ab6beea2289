package updates_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/tts-studio/internal/updates"
)

const localCommit = "0123456789abcdef0123456789abcdef01234567"

func newLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "updates-test.log")
	require.NoError(t, err)

	return log
}

func writeFetchHead(t *testing.T, content string) string {
	t.Helper()

	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".git"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(repo, updates.FetchHeadPath), []byte(content), 0o600))

	return repo
}

func giteaServer(t *testing.T, commit string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/repos/mrq/tts-studio/branches/" {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		_, _ = w.Write([]byte(`[{"name":"master","commit":{"id":"` + commit + `"}}]`))
	}))
	t.Cleanup(server.Close)

	return server
}

func fetchHeadFor(server *httptest.Server) string {
	host := strings.TrimPrefix(server.URL, "http://")

	return localCommit + "\t\tbranch 'master' of https://" + host + "/mrq/tts-studio\n"
}

func TestParseFetchHead(t *testing.T) {
	t.Parallel()

	origin, ok := updates.ParseFetchHead(localCommit + "\t\tbranch 'master' of https://git.example.org/mrq/tts-studio\n")
	require.True(t, ok)
	assert.Equal(t, updates.Origin{
		Commit: localCommit,
		Host:   "git.example.org",
		Owner:  "mrq",
		Repo:   "tts-studio",
	}, origin)

	_, ok = updates.ParseFetchHead("not a fetch head")
	assert.False(t, ok)

	_, ok = updates.ParseFetchHead(localCommit + " of https://git.example.org/mrq/tts-studio")
	assert.False(t, ok)
}

func TestCheck_NewVersion(t *testing.T) {
	t.Parallel()

	server := giteaServer(t, "fedcba9876543210fedcba9876543210fedcba98")
	repo := writeFetchHead(t, fetchHeadFor(server))

	checker := updates.NewChecker(repo, "http", time.Second, newLogger(t))
	assert.True(t, checker.Check(context.Background()))
}

func TestCheck_UpToDate(t *testing.T) {
	t.Parallel()

	server := giteaServer(t, localCommit)
	repo := writeFetchHead(t, fetchHeadFor(server))

	checker := updates.NewChecker(repo, "http", time.Second, newLogger(t))
	assert.False(t, checker.Check(context.Background()))
}

func TestCheck_FailuresReportNoUpdate(t *testing.T) {
	t.Parallel()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(failing.Close)

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(empty.Close)

	cases := map[string]string{
		"missing file":  "",
		"malformed":     writeFetchHead(t, "garbage\n"),
		"server error":  writeFetchHead(t, fetchHeadFor(failing)),
		"no branches":   writeFetchHead(t, fetchHeadFor(empty)),
		"unreachable":   writeFetchHead(t, localCommit+"\t\tbranch 'master' of https://127.0.0.1:1/mrq/tts-studio\n"),
		"wrong project": writeFetchHead(t, localCommit+"\t\tbranch 'master' of https://127.0.0.1:1/other/x\n"),
	}

	for name, repo := range cases {
		if repo == "" {
			repo = t.TempDir()
		}

		checker := updates.NewChecker(repo, "http", time.Second, newLogger(t))
		assert.False(t, checker.Check(context.Background()), name)
	}
}
