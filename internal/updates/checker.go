// Package updates compares the local checkout against its Gitea remote.
package updates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/book-expert/logger"
)

const (
	// FetchHeadPath is relative to the repository directory.
	FetchHeadPath = ".git/FETCH_HEAD"
	// DefaultScheme is used to reach the remote.
	DefaultScheme = "https"

	shortCommit    = 8
	branchesURLFmt = "%s://%s/api/v1/repos/%s/%s/branches/"

	logFmtNotGit     = "Cannot check for updates: not from a git repo: %v"
	logFmtParse      = "Cannot check for updates: cannot parse FETCH_HEAD"
	logFmtFetch      = "Cannot check for updates: cannot fetch from remote: %v"
	logFmtNewVersion = "New version found: %s => %s"

	errFmtStatus = "%w: %s"
)

var (
	fetchHeadPattern = regexp.MustCompile(`^([a-f0-9]+).+?https://(.+?)/(.+?)/(.+?)\n`)

	errUnexpectedStatus = errors.New("unexpected status")
	errNoBranches       = errors.New("remote reported no branches")
)

// Origin is the remote parsed from FETCH_HEAD.
type Origin struct {
	Commit string
	Host   string
	Owner  string
	Repo   string
}

// ParseFetchHead extracts the fetched commit and remote from a FETCH_HEAD
// document.
func ParseFetchHead(head string) (Origin, bool) {
	match := fetchHeadPattern.FindStringSubmatch(head)
	if match == nil {
		return Origin{}, false
	}

	return Origin{Commit: match[1], Host: match[2], Owner: match[3], Repo: match[4]}, true
}

type branch struct {
	Commit struct {
		ID string `json:"id"`
	} `json:"commit"`
}

// Checker looks for a newer commit on the remote.
type Checker struct {
	client  *http.Client
	log     *logger.Logger
	repoDir string
	scheme  string
}

// NewChecker creates a checker for the repository at repoDir.
func NewChecker(repoDir, scheme string, timeout time.Duration, log *logger.Logger) *Checker {
	if scheme == "" {
		scheme = DefaultScheme
	}

	return &Checker{
		client:  &http.Client{Timeout: timeout},
		log:     log,
		repoDir: repoDir,
		scheme:  scheme,
	}
}

// Check reports whether the remote's first branch points at a different
// commit. Every failure is logged and reported as no update.
func (c *Checker) Check(ctx context.Context) bool {
	head, err := os.ReadFile(filepath.Join(c.repoDir, FetchHeadPath))
	if err != nil {
		c.log.Warn(logFmtNotGit, err)

		return false
	}

	origin, ok := ParseFetchHead(string(head))
	if !ok {
		c.log.Warn(logFmtParse)

		return false
	}

	remote, err := c.remoteCommit(ctx, origin)
	if err != nil {
		c.log.Warn(logFmtFetch, err)

		return false
	}

	if remote == origin.Commit {
		return false
	}

	c.log.Info(logFmtNewVersion, abbreviate(origin.Commit), abbreviate(remote))

	return true
}

func (c *Checker) remoteCommit(ctx context.Context, origin Origin) (string, error) {
	url := fmt.Sprintf(branchesURLFmt, c.scheme, origin.Host, origin.Owner, origin.Repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			c.log.Warn("Failed to close response body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf(errFmtStatus, errUnexpectedStatus, resp.Status)
	}

	var branches []branch

	err = json.NewDecoder(resp.Body).Decode(&branches)
	if err != nil {
		return "", err
	}

	if len(branches) == 0 {
		return "", errNoBranches
	}

	return branches[0].Commit.ID, nil
}

func abbreviate(commit string) string {
	if len(commit) > shortCommit {
		return commit[:shortCommit]
	}

	return commit
}
