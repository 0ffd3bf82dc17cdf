package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kgb-client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestMergeConfigFileFillsUnsetOptions(t *testing.T) {
	opts := &options{repository: "svn"}
	opts.conf = writeConf(t, `repo-id: test
password: "v,sjflir"
timeout: 30
repository: git
branch-and-module-re:
  - "^branches/([^/]+)/([^/]+)/"
servers:
  - uri: http://kgb.example.org:9999/
`)

	require.NoError(t, mergeConfigFile(opts))
	assert.Equal(t, "test", opts.repoID)
	assert.Equal(t, "v,sjflir", opts.password)
	assert.Equal(t, 30, opts.timeout)
	assert.Equal(t, "git", opts.repository)
	assert.Len(t, opts.branchModRE, 1)
	require.Len(t, opts.fileServers, 1)
	assert.Equal(t, "http://kgb.example.org:9999/", opts.fileServers[0].URI)
}

func TestMergeConfigFileFlagsWin(t *testing.T) {
	opts := &options{
		repoID:     "cli-repo",
		password:   "cli-pw",
		timeout:    5,
		repository: "git", // changed from the default on the command line
	}
	opts.conf = writeConf(t, `repo-id: file-repo
password: file-pw
timeout: 60
repository: svn
`)

	require.NoError(t, mergeConfigFile(opts))
	assert.Equal(t, "cli-repo", opts.repoID)
	assert.Equal(t, "cli-pw", opts.password)
	assert.Equal(t, 5, opts.timeout)
	assert.Equal(t, "git", opts.repository)
}

func TestMergeConfigFileRejectsServerWithoutURI(t *testing.T) {
	opts := &options{repository: "svn"}
	opts.conf = writeConf(t, `servers:
  - password: pw
`)
	assert.Error(t, mergeConfigFile(opts))
}

func TestServerRefsPerServerOverrides(t *testing.T) {
	opts := &options{
		password: "global-pw",
		timeout:  20,
		fileServers: []serverConfig{
			{URI: "http://a.example.org/", Password: "own-pw", Timeout: 3, Proxy: "http://proxy/"},
			{URI: "http://b.example.org/"},
		},
		uris: []string{"http://c.example.org/"},
	}

	refs, err := serverRefs(opts)
	require.NoError(t, err)
	require.Len(t, refs, 3)

	assert.Equal(t, "own-pw", refs[0].Password)
	assert.Equal(t, 3*time.Second, refs[0].Timeout)
	assert.Equal(t, "http://proxy/", refs[0].Proxy)

	assert.Equal(t, "global-pw", refs[1].Password)
	assert.Equal(t, 20*time.Second, refs[1].Timeout)

	assert.Equal(t, "global-pw", refs[2].Password)
}

func TestServerRefsEmptyIsError(t *testing.T) {
	_, err := serverRefs(&options{})
	assert.Error(t, err)
}
