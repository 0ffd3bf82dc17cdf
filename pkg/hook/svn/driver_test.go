package svn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgb-bot/kgb/pkg/commit"
)

// fakeRunner answers svnlook invocations from a canned map keyed by the
// subcommand.
func fakeRunner(t *testing.T, outputs map[string]string) runner {
	return func(ctx context.Context, args ...string) ([]byte, error) {
		t.Helper()
		require.NotEmpty(t, args)
		out, ok := outputs[args[0]]
		if !ok {
			return nil, errors.New("unexpected svnlook " + args[0])
		}
		return []byte(out), nil
	}
}

func TestCommitReadsInfoAndChanges(t *testing.T) {
	d := Open("/srv/svn/test")
	d.run = fakeRunner(t, map[string]string{
		"info":    "alice\n2025-03-01 12:00:00 +0000 (Sat, 01 Mar 2025)\n8\nadd file\n",
		"changed": "A   trunk/file\nU   trunk/old\nD   trunk/gone\n",
	})

	cm, err := d.Commit(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", cm.ID)
	assert.Equal(t, "alice", cm.Author)
	assert.Equal(t, "add file", cm.Log)
	assert.Equal(t, []commit.Change{
		{Action: commit.ActionAdd, Path: "trunk/file"},
		{Action: commit.ActionModify, Path: "trunk/old"},
		{Action: commit.ActionDelete, Path: "trunk/gone"},
	}, cm.Changes)
}

func TestCommitMultilineLog(t *testing.T) {
	d := Open("/srv/svn/test")
	d.run = fakeRunner(t, map[string]string{
		"info":    "bob\ndate\n20\nfirst line\nsecond line\n",
		"changed": "U   file\n",
	})

	cm, err := d.Commit(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "first line\nsecond line", cm.Log)
}

func TestChangedPropertyFlags(t *testing.T) {
	d := Open("/srv/svn/test")
	d.run = fakeRunner(t, map[string]string{
		"info":    "alice\ndate\n3\nlog\n",
		"changed": "_U  dir/only-props\nUU  dir/both\n",
	})

	cm, err := d.Commit(context.Background(), "8")
	require.NoError(t, err)
	assert.Equal(t, []commit.Change{
		{Action: commit.ActionModify, Path: "dir/only-props", PropChange: true},
		{Action: commit.ActionModify, Path: "dir/both", PropChange: true},
	}, cm.Changes)
}

func TestCommitSvnlookFailure(t *testing.T) {
	d := Open("/srv/svn/test")
	d.run = func(ctx context.Context, args ...string) ([]byte, error) {
		return nil, errors.New("no such revision 99")
	}

	_, err := d.Commit(context.Background(), "99")
	assert.Error(t, err)
}

func TestCommitTruncatedInfoOutput(t *testing.T) {
	d := Open("/srv/svn/test")
	d.run = fakeRunner(t, map[string]string{"info": "alice\n"})

	_, err := d.Commit(context.Background(), "5")
	assert.Error(t, err)
}
