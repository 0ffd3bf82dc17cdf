// kgb-client relays commits from repository hooks to a KGB server over
// authenticated XML-RPC. It is repository-agnostic: a Subversion
// post-commit hook passes the repository path and revision, a Git
// post-receive hook passes ref updates on stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kgb-bot/kgb/internal/logger"
	"github.com/kgb-bot/kgb/pkg/client"
	"github.com/kgb-bot/kgb/pkg/commit"
	"github.com/kgb-bot/kgb/pkg/hook/git"
	"github.com/kgb-bot/kgb/pkg/hook/svn"
)

var version = "dev"

type options struct {
	conf            string
	uris            []string
	proxy           string
	repoID          string
	password        string
	timeout         int
	branchModRE     []string
	branchModRESwap bool
	module          string
	ignoreBranch    string
	repository      string
	gitReflog       string
	verbose         bool

	// fileServers carries the --conf servers with their per-server
	// password, proxy and timeout overrides.
	fileServers []serverConfig
}

func main() {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "kgb-client [flags] [<repo-path> <revision>]",
		Short: "Relay a commit to a KGB server",
		Long: `kgb-client posts commits to one or more KGB servers.

For Subversion, run it from the post-commit hook with the repository
path and revision as arguments. For Git, run it from the post-receive
hook with --git-reflog - and the ref updates on stdin.

Servers come from --uri flags and/or the configuration file; they are
tried in random order with the last working server preferred, and the
call fails only when every server refused the commit.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.conf, "conf", "", "Client configuration file (YAML)")
	f.StringArrayVar(&opts.uris, "uri", nil, "Server URI (repeatable)")
	f.StringVar(&opts.proxy, "proxy", "", "HTTP endpoint override for a single --uri")
	f.StringVar(&opts.repoID, "repo-id", "", "Repository id known to the server")
	f.StringVar(&opts.password, "password", "", "Shared password for the repository")
	f.IntVar(&opts.timeout, "timeout", 0, "Per-server timeout in seconds")
	f.StringArrayVar(&opts.branchModRE, "branch-and-module-re", nil,
		"Regex with two capture groups extracting branch and module from paths (repeatable)")
	f.BoolVar(&opts.branchModRESwap, "branch-and-module-re-swap", false,
		"Exchange the two captures: module first, branch second")
	f.StringVar(&opts.module, "module", "", "Fixed module name, overrides extraction")
	f.StringVar(&opts.ignoreBranch, "ignore-branch", "", "Do not announce commits on this branch")
	f.StringVar(&opts.repository, "repository", "svn", "Repository type (svn|git)")
	f.StringVar(&opts.gitReflog, "git-reflog", "", "Ref updates: a file of 'old new ref' lines, or - for stdin")
	f.BoolVar(&opts.verbose, "verbose", false, "Verbose progress output")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kgb-client: %v\n", err)
		os.Exit(1)
	}
}

func run(opts *options, args []string) error {
	if opts.conf != "" {
		if err := mergeConfigFile(opts); err != nil {
			return err
		}
	}

	level := "ERROR"
	if opts.verbose {
		level = "INFO"
	}
	if err := logger.Init(logger.Config{Level: level, Format: "text", Output: "stderr"}); err != nil {
		return err
	}

	rules, err := client.CompileBranchModuleRules(opts.branchModRE, opts.branchModRESwap)
	if err != nil {
		return err
	}

	refs, err := serverRefs(opts)
	if err != nil {
		return err
	}
	c, err := client.New(opts.repoID, refs...)
	if err != nil {
		return err
	}

	ctx := context.Background()
	switch opts.repository {
	case "svn":
		return runSvn(ctx, c, rules, opts, args)
	case "git":
		return runGit(ctx, c, rules, opts, args)
	default:
		return fmt.Errorf("unknown repository type %q (want svn or git)", opts.repository)
	}
}

func runSvn(ctx context.Context, c *client.Client, rules *client.PathRules, opts *options, args []string) error {
	if len(args) != 2 {
		return errors.New("svn mode needs exactly two arguments: <repo-path> <revision>")
	}
	cm, err := svn.Open(args[0]).Commit(ctx, args[1])
	if err != nil {
		return err
	}
	return announce(ctx, c, rules, opts, cm, "r")
}

func runGit(ctx context.Context, c *client.Client, rules *client.PathRules, opts *options, args []string) error {
	if opts.gitReflog == "" {
		return errors.New("git mode needs --git-reflog (a file, or - for stdin)")
	}

	repoPath := "."
	if len(args) > 0 {
		repoPath = args[0]
	}
	d, err := git.Open(repoPath)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if opts.gitReflog != "-" {
		f, err := os.Open(opts.gitReflog)
		if err != nil {
			return fmt.Errorf("open reflog: %w", err)
		}
		defer f.Close()
		in = f
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return fmt.Errorf("malformed ref update %q (want 'old new ref')", scanner.Text())
		}
		commits, err := d.CommitsForUpdate(fields[0], fields[1], fields[2])
		if err != nil {
			return err
		}
		for _, cm := range commits {
			if err := announce(ctx, c, rules, opts, cm, ""); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

// announce applies the branch/module decoration and relays one commit.
func announce(ctx context.Context, c *client.Client, rules *client.PathRules, opts *options, cm *commit.Commit, revPrefix string) error {
	rules.Apply(cm)
	if opts.module != "" {
		cm.Module = opts.module
	}
	if opts.ignoreBranch != "" && cm.Branch == opts.ignoreBranch {
		logger.Info("skipping commit on ignored branch",
			logger.KeyRevision, cm.ID, "branch", cm.Branch)
		return nil
	}
	return c.RelayCommit(ctx, cm, revPrefix)
}

// serverRefs combines the configuration file servers with the --uri
// flags. Flag-level password and timeout are the defaults for servers
// that carry none of their own.
func serverRefs(opts *options) ([]*client.ServerRef, error) {
	var refs []*client.ServerRef

	for _, s := range opts.fileServers {
		password := s.Password
		if password == "" {
			password = opts.password
		}
		ref := client.NewServerRef(s.URI, password)
		if s.Proxy != "" {
			ref.Proxy = s.Proxy
		}
		switch {
		case s.Timeout > 0:
			ref.Timeout = time.Duration(s.Timeout) * time.Second
		case opts.timeout > 0:
			ref.Timeout = time.Duration(opts.timeout) * time.Second
		}
		ref.Verbose = opts.verbose
		refs = append(refs, ref)
	}

	for _, uri := range opts.uris {
		ref := client.NewServerRef(uri, opts.password)
		if opts.proxy != "" && len(opts.uris) == 1 {
			ref.Proxy = opts.proxy
		}
		if opts.timeout > 0 {
			ref.Timeout = time.Duration(opts.timeout) * time.Second
		}
		ref.Verbose = opts.verbose
		refs = append(refs, ref)
	}

	if len(refs) == 0 {
		return nil, errors.New("no servers configured: use --uri or a --conf file")
	}
	return refs, nil
}
