package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the command line flags, so hooks can keep their
// invocation down to `kgb-client --conf /etc/kgb-client.yaml ...`.
type fileConfig struct {
	RepoID   string `yaml:"repo-id"`
	Password string `yaml:"password"`
	Timeout  int    `yaml:"timeout"`

	Servers []serverConfig `yaml:"servers"`

	BranchAndModuleRE     []string `yaml:"branch-and-module-re"`
	BranchAndModuleRESwap bool     `yaml:"branch-and-module-re-swap"`
	Module                string   `yaml:"module"`
	IgnoreBranch          string   `yaml:"ignore-branch"`
	Repository            string   `yaml:"repository"`
	Verbose               bool     `yaml:"verbose"`
}

type serverConfig struct {
	URI      string `yaml:"uri"`
	Proxy    string `yaml:"proxy"`
	Password string `yaml:"password"`
	Timeout  int    `yaml:"timeout"`
}

// mergeConfigFile fills every option the command line left unset.
// Explicit flags always win over the file.
func mergeConfigFile(opts *options) error {
	data, err := os.ReadFile(opts.conf)
	if err != nil {
		return fmt.Errorf("read config %s: %w", opts.conf, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", opts.conf, err)
	}

	if opts.repoID == "" {
		opts.repoID = fc.RepoID
	}
	if opts.password == "" {
		opts.password = fc.Password
	}
	if opts.timeout == 0 {
		opts.timeout = fc.Timeout
	}
	if len(opts.branchModRE) == 0 {
		opts.branchModRE = fc.BranchAndModuleRE
		opts.branchModRESwap = fc.BranchAndModuleRESwap
	}
	if opts.module == "" {
		opts.module = fc.Module
	}
	if opts.ignoreBranch == "" {
		opts.ignoreBranch = fc.IgnoreBranch
	}
	if fc.Repository != "" && !flagChanged(opts.repository) {
		opts.repository = fc.Repository
	}
	if fc.Verbose {
		opts.verbose = true
	}

	for _, s := range fc.Servers {
		if s.URI == "" {
			return fmt.Errorf("config %s: server entry without uri", opts.conf)
		}
	}
	opts.fileServers = fc.Servers
	return nil
}

// flagChanged reports whether the repository flag still holds its
// default value.
func flagChanged(repository string) bool {
	return repository != "svn"
}
