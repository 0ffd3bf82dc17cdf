package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct validation tags
// plus the cross-references the tags cannot express: every channel must
// belong to a configured network, and every repo a channel announces
// must exist in the repositories section.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return describeValidationError(err)
	}

	for _, ch := range cfg.Channels {
		if _, ok := cfg.Networks[ch.Network]; !ok {
			return fmt.Errorf("channel %s references unknown network %q", ch.Name, ch.Network)
		}
		for _, repo := range ch.Repos {
			if _, ok := cfg.Repositories[repo]; !ok {
				return fmt.Errorf("channel %s references unknown repository %q", ch.Name, repo)
			}
		}
	}

	seen := make(map[string]struct{}, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		key := ch.Network + " " + ch.Name
		if _, dup := seen[key]; dup {
			return fmt.Errorf("channel %s on network %s is configured twice", ch.Name, ch.Network)
		}
		seen[key] = struct{}{}
	}

	return nil
}

// describeValidationError rewrites validator's field errors into
// something readable in a log line.
func describeValidationError(err error) error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("%s: failed %q constraint", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(parts, "; "))
}
