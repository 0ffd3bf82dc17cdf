package config

// buildIndexes populates the derived lookup tables: channel-by-name and
// the reverse repository → channels index used by the fan-out.
func (c *Config) buildIndexes() error {
	c.channelByName = make(map[string]*ChannelConfig, len(c.Channels))
	c.channelsForRepo = make(map[string][]*ChannelConfig)
	for i := range c.Channels {
		ch := &c.Channels[i]
		c.channelByName[ch.Name] = ch
		for _, repo := range ch.Repos {
			c.channelsForRepo[repo] = append(c.channelsForRepo[repo], ch)
		}
	}
	return nil
}

// Reindex rebuilds the derived lookup tables. Load does this
// automatically; a Config assembled by hand must call it before use.
func (c *Config) Reindex() error {
	return c.buildIndexes()
}

// ChannelByName returns the channel with the given name, or nil.
func (c *Config) ChannelByName(name string) *ChannelConfig {
	return c.channelByName[name]
}

// ChannelsForRepo returns every channel announcing the given repo-id,
// in configuration order. The caller must not retain the result across
// a config reload.
func (c *Config) ChannelsForRepo(repoID string) []*ChannelConfig {
	return c.channelsForRepo[repoID]
}

// ChannelsForNetwork returns the channel names the bot should occupy on
// the given network.
func (c *Config) ChannelsForNetwork(network string) []string {
	var names []string
	for i := range c.Channels {
		if c.Channels[i].Network == network {
			names = append(names, c.Channels[i].Name)
		}
	}
	return names
}

// HasRepository reports whether the repo-id is configured.
func (c *Config) HasRepository(repoID string) bool {
	_, ok := c.Repositories[repoID]
	return ok
}

// SmartAnswersFor resolves the smart-answer pool for a channel:
// channel-scope overrides global.
func (c *Config) SmartAnswersFor(channel string) []string {
	if ch := c.channelByName[channel]; ch != nil && len(ch.SmartAnswers) > 0 {
		return ch.SmartAnswers
	}
	return c.SmartAnswers
}
