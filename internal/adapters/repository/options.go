// Package repository defines the assignment record store interface and errors.
package repository

// storeConfig carries construction-time settings for ShardStore.
type storeConfig struct {
	shardCount int
}

// Option applies a configuration option to the ShardStore.
type Option func(*storeConfig)

// WithShardCount sets the number of shards in the record store.
func WithShardCount(count int) Option {
	return func(c *storeConfig) {
		if count > 0 {
			c.shardCount = count
		}
	}
}
