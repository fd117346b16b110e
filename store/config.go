package store

import (
	"sort"
	"strings"
)

// DefaultThroughput is the provisioned throughput used when Config.Throughput is unset.
const DefaultThroughput = 400

// DefaultPartitionKeyPath is used for collections that don't declare a partition key.
const DefaultPartitionKeyPath = "/id"

// Config holds connection and provisioning settings for a document store account.
type Config struct {
	// Endpoint is the URI of the store account (or a local emulator).
	Endpoint string `yaml:"endpoint"`

	// Key is the account key. Backends define its format.
	Key string `yaml:"key"`

	// Region is used by backends that are region scoped.
	// Default: "us-east-1"
	Region string `yaml:"region"`

	// Throughput is the provisioned throughput for databases and collections.
	// A negative value selects on-demand capacity where the backend supports it.
	// Default: 400
	Throughput int `yaml:"throughput"`

	// DefaultTimeToLive is the document expiry in seconds applied to every collection.
	// Nil or a non-positive value disables expiry.
	DefaultTimeToLive *int `yaml:"defaultTimeToLive"`

	// Databases maps a database id to its collections.
	Databases map[string][]CollectionSettings `yaml:"databases"`
}

// CollectionSettings describes one collection to provision and use.
type CollectionSettings struct {
	// Name is the collection identifier.
	Name string `yaml:"name"`

	// PartitionKeyPath is the JSON path of the partition key (e.g. "/customerId").
	// Default: "/id"
	PartitionKeyPath string `yaml:"partitionKeyPath"`

	// UniqueKeyPaths lists unique key constraints, each a comma separated list of
	// paths forming one composite key (e.g. "/email" or "/firstName,/lastName").
	// Uniqueness is scoped to a partition key value.
	UniqueKeyPaths []string `yaml:"uniqueKeyPaths"`
}

// UniqueKeys splits UniqueKeyPaths into composite keys, dropping empty entries.
func (s CollectionSettings) UniqueKeys() [][]string {
	var keys [][]string
	for _, composite := range s.UniqueKeyPaths {
		var paths []string
		for _, p := range strings.Split(composite, ",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		if len(paths) > 0 {
			keys = append(keys, paths)
		}
	}
	return keys
}

// DefaultConfig returns a Config with defaults and no databases.
func DefaultConfig() Config {
	return Config{
		Region:     "us-east-1",
		Throughput: DefaultThroughput,
		Databases:  map[string][]CollectionSettings{},
	}
}

// withDefaults returns a copy with unset values filled in.
func (c Config) withDefaults() Config {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.Throughput == 0 {
		c.Throughput = DefaultThroughput
	}
	if len(c.Databases) > 0 {
		dbs := make(map[string][]CollectionSettings, len(c.Databases))
		for db, colls := range c.Databases {
			out := make([]CollectionSettings, len(colls))
			for i, s := range colls {
				if s.PartitionKeyPath == "" {
					s.PartitionKeyPath = DefaultPartitionKeyPath
				}
				out[i] = s
			}
			dbs[db] = out
		}
		c.Databases = dbs
	}
	return c
}

// Validate checks the settings required to open a connection.
// The returned error is a *ConfigError naming the first missing field.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return configError("endpoint", "is not defined")
	}
	if strings.TrimSpace(c.Key) == "" {
		return configError("key", "is not defined")
	}
	if len(c.Databases) == 0 {
		return configError("databases", "are not specified")
	}
	for _, db := range c.DatabaseIDs() {
		if strings.TrimSpace(db) == "" {
			return configError("databases", "contain an empty database id")
		}
		colls := c.Databases[db]
		if len(colls) == 0 {
			return configError("databases."+db, "has no collections defined")
		}
		for _, s := range colls {
			if strings.TrimSpace(s.Name) == "" {
				return configError("databases."+db+".name", "is not defined")
			}
		}
	}
	return nil
}

// HasEndpointAndKey reports whether both connection settings are present.
func (c Config) HasEndpointAndKey() bool {
	return c.Endpoint != "" && c.Key != ""
}

// DatabaseIDs returns the configured database ids in sorted order.
func (c Config) DatabaseIDs() []string {
	ids := make([]string, 0, len(c.Databases))
	for id := range c.Databases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultCollection returns the first collection of the first database (by name).
func (c Config) DefaultCollection() (CollectionRef, bool) {
	for _, db := range c.DatabaseIDs() {
		colls := c.Databases[db]
		if db == "" || len(colls) == 0 || colls[0].Name == "" {
			return CollectionRef{}, false
		}
		return CollectionRef{Database: db, Collection: colls[0].Name}, true
	}
	return CollectionRef{}, false
}

// Collection returns the settings of a configured collection.
func (c Config) Collection(ref CollectionRef) (CollectionSettings, bool) {
	for _, s := range c.Databases[ref.Database] {
		if s.Name == ref.Collection {
			if s.PartitionKeyPath == "" {
				s.PartitionKeyPath = DefaultPartitionKeyPath
			}
			return s, true
		}
	}
	return CollectionSettings{}, false
}
