package config

import (
	"fmt"

	"github.com/dyluth/nodegraph/pkg/nodegraph"
	"github.com/dyluth/nodegraph/pkg/records"
)

// NewClient builds a client from the configuration. extra options are
// applied last. The returned close function releases the record store when
// one is configured and is never nil.
func (c *ClientConfig) NewClient(extra ...nodegraph.Option) (*nodegraph.Client, func() error, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() error { return nil }
	if c.Records != nil {
		store, err := records.NewStoreFromURL(c.Records.RedisURL, c.Records.Namespace)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create record store: %w", err)
		}
		opts = append(opts, nodegraph.WithRecords(store))
		closeFn = store.Close
	}

	return nodegraph.New(append(opts, extra...)...), closeFn, nil
}
