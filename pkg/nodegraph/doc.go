// Package nodegraph is a client for a sharded graph service spoken to over
// HTTP/JSON.
//
// # Overview
//
// Nodes are addressed by composite ids of the form "{type}-{number}" and carry
// versioned attribute groups called layers. Every request is routed to a
// backend host by a Router, executed by the Server cached for that
// (operation, host) pair, and observed through Hooks.
//
// # Routing
//
// Routes are registered per operation kind and scanned in order. A pattern is
// a path with "*" wildcards; the target is a StaticHost, a HostList (one
// replica picked at random per request) or a DynamicHost computed from the
// wildcard captures. Paths no rule resolves go to DefaultHost.
//
// # Failure Handling
//
// Every transport failure is an *Error whose Kind tells connection failures,
// timeouts, broken responses and HTTP error statuses apart:
//
//	if errors.Is(err, nodegraph.ErrConnection) { ... }
//
// Reads that fail with a connection or read error are retried on the
// fallback hosts configured for the operation kind. Writes are never sent to
// another host; they are retried on the same host, for connection failures
// only, up to the retry limit.
//
// # Bulk Reads
//
// Client.BulkRead opens a scope carried by the context handed to its body.
// Reads issued with that context are queued per server and sent as one POST
// to /bulk-read per server when the body returns:
//
//	results, err := client.BulkRead(ctx, nil, func(ctx context.Context) error {
//		for _, id := range ids {
//			if _, err := client.ReadGraph(ctx, "/"+id+"/data/profile", nil); err != nil {
//				return err
//			}
//		}
//		return nil
//	})
//
// Writes inside a scope fail with ErrWriteInBulkScope, and scopes do not nest.
//
// # Collections
//
// A Collection caches layer data for a set of nodes. The first layer read
// fetches that layer for every member of the same type in one bulk scope and
// pins the collection to the highest revision returned, so every later read
// sees the same snapshot until Reset.
package nodegraph
