package nodegraph

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Graph is what a Collection needs from the client: reads, bulk scopes and
// the record source for the active_record layer. *Client implements it.
type Graph interface {
	ReadGraph(ctx context.Context, path string, params Params) (any, error)
	BulkRead(ctx context.Context, defaults Params, body func(ctx context.Context) error) ([]any, error)
	Records() RecordSource
}

// Collection is an ordered, de-duplicated set of node ids with a layer data
// cache. The first unpinned layer fetch pins the collection to the highest
// revision it saw; every later unpinned read reuses that revision until
// Reset, so one traversal sees one consistent snapshot.
//
// A Collection belongs to one traversal at a time.
type Collection struct {
	graph Graph

	uri     string
	params  Params
	extract ExtractFunc

	mu       sync.Mutex
	resolved bool
	ids      []string
	index    map[string]int
	edges    map[string]any
	count    int

	layers    map[string]map[string]map[int64]any
	revisions map[string]map[string][]int64
	pinned    int64
	hasPin    bool
}

// NewCollection builds a collection from explicit ids. Duplicates are
// dropped, first occurrence wins. edges may be nil.
func NewCollection(g Graph, ids []string, edges map[string]any) *Collection {
	c := &Collection{graph: g}
	c.setMembers(ids, edges, -1)
	c.Reset()
	return c
}

// NewListing builds a collection whose ids come from reading uri with
// params. Nothing is read until the ids are first needed. extract defaults
// to DefaultListing.
func NewListing(g Graph, uri string, params Params, extract ExtractFunc) *Collection {
	if extract == nil {
		extract = DefaultListing
	}
	c := &Collection{
		graph:   g,
		uri:     uri,
		params:  params.Clone(),
		extract: extract,
	}
	c.Reset()
	return c
}

// Assoc derives a listing collection with params merged over this one's.
func (c *Collection) Assoc(params Params) (*Collection, error) {
	if c.uri == "" {
		return nil, ErrExplicitCollection
	}
	return NewListing(c.graph, c.uri, c.params.Merge(params), c.extract), nil
}

func (c *Collection) setMembers(ids []string, edges map[string]any, count int) {
	c.ids = make([]string, 0, len(ids))
	c.index = make(map[string]int, len(ids))
	for _, id := range ids {
		if _, dup := c.index[id]; dup {
			continue
		}
		c.index[id] = len(c.ids)
		c.ids = append(c.ids, id)
	}
	c.edges = deepCopyMap(edges)
	if c.edges == nil {
		c.edges = map[string]any{}
	}
	c.count = count
	c.resolved = true
}

func (c *Collection) resolve(ctx context.Context) error {
	if c.resolved {
		return nil
	}
	data, err := c.graph.ReadGraph(ctx, c.uri, c.params)
	if err != nil {
		return fmt.Errorf("resolve collection %s: %w", c.uri, err)
	}
	listing, err := c.extract(data)
	if err != nil {
		return fmt.Errorf("resolve collection %s: %w", c.uri, err)
	}
	c.setMembers(listing.NodeIDs, listing.Edges, listing.Count)
	return nil
}

// NodeIDs returns the member ids in order.
func (c *Collection) NodeIDs(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.resolve(ctx); err != nil {
		return nil, err
	}
	return append([]string(nil), c.ids...), nil
}

// Len returns the number of members.
func (c *Collection) Len(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.resolve(ctx); err != nil {
		return 0, err
	}
	return len(c.ids), nil
}

// Count returns the server-reported total for listings that provide one,
// otherwise the number of members.
func (c *Collection) Count(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.resolve(ctx); err != nil {
		return 0, err
	}
	if c.count >= 0 {
		return c.count, nil
	}
	return len(c.ids), nil
}

// Include reports whether id is a member.
func (c *Collection) Include(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.resolve(ctx); err != nil {
		return false, err
	}
	_, ok := c.index[id]
	return ok, nil
}

// Edge returns a copy of the edge data attached to id, or nil.
func (c *Collection) Edge(ctx context.Context, id string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.resolve(ctx); err != nil {
		return nil, err
	}
	return deepCopy(c.edges[id]), nil
}

// At returns a proxy for the member at index i.
func (c *Collection) At(ctx context.Context, i int) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.resolve(ctx); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(c.ids) {
		return nil, fmt.Errorf("index %d out of range [0,%d)", i, len(c.ids))
	}
	return &Node{ID: c.ids[i], coll: c}, nil
}

// Lookup returns a proxy for member id.
func (c *Collection) Lookup(ctx context.Context, id string) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.resolve(ctx); err != nil {
		return nil, err
	}
	if _, ok := c.index[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInCollection, id)
	}
	return &Node{ID: id, coll: c}, nil
}

// Nodes returns proxies for every member, in order.
func (c *Collection) Nodes(ctx context.Context) ([]*Node, error) {
	ids, err := c.NodeIDs(ctx)
	if err != nil {
		return nil, err
	}
	nodes := make([]*Node, len(ids))
	for i, id := range ids {
		nodes[i] = &Node{ID: id, coll: c}
	}
	return nodes, nil
}

// PinnedRevision returns the revision unpinned reads resolve to, if set.
func (c *Collection) PinnedRevision() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinned, c.hasPin
}

// LayerData returns layer of node id at the pinned revision, fetching the
// layer for every member of the same type on a miss. The first such fetch
// pins the collection.
func (c *Collection) LayerData(ctx context.Context, id, layer string) (any, error) {
	return c.layerData(ctx, id, layer, 0, false)
}

// LayerDataAt returns layer of node id at an explicit revision. It never
// changes the pin. Use LayerData for the latest revision; revisions below 1
// return ErrInvalidRevision.
func (c *Collection) LayerDataAt(ctx context.Context, id, layer string, revision int64) (any, error) {
	if revision <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRevision, revision)
	}
	return c.layerData(ctx, id, layer, revision, true)
}

func (c *Collection) layerData(ctx context.Context, id, layer string, revision int64, explicit bool) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.resolve(ctx); err != nil {
		return nil, err
	}
	if _, ok := c.index[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInCollection, id)
	}
	nodeType := nodeTypeOf(id)

	if layer == ActiveRecordLayer {
		if _, ok := c.cached(id, layer, 0); !ok {
			if err := c.fetchRecords(ctx, nodeType); err != nil {
				return nil, err
			}
		}
		data, _ := c.cached(id, layer, 0)
		return deepCopy(data), nil
	}

	if !explicit && c.hasPin {
		revision, explicit = c.pinned, true
	}
	if explicit {
		if data, ok := c.cached(id, layer, revision); ok {
			return deepCopy(data), nil
		}
		if _, _, err := c.fetchLayerData(ctx, nodeType, []string{layer}, []int64{revision}); err != nil {
			return nil, err
		}
		data, _ := c.cached(id, layer, revision)
		return deepCopy(data), nil
	}

	maxRev, fetched, err := c.fetchLayerData(ctx, nodeType, []string{layer}, []int64{0})
	if err != nil {
		return nil, err
	}
	if len(fetched) > 0 {
		// Latest data of every member is what it was at the highest revision
		// observed, so the whole batch is readable at the new pin.
		for _, f := range fetched {
			if data, ok := c.cached(f.id, layer, f.revision); ok && f.revision != maxRev {
				c.store(f.id, layer, maxRev, data)
			}
		}
		c.pinned, c.hasPin = maxRev, true
	}
	data, _ := c.cached(id, layer, maxRev)
	return deepCopy(data), nil
}

type fetchedEntry struct {
	id       string
	revision int64
}

// FetchLayerData prefetches layers for every member of nodeType at each of
// revisions, in one bulk scope. A revision of 0 means the latest one. It
// returns the highest revision the server reported. The pin is not touched.
func (c *Collection) FetchLayerData(ctx context.Context, nodeType string, layers []string, revisions []int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.resolve(ctx); err != nil {
		return 0, err
	}
	maxRev, _, err := c.fetchLayerData(ctx, nodeType, layers, revisions)
	return maxRev, err
}

func (c *Collection) fetchLayerData(ctx context.Context, nodeType string, layers []string, revisions []int64) (int64, []fetchedEntry, error) {
	graphLayers := make([]string, 0, len(layers))
	for _, l := range layers {
		if l == ActiveRecordLayer {
			if err := c.fetchRecords(ctx, nodeType); err != nil {
				return 0, nil, err
			}
			continue
		}
		graphLayers = append(graphLayers, l)
	}
	if len(graphLayers) == 0 {
		return 0, nil, nil
	}
	if len(revisions) == 0 {
		revisions = []int64{0}
	}

	ids := c.idsOfType(nodeType)
	if len(ids) == 0 {
		return 0, nil, nil
	}
	joined := strings.Join(graphLayers, ",")

	results, err := c.graph.BulkRead(ctx, nil, func(ctx context.Context) error {
		for _, rev := range revisions {
			params := Params{}
			if rev != 0 {
				params = Params{"revision": rev, "historical": true}
			}
			for _, id := range ids {
				if _, err := c.graph.ReadGraph(ctx, "/"+id+"/data/"+joined, params); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("fetch layers %s for %s: %w", joined, nodeType, err)
	}

	var maxRev int64
	var fetched []fetchedEntry
	for i, result := range results {
		m, ok := result.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		if id == "" {
			id = ids[i%len(ids)]
		}
		rev, ok := toInt64(m["revision"])
		if !ok {
			rev = revisions[i/len(ids)]
		}
		for _, layer := range graphLayers {
			data := m[layer]
			if data == nil {
				data = map[string]any{}
			}
			c.store(id, layer, rev, deepCopy(data))
		}
		if rev > maxRev {
			maxRev = rev
		}
		fetched = append(fetched, fetchedEntry{id: id, revision: rev})
	}
	return maxRev, fetched, nil
}

func (c *Collection) fetchRecords(ctx context.Context, nodeType string) error {
	ids := c.idsOfType(nodeType)
	numbers := make([]int64, 0, len(ids))
	for _, id := range ids {
		n, err := NodeNumber(id, nodeType)
		if err != nil {
			return err
		}
		numbers = append(numbers, n)
	}

	found := map[int64]map[string]any{}
	if src := c.graph.Records(); src != nil && len(numbers) > 0 {
		var err error
		found, err = src.FindRecords(ctx, nodeType, numbers)
		if err != nil {
			return fmt.Errorf("find %s records: %w", nodeType, err)
		}
	}
	for i, id := range ids {
		rec := found[numbers[i]]
		if rec == nil {
			rec = map[string]any{}
		}
		c.store(id, ActiveRecordLayer, 0, deepCopyMap(rec))
	}
	return nil
}

// LayerRevisions returns the known revisions of layer for node id, fetching
// revisions for every member of the same type on a miss.
func (c *Collection) LayerRevisions(ctx context.Context, id, layer string) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.resolve(ctx); err != nil {
		return nil, err
	}
	if _, ok := c.index[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInCollection, id)
	}
	if revs, ok := c.revisions[id][layer]; ok {
		return append([]int64(nil), revs...), nil
	}
	if err := c.fetchLayerRevisions(ctx, nodeTypeOf(id), []string{layer}); err != nil {
		return nil, err
	}
	return append([]int64(nil), c.revisions[id][layer]...), nil
}

// FetchLayerRevisions prefetches the revision lists of layers for every
// member of nodeType in one bulk scope.
func (c *Collection) FetchLayerRevisions(ctx context.Context, nodeType string, layers []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.resolve(ctx); err != nil {
		return err
	}
	return c.fetchLayerRevisions(ctx, nodeType, layers)
}

func (c *Collection) fetchLayerRevisions(ctx context.Context, nodeType string, layers []string) error {
	ids := c.idsOfType(nodeType)
	if len(layers) == 0 || len(ids) == 0 {
		return nil
	}
	joined := strings.Join(layers, ",")

	results, err := c.graph.BulkRead(ctx, nil, func(ctx context.Context) error {
		for _, id := range ids {
			if _, err := c.graph.ReadGraph(ctx, "/"+id+"/revisions/"+joined, Params{}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("fetch revisions %s for %s: %w", joined, nodeType, err)
	}

	for i, result := range results {
		m, _ := result.(map[string]any)
		id, _ := m["id"].(string)
		if id == "" {
			id = ids[i]
		}
		if c.revisions[id] == nil {
			c.revisions[id] = make(map[string][]int64)
		}
		for _, layer := range layers {
			list, _ := nested(m, layer, "revisions").([]any)
			revs := make([]int64, 0, len(list))
			for _, r := range list {
				if n, ok := toInt64(r); ok {
					revs = append(revs, n)
				}
			}
			c.revisions[id][layer] = revs
		}
	}
	return nil
}

// Reset drops the pin and every cached layer and revision list.
func (c *Collection) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers = make(map[string]map[string]map[int64]any)
	c.revisions = make(map[string]map[string][]int64)
	c.pinned, c.hasPin = 0, false
}

// ResetNode drops cached data for one node, typically after writing to it.
// The pin is kept.
func (c *Collection) ResetNode(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.layers, id)
	delete(c.revisions, id)
}

func (c *Collection) cached(id, layer string, revision int64) (any, bool) {
	data, ok := c.layers[id][layer][revision]
	return data, ok
}

func (c *Collection) store(id, layer string, revision int64, data any) {
	if c.layers[id] == nil {
		c.layers[id] = make(map[string]map[int64]any)
	}
	if c.layers[id][layer] == nil {
		c.layers[id][layer] = make(map[int64]any)
	}
	c.layers[id][layer][revision] = data
}

func (c *Collection) idsOfType(nodeType string) []string {
	out := make([]string, 0, len(c.ids))
	for _, id := range c.ids {
		if nodeTypeOf(id) == nodeType {
			out = append(out, id)
		}
	}
	return out
}

func nodeTypeOf(id string) string {
	parsed, err := ParseNodeID(id)
	if err != nil {
		return ""
	}
	return parsed.Type
}

// members snapshots ids and edges for the set operators.
func (c *Collection) members(ctx context.Context) ([]string, map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.resolve(ctx); err != nil {
		return nil, nil, err
	}
	return append([]string(nil), c.ids...), deepCopyMap(c.edges), nil
}

// Union returns the members of c followed by those of other not already in c.
// Edge data from c wins on conflicts.
func (c *Collection) Union(ctx context.Context, other *Collection) (*Collection, error) {
	return c.combine(ctx, other, func(inLeft, inRight bool) bool { return inLeft || inRight })
}

// Difference returns the members of c that are not in other.
func (c *Collection) Difference(ctx context.Context, other *Collection) (*Collection, error) {
	return c.combine(ctx, other, func(inLeft, inRight bool) bool { return inLeft && !inRight })
}

// Intersect returns the members of c that are also in other, in c's order.
// Edge data from c wins on conflicts.
func (c *Collection) Intersect(ctx context.Context, other *Collection) (*Collection, error) {
	return c.combine(ctx, other, func(inLeft, inRight bool) bool { return inLeft && inRight })
}

func (c *Collection) combine(ctx context.Context, other *Collection, keep func(inLeft, inRight bool) bool) (*Collection, error) {
	leftIDs, leftEdges, err := c.members(ctx)
	if err != nil {
		return nil, err
	}
	rightIDs, rightEdges, err := other.members(ctx)
	if err != nil {
		return nil, err
	}

	inLeft := make(map[string]bool, len(leftIDs))
	for _, id := range leftIDs {
		inLeft[id] = true
	}
	inRight := make(map[string]bool, len(rightIDs))
	for _, id := range rightIDs {
		inRight[id] = true
	}

	ids := make([]string, 0, len(leftIDs)+len(rightIDs))
	edges := make(map[string]any)
	for _, id := range append(leftIDs, rightIDs...) {
		if !keep(inLeft[id], inRight[id]) {
			continue
		}
		ids = append(ids, id)
		if e, ok := leftEdges[id]; ok {
			edges[id] = e
		} else if e, ok := rightEdges[id]; ok {
			edges[id] = e
		}
	}
	return NewCollection(c.graph, ids, edges), nil
}

// Node is a lightweight handle on one member of a Collection.
type Node struct {
	ID   string
	coll *Collection
}

// Type returns the node's type name.
func (n *Node) Type() string { return nodeTypeOf(n.ID) }

// Collection returns the collection the node was obtained from.
func (n *Node) Collection() *Collection { return n.coll }

// LayerData returns layer at the collection's pinned revision.
func (n *Node) LayerData(ctx context.Context, layer string) (any, error) {
	return n.coll.LayerData(ctx, n.ID, layer)
}

// LayerDataAt returns layer at an explicit revision.
func (n *Node) LayerDataAt(ctx context.Context, layer string, revision int64) (any, error) {
	return n.coll.LayerDataAt(ctx, n.ID, layer, revision)
}

// Revisions returns the revision list of each layer.
func (n *Node) Revisions(ctx context.Context, layers ...string) (map[string][]int64, error) {
	out := make(map[string][]int64, len(layers))
	for _, layer := range layers {
		revs, err := n.coll.LayerRevisions(ctx, n.ID, layer)
		if err != nil {
			return nil, err
		}
		out[layer] = revs
	}
	return out, nil
}

// Edge returns the edge data that placed the node in its collection.
func (n *Node) Edge(ctx context.Context) (any, error) {
	return n.coll.Edge(ctx, n.ID)
}

// Reset drops the node's cached data in its collection.
func (n *Node) Reset() {
	n.coll.ResetNode(n.ID)
}
