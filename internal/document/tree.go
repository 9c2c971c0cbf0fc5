package document

import (
	"errors"
	"fmt"
)

// maxTreeHeight caps rebuild passes to catch runaway inputs; 2^100 leaves is
// unreachable, so hitting the cap means corrupted state.
const maxTreeHeight = 100

// ErrTreeTooDeep indicates the rebuild exceeded the height cap.
var ErrTreeTooDeep = errors.New("document: merkle tree height exceeds maximum")

// treeElement is a leaf or node hash flowing through a rebuild pass.
type treeElement struct {
	hash   string
	height int
	isLeaf bool
}

// BuildTree constructs the full node map and root for a leaf list. Leaves
// are paired left to right; an odd element is promoted unchanged to the next
// level. The verifier uses this directly to reconstruct a document's tree
// from its leaves alone.
func BuildTree(leaves []Leaf) (*Node, map[string]Node, error) {
	nodes := make(map[string]Node)
	if len(leaves) == 0 {
		return nil, nodes, nil
	}

	level := make([]treeElement, len(leaves))
	for i, l := range leaves {
		level[i] = treeElement{hash: l.Hash, isLeaf: true}
	}

	height := 0
	for len(level) > 1 {
		if height > maxTreeHeight {
			return nil, nil, fmt.Errorf("%w: %d levels from %d leaves", ErrTreeTooDeep, height, len(leaves))
		}
		height++

		next := make([]treeElement, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 >= len(level) {
				// Odd element: promote unchanged.
				next = append(next, level[i])
				continue
			}
			node := Node{
				Hash:      NodeHash(level[i].hash, level[i+1].hash),
				Height:    height,
				LeftHash:  level[i].hash,
				RightHash: level[i+1].hash,
			}
			nodes[node.Hash] = node
			next = append(next, treeElement{hash: node.Hash, height: height})
		}
		level = next
	}

	top := level[0]
	if top.isLeaf {
		// A single leaf still gets a root node so the persisted tree always
		// has one entry; the root hash equals the leaf hash.
		node := Node{
			Hash:     top.hash,
			Height:   1,
			LeftHash: top.hash,
		}
		nodes[node.Hash] = node
		return &node, nodes, nil
	}

	node := nodes[top.hash]
	return &node, nodes, nil
}

// rebuildTree replaces the document's node map and root wholesale from the
// leaf list. Rebuilding on every append trades a little work for never
// holding a partially updated tree.
func (d *Document) rebuildTree() error {
	root, nodes, err := BuildTree(d.leaves)
	if err != nil {
		return err
	}
	d.root = root
	d.nodes = nodes
	return nil
}

// MerkleProof returns the sibling hashes on the path from the given leaf to
// the root, bottom-up. The walk is bounded by the node-map size so a
// corrupted (cyclic) node set terminates with an error instead of spinning.
func (d *Document) MerkleProof(leafNumber uint64) ([]string, error) {
	var leaf *Leaf
	for i := range d.leaves {
		if d.leaves[i].LeafNumber == leafNumber {
			leaf = &d.leaves[i]
			break
		}
	}
	if leaf == nil {
		return nil, fmt.Errorf("%w: leaf %d", ErrNoSuchLeaf, leafNumber)
	}

	proof := []string{}
	current := leaf.Hash
	maxSteps := len(d.nodes) + 1

	for step := 0; step < maxSteps; step++ {
		parent, ok := d.findParent(current)
		if !ok {
			return proof, nil
		}
		if parent.LeftHash == current && parent.RightHash != "" {
			proof = append(proof, parent.RightHash)
		} else if parent.RightHash == current {
			proof = append(proof, parent.LeftHash)
		}
		current = parent.Hash
		if d.root != nil && current == d.root.Hash {
			return proof, nil
		}
	}
	return nil, errors.New("document: cycle detected while walking merkle proof")
}

// findParent locates the node that references hash as a child. The promoted
// single-leaf root references itself; skip that self-edge.
func (d *Document) findParent(hash string) (Node, bool) {
	for _, n := range d.nodes {
		if n.Hash == hash {
			continue
		}
		if n.LeftHash == hash || n.RightHash == hash {
			return n, true
		}
	}
	return Node{}, false
}
