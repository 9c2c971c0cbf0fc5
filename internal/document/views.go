package document

import (
	"fmt"
	"strings"
)

// LeafHistory renders a one-line summary per committed paragraph, oldest
// first.
func (d *Document) LeafHistory() []string {
	out := make([]string, 0, len(d.leaves))
	for _, leaf := range d.leaves {
		preview := leaf.State.Content
		if len(preview) > 30 {
			preview = preview[:30] + "..."
		}
		out = append(out, fmt.Sprintf("Paragraph #%d: %s - VDF Tick #%d - %q",
			leaf.LeafNumber,
			leaf.Timestamp.Format("2006-01-02 15:04:05"),
			leaf.TickRef,
			preview))
	}
	return out
}

// TreeStructure renders the Merkle tree as indented lines, root first.
func (d *Document) TreeStructure() []string {
	if d.root == nil {
		return []string{"Empty tree"}
	}
	out := []string{fmt.Sprintf("Root: %.8s... (height: %d)", d.root.Hash, d.root.Height)}
	d.renderSubtree(&out, *d.root, 0)
	return out
}

func (d *Document) renderSubtree(out *[]string, node Node, indent int) {
	pad := strings.Repeat("  ", indent)
	for _, child := range []struct {
		label string
		hash  string
	}{{"L", node.LeftHash}, {"R", node.RightHash}} {
		if child.hash == "" || child.hash == node.Hash {
			continue
		}
		if n, ok := d.nodes[child.hash]; ok {
			*out = append(*out, fmt.Sprintf("%s%s: %.8s... (height: %d)", pad, child.label, n.Hash, n.Height))
			d.renderSubtree(out, n, indent+1)
			continue
		}
		for _, leaf := range d.leaves {
			if leaf.Hash == child.hash {
				*out = append(*out, fmt.Sprintf("%s%s: Leaf #%d - Tick #%d", pad, child.label, leaf.LeafNumber, leaf.TickRef))
				break
			}
		}
	}
}
