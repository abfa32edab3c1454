package markdown

import "golang.org/x/net/html"

func walk(n *html.Node, visit func(*html.Node)) {
	visit(n)

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		walk(child, visit)
	}
}

// collect gathers matching nodes up front so stages can mutate the tree
// without fighting the traversal.
func collect(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var nodes []*html.Node

	walk(root, func(n *html.Node) {
		if match(n) {
			nodes = append(nodes, n)
		}
	})

	return nodes
}

func isElement(n *html.Node, name string) bool {
	return n.Type == html.ElementNode && n.Data == name
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}

	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, attr := range n.Attr {
		if attr.Key == key {
			n.Attr[i].Val = val

			return
		}
	}

	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func replaceNode(old, replacement *html.Node) {
	parent := old.Parent
	if parent == nil {
		return
	}

	parent.InsertBefore(replacement, old)
	parent.RemoveChild(old)
}

// hasAncestor reports whether any ancestor of n is one of the named
// elements.
func hasAncestor(n *html.Node, names ...string) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		for _, name := range names {
			if isElement(p, name) {
				return true
			}
		}
	}

	return false
}
