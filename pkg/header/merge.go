package header

import "gopkg.in/yaml.v3"

// MergeValues implements the header merge rule (§4.2): scalar vs scalar
// right wins if defined else left; mapping vs mapping deep-merges key-wise;
// sequence vs sequence merges elements sharing a string "name" by name and
// concatenates the rest preserving insertion order; any asymmetric-type
// pairing has right replace left outright. Either side may be nil, in
// which case the other is returned (cloned).
//
// The law this must satisfy (§8): merge(H1, merge(H2, H3)) ==
// merge(merge(H1, H2), H3) for any header stack, including sequence
// elements with a "name" merging by name regardless of grouping.
func MergeValues(left, right *yaml.Node) *yaml.Node {
	if left == nil {
		return clone(right)
	}
	if right == nil {
		return clone(left)
	}
	l, r := unwrap(left), unwrap(right)

	if l.Kind == yaml.MappingNode && r.Kind == yaml.MappingNode {
		return mergeMappings(l, r)
	}
	if l.Kind == yaml.SequenceNode && r.Kind == yaml.SequenceNode {
		return mergeSequences(l, r)
	}
	if l.Kind == yaml.ScalarNode && r.Kind == yaml.ScalarNode {
		if r.Value != "" || r.Tag == "!!null" {
			return clone(r)
		}
		return clone(l)
	}
	// Asymmetric types: right replaces left.
	return clone(r)
}

func unwrap(n *yaml.Node) *yaml.Node {
	if n != nil && n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		return n.Content[0]
	}
	return n
}

func clone(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	cp := *n
	cp.Content = make([]*yaml.Node, len(n.Content))
	for i, c := range n.Content {
		cp.Content[i] = clone(c)
	}
	return &cp
}

func mergeMappings(l, r *yaml.Node) *yaml.Node {
	out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	order := []string{}
	leftVals := map[string]*yaml.Node{}
	for i := 0; i+1 < len(l.Content); i += 2 {
		k := l.Content[i].Value
		order = append(order, k)
		leftVals[k] = l.Content[i+1]
	}
	rightVals := map[string]*yaml.Node{}
	rightOrder := []string{}
	for i := 0; i+1 < len(r.Content); i += 2 {
		k := r.Content[i].Value
		rightVals[k] = r.Content[i+1]
		if _, ok := leftVals[k]; !ok {
			rightOrder = append(rightOrder, k)
		}
	}

	for _, k := range order {
		lv := leftVals[k]
		if rv, ok := rightVals[k]; ok {
			out.Content = append(out.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: k, Tag: "!!str"},
				MergeValues(lv, rv),
			)
		} else {
			out.Content = append(out.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: k, Tag: "!!str"},
				clone(lv),
			)
		}
	}
	for _, k := range rightOrder {
		out.Content = append(out.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k, Tag: "!!str"},
			clone(rightVals[k]),
		)
	}
	return out
}

func mergeSequences(l, r *yaml.Node) *yaml.Node {
	out := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}

	leftByName := map[string]*yaml.Node{}
	for _, item := range l.Content {
		if n := mapName(item); n != "" {
			leftByName[n] = item
		}
	}
	rightByName := map[string]*yaml.Node{}
	rightConsumed := map[*yaml.Node]bool{}
	for _, item := range r.Content {
		if n := mapName(item); n != "" {
			rightByName[n] = item
		}
	}

	for _, item := range l.Content {
		n := mapName(item)
		if n != "" {
			if rv, ok := rightByName[n]; ok {
				out.Content = append(out.Content, MergeValues(item, rv))
				rightConsumed[rv] = true
				continue
			}
		}
		out.Content = append(out.Content, clone(item))
	}

	for _, item := range r.Content {
		if rightConsumed[item] {
			continue
		}
		n := mapName(item)
		if n != "" {
			if _, wasLeft := leftByName[n]; wasLeft {
				continue
			}
		}
		out.Content = append(out.Content, clone(item))
	}
	return out
}

// mapName returns the string "name" field of a mapping-node sequence
// element, or "" if item is not a mapping or has no string "name" key.
func mapName(item *yaml.Node) string {
	if item.Kind != yaml.MappingNode {
		return ""
	}
	for i := 0; i+1 < len(item.Content); i += 2 {
		if item.Content[i].Value == "name" && item.Content[i+1].Kind == yaml.ScalarNode {
			return item.Content[i+1].Value
		}
	}
	return ""
}

// MergeAll folds MergeValues left-to-right across a stack of documents,
// lowest precedence first, highest precedence last.
func MergeAll(docs ...*yaml.Node) *yaml.Node {
	var acc *yaml.Node
	for _, d := range docs {
		acc = MergeValues(acc, d)
	}
	return acc
}
