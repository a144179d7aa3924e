package schema

import "gopkg.in/yaml.v3"

const constantsKey = "constants"

// SubstituteConstants returns a copy of the tree in which every string scalar
// equal to a constant name is replaced by that constant's value. Mapping keys
// are replaced too when the constant is itself a scalar. A `constants` block
// applies to the mapping that declares it and everything below it; nested
// blocks extend the inherited set for their subtree. The blocks themselves are
// removed from the result, so substitution cannot be applied twice. The input
// tree is not modified.
func SubstituteConstants(root *yaml.Node) *yaml.Node {
	return substitute(root, nil)
}

func substitute(n *yaml.Node, scope map[string]*yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		out := *n
		out.Content = make([]*yaml.Node, len(n.Content))
		for i, c := range n.Content {
			out.Content[i] = substituteValue(c, scope)
		}
		return &out
	case yaml.MappingNode:
		if block := mappingValue(n, constantsKey); block != nil && block.Kind == yaml.MappingNode {
			scope = extendScope(scope, block)
		}
		out := *n
		out.Content = make([]*yaml.Node, 0, len(n.Content))
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if key.Value == constantsKey && val.Kind == yaml.MappingNode {
				continue
			}
			newKey := deepCopy(key)
			if c, ok := scope[key.Value]; ok && isString(key) && c.Kind == yaml.ScalarNode {
				newKey.Value = c.Value
				newKey.Tag = "!!str"
			}
			out.Content = append(out.Content, newKey, substituteValue(val, scope))
		}
		return &out
	case yaml.AliasNode:
		return substitute(n.Alias, scope)
	default:
		return deepCopy(n)
	}
}

func substituteValue(n *yaml.Node, scope map[string]*yaml.Node) *yaml.Node {
	if n.Kind == yaml.ScalarNode && isString(n) {
		if c, ok := scope[n.Value]; ok {
			return deepCopy(c)
		}
		return deepCopy(n)
	}
	return substitute(n, scope)
}

// extendScope layers a constants block over the inherited scope. Constant
// values are taken literally; they are not themselves substituted.
func extendScope(parent map[string]*yaml.Node, block *yaml.Node) map[string]*yaml.Node {
	scope := make(map[string]*yaml.Node, len(parent)+len(block.Content)/2)
	for k, v := range parent {
		scope[k] = v
	}
	for i := 0; i+1 < len(block.Content); i += 2 {
		scope[block.Content[i].Value] = block.Content[i+1]
	}
	return scope
}
