// Package dump renders a decoded value tree as YAML for inspection.
package dump

import (
	"encoding/base64"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"

	psbtypes "github.com/ossyrian/psbtool/internal/types"
)

// Node converts a value tree to a YAML node tree. Map order is preserved,
// chunks are emitted as !!binary and floats keep their exact bits.
func Node(root psbtypes.Value) (*yaml.Node, error) {
	var stack []*yaml.Node
	var top *yaml.Node

	err := psbtypes.Walk(root, func(path []string, v psbtypes.Value) error {
		n, err := scalar(v)
		if err != nil {
			return fmt.Errorf("at %v: %w", path, err)
		}

		depth := len(path)
		stack = append(stack[:depth], n)
		if depth == 0 {
			top = n
			return nil
		}

		parent := stack[depth-1]
		if parent.Kind == yaml.MappingNode {
			parent.Content = append(parent.Content, &yaml.Node{
				Kind:  yaml.ScalarNode,
				Tag:   "!!str",
				Value: path[depth-1],
			})
		}
		parent.Content = append(parent.Content, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return top, nil
}

func scalar(v psbtypes.Value) (*yaml.Node, error) {
	switch v := v.(type) {
	case *psbtypes.Null:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "~"}, nil
	case *psbtypes.Int:
		return intNode(v.Value), nil
	case *psbtypes.IntArray:
		n := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, x := range v.Values {
			n.Content = append(n.Content, intNode(x))
		}
		return n, nil
	case *psbtypes.StringRef:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.Value}, nil
	case *psbtypes.ChunkRef:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!binary", Value: base64.StdEncoding.EncodeToString(v.Data)}, nil
	case *psbtypes.FloatZero:
		return floatNode(0, 64), nil
	case *psbtypes.Float32:
		return floatNode(float64(v.Float()), 32), nil
	case *psbtypes.Float64:
		return floatNode(v.Float(), 64), nil
	case *psbtypes.Array:
		return &yaml.Node{Kind: yaml.SequenceNode}, nil
	case *psbtypes.Map:
		return &yaml.Node{Kind: yaml.MappingNode}, nil
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}

func intNode(x uint64) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatUint(x, 10)}
}

func floatNode(f float64, bits int) *yaml.Node {
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".eIN") {
		// keep whole numbers from resolving as !!int
		s += ".0"
	}
	switch {
	case math.IsNaN(f):
		s = ".nan"
	case math.IsInf(f, 1):
		s = ".inf"
	case math.IsInf(f, -1):
		s = "-.inf"
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: s}
}

// Write encodes the tree rooted at root to w as a YAML document.
func Write(w io.Writer, root psbtypes.Value) error {
	n, err := Node(root)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}
