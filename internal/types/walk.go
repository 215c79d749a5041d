package psbtypes

import (
	"errors"
	"fmt"
	"strconv"
)

// SkipChildren can be returned by a WalkFunc to skip the children of the
// current Array or Map.
var SkipChildren = errors.New("skip children")

// WalkFunc is called once per value in depth-first pre-order. path holds the
// map names and array indices leading to v; it is reused between calls and
// must be copied if retained.
type WalkFunc func(path []string, v Value) error

// Walk visits root and every value below it in source order.
func Walk(root Value, fn WalkFunc) error {
	return walk(nil, root, fn)
}

func walk(path []string, v Value, fn WalkFunc) error {
	if err := fn(path, v); err != nil {
		if errors.Is(err, SkipChildren) {
			return nil
		}
		return err
	}

	switch v := v.(type) {
	case *Array:
		for i, item := range v.Items {
			if err := walk(append(path, strconv.Itoa(i)), item, fn); err != nil {
				return err
			}
		}
	case *Map:
		for _, p := range v.Pairs {
			if err := walk(append(path, p.Name), p.Value, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Lookup follows path from root: map segments select a pair by name, array
// segments are decimal indices.
func Lookup(root Value, path ...string) (Value, error) {
	v := root
	for i, seg := range path {
		switch cur := v.(type) {
		case *Map:
			next, ok := cur.Get(seg)
			if !ok {
				return nil, fmt.Errorf("no entry %q at %v", seg, path[:i])
			}
			v = next
		case *Array:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(cur.Items) {
				return nil, fmt.Errorf("no index %q at %v (array of %d)", seg, path[:i], len(cur.Items))
			}
			v = cur.Items[idx]
		default:
			return nil, fmt.Errorf("cannot descend into %s at %v", kindOf(v), path[:i])
		}
	}
	return v, nil
}
