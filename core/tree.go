package core

import (
	"errors"
	"fmt"
)

// Resolver follows indirect references. XRef satisfies it.
type Resolver interface {
	Resolve(obj Object) (Object, error)
}

var errStopWalk = errors.New("stop walk")

// maxTreeDepth bounds name and number tree recursion on malformed files.
const maxTreeDepth = 64

// WalkNameTree calls fn for every key/value pair of the name tree rooted at
// root, in tree order. Values are passed unresolved.
func WalkNameTree(r Resolver, root Object, fn func(key string, value Object) error) error {
	return walkTree(r, root, "Names", 0, make(map[IndirectRef]bool), func(key, value Object) error {
		s, ok := key.(String)
		if !ok {
			return nil
		}
		return fn(string(s), value)
	})
}

// WalkNumberTree calls fn for every key/value pair of the number tree rooted
// at root, in tree order. Values are passed unresolved.
func WalkNumberTree(r Resolver, root Object, fn func(key int, value Object) error) error {
	return walkTree(r, root, "Nums", 0, make(map[IndirectRef]bool), func(key, value Object) error {
		n, ok := ToInt(key)
		if !ok {
			return nil
		}
		return fn(n, value)
	})
}

func walkTree(r Resolver, node Object, leafKey string, depth int, seen map[IndirectRef]bool, fn func(key, value Object) error) error {
	if depth > maxTreeDepth {
		return fmt.Errorf("tree deeper than %d levels", maxTreeDepth)
	}
	if ref, ok := node.(IndirectRef); ok {
		if seen[ref] {
			return fmt.Errorf("tree node %s visited twice", ref)
		}
		seen[ref] = true
	}
	resolved, err := r.Resolve(node)
	if err != nil {
		return err
	}
	dict, ok := resolved.(Dict)
	if !ok {
		return nil
	}

	if leaves, err := r.Resolve(dict.Get(leafKey)); err == nil {
		if arr, ok := leaves.(Array); ok {
			for i := 0; i+1 < len(arr); i += 2 {
				key, err := r.Resolve(arr[i])
				if err != nil {
					return err
				}
				if err := fn(key, arr[i+1]); err != nil {
					return err
				}
			}
		}
	}

	kids, err := r.Resolve(dict.Get("Kids"))
	if err != nil {
		return err
	}
	if arr, ok := kids.(Array); ok {
		for _, kid := range arr {
			if err := walkTree(r, kid, leafKey, depth+1, seen, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// NameTreeLookup returns the value stored under key, or nil.
func NameTreeLookup(r Resolver, root Object, key string) (Object, error) {
	var found Object
	err := WalkNameTree(r, root, func(k string, v Object) error {
		if k == key {
			found = v
			return errStopWalk
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return nil, err
	}
	return found, nil
}

// NumberTreeLookup returns the value stored under key, or nil.
func NumberTreeLookup(r Resolver, root Object, key int) (Object, error) {
	var found Object
	err := WalkNumberTree(r, root, func(k int, v Object) error {
		if k == key {
			found = v
			return errStopWalk
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return nil, err
	}
	return found, nil
}
