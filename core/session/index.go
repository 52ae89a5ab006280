package session

import (
	"fmt"
	"maps"
)

// PrincipalNameIndexName is the index that maps a principal name to its sessions.
// The principal is read from the attribute with the same name.
const PrincipalNameIndexName = "principal_name"

// IndexResolver extracts secondary index values from session attributes.
// Implementations must be pure functions of attrs.
type IndexResolver interface {
	Resolve(attrs map[string]any) map[string]string
}

// IndexResolverFunc adapts a function to IndexResolver.
type IndexResolverFunc func(attrs map[string]any) map[string]string

// Resolve calls f.
func (f IndexResolverFunc) Resolve(attrs map[string]any) map[string]string { return f(attrs) }

// PrincipalNameResolver indexes the PrincipalNameIndexName attribute.
type PrincipalNameResolver struct{}

// Resolve implements IndexResolver.
func (PrincipalNameResolver) Resolve(attrs map[string]any) map[string]string {
	return AttributeResolver(PrincipalNameIndexName, PrincipalNameIndexName).Resolve(attrs)
}

// AttributeResolver indexes the value of attrName under indexName.
// Strings and fmt.Stringer values are indexed; empty values are ignored.
func AttributeResolver(indexName, attrName string) IndexResolver {
	return IndexResolverFunc(func(attrs map[string]any) map[string]string {
		value := indexValue(attrs[attrName])
		if value == "" {
			return nil
		}
		return map[string]string{indexName: value}
	})
}

// DelegatingIndexResolver merges the output of several resolvers.
// On a name collision the later resolver wins.
func DelegatingIndexResolver(resolvers ...IndexResolver) IndexResolver {
	return IndexResolverFunc(func(attrs map[string]any) map[string]string {
		var out map[string]string
		for _, r := range resolvers {
			if r == nil {
				continue
			}
			res := r.Resolve(attrs)
			if len(res) == 0 {
				continue
			}
			if out == nil {
				out = make(map[string]string, len(res))
			}
			maps.Copy(out, res)
		}
		return out
	})
}

func indexValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return ""
	}
}

// diffIndexes returns the index names whose value differs between prev and next.
func diffIndexes(prev, next map[string]string) map[string]IndexChange {
	var changes map[string]IndexChange
	add := func(name string, c IndexChange) {
		if changes == nil {
			changes = make(map[string]IndexChange)
		}
		changes[name] = c
	}
	for name, old := range prev {
		if nv := next[name]; nv != old {
			add(name, IndexChange{Old: old, New: nv})
		}
	}
	for name, nv := range next {
		if _, ok := prev[name]; !ok && nv != "" {
			add(name, IndexChange{New: nv})
		}
	}
	return changes
}
