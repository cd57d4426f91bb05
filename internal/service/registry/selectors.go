package registry

import (
	"fmt"
	"os"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"
	"gopkg.in/yaml.v3"
)

// searcher is satisfied by compiled JMESPath expressions.
type searcher interface {
	Search(data any) (any, error)
}

type selector struct {
	expr     string
	compiled searcher
}

// ParseSelectors parses "name=expression" pairs separated by ';'. Expressions may contain
// '=' so only the first one splits.
func ParseSelectors(spec string) (map[string]string, error) {
	out := map[string]string{}
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, expr, ok := strings.Cut(entry, "=")
		name, expr = strings.TrimSpace(name), strings.TrimSpace(expr)
		if !ok || name == "" || expr == "" {
			return nil, fmt.Errorf("segment selector %q: expected name=expression", entry)
		}
		out[name] = expr
	}
	return out, nil
}

type selectorsFile struct {
	Segments map[string]string `yaml:"segments"`
}

// LoadSelectorsFile reads segment selectors from YAML:
//
//	segments:
//	  pos-terminals: "[?device_type=='pos']"
func LoadSelectorsFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read segments file: %w", err)
	}
	var f selectorsFile
	if err = yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse segments file %s: %w", path, err)
	}
	if f.Segments == nil {
		f.Segments = map[string]string{}
	}
	return f.Segments, nil
}

func compileSelectors(in map[string]string) (map[string]selector, error) {
	out := make(map[string]selector, len(in))
	for name, expr := range in {
		compiled, err := jmespath.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile selector for segment %s: %w", name, err)
		}
		out[name] = selector{expr: expr, compiled: compiled}
	}
	return out, nil
}

// matchedIDs extracts device ids from a selector result. A selector may yield device
// documents or bare id strings.
func matchedIDs(result any) (map[string]struct{}, error) {
	ids := map[string]struct{}{}
	switch v := result.(type) {
	case nil:
		return ids, nil
	case []any:
		for _, item := range v {
			switch it := item.(type) {
			case string:
				ids[it] = struct{}{}
			case map[string]any:
				id, ok := it["device_id"].(string)
				if !ok {
					return nil, fmt.Errorf("selector result object has no device_id")
				}
				ids[id] = struct{}{}
			default:
				return nil, fmt.Errorf("selector result contains %T; want device documents or ids", item)
			}
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("selector result is %T; want a list", result)
	}
}
