package cli

import (
	"fmt"
	"strings"

	"github.com/gogpu/quill"
)

// parseOp parses "name" or "name:key=value,key=value" into a filter.
func parseOp(s string) (quill.Filter, error) {
	name, args, _ := strings.Cut(strings.TrimSpace(s), ":")
	opts := quill.FilterOptions{}
	if args != "" {
		for _, kv := range strings.Split(args, ",") {
			k, v, ok := strings.Cut(kv, "=")
			k = strings.TrimSpace(k)
			if !ok || k == "" {
				return nil, fmt.Errorf("operation %q: %q is not key=value", s, kv)
			}
			opts[k] = strings.TrimSpace(v)
		}
	}
	f, err := quill.NewFilter(name, opts)
	if err != nil {
		return nil, fmt.Errorf("operation %q: %w", s, err)
	}
	return f, nil
}
