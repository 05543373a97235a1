package hostfunc

import (
	"context"
	"fmt"

	"github.com/caffeineduck/webconsole/sysprop"
)

// Properties registers sysprop_get, sysprop_set, sysprop_clear and
// sysprop_list on reg, all backed by table.
func Properties(reg *Registry, table *sysprop.Table) {
	reg.Register("sysprop_get", func(_ context.Context, args map[string]any) (any, error) {
		key, err := stringArg(args, "key")
		if err != nil {
			return nil, err
		}
		if v, ok := table.Get(key); ok {
			return v, nil
		}
		return nil, nil
	})
	reg.Register("sysprop_set", func(_ context.Context, args map[string]any) (any, error) {
		key, err := stringArg(args, "key")
		if err != nil {
			return nil, err
		}
		value, _ := args["value"].(string)
		if prev, ok := table.Set(key, value); ok {
			return prev, nil
		}
		return nil, nil
	})
	reg.Register("sysprop_clear", func(_ context.Context, args map[string]any) (any, error) {
		key, err := stringArg(args, "key")
		if err != nil {
			return nil, err
		}
		if prev, ok := table.Clear(key); ok {
			return prev, nil
		}
		return nil, nil
	})
	reg.Register("sysprop_list", func(_ context.Context, _ map[string]any) (any, error) {
		props := table.Snapshot()
		out := make(map[string]any, len(props))
		for k, v := range props {
			out[k] = v
		}
		return out, nil
	})
}

func stringArg(args map[string]any, name string) (string, error) {
	s, ok := args[name].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s required", name)
	}
	return s, nil
}
