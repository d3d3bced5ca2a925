package manifest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StarlarkEvaluator runs computed-field scripts in a sandboxed
// interpreter. Scripts have no filesystem, network or module access.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates an evaluator with the given per-script
// timeout.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// Evaluate executes a script with the given inputs as predeclared
// globals and returns the exported globals the script defined. Names
// starting with an underscore are treated as private and skipped.
func (e *StarlarkEvaluator) Evaluate(ctx context.Context, script string, input map[string]interface{}) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	for name, value := range input {
		sv, err := toStarlarkValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %q: %w", name, err)
		}
		predeclared[name] = sv
	}

	thread := &starlark.Thread{Name: "provisor"}
	go func() {
		<-ctx.Done()
		thread.Cancel(ctx.Err().Error())
	}()

	type result struct {
		globals starlark.StringDict
		err     error
	}
	done := make(chan result, 1)
	go func() {
		globals, err := starlark.ExecFile(thread, "computed.star", script, predeclared)
		done <- result{globals: globals, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// thread.Cancel unblocks ExecFile shortly after.
		res = <-done
	}
	if res.err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("script timed out after %s", e.timeout)
		}
		return nil, fmt.Errorf("script evaluation failed: %w", res.err)
	}

	output := make(map[string]interface{})
	for name, value := range res.globals {
		if strings.HasPrefix(name, "_") {
			continue
		}
		gv, err := fromStarlarkValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %q: %w", name, err)
		}
		output[name] = gv
	}

	return output, nil
}

func toStarlarkValue(v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		elems := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		return nil, fmt.Errorf("integer out of range: %s", val.String())
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		out := make([]interface{}, 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]interface{}, val.Len())
		for _, k := range val.Keys() {
			key, ok := k.(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict keys must be strings, got %s", k.Type())
			}
			item, _, err := val.Get(k)
			if err != nil {
				return nil, err
			}
			gv, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			out[string(key)] = gv
		}
		return out, nil
	case *starlarkstruct.Struct:
		dict := starlark.StringDict{}
		val.ToStringDict(dict)
		out := make(map[string]interface{}, len(dict))
		for k, item := range dict {
			gv, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = gv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %s", v.Type())
	}
}
