package manifest

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// anyConditionTrue evaluates a list of condition expressions and ORs the
// results. Empty condition strings are ignored. A manifest entry with
// several skip-if keys is skipped when any of them holds.
func anyConditionTrue(conditions []string, info map[string]any) (bool, error) {
	for _, cond := range conditions {
		if cond == "" {
			continue
		}
		ok, err := evalCondition(cond, info)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// evalCondition evaluates a single boolean expression against the
// environment info mapping. Identifiers not present in the mapping
// evaluate to nil, so `os == 'haiku'` is false rather than an error on
// platforms that never set the key.
func evalCondition(cond string, info map[string]any) (bool, error) {
	if info == nil {
		info = map[string]any{}
	}
	program, err := expr.Compile(cond,
		expr.Env(info),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return false, fmt.Errorf("compiling condition %q: %w", cond, err)
	}
	out, err := expr.Run(program, info)
	if err != nil {
		return false, fmt.Errorf("evaluating condition %q: %w", cond, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q is not boolean", cond)
	}
	return result, nil
}
