package pricing

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
)

// ErrRuleViolation is wrapped by errors returned from RuleSet.Check.
var ErrRuleViolation = errors.New("pricing rule violated")

// Rule is a guard-rail expression evaluated against each fetched price.
// Variables: category (string), key (string), price (double).
// An expression that evaluates to true is a violation.
type Rule struct {
	ID        string `mapstructure:"id" yaml:"id" json:"id" validate:"required"`
	Condition string `mapstructure:"condition" yaml:"condition" json:"condition" validate:"required"`
}

// RuleSet is a compiled list of rules. The zero value accepts everything.
type RuleSet struct {
	ids      []string
	programs []cel.Program
}

func CompileRules(rules []Rule) (*RuleSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("category", cel.StringType),
		cel.Variable("key", cel.StringType),
		cel.Variable("price", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}

	rs := &RuleSet{}
	for _, r := range rules {
		ast, issues := env.Compile(r.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rule %s: condition must be boolean, got %s", r.ID, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		rs.ids = append(rs.ids, r.ID)
		rs.programs = append(rs.programs, prg)
	}
	return rs, nil
}

func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.programs)
}

// Check evaluates every rule against every entry of a category.
func (rs *RuleSet) Check(c Category, prices PriceMap) error {
	if rs.Len() == 0 {
		return nil
	}
	for key, price := range prices.All() {
		vars := map[string]any{
			"category": string(c),
			"key":      key,
			"price":    price.InexactFloat64(),
		}
		for i, prg := range rs.programs {
			out, _, err := prg.Eval(vars)
			if err != nil {
				return fmt.Errorf("rule %s on %s: %w", rs.ids[i], key, err)
			}
			if violated, ok := out.Value().(bool); ok && violated {
				return fmt.Errorf("%w: %s on %s=%s", ErrRuleViolation, rs.ids[i], key, price)
			}
		}
	}
	return nil
}
