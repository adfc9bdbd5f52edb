package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleSet(t *testing.T) {
	rs, err := CompileRules([]Rule{
		{ID: "ec2_ceiling", Condition: "category == 'ec2' && price > 50.0"},
		{ID: "free_egress", Condition: "key == 'internet_egress' && price == 0.0"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rs.Len())

	require.NoError(t, rs.Check(CategoryEC2, Fallback(CategoryEC2)))
	require.NoError(t, rs.Check(CategoryDataTransfer, Fallback(CategoryDataTransfer)))

	err = rs.Check(CategoryEC2, mustPrices(t, map[string]string{"m5.large": "96"}))
	require.ErrorIs(t, err, ErrRuleViolation)
	assert.Contains(t, err.Error(), "ec2_ceiling")

	err = rs.Check(CategoryDataTransfer, mustPrices(t, map[string]string{"internet_egress": "0"}))
	require.ErrorIs(t, err, ErrRuleViolation)
}

func TestCompileRulesErrors(t *testing.T) {
	_, err := CompileRules([]Rule{{ID: "syntax", Condition: "price >"}})
	require.Error(t, err)

	_, err = CompileRules([]Rule{{ID: "not_bool", Condition: "price * 2.0"}})
	require.Error(t, err)

	_, err = CompileRules([]Rule{{ID: "unknown_var", Condition: "region == 'x'"}})
	require.Error(t, err)
}

func TestNilRuleSetAcceptsAll(t *testing.T) {
	var rs *RuleSet
	assert.NoError(t, rs.Check(CategoryS3, Fallback(CategoryS3)))
}
