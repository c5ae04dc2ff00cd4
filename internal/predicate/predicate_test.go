package predicate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskwarden/taskwarden/internal/idle"
	"github.com/taskwarden/taskwarden/internal/model"
)

func TestCheck_Interval_NotYetDue(t *testing.T) {
	now := time.Now()
	cond := &model.Condition{
		Variant:  model.CondInterval,
		Interval: time.Minute,
		State:    model.State{LastCheckTime: now.Add(-10 * time.Second)},
	}
	outcome, err := Check(context.Background(), cond, now, Deps{})
	require.NoError(t, err)
	require.Equal(t, model.Failure, outcome)
}

func TestCheck_Interval_Due(t *testing.T) {
	now := time.Now()
	cond := &model.Condition{
		Variant:  model.CondInterval,
		Interval: time.Minute,
		State:    model.State{LastCheckTime: now.Add(-2 * time.Minute)},
	}
	outcome, err := Check(context.Background(), cond, now, Deps{})
	require.NoError(t, err)
	require.Equal(t, model.Success, outcome)
	require.WithinDuration(t, now, cond.State.LastCheckTime, time.Millisecond)
}

func TestCheck_CheckAfterSuppresses(t *testing.T) {
	now := time.Now()
	cond := &model.Condition{
		Variant:    model.CondBucket,
		CheckAfter: time.Minute,
		State:      model.State{LastCheckTime: now.Add(-10 * time.Second)},
	}
	outcome, err := Check(context.Background(), cond, now, Deps{})
	require.NoError(t, err)
	require.Equal(t, model.Undetermined, outcome)
	// suppressed evaluation must not advance LastCheckTime.
	require.NotEqual(t, now, cond.State.LastCheckTime)
}

func TestCheck_Bucket_AlwaysSuccess(t *testing.T) {
	now := time.Now()
	cond := &model.Condition{Variant: model.CondBucket}
	outcome, err := Check(context.Background(), cond, now, Deps{})
	require.NoError(t, err)
	require.Equal(t, model.Success, outcome)
}

func TestCheck_Idle(t *testing.T) {
	now := time.Now()
	cond := &model.Condition{Variant: model.CondIdle, IdleFor: 30 * time.Second}
	det := &idle.Detector{
		Primary: func(ctx context.Context) (time.Duration, error) { return 60 * time.Second, nil },
	}
	outcome, err := Check(context.Background(), cond, now, Deps{Idle: det})
	require.NoError(t, err)
	require.Equal(t, model.Success, outcome)
}

func TestTimeConditionDue_OmittedFieldsWildcard(t *testing.T) {
	from := time.Date(2026, 1, 1, 8, 59, 0, 0, time.UTC)
	to := time.Date(2026, 1, 1, 9, 1, 0, 0, time.UTC)
	hour := 9
	due := timeConditionDue([]model.PartialTime{{Hour: &hour}}, from, to)
	require.True(t, due)
}

func TestTimeConditionDue_NoMatch(t *testing.T) {
	from := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 1, 8, 30, 0, 0, time.UTC)
	hour := 9
	due := timeConditionDue([]model.PartialTime{{Hour: &hour}}, from, to)
	require.False(t, due)
}

func TestEvaluateParamChecks_Eq(t *testing.T) {
	reply := []any{int64(200)}
	checks := []model.ParamCheck{{Index: []any{0}, Operator: "eq", Value: int64(200)}}
	require.True(t, EvaluateParamChecks(reply, checks, true))
}

func TestEvaluateParamChecks_NestedDict(t *testing.T) {
	reply := []any{map[string]any{"status": "ok"}}
	checks := []model.ParamCheck{{Index: []any{0, "status"}, Operator: "eq", Value: "ok"}}
	require.True(t, EvaluateParamChecks(reply, checks, true))
}

func TestEvaluateResultChecks_AnyRow(t *testing.T) {
	rows := []map[string]any{{"State": "Running"}, {"State": "Stopped"}}
	checks := []model.ResultCheck{{Field: "State", Operator: "eq", Value: "Stopped"}}
	require.True(t, EvaluateResultChecks(rows, checks, true))
}

func TestEvaluateResultChecks_Empty(t *testing.T) {
	require.False(t, EvaluateResultChecks(nil, nil, false))
	require.True(t, EvaluateResultChecks([]map[string]any{{"a": 1}}, nil, false))
}

func TestCompareOperator_Contains(t *testing.T) {
	require.True(t, compareOperator("hello world", "contains", "world"))
	require.False(t, compareOperator("hello world", "ncontains", "world"))
	require.True(t, compareOperator([]any{int64(1), int64(2)}, "contains", int64(2)))
}

func TestCompareOperator_NoImplicitCrossTypeNumeric(t *testing.T) {
	require.False(t, compareOperator(int64(2), "eq", float64(2)), "int-float eq must not coerce")
	require.False(t, compareOperator(int64(2), "gt", float64(1)), "int-float gt must not coerce")
	require.True(t, compareOperator(int64(2), "eq", int64(2)))
	require.True(t, compareOperator(2.0, "eq", 2.0))
	require.True(t, compareOperator(int64(3), "gt", int64(2)))
}

// EvaluateParamChecks must work with the index element types
// BurntSushi/toml actually produces for a TOML integer (int64), not just
// the plain int a hand-built test fixture would use.
func TestEvaluateParamChecks_Int64Index(t *testing.T) {
	reply := []any{int64(200)}
	checks := []model.ParamCheck{{Index: []any{int64(0)}, Operator: "eq", Value: int64(200)}}
	require.True(t, EvaluateParamChecks(reply, checks, true))
}

func TestEvaluateParamChecks_Int64IndexIntoNestedArray(t *testing.T) {
	reply := []any{[]any{"a", "b", "c"}}
	checks := []model.ParamCheck{{Index: []any{int64(0), int64(2)}, Operator: "eq", Value: "c"}}
	require.True(t, EvaluateParamChecks(reply, checks, true))
}
