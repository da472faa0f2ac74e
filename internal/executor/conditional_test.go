package executor

import "testing"

func TestEvaluateCondition(t *testing.T) {
	cases := []struct {
		cond string
		want bool
	}{
		{"1 == 1", true},
		{"1 == 2", false},
		{"1 != 2", true},
		{"3 < 5", true},
		{"5 <= 5", true},
		{"5 > 7", false},
		{"7 >= 7", true},
		{"2.5 > 2", true},
		{"abc == abc", true},
		{"abc == def", false},
		{`"quoted" == quoted`, true},
		{"'single' != double", true},
		{"true", true},
		{"false", false},
		{"0", false},
		{"no", false},
		{"", false},
		{"anything-else", true},
	}
	for _, c := range cases {
		got, err := EvaluateCondition(c.cond)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", c.cond, err)
			continue
		}
		if got != c.want {
			t.Errorf("%q: expected %v, got %v", c.cond, c.want, got)
		}
	}
}

func TestEvaluateCondition_OrderingNeedsNumbers(t *testing.T) {
	if _, err := EvaluateCondition("abc < def"); err == nil {
		t.Error("expected error for non-numeric ordering comparison")
	}
}
