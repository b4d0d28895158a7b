package match

import "testing"

func TestWildcard(t *testing.T) {
	cases := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"*", "anything", true},
		{"**", "", true},
		{"kafka-*", "kafka-prod", true},
		{"kafka-*", "msk-prod", false},
		{"*-broker-*", "prod-broker-1", true},
		{"a*b*c", "abc", true},
		{"a*b*c", "ac", false},
		{"a*a", "a", false},
		{"a*a", "aa", true},
		{"exact", "exact", true},
		{"exact", "exactly", false},
		{"", "", false},
	}

	for _, tc := range cases {
		if got := Wildcard(tc.pattern, tc.value); got != tc.want {
			t.Fatalf("Wildcard(%q, %q)=%v want=%v", tc.pattern, tc.value, got, tc.want)
		}
	}
}

func TestCompileFold(t *testing.T) {
	pattern, ok := Compile("AwsMsk*Sample", true)
	if !ok {
		t.Fatalf("compile failed")
	}
	if !pattern.Match("awsmskbrokersample") {
		t.Fatalf("expected case-insensitive match")
	}
	if pattern.String() != "awsmsk*sample" {
		t.Fatalf("unexpected normalized pattern: %q", pattern.String())
	}
}
