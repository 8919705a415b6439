package observability

import "testing"

func TestEnabled(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"0", false},
		{"false", false},
		{"nope", false},
		{"1", true},
		{"true", true},
		{"TRUE", true},
		{"yes", true},
		{"on", true},
		{"  true  ", true},
	}
	for _, tc := range cases {
		t.Setenv("OTEL_ENABLED", tc.value)
		if got := Enabled(); got != tc.want {
			t.Errorf("Enabled() with %q = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestSampleRatio(t *testing.T) {
	cases := []struct {
		value string
		want  float64
	}{
		{"", 0.1},
		{"garbage", 0.1},
		{"0.5", 0.5},
		{"-2", 0},
		{"7", 1},
	}
	for _, tc := range cases {
		t.Setenv("OTEL_SAMPLER_RATIO", tc.value)
		if got := sampleRatio(); got != tc.want {
			t.Errorf("sampleRatio() with %q = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestOTLPHeaders(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-api-key=abc, team=graph ,bad,=empty,novalue=")
	got := otlpHeaders()
	if len(got) != 2 {
		t.Fatalf("headers = %v, want 2 entries", got)
	}
	if got["x-api-key"] != "abc" || got["team"] != "graph" {
		t.Fatalf("headers = %v", got)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "")
	if got := otlpHeaders(); got != nil {
		t.Fatalf("empty env: headers = %v, want nil", got)
	}
}
