package otel

import (
	"reflect"
	"testing"
)

func TestFromEnvironment(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", " collector.internal:4318 ")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "authorization=Bearer abc, tenant=cafes")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")

	cfg := FromEnvironment(" cafepassd ", "staging")
	if cfg.ServiceName != "cafepassd" {
		t.Fatalf("service name = %q, want cafepassd", cfg.ServiceName)
	}
	if cfg.Environment != "staging" {
		t.Fatalf("environment = %q, want staging", cfg.Environment)
	}
	if cfg.Endpoint != "collector.internal:4318" {
		t.Fatalf("endpoint = %q, want collector.internal:4318", cfg.Endpoint)
	}
	if cfg.Insecure {
		t.Fatal("insecure should be false when OTEL_EXPORTER_OTLP_INSECURE=false")
	}
	want := map[string]string{"authorization": "Bearer abc", "tenant": "cafes"}
	if !reflect.DeepEqual(cfg.Headers, want) {
		t.Fatalf("headers = %v, want %v", cfg.Headers, want)
	}
}

func TestFromEnvironmentDefaults(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "")

	cfg := FromEnvironment("cafepassd", "")
	if cfg.Endpoint != "" {
		t.Fatalf("endpoint = %q, want empty (Init supplies the default)", cfg.Endpoint)
	}
	if !cfg.Insecure {
		t.Fatal("insecure should default to true")
	}
	if len(cfg.Headers) != 0 {
		t.Fatalf("headers = %v, want empty", cfg.Headers)
	}
}

func TestFromEnvironmentBadInsecureValue(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "maybe")

	cfg := FromEnvironment("cafepassd", "")
	if !cfg.Insecure {
		t.Fatal("unparseable OTEL_EXPORTER_OTLP_INSECURE should keep the default")
	}
}

func TestParseHeaders(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{"empty", "", map[string]string{}},
		{"single", "api-key=secret", map[string]string{"api-key": "secret"}},
		{"multiple with spaces", " a=1 , b = 2 ", map[string]string{"a": "1", "b": "2"}},
		{"skips malformed pairs", "a=1,broken,=orphan,b=2", map[string]string{"a": "1", "b": "2"}},
		{"value keeps equals", "auth=Bearer x==", map[string]string{"auth": "Bearer x=="}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseHeaders(tc.raw)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseHeaders(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}
