package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadPipelineSpec_ResolvesRelativeSourceConfigAndSchema(t *testing.T) {
	dir := t.TempDir()
	pipe := []byte(`schema_version: v1
source:
  kind: nakadi
  config: nakadi_source.yml
sinks: [stdout, kafka]
sink_configs:
  kafka:
    brokers: ["localhost:9092"]
    topic: orders
    required_acks: -1
debug:
  print_counter: true
`)
	if err := os.WriteFile(filepath.Join(dir, "pipeline.yml"), pipe, 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}

	cfg, abs, err := LoadPipelineSpec(filepath.Join(dir, "pipeline.yml"))
	if err != nil {
		t.Fatalf("LoadPipelineSpec: %v", err)
	}
	if cfg.SchemaVersion != SupportedSchema {
		t.Fatalf("want schema %s, got %s", SupportedSchema, cfg.SchemaVersion)
	}
	if abs != filepath.Join(dir, "nakadi_source.yml") {
		t.Fatalf("want source config next to the pipeline, got %q", abs)
	}
	if k := cfg.SinkConfigs.Kafka; k == nil || k.Topic != "orders" || k.RequiredAcks != -1 {
		t.Fatalf("kafka sink config not parsed: %+v", k)
	}
	if cfg.Source.Codec != "raw" {
		t.Fatalf("codec should default to raw, got %q", cfg.Source.Codec)
	}
	if cfg.SinkConfigs.Stdout != nil || !cfg.Debug.PrintCounter {
		t.Fatalf("unexpected stdout/debug config: %+v %+v", cfg.SinkConfigs.Stdout, cfg.Debug)
	}
}

func TestLoadPipelineSpec_Invalid(t *testing.T) {
	cases := map[string]string{
		"schema":         "schema_version: v999\nsource: { kind: nakadi, config: cf.yml }\nsinks: [stdout]\n",
		"no sinks":       "source: { kind: nakadi, config: cf.yml }\n",
		"yaml":           "source: [\n",
		"kind":           "source: { kind: kafka, config: cf.yml }\nsinks: [stdout]\n",
		"codec":          "source: { kind: nakadi, config: cf.yml, codec: avro }\nsinks: [stdout]\n",
		"no config":      "source: { kind: nakadi }\nsinks: [stdout]\n",
		"duplicate":      "source: { kind: nakadi, config: cf.yml }\nsinks: [stdout, stdout]\n",
		"kafka block":    "source: { kind: nakadi, config: cf.yml }\nsinks: [kafka]\n",
		"kafka topic":    "source: { kind: nakadi, config: cf.yml }\nsinks: [kafka]\nsink_configs: { kafka: { brokers: [b:9092] } }\n",
		"negative delay": "source: { kind: nakadi, config: cf.yml }\nsinks: [stdout]\ndebug: { per_frame_delay_ms: -1 }\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "pipeline.yml"), []byte(body), 0o644); err != nil {
				t.Fatalf("write pipeline: %v", err)
			}
			if _, _, err := LoadPipelineSpec(filepath.Join(dir, "pipeline.yml")); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadPipelineSpec_ReportsEveryProblem(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yml")
	body := "source: { kind: http, codec: xml }\nsinks: [kafka, kafka]\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}
	_, _, err := LoadPipelineSpec(path)
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, want := range []string{"source.kind", "source.codec", "source.config", "listed twice", "sink_configs.kafka"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadPipelineSpec_StructCodec(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yml")
	if err := os.WriteFile(path, []byte("source: { kind: nakadi, config: /etc/nakadi.yml, codec: struct }\nsinks: [stdout]\n"), 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}
	cfg, abs, err := LoadPipelineSpec(path)
	if err != nil {
		t.Fatalf("LoadPipelineSpec: %v", err)
	}
	if cfg.Source.Codec != "struct" || abs != "/etc/nakadi.yml" {
		t.Fatalf("codec=%q config=%q", cfg.Source.Codec, abs)
	}
}

func TestLoadSourceConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nakadi.yml")
	if err := os.WriteFile(path, []byte("base_url: http://nakadi.local\nevent_type: order.created\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadSourceConfig(path)
	if err != nil {
		t.Fatalf("LoadSourceConfig: %v", err)
	}
	if cfg.EventType != "order.created" {
		t.Fatalf("event type = %q", cfg.EventType)
	}
}
