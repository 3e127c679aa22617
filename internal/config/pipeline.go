package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"tributary/internal/spec"
)

const SupportedSchema = "v1"

// Source kinds and event codecs a pipeline may name.
var (
	SourceKinds = []string{"nakadi"}
	Codecs      = []string{"raw", "struct"}
)

// LoadPipelineSpec reads a pipeline file and returns it together with the
// absolute path of its source config. Every validation problem is reported,
// not only the first.
func LoadPipelineSpec(path string) (spec.File, string, error) {
	var file spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return file, "", err
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return file, "", fmt.Errorf("pipeline %s: %w", path, err)
	}
	if file.SchemaVersion == "" {
		file.SchemaVersion = SupportedSchema
	}
	if file.Source.Codec == "" {
		file.Source.Codec = "raw"
	}
	if err := validatePipeline(file); err != nil {
		return file, "", fmt.Errorf("pipeline %s: %w", path, err)
	}

	confPath := file.Source.Config
	if !filepath.IsAbs(confPath) {
		confPath = filepath.Join(filepath.Dir(path), confPath)
	}
	return file, confPath, nil
}

func validatePipeline(file spec.File) error {
	var errs []error
	if file.SchemaVersion != SupportedSchema {
		errs = append(errs, fmt.Errorf("schema_version %q not supported (want %q)", file.SchemaVersion, SupportedSchema))
	}

	src := file.Source
	if !slices.Contains(SourceKinds, src.Kind) {
		errs = append(errs, fmt.Errorf("source.kind %q not supported (want one of %v)", src.Kind, SourceKinds))
	}
	if !slices.Contains(Codecs, src.Codec) {
		errs = append(errs, fmt.Errorf("source.codec %q not supported (want one of %v)", src.Codec, Codecs))
	}
	if src.Config == "" {
		errs = append(errs, errors.New("source.config is required"))
	}

	if len(file.Sinks) == 0 {
		errs = append(errs, errors.New("no sinks configured"))
	}
	seen := make(map[string]bool, len(file.Sinks))
	for _, name := range file.Sinks {
		if seen[name] {
			errs = append(errs, fmt.Errorf("sink %q listed twice", name))
		}
		seen[name] = true
	}
	if seen["kafka"] {
		switch k := file.SinkConfigs.Kafka; {
		case k == nil:
			errs = append(errs, errors.New("sink kafka needs a sink_configs.kafka block"))
		case len(k.Brokers) == 0 || k.Topic == "":
			errs = append(errs, errors.New("sink_configs.kafka needs brokers and topic"))
		}
	}
	if file.Debug.PerFrameDelayMS < 0 {
		errs = append(errs, errors.New("debug.per_frame_delay_ms must not be negative"))
	}
	return errors.Join(errs...)
}
