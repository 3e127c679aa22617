package spec

type KafkaSink struct {
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	RequiredAcks int16    `yaml:"required_acks"`
	ClientID     string   `yaml:"client_id"`
}

type StdoutSink struct {
	PrintValue    bool `yaml:"print_value"`
	ValueMaxBytes int  `yaml:"value_max_bytes"`
}

type sinkConfigs struct {
	Kafka  *KafkaSink  `yaml:"kafka"`
	Stdout *StdoutSink `yaml:"stdout"`
}

type debugSection struct {
	PerFrameDelayMS int  `yaml:"per_frame_delay_ms"`
	PrintCounter    bool `yaml:"print_counter"`
	PrintValue      bool `yaml:"print_value"`
	ValueMaxBytes   int  `yaml:"value_max_bytes"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Source struct {
		Kind   string `yaml:"kind"`   // nakadi
		Config string `yaml:"config"` // relative to the pipeline file
		// Codec is raw (events forwarded byte for byte) or struct (events
		// must be JSON objects and are re-encoded canonically).
		Codec string `yaml:"codec"`
	} `yaml:"source"`

	// Sinks receive every event in this order.
	Sinks       []string     `yaml:"sinks"`
	SinkConfigs sinkConfigs  `yaml:"sink_configs"`
	Debug       debugSection `yaml:"debug"`
}
