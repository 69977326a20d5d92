package mqttrt

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

const (
	defaultResponseWait   = 2 * time.Second
	defaultRetryMsCeiling = 60 * time.Second
)

// Runtime is the process-wide configuration a set of Connections share:
// construct one with NewRuntime or LoadRuntime, Close it when done.
type Runtime struct {
	EnableAsserts             bool
	EnableMetrics             bool
	EnableSerializerOverrides bool

	ResponseWait   time.Duration // > 0, default 2s
	RetryMsCeiling time.Duration // > 0, default 60s

	MessageBuffers    int // static pool only
	MessageBufferSize int // static pool only

	Registerer prometheus.Registerer // only consulted if EnableMetrics
}

// NewRuntime returns a Runtime with documented defaults and no metrics.
func NewRuntime() *Runtime {
	return &Runtime{
		ResponseWait:   defaultResponseWait,
		RetryMsCeiling: defaultRetryMsCeiling,
	}
}

// runtimeDoc mirrors Runtime's init-time knobs for YAML decoding, using
// the snake_case keys a deployment's config file names them by.
type runtimeDoc struct {
	EnableAsserts             bool `yaml:"enable_asserts"`
	EnableMetrics             bool `yaml:"enable_metrics"`
	EnableSerializerOverrides bool `yaml:"enable_serializer_overrides"`
	ResponseWaitMs            int  `yaml:"response_wait_ms"`
	RetryMsCeiling            int  `yaml:"retry_ms_ceiling"`
	MessageBuffers            int  `yaml:"message_buffers"`
	MessageBufferSize         int  `yaml:"message_buffer_size"`
}

// LoadRuntime parses a YAML document into a Runtime, filling in documented
// defaults for any knob left at zero.
func LoadRuntime(yamlDoc []byte) (*Runtime, error) {
	var doc runtimeDoc
	if err := yaml.Unmarshal(yamlDoc, &doc); err != nil {
		return nil, fmt.Errorf("mqttrt: parsing runtime config: %w", err)
	}

	r := NewRuntime()
	r.EnableAsserts = doc.EnableAsserts
	r.EnableMetrics = doc.EnableMetrics
	r.EnableSerializerOverrides = doc.EnableSerializerOverrides
	if doc.ResponseWaitMs > 0 {
		r.ResponseWait = time.Duration(doc.ResponseWaitMs) * time.Millisecond
	}
	if doc.RetryMsCeiling > 0 {
		r.RetryMsCeiling = time.Duration(doc.RetryMsCeiling) * time.Millisecond
	}
	r.MessageBuffers = doc.MessageBuffers
	r.MessageBufferSize = doc.MessageBufferSize

	if r.EnableMetrics && r.Registerer == nil {
		r.Registerer = prometheus.DefaultRegisterer
	}
	return r, nil
}

// Close releases Runtime-owned resources. A Runtime owns none today
// (Connections only read its fields), so Close does nothing; it exists so
// a Runtime can later own a shared task pool or registry without an API
// break.
func (r *Runtime) Close() error {
	return nil
}
