package kestrel

import (
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"
)

// QueueType selects a JobQueue variant, per spec.md §6's "type" config
// key.
type QueueType string

const (
	// Durable selects the Redis-backed JobQueue variant.
	Durable QueueType = "durable"
	// Memory selects the bounded in-memory JobQueue variant.
	Memory QueueType = "memory"
)

// Configuration is the recognized configuration surface of spec.md §6,
// one instance per priority class. Loaded the way the teacher loads its
// per-queue Configuration in dependency.go, via knadh/koanf, except here
// each priority gets its own section instead of each named queue.
type Configuration struct {
	// Path is a filesystem directory setting, default
	// "/var/spool/kestrel". No code in this module reads it: the durable
	// variant is Redis-backed and is addressed by the client passed to
	// redisqueue.New, not by a path.
	Path string `yaml:"path" koanf:"path"`
	// Type selects "durable" or "memory". Unknown is a fatal config
	// error.
	Type QueueType `yaml:"type" koanf:"type"`
	// Threads is the worker count for this priority's scheduler.
	Threads int `yaml:"threads" koanf:"threads"`
	// StrobeIntervalMS is the mean period of the retry strobe, in
	// milliseconds.
	StrobeIntervalMS int `yaml:"strobe_interval" koanf:"strobe_interval"`
	// ErrorLimit is the maximum errorCount before a job is bad-sinked.
	ErrorLimit int `yaml:"error_limit" koanf:"error_limit"`
	// FlushLimit is the max per-strobe transfer count.
	FlushLimit int `yaml:"flush_limit" koanf:"flush_limit"`
	// ErrorDelaySec is the minimum age, in seconds, before an
	// error-queue entry is eligible for drain.
	ErrorDelaySec int `yaml:"error_delay" koanf:"error_delay"`
	// SizeLimit bounds the memory queue variant. 0 means unbounded.
	SizeLimit int `yaml:"size_limit" koanf:"size_limit"`
	// JitterRate is the strobe's Gaussian jitter standard deviation
	// multiplier.
	JitterRate float64 `yaml:"jitter_rate" koanf:"jitter_rate"`
	// JobQueueName is the name of the primary queue.
	JobQueueName string `yaml:"job_queue" koanf:"job_queue"`
	// ErrorQueueName is the name of the error queue.
	ErrorQueueName string `yaml:"error_queue" koanf:"error_queue"`
}

// DefaultConfiguration returns the baseline configuration named in
// spec.md §6: a memory queue with a single worker and no jitter.
func DefaultConfiguration() Configuration {
	return Configuration{
		Path:             "/var/spool/kestrel",
		Type:             Memory,
		Threads:          1,
		StrobeIntervalMS: 15000,
		ErrorLimit:       1,
		FlushLimit:       100,
		ErrorDelaySec:    30,
		SizeLimit:        0,
		JitterRate:       0,
		JobQueueName:     "default",
		ErrorQueueName:   "default.errors",
	}
}

// StrobeInterval returns StrobeIntervalMS as a time.Duration.
func (c Configuration) StrobeInterval() time.Duration {
	return time.Duration(c.StrobeIntervalMS) * time.Millisecond
}

// ErrorDelay returns ErrorDelaySec as a time.Duration.
func (c Configuration) ErrorDelay() time.Duration {
	return time.Duration(c.ErrorDelaySec) * time.Second
}

// Validate checks that Type is recognized. Every other field degrades
// gracefully to its zero value.
func (c Configuration) Validate() error {
	switch c.Type {
	case Durable, Memory:
		return nil
	default:
		return errors.Errorf("kestrel: unknown queue type %q", c.Type)
	}
}

// PriorityConfig maps a priority class to its Configuration, the
// "fixed mapping priority(int) -> queue_name_prefix" of spec.md §6's
// priority surface, generalized to carry the full per-priority
// configuration rather than just a name prefix.
type PriorityConfig map[int]Configuration

// LoadPriorityConfig loads a PriorityConfig from a YAML file at path,
// using knadh/koanf the way the teacher loads its "queue" config
// section in dependency.go. The expected document shape is:
//
//	priorities:
//	  1:
//	    type: durable
//	    threads: 4
//	  2:
//	    type: memory
//	    threads: 1
func LoadPriorityConfig(path string) (PriorityConfig, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "kestrel: loading config from %s", path)
	}
	raw := map[int]Configuration{}
	if err := k.Unmarshal("priorities", &raw); err != nil {
		return nil, errors.Wrap(err, "kestrel: unmarshaling priorities")
	}
	for priority, conf := range raw {
		if err := conf.Validate(); err != nil {
			return nil, errors.Wrapf(err, "priority %d", priority)
		}
	}
	return raw, nil
}
