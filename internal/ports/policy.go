package ports

import "time"

type Policy struct {
	MaxQueueLen   int           `yaml:"max_queue_len"`
	MaxBatchSize  int           `yaml:"max_batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	SinkTimeout   time.Duration `yaml:"sink_timeout"`

	OnQueueFull string `yaml:"on_queue_full"` // "drop", "drop_oldest"
}
