package ports

// Observability is the logging and metrics surface every component writes to.
// Label values are positional and must match the metric's label names.
type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64, labels ...string)
	ObserveLatency(name string, seconds float64, labels ...string)

	SetGauge(name string, v float64, labels ...string)
}

type Field struct {
	Key   string
	Value any
}

// NopObservability discards everything.
type NopObservability struct{}

func (NopObservability) LogInfo(string, ...Field)                  {}
func (NopObservability) LogError(string, error, ...Field)          {}
func (NopObservability) LogCritical(string, error, ...Field)       {}
func (NopObservability) IncCounter(string, float64, ...string)     {}
func (NopObservability) ObserveLatency(string, float64, ...string) {}
func (NopObservability) SetGauge(string, float64, ...string)       {}
