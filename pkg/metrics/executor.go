package metrics

import (
	"context"
	"path/filepath"
	"strconv"
	"time"

	"github.com/carina-io/blockmgr/utils/exec"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	execSubSystem string = "command"

	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
)

// InstrumentedExecutor counts and times every command of the wrapped Executor.
type InstrumentedExecutor struct {
	exec.Executor
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

var _ exec.Executor = &InstrumentedExecutor{}

// NewInstrumentedExecutor registers its metrics on reg, a nil reg leaves
// them unregistered.
func NewInstrumentedExecutor(executor exec.Executor, reg prometheus.Registerer) *InstrumentedExecutor {
	ie := &InstrumentedExecutor{
		Executor: executor,
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   execSubSystem,
			Name:        "executions_total",
			Help:        "The number of commands executed by outcome.",
			ConstLabels: constLabels,
		}, []string{"command", "outcome", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   execSubSystem,
			Name:        "duration_seconds",
			Help:        "The time commands took until they exited.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
		}, []string{"command"}),
	}
	if reg != nil {
		reg.MustRegister(ie.executions, ie.duration)
	}
	return ie
}

func (ie *InstrumentedExecutor) ExecuteCommand(ctx context.Context, command string, arg ...string) (*exec.Result, error) {
	begin := time.Now()
	result, err := ie.Executor.ExecuteCommand(ctx, command, arg...)
	ie.observe(command, begin, err)
	return result, err
}

func (ie *InstrumentedExecutor) ExecuteCommandWithInput(ctx context.Context, input string, command string, arg ...string) (*exec.Result, error) {
	begin := time.Now()
	result, err := ie.Executor.ExecuteCommandWithInput(ctx, input, command, arg...)
	ie.observe(command, begin, err)
	return result, err
}

func (ie *InstrumentedExecutor) observe(command string, begin time.Time, err error) {
	name := filepath.Base(command)
	ie.duration.WithLabelValues(name).Observe(time.Since(begin).Seconds())

	outcome, code := OutcomeSuccess, "0"
	if err != nil {
		outcome, code = OutcomeFailed, ""
		if c, ok := exec.ExitStatus(err); ok {
			code = strconv.Itoa(c)
		} else if exec.IsExecutionError(err) {
			outcome = OutcomeTimeout
		}
	}
	ie.executions.WithLabelValues(name, outcome, code).Inc()
}
