package prometheus

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/dispatchlabs/taskgraph/task"
)

func TestMetricsExporter_RecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("taskgraph", reg, ExporterOptions{})
	require.NoError(t, err)

	exporter.RecordTaskDuration(task.High, 250*time.Millisecond)
	exporter.RecordTaskPanic("panic")
	exporter.RecordQueueDepth(0, task.High, 7)
	exporter.RecordTaskRejected("shutdown")
	exporter.RecordSteal(1, 0, true)
	exporter.RecordSteal(-1, 0, false)

	require.Equal(t, float64(1), testutil.ToFloat64(exporter.taskPanicTotal))
	require.Equal(t, float64(7), testutil.ToFloat64(exporter.queueDepth.WithLabelValues("0", task.High.String())))
	require.Equal(t, float64(1), testutil.ToFloat64(exporter.taskRejectedTotal.WithLabelValues("shutdown")))
	require.Equal(t, float64(1), testutil.ToFloat64(exporter.stealTotal.WithLabelValues("success")))
	require.Equal(t, float64(1), testutil.ToFloat64(exporter.stealTotal.WithLabelValues("failure")))

	histCount, err := histogramSampleCount(exporter.taskDurationSeconds.WithLabelValues(task.High.String()))
	require.NoError(t, err)
	require.Equal(t, uint64(1), histCount)
}

func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("taskgraph", reg, ExporterOptions{})
	require.NoError(t, err)
	second, err := NewMetricsExporter("taskgraph", reg, ExporterOptions{})
	require.NoError(t, err)

	first.RecordTaskPanic(nil)
	second.RecordTaskPanic(nil)

	require.Equal(t, float64(2), testutil.ToFloat64(first.taskPanicTotal))
}

func histogramSampleCount(observer prom.Observer) (uint64, error) {
	collector, ok := observer.(prom.Collector)
	if !ok {
		return 0, nil
	}

	metricCh := make(chan prom.Metric, 1)
	collector.Collect(metricCh)
	close(metricCh)
	for metric := range metricCh {
		msg := &dto.Metric{}
		if err := metric.Write(msg); err != nil {
			return 0, err
		}
		if msg.Histogram != nil {
			return msg.Histogram.GetSampleCount(), nil
		}
	}
	return 0, nil
}
