package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RunRecorder 将运行与步骤耗时记录为 OTel 直方图，满足 workflow.Observer。
type RunRecorder struct {
	runDuration  metric.Float64Histogram
	stepDuration metric.Float64Histogram
}

// Meter 返回工作流指标使用的 meter。禁用时返回全局 noop meter。
func (p *Providers) Meter() metric.Meter {
	if p != nil && p.mp != nil {
		return p.mp.Meter(TracerName, metric.WithInstrumentationVersion(BuildVersion()))
	}
	return otel.Meter(TracerName)
}

// NewRunRecorder creates the run and step histograms on meter.
func NewRunRecorder(meter metric.Meter) (*RunRecorder, error) {
	runDuration, err := meter.Float64Histogram("storyflow.run.duration",
		metric.WithDescription("Workflow run duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create run histogram: %w", err)
	}
	stepDuration, err := meter.Float64Histogram("storyflow.step.duration",
		metric.WithDescription("Workflow step duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create step histogram: %w", err)
	}
	return &RunRecorder{runDuration: runDuration, stepDuration: stepDuration}, nil
}

// RunFinished records one run outcome.
func (r *RunRecorder) RunFinished(workflowID, status string, duration time.Duration) {
	r.runDuration.Record(context.Background(), duration.Seconds(), metric.WithAttributes(
		attribute.String("workflow", workflowID),
		attribute.String("status", status),
	))
}

// StepFinished records one step outcome.
func (r *RunRecorder) StepFinished(workflowID, stepID, status string, duration time.Duration) {
	r.stepDuration.Record(context.Background(), duration.Seconds(), metric.WithAttributes(
		attribute.String("workflow", workflowID),
		attribute.String("step", stepID),
		attribute.String("status", status),
	))
}
