// Package model talks to Vertex AI: it trains and deploys the purchase
// classifier and scores feature batches against a deployed endpoint.
package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"google.golang.org/api/aiplatform/v1"

	"github.com/actuallystonmai/purchase-recommender/internal/metrics"
)

const (
	tabularDatasetSchema = "gs://google-cloud-aiplatform/schema/dataset/metadata/tabular_1.0.0.yaml"
	automlTablesTask     = "gs://google-cloud-aiplatform/schema/trainingjob/definition/automl_tables_1.0.0.yaml"
)

type Options struct {
	// PollInterval is the delay between long-running operation polls.
	PollInterval time.Duration
	// BreakerFailures opens the predict circuit after this many consecutive failures.
	BreakerFailures uint32
	// BreakerCooldown is how long the predict circuit stays open.
	BreakerCooldown time.Duration
}

func DefaultOptions() Options {
	return Options{
		PollInterval:    30 * time.Second,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

type Client struct {
	svc     *aiplatform.Service
	parent  string
	opts    Options
	breaker *gobreaker.CircuitBreaker[*aiplatform.GoogleCloudAiplatformV1PredictResponse]
}

func NewClient(svc *aiplatform.Service, project, location string, opts Options) *Client {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = def.BreakerFailures
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = def.BreakerCooldown
	}

	c := &Client{
		svc:    svc,
		parent: fmt.Sprintf("projects/%s/locations/%s", project, location),
		opts:   opts,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*aiplatform.GoogleCloudAiplatformV1PredictResponse](gobreaker.Settings{
		Name:        "vertex-predict",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up says nothing about endpoint health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("circuit breaker state change",
				zap.String("component", "model"),
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return c
}

// ModelInferenceError reports a prediction response that cannot be turned
// into class probabilities.
type ModelInferenceError struct {
	Msg string
}

func (e *ModelInferenceError) Error() string {
	return e.Msg
}

func IsModelInferenceError(err error) bool {
	var target *ModelInferenceError
	return errors.As(err, &target)
}

// OperationError is a long-running operation or pipeline that ended in failure.
type OperationError struct {
	Name    string
	Code    int64
	Message string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %s failed (code %d): %s", e.Name, e.Code, e.Message)
}

// IsOpen reports whether err came from the predict circuit breaker refusing a call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
