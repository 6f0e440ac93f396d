package model

import (
	"context"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/aiplatform/v1"
	"google.golang.org/api/googleapi"

	"github.com/actuallystonmai/purchase-recommender/internal/domain"
)

const (
	pipelineSucceeded = "PIPELINE_STATE_SUCCEEDED"
	pipelineFailed    = "PIPELINE_STATE_FAILED"
	pipelineCancelled = "PIPELINE_STATE_CANCELLED"
)

// ListEndpoints returns every endpoint in the project location.
func (c *Client) ListEndpoints(ctx context.Context) ([]domain.EndpointHandle, error) {
	var handles []domain.EndpointHandle
	err := c.svc.Projects.Locations.Endpoints.List(c.parent).
		Pages(ctx, func(page *aiplatform.GoogleCloudAiplatformV1ListEndpointsResponse) error {
			for _, ep := range page.Endpoints {
				handles = append(handles, domain.EndpointHandle{
					DisplayName:  ep.DisplayName,
					ResourceName: ep.Name,
				})
			}
			return nil
		})
	if err != nil {
		return nil, eris.Wrap(err, "model: list endpoints")
	}
	return handles, nil
}

// CreateDataset registers a tabular dataset backed by a BigQuery table and
// waits for the creation operation.
func (c *Client) CreateDataset(ctx context.Context, sourceURI, displayName string) (domain.DatasetRef, error) {
	op, err := c.svc.Projects.Locations.Datasets.Create(c.parent, &aiplatform.GoogleCloudAiplatformV1Dataset{
		DisplayName:       displayName,
		MetadataSchemaUri: tabularDatasetSchema,
		Metadata: map[string]any{
			"inputConfig": map[string]any{
				"bigquerySource": map[string]any{"uri": sourceURI},
			},
		},
	}).Context(ctx).Do()
	if err != nil {
		return domain.DatasetRef{}, eris.Wrap(err, "model: create dataset")
	}

	var created struct {
		Name string `json:"name"`
	}
	if err := c.waitOperation(ctx, op, &created); err != nil {
		return domain.DatasetRef{}, eris.Wrap(err, "model: create dataset")
	}
	if created.Name == "" {
		return domain.DatasetRef{}, eris.New("model: create dataset: operation returned no dataset")
	}

	zap.L().Info("dataset created",
		zap.String("component", "model"),
		zap.String("dataset", created.Name),
		zap.String("source", sourceURI))
	return domain.DatasetRef{Name: created.Name, DisplayName: displayName}, nil
}

// TrainClassifier runs an AutoML tabular training pipeline on the dataset and
// blocks until it finishes.
func (c *Client) TrainClassifier(ctx context.Context, dataset domain.DatasetRef, spec domain.TrainingSpec) (domain.ModelArtifact, error) {
	transformations := make([]map[string]any, 0, len(spec.Columns))
	for _, col := range spec.Columns {
		if col.Name == spec.TargetColumn {
			continue
		}
		transformations = append(transformations, map[string]any{
			string(col.Kind): map[string]any{"columnName": col.Name},
		})
	}

	pipeline, err := c.svc.Projects.Locations.TrainingPipelines.Create(c.parent, &aiplatform.GoogleCloudAiplatformV1TrainingPipeline{
		DisplayName:            spec.DisplayName,
		TrainingTaskDefinition: automlTablesTask,
		TrainingTaskInputs: map[string]any{
			"targetColumn":              spec.TargetColumn,
			"predictionType":            spec.PredictionType,
			"optimizationObjective":     spec.Objective,
			"trainBudgetMilliNodeHours": spec.BudgetMilliNodeHours,
			"transformations":           transformations,
		},
		InputDataConfig: &aiplatform.GoogleCloudAiplatformV1InputDataConfig{
			DatasetId: lastSegment(dataset.Name),
		},
		ModelToUpload: &aiplatform.GoogleCloudAiplatformV1Model{
			DisplayName: spec.DisplayName,
		},
	}).Context(ctx).Do()
	if err != nil {
		return domain.ModelArtifact{}, eris.Wrap(err, "model: start training pipeline")
	}

	log := zap.L().With(zap.String("component", "model"), zap.String("pipeline", pipeline.Name))
	log.Info("training pipeline started", zap.String("dataset", dataset.Name))

	for !isTerminal(pipeline.State) {
		if err := c.sleep(ctx); err != nil {
			return domain.ModelArtifact{}, eris.Wrap(err, "model: wait for training pipeline")
		}
		pipeline, err = c.svc.Projects.Locations.TrainingPipelines.Get(pipeline.Name).Context(ctx).Do()
		if err != nil {
			return domain.ModelArtifact{}, eris.Wrap(err, "model: poll training pipeline")
		}
		log.Debug("training pipeline state", zap.String("state", pipeline.State))
	}

	if pipeline.State != pipelineSucceeded {
		opErr := &OperationError{Name: pipeline.Name, Message: pipeline.State}
		if pipeline.Error != nil {
			opErr.Code = pipeline.Error.Code
			opErr.Message = pipeline.Error.Message
		}
		return domain.ModelArtifact{}, opErr
	}
	if pipeline.ModelToUpload == nil || pipeline.ModelToUpload.Name == "" {
		return domain.ModelArtifact{}, eris.Errorf("model: pipeline %s succeeded without a model", pipeline.Name)
	}

	log.Info("training pipeline succeeded", zap.String("model", pipeline.ModelToUpload.Name))
	return domain.ModelArtifact{
		Name:        pipeline.ModelToUpload.Name,
		DisplayName: spec.DisplayName,
	}, nil
}

// Deploy creates an endpoint named spec.DisplayName and deploys the
// model to it with dedicated resources taking all traffic.
func (c *Client) Deploy(ctx context.Context, artifact domain.ModelArtifact, spec domain.DeploySpec) (domain.EndpointHandle, error) {
	op, err := c.svc.Projects.Locations.Endpoints.Create(c.parent, &aiplatform.GoogleCloudAiplatformV1Endpoint{
		DisplayName: spec.DisplayName,
	}).Context(ctx).Do()
	if err != nil {
		return domain.EndpointHandle{}, eris.Wrap(err, "model: create endpoint")
	}

	var endpoint struct {
		Name string `json:"name"`
	}
	if err := c.waitOperation(ctx, op, &endpoint); err != nil {
		return domain.EndpointHandle{}, eris.Wrap(err, "model: create endpoint")
	}
	if endpoint.Name == "" {
		return domain.EndpointHandle{}, eris.New("model: create endpoint: operation returned no endpoint")
	}

	op, err = c.svc.Projects.Locations.Endpoints.DeployModel(endpoint.Name, &aiplatform.GoogleCloudAiplatformV1DeployModelRequest{
		DeployedModel: &aiplatform.GoogleCloudAiplatformV1DeployedModel{
			Model:       artifact.Name,
			DisplayName: artifact.DisplayName,
			DedicatedResources: &aiplatform.GoogleCloudAiplatformV1DedicatedResources{
				MachineSpec:     &aiplatform.GoogleCloudAiplatformV1MachineSpec{MachineType: spec.MachineType},
				MinReplicaCount: int64(spec.MinReplicas),
				MaxReplicaCount: int64(spec.MaxReplicas),
			},
		},
		TrafficSplit: map[string]int64{"0": 100},
	}).Context(ctx).Do()
	if err != nil {
		return domain.EndpointHandle{}, eris.Wrapf(err, "model: deploy to %s", endpoint.Name)
	}
	if err := c.waitOperation(ctx, op, nil); err != nil {
		return domain.EndpointHandle{}, eris.Wrapf(err, "model: deploy to %s", endpoint.Name)
	}

	zap.L().Info("model deployed",
		zap.String("component", "model"),
		zap.String("endpoint", endpoint.Name),
		zap.String("model", artifact.Name),
		zap.String("machine_type", spec.MachineType))
	return domain.EndpointHandle{DisplayName: spec.DisplayName, ResourceName: endpoint.Name}, nil
}

// waitOperation polls op until done and decodes its response into out when
// out is non-nil.
func (c *Client) waitOperation(ctx context.Context, op *aiplatform.GoogleLongrunningOperation, out any) error {
	var err error
	for !op.Done {
		if err := c.sleep(ctx); err != nil {
			return err
		}
		name := op.Name
		op, err = c.svc.Projects.Locations.Operations.Get(name).Context(ctx).Do()
		if err != nil {
			return eris.Wrapf(err, "poll operation %s", name)
		}
	}

	if op.Error != nil {
		return &OperationError{Name: op.Name, Code: op.Error.Code, Message: op.Error.Message}
	}
	if out == nil || len(op.Response) == 0 {
		return nil
	}
	return decodeResponse(op.Response, out)
}

func decodeResponse(raw googleapi.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return eris.Wrap(err, "decode operation response")
	}
	return nil
}

func (c *Client) sleep(ctx context.Context) error {
	t := time.NewTimer(c.opts.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isTerminal(state string) bool {
	switch state {
	case pipelineSucceeded, pipelineFailed, pipelineCancelled:
		return true
	default:
		return false
	}
}

func lastSegment(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
