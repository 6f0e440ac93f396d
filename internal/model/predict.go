package model

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"google.golang.org/api/aiplatform/v1"

	"github.com/actuallystonmai/purchase-recommender/internal/domain"
)

// Predict scores a batch against the endpoint. Outputs are returned in batch
// order; the endpoint is trusted to preserve positional correspondence, and
// callers check the count.
func (c *Client) Predict(ctx context.Context, endpoint domain.EndpointHandle, batch []domain.FeatureRecord) ([]domain.ScorePair, error) {
	instances := make([]any, 0, len(batch))
	for _, rec := range batch {
		instances = append(instances, map[string]any{
			"user_id":    rec.UserID,
			"product_id": rec.ProductID,
			"category":   rec.Category,
			"price":      rec.Price,
			"season":     rec.Season,
		})
	}

	resp, err := c.breaker.Execute(func() (*aiplatform.GoogleCloudAiplatformV1PredictResponse, error) {
		return c.svc.Projects.Locations.Endpoints.Predict(endpoint.ResourceName, &aiplatform.GoogleCloudAiplatformV1PredictRequest{
			Instances: instances,
		}).Context(ctx).Do()
	})
	if err != nil {
		return nil, eris.Wrapf(err, "model: predict on %s", endpoint.ResourceName)
	}

	scores := make([]domain.ScorePair, 0, len(resp.Predictions))
	for i, raw := range resp.Predictions {
		pair, err := toScorePair(raw)
		if err != nil {
			return nil, &ModelInferenceError{Msg: fmt.Sprintf("prediction %d: %v", i, err)}
		}
		scores = append(scores, pair)
	}
	return scores, nil
}

type classificationPrediction struct {
	Classes []string  `json:"classes"`
	Scores  []float64 `json:"scores"`
}

// toScorePair accepts the AutoML tabular shape {classes, scores} or a bare
// [negative, positive] array.
func toScorePair(raw any) (domain.ScorePair, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return domain.ScorePair{}, err
	}

	var pair domain.ScorePair
	var bare []float64
	if err := json.Unmarshal(buf, &bare); err == nil {
		if len(bare) != 2 {
			return domain.ScorePair{}, fmt.Errorf("expected 2 scores, got %d", len(bare))
		}
		pair = domain.ScorePair{Negative: bare[0], Positive: bare[1]}
	} else {
		var pred classificationPrediction
		if err := json.Unmarshal(buf, &pred); err != nil {
			return domain.ScorePair{}, fmt.Errorf("unrecognized prediction: %s", buf)
		}
		pair, err = fromClasses(pred)
		if err != nil {
			return domain.ScorePair{}, err
		}
	}

	if !pair.Valid() {
		return domain.ScorePair{}, fmt.Errorf("invalid probabilities %v/%v", pair.Negative, pair.Positive)
	}
	return pair, nil
}

func fromClasses(pred classificationPrediction) (domain.ScorePair, error) {
	if len(pred.Scores) != 2 {
		return domain.ScorePair{}, fmt.Errorf("expected 2 scores, got %d", len(pred.Scores))
	}
	if len(pred.Classes) != len(pred.Scores) {
		return domain.ScorePair{Negative: pred.Scores[0], Positive: pred.Scores[1]}, nil
	}

	pos, neg := -1, -1
	for i, class := range pred.Classes {
		switch strings.ToLower(strings.TrimSpace(class)) {
		case "1", "true":
			pos = i
		case "0", "false":
			neg = i
		}
	}
	if pos < 0 || neg < 0 {
		return domain.ScorePair{}, fmt.Errorf("unknown classes %v", pred.Classes)
	}
	return domain.ScorePair{Negative: pred.Scores[neg], Positive: pred.Scores[pos]}, nil
}
