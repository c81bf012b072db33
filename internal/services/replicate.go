package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/replicate/replicate-go"
)

// Predictor runs one hosted prediction and returns the URLs it produced.
type Predictor interface {
	Predict(ctx context.Context, token, model string, input map[string]interface{}) ([]string, error)
}

// ReplicatePredictor calls Replicate with a client built for the caller's token,
// since each session may bring its own. opts are applied after the token.
type ReplicatePredictor struct {
	opts []replicate.ClientOption
}

func NewReplicatePredictor(opts ...replicate.ClientOption) *ReplicatePredictor {
	return &ReplicatePredictor{opts: opts}
}

func (p *ReplicatePredictor) Predict(ctx context.Context, token, model string, input map[string]interface{}) ([]string, error) {
	opts := append([]replicate.ClientOption{replicate.WithToken(token)}, p.opts...)
	client, err := replicate.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Replicate client: %w", err)
	}

	output, err := client.Run(ctx, model, replicate.PredictionInput(input), nil)
	if err != nil {
		return nil, replicateError(err)
	}

	return outputURLs(output)
}

// replicateError turns API rejections and failed predictions into
// RemoteServiceErrors. Anything else stays internal.
func replicateError(err error) error {
	var apiErr *replicate.APIError
	if errors.As(err, &apiErr) {
		return &RemoteServiceError{Service: "replicate", Message: apiErr.Error(), Err: err}
	}

	var modelErr *replicate.ModelError
	if errors.As(err, &modelErr) {
		message := modelErr.Error()
		if modelErr.Prediction != nil && modelErr.Prediction.Error != nil {
			message = fmt.Sprint(modelErr.Prediction.Error)
		}
		return &RemoteServiceError{Service: "replicate", Message: message, Err: err}
	}

	return fmt.Errorf("replicate run failed: %w", err)
}

// outputURLs flattens a prediction output into URL strings, keeping order.
func outputURLs(output interface{}) ([]string, error) {
	switch v := output.(type) {
	case nil:
		return nil, errors.New("replicate returned no output")
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []interface{}:
		urls := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				urls = append(urls, s)
				continue
			}
			urls = append(urls, fmt.Sprint(item))
		}
		return urls, nil
	default:
		return nil, fmt.Errorf("unexpected replicate output type %T", output)
	}
}
