package services

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const (
	keyCheckPrompt      = "Say hello in 3 different languages."
	keyCheckImagePrompt = "a futuristic cityscape at sunset"
)

// GeminiChecker is what the key check needs from the Gemini side.
type GeminiChecker interface {
	ListModels(ctx context.Context) ([]string, error)
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// KeyCheck reports whether both credentials are present and usable by making
// one small request to each service.
type KeyCheck struct {
	Out            io.Writer
	GoogleAPIKey   string
	ReplicateToken string
	Gemini         GeminiChecker
	Predictor      Predictor
	ReplicateModel string
}

// Run prints a report and returns an error when any configured service failed.
func (k *KeyCheck) Run(ctx context.Context) error {
	fmt.Fprintln(k.Out, "Checking API keys...")
	fmt.Fprintln(k.Out, "GOOGLE_API_KEY:", loadedMark(k.GoogleAPIKey))
	fmt.Fprintln(k.Out, "REPLICATE_API_TOKEN:", loadedMark(k.ReplicateToken))

	var failures []error
	if k.GoogleAPIKey != "" && k.Gemini != nil {
		if err := k.checkGemini(ctx); err != nil {
			fmt.Fprintln(k.Out, "Gemini API Test Failed:", err)
			failures = append(failures, err)
		}
	}
	if k.ReplicateToken != "" && k.Predictor != nil {
		if err := k.checkReplicate(ctx); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

func (k *KeyCheck) checkGemini(ctx context.Context) error {
	names, err := k.Gemini.ListModels(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(k.Out, "\nAvailable Gemini Models:")
	for _, name := range names {
		fmt.Fprintln(k.Out, "-", name)
	}

	reply, err := k.Gemini.GenerateText(ctx, keyCheckPrompt)
	if err != nil {
		return err
	}
	fmt.Fprintln(k.Out, "\nGemini API Response:\n", reply)
	return nil
}

func (k *KeyCheck) checkReplicate(ctx context.Context) error {
	input := map[string]interface{}{
		"prompt": keyCheckImagePrompt,
		"width":  512,
		"height": 512,
	}

	urls, err := k.Predictor.Predict(ctx, k.ReplicateToken, k.ReplicateModel, input)
	if err != nil {
		var remote *RemoteServiceError
		if errors.As(err, &remote) {
			fmt.Fprintln(k.Out, "Replicate API Test Failed:", remote.Message)
		} else {
			fmt.Fprintln(k.Out, "Unexpected error with Replicate API:", err)
		}
		return err
	}

	fmt.Fprintln(k.Out, "\nReplicate API Response:")
	for _, url := range urls {
		fmt.Fprintln(k.Out, "Image URL:", url)
	}
	return nil
}

func loadedMark(v string) string {
	if v != "" {
		return "Loaded ✅"
	}
	return "Missing ❌"
}
