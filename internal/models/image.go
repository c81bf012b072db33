package models

// Schedulers accepted by the diffusion model, in the order the form offers them.
var Schedulers = []string{
	"DDIM",
	"DPMSolverMultistep",
	"HeunDiscrete",
	"KarrasDPM",
	"K_EULER_ANCESTRAL",
	"K_EULER",
	"PNDM",
}

type GenerationRequest struct {
	Prompt         string  `json:"prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	NumOutputs     int     `json:"num_outputs"`
	Scheduler      string  `json:"scheduler"`
	Steps          int     `json:"steps"`
	PromptStrength float64 `json:"prompt_strength"`
	APIToken       string  `json:"api_token,omitempty"`
}

type GenerationResult struct {
	Images []string `json:"images"`
}

type GenerationOptions struct {
	Defaults    GenerationRequest `json:"defaults"`
	Schedulers  []string          `json:"schedulers"`
	MinOutputs  int               `json:"min_outputs"`
	MaxOutputs  int               `json:"max_outputs"`
	MinSteps    int               `json:"min_steps"`
	MaxSteps    int               `json:"max_steps"`
	MinStrength float64           `json:"min_prompt_strength"`
	MaxStrength float64           `json:"max_prompt_strength"`
}

type CredentialsRequest struct {
	ReplicateAPIToken string `json:"replicate_api_token"`
}
