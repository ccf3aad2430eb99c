package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
)

// --- Label Model Prompts ---
const LabelSystemPrompt = "You are an image tagging service. You look at a single photograph and name the objects, scenes and concepts it shows. You must output your response as a valid JSON array of strings."
const LabelUserPrompt = `Identify the labels that describe the provided image.

Follow these rules precisely:
1.  Each label is a short noun or noun phrase in Title Case, e.g. "Cat", "Animal", "Sandy Beach".
2.  Order the labels from the most confident to the least confident.
3.  Do not repeat a label.
4.  Return at most %d labels.
5.  The final output MUST be a single, valid JSON array of strings. Do not include any text before or after the JSON array.

Example output format:
["Cat", "Animal", "Pet", "Whiskers"]`

// VertexClient holds the generative model used for label detection.
type VertexClient struct {
	LabelModel *genai.GenerativeModel
	maxLabels  int
	baseClient *genai.Client
}

// NewVertexClient creates a new client with a configured label model.
func NewVertexClient(ctx context.Context, projectID, region, modelName string, maxLabels int, opts ...option.ClientOption) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if maxLabels <= 0 {
		return nil, fmt.Errorf("NewVertexClient: maxLabels must be positive")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region, opts...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	labelModel := baseClient.GenerativeModel(modelName)
	labelModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(LabelSystemPrompt)},
	}
	labelModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	return &VertexClient{
		LabelModel: labelModel,
		maxLabels:  maxLabels,
		baseClient: baseClient,
	}, nil
}

// DetectLabels asks the label model for the labels of a JPEG image. The
// model's order is kept.
func (c *VertexClient) DetectLabels(ctx context.Context, image []byte) ([]string, error) {
	resp, err := c.LabelModel.GenerateContent(ctx,
		genai.ImageData("jpeg", image),
		genai.Text(fmt.Sprintf(LabelUserPrompt, c.maxLabels)),
	)
	if err != nil {
		return nil, fmt.Errorf("label model call failed: %w", err)
	}
	labels, err := parseLabels(responseText(resp))
	if err != nil {
		return nil, err
	}
	if len(labels) > c.maxLabels {
		labels = labels[:c.maxLabels]
	}
	return labels, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

// parseLabels decodes the model's JSON array. Blank and repeated labels are
// dropped; the remaining order is untouched.
func parseLabels(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("label model returned an empty response")
	}

	var raw []string
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse label model response: %w", err)
	}

	seen := make(map[string]bool, len(raw))
	labels := make([]string, 0, len(raw))
	for _, label := range raw {
		label = strings.TrimSpace(label)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	return labels, nil
}
