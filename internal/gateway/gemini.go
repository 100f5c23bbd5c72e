package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ModelName is the Gemini model used for interpretations.
const ModelName = "gemini-2.0-flash-exp"

// Gateway sends a single-turn prompt to a generative-text provider and
// returns the raw text. Implementations map provider failures to
// *GatewayError; no automatic retries happen at this boundary.
type Gateway interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiGateway talks to Google Gemini. Constructed once per process and
// injected into the orchestrator.
type GeminiGateway struct {
	client *genai.Client
	model  string
}

// NewGeminiGateway builds a gateway. An empty API key is not fatal: the
// client stays nil and every Generate call reports a configuration error,
// which the orchestrator turns into the fallback interpretation.
func NewGeminiGateway(apiKey string) (*GeminiGateway, error) {
	g := &GeminiGateway{model: ModelName}
	if apiKey == "" {
		return g, nil
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	g.client = client
	return g, nil
}

func (g *GeminiGateway) Close() {
	if g.client != nil {
		if err := g.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		}
	}
}

func (g *GeminiGateway) Generate(ctx context.Context, prompt string) (string, error) {
	if g.client == nil {
		return "", &GatewayError{Kind: KindConfiguration, Err: errors.New("GEMINI_API_KEY is not set")}
	}

	model := g.client.GenerativeModel(g.model)
	temp := float32(0.7)
	maxTokens := int32(500)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     &temp,
		MaxOutputTokens: &maxTokens,
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classify(err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &GatewayError{Kind: KindProvider, Err: errors.New("empty response from Gemini")}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			log.Printf("Gemini response part was not text: %T", part)
		}
	}

	if text.Len() == 0 {
		return "", &GatewayError{Kind: KindProvider, Err: errors.New("no text parts in Gemini response")}
	}
	return text.String(), nil
}

func classify(err error) *GatewayError {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 {
			return &GatewayError{Kind: KindRateLimit, Err: err}
		}
		return &GatewayError{Kind: KindProvider, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &GatewayError{Kind: KindTransport, Err: err}
	}

	// Rate limiting can also surface as a gRPC status in the message.
	if strings.Contains(err.Error(), "429") || strings.Contains(strings.ToLower(err.Error()), "resource exhausted") {
		return &GatewayError{Kind: KindRateLimit, Err: err}
	}

	return &GatewayError{Kind: KindTransport, Err: err}
}
