// Package llm is the reasoning collaborator: it turns a truncated build
// log into a structured failure diagnosis via Anthropic or OpenAI.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"buildwatch/internal/domain"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-mini"

type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

type Analyzer struct {
	provider     string
	model        string
	anthropicKey string
	openAIKey    string
}

type Options struct {
	Provider        string
	Model           string
	AnthropicAPIKey string
	OpenAIAPIKey    string
}

func New(opts Options) *Analyzer {
	return &Analyzer{
		provider:     opts.Provider,
		model:        opts.Model,
		anthropicKey: opts.AnthropicAPIKey,
		openAIKey:    opts.OpenAIAPIKey,
	}
}

// Analyze sends one build log to the configured provider and parses the
// structured diagnosis out of the response.
func (a *Analyzer) Analyze(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error) {
	systemPrompt, userPrompt := buildAnalysisPrompts(req)

	var responseText string
	var usage Usage
	var callErr error

	switch a.provider {
	case "openai":
		model := a.model
		if model == "" {
			model = defaultOpenAIModel
		}
		log.Printf("llm analyze provider=openai model=%s job=%s build=%d log_bytes=%d", model, req.Job, req.Number, len(req.Log))
		responseText, usage, callErr = callOpenAI(ctx, a.openAIKey, model, systemPrompt, userPrompt)
	default:
		model := a.model
		if model == "" {
			model = defaultAnthropicModel
		}
		log.Printf("llm analyze provider=anthropic model=%s job=%s build=%d log_bytes=%d", model, req.Job, req.Number, len(req.Log))
		responseText, usage, callErr = callAnthropic(ctx, a.anthropicKey, model, systemPrompt, userPrompt)
	}
	if callErr != nil {
		return domain.AnalysisResult{}, callErr
	}
	result, err := parseAnalysisResponse(responseText)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	log.Printf("llm analyze done job=%s build=%d tokens=%d", req.Job, req.Number, usage.InputTokens+usage.OutputTokens)
	return result, nil
}

func buildAnalysisPrompts(req domain.AnalysisRequest) (string, string) {
	var extras strings.Builder
	if req.DetailedAnalysis {
		extras.WriteString("- Walk through the failure chain step by step; name the exact failing stage, test or command.\n")
	}
	if req.SecurityScan {
		extras.WriteString("- Flag anything in the log that looks like a leaked credential, vulnerable dependency or suspicious download.\n")
	}
	if req.PerformanceMetrics {
		extras.WriteString("- Note build stages with unusual duration or resource exhaustion (OOM, disk full, timeouts).\n")
	}

	systemPrompt := fmt.Sprintf(`You diagnose failed Jenkins CI builds from their console logs.
The log has been truncated to its first lines (setup context) and last kilobytes (failure signals).
%s
Respond with JSON only (no markdown):
{"root_cause": "...", "fix_steps": ["...", "..."], "prevention": "...", "summary": "one short sentence"}`, extras.String())

	userPrompt := fmt.Sprintf("Job: %s\nBuild: #%d\n\nConsole log:\n%s", req.Job, req.Number, req.Log)
	return systemPrompt, userPrompt
}

func parseAnalysisResponse(responseText string) (domain.AnalysisResult, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var parsed struct {
		RootCause  string   `json:"root_cause"`
		FixSteps   []string `json:"fix_steps"`
		Prevention string   `json:"prevention"`
		Summary    string   `json:"summary"`
	}
	if err := json.Unmarshal([]byte(responseText), &parsed); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("parsing LLM analysis response: %w (response: %s)", err, responseText)
	}
	if strings.TrimSpace(parsed.RootCause) == "" {
		return domain.AnalysisResult{}, fmt.Errorf("LLM analysis response has empty root_cause")
	}
	return domain.AnalysisResult{
		RootCause:  strings.TrimSpace(parsed.RootCause),
		FixSteps:   parsed.FixSteps,
		Prevention: strings.TrimSpace(parsed.Prevention),
		Summary:    strings.TrimSpace(parsed.Summary),
	}, nil
}

func callAnthropic(ctx context.Context, apiKey, model, systemPrompt, userPrompt string) (string, Usage, error) {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", Usage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := Usage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d cache_create=%d cache_read=%d", len(block.Text), usage.InputTokens, usage.OutputTokens, usage.CacheCreationInputTokens, usage.CacheReadInputTokens)
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in Anthropic response")
}

// --- OpenAI ---

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func callOpenAI(ctx context.Context, apiKey, model, systemPrompt, userPrompt string) (string, Usage, error) {
	reqBody := openAIRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.openai.com/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", Usage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("llm openai error: %v", err)
		return "", Usage{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("reading response: %w", err)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return "", Usage{}, fmt.Errorf("parsing OpenAI response: %w", err)
	}

	if openAIResp.Error != nil {
		log.Printf("llm openai api error: %s", openAIResp.Error.Message)
		return "", Usage{}, fmt.Errorf("OpenAI API error: %s", openAIResp.Error.Message)
	}

	if len(openAIResp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("no choices in OpenAI response")
	}
	usage := Usage{}
	if openAIResp.Usage != nil {
		usage.InputTokens = openAIResp.Usage.PromptTokens
		usage.OutputTokens = openAIResp.Usage.CompletionTokens
	}

	log.Printf("llm openai response size=%d tokens_in=%d tokens_out=%d", len(openAIResp.Choices[0].Message.Content), usage.InputTokens, usage.OutputTokens)
	return openAIResp.Choices[0].Message.Content, usage, nil
}
