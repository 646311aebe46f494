// Package judge handles LLM provider communication, prompt construction, and
// strict-JSON verdict parsing for both evaluation and reflection calls.
//
// The parsing contract is no-throw: a malformed model response yields a nil
// verdict and a warning log, never an error that crosses the package
// boundary. One bad response must reduce report quality, not abort an audit.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"auditflow/internal/schema"
)

// DefaultConfidence is assumed when the model omits a confidence value.
const DefaultConfidence = 0.8

// Provider is the interface for LLM backends.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// NewProvider is the factory for creating LLM providers. It is a package-level
// variable so tests can replace it with a mock without modifying the call site.
// Tests must restore the original value; use t.Cleanup to do so safely.
var NewProvider func(providerName, model string) (Provider, error) = defaultNewProvider

// Options configures a Judge.
type Options struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Judge sends rule/document prompts to an LLM and parses structured verdicts.
// It is shared by the evaluator and the reflection loop.
type Judge struct {
	provider Provider
	opts     Options
	logger   *slog.Logger
}

// New constructs a Judge for the configured provider.
func New(opts Options, logger *slog.Logger) (*Judge, error) {
	provider, err := NewProvider(opts.Provider, opts.Model)
	if err != nil {
		return nil, fmt.Errorf("judge: create provider: %w", err)
	}
	return &Judge{provider: provider, opts: opts, logger: logger}, nil
}

// FoundViolation is one violation instance reported by the model during
// evaluation. Confidence is a pointer so an omitted value can be
// distinguished from an explicit 0.0; callers apply DefaultConfidence.
type FoundViolation struct {
	Evidence    string   `json:"evidence"`
	Location    string   `json:"location"`
	Explanation string   `json:"explanation"`
	Confidence  *float64 `json:"confidence"`
}

// EvaluationVerdict is the parsed response to an evaluation prompt.
type EvaluationVerdict struct {
	Compliant  bool             `json:"compliant"`
	Violations []FoundViolation `json:"violations"`
	Notes      string           `json:"notes"`
}

// ReflectionVerdict is the parsed response to a reflection prompt. The
// pointer fields keep the model's omissions visible so the reflection loop
// can fall back to the original finding's values.
type ReflectionVerdict struct {
	IsValidViolation   *bool    `json:"is_valid_violation"`
	Confidence         *float64 `json:"confidence"`
	Reasoning          string   `json:"reasoning"`
	RefinedExplanation string   `json:"refined_explanation"`
	Recommendation     string   `json:"recommendation"`
}

// EvaluateRule asks the model whether the document corpus violates the rule.
// A transport failure is returned as an error; a malformed response returns
// (nil, nil) after logging a warning.
func (j *Judge) EvaluateRule(ctx context.Context, rule schema.Rule, corpus string) (*EvaluationVerdict, error) {
	raw, err := j.provider.Complete(ctx, evaluationSystemPrompt,
		buildEvaluationPrompt(rule, corpus), j.opts.MaxTokens, j.opts.Temperature)
	if err != nil {
		return nil, fmt.Errorf("judge: complete: %w", err)
	}

	var verdict EvaluationVerdict
	if !j.parseVerdict(raw, &verdict) {
		j.logger.Warn("unparseable evaluation response", "rule_id", rule.ID)
		return nil, nil
	}
	return &verdict, nil
}

// Reflect asks the model to re-examine a previously found violation against
// its originating rule. Same error contract as EvaluateRule.
func (j *Judge) Reflect(ctx context.Context, v schema.Violation, rule schema.Rule) (*ReflectionVerdict, error) {
	raw, err := j.provider.Complete(ctx, reflectionSystemPrompt,
		buildReflectionPrompt(v, rule), j.opts.MaxTokens, j.opts.Temperature)
	if err != nil {
		return nil, fmt.Errorf("judge: complete: %w", err)
	}

	var verdict ReflectionVerdict
	if !j.parseVerdict(raw, &verdict) {
		j.logger.Warn("unparseable reflection response", "rule_id", v.RuleID)
		return nil, nil
	}
	return &verdict, nil
}

// parseVerdict strips markdown fences and unmarshals raw into out, retrying
// once with sanitized escape sequences. Returns false when both attempts fail.
func (j *Judge) parseVerdict(raw string, out any) bool {
	raw = stripMarkdownFences(raw)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		fixed := fixInvalidJSONEscapes(raw)
		if err2 := json.Unmarshal([]byte(fixed), out); err2 != nil {
			j.logger.Warn("json parse failed", "error", err)
			return false
		}
	}
	return true
}

// fenceRe matches a markdown code fence block (``` or ~~~) with an optional
// language tag and captures the content between the fences.
// Both backtick and tilde fence styles are supported. The content group uses
// `.*?` (not `.+?`) to allow empty bodies inside fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line (no closing fence required).
// Used to strip orphaned opening fences from truncated responses.
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// stripMarkdownFences removes leading/trailing markdown code fences that LLMs
// sometimes wrap around JSON output (e.g., "```json\n...\n```").
// If only an opening fence is present (e.g., the response was truncated before
// the closing fence), the opening line is stripped so that the JSON content can
// still be parsed.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	// Handle truncated fenced responses: strip the opening fence line only.
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// invalidJSONEscapeRe matches a backslash followed by any character that is
// not a valid JSON string escape character ("\/bfnrtu). LLMs sometimes emit
// regex patterns (e.g. \d+, \w+) unescaped inside JSON strings; this
// sanitizer converts them to properly double-escaped sequences so that the
// JSON parser accepts the response.
var invalidJSONEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

// fixInvalidJSONEscapes replaces invalid JSON escape sequences in s with
// their correctly double-escaped equivalents.
func fixInvalidJSONEscapes(s string) string {
	return invalidJSONEscapeRe.ReplaceAllString(s, `\\$1`)
}

// ── Prompt construction ──────────────────────────────────────────────────────

const evaluationSystemPrompt = "You are a compliance auditor. " +
	"Respond ONLY with a valid JSON object conforming to the requested format. " +
	"No prose, no markdown, no explanation outside the JSON."

const reflectionSystemPrompt = "You are performing a reflection and quality check " +
	"on a compliance violation finding. " +
	"Respond ONLY with a valid JSON object conforming to the requested format. " +
	"No prose, no markdown, no explanation outside the JSON."

const evaluationSchema = `Respond ONLY with a valid JSON object in this exact format:
{
  "compliant": true/false,
  "violations": [
    {
      "evidence": "quoted text showing the violation",
      "location": "file name or section",
      "explanation": "why this violates the rule",
      "confidence": 0.85
    }
  ],
  "notes": "any additional observations"
}

If no violations found, return: {"compliant": true, "violations": [], "notes": "Rule satisfied"}
`

const reflectionSchema = `Respond ONLY with valid JSON in this format:
{
  "is_valid_violation": true/false,
  "confidence": 0.0-1.0,
  "reasoning": "detailed explanation of your reflection",
  "refined_explanation": "improved explanation if violation is valid",
  "recommendation": "keep, revise, or remove"
}
`

// buildEvaluationPrompt embeds the full rule definition and the labeled
// document corpus. The output is deterministic for a given input.
func buildEvaluationPrompt(rule schema.Rule, corpus string) string {
	var sb strings.Builder

	sb.WriteString("Evaluate the following documents against this compliance rule:\n\n")
	fmt.Fprintf(&sb, "RULE ID: %s\n", rule.ID)
	fmt.Fprintf(&sb, "RULE NAME: %s\n", rule.Name)
	fmt.Fprintf(&sb, "DESCRIPTION: %s\n", rule.Description)
	fmt.Fprintf(&sb, "CATEGORY: %s\n", rule.Category)
	fmt.Fprintf(&sb, "SEVERITY: %s\n", rule.Severity)
	fmt.Fprintf(&sb, "CRITERIA: %s\n", rule.Criteria)
	if len(rule.Examples) > 0 {
		sb.WriteString("\nExamples of violations:\n")
		for _, ex := range rule.Examples {
			fmt.Fprintf(&sb, "- %s\n", ex)
		}
	}

	sb.WriteString("\nDOCUMENTS TO EVALUATE:\n")
	sb.WriteString(corpus)

	sb.WriteString("\nTASK:\n")
	sb.WriteString("Carefully analyze the documents to determine if they violate this compliance rule.\n")
	sb.WriteString("For each violation found, identify:\n")
	sb.WriteString("1. The specific evidence (quote the relevant text)\n")
	sb.WriteString("2. The location (file/section)\n")
	sb.WriteString("3. A clear explanation of why it violates the rule\n")
	sb.WriteString("4. Your confidence level (0.0 to 1.0)\n\n")
	sb.WriteString(evaluationSchema)

	return sb.String()
}

// buildReflectionPrompt embeds the original finding and the rule's criteria
// so the model can reconsider with full context.
func buildReflectionPrompt(v schema.Violation, rule schema.Rule) string {
	location := v.Location
	if location == "" {
		location = "Not specified"
	}

	var sb strings.Builder
	sb.WriteString("ORIGINAL FINDING:\n")
	fmt.Fprintf(&sb, "Rule ID: %s\n", v.RuleID)
	fmt.Fprintf(&sb, "Rule Name: %s\n", v.RuleName)
	fmt.Fprintf(&sb, "Evidence: %s\n", v.Evidence)
	fmt.Fprintf(&sb, "Explanation: %s\n", v.Explanation)
	fmt.Fprintf(&sb, "Location: %s\n", location)
	fmt.Fprintf(&sb, "Current Confidence: %.2f\n", v.Confidence)

	sb.WriteString("\nRULE DETAILS:\n")
	fmt.Fprintf(&sb, "Description: %s\n", rule.Description)
	fmt.Fprintf(&sb, "Criteria: %s\n", rule.Criteria)
	fmt.Fprintf(&sb, "Severity: %s\n", rule.Severity)

	sb.WriteString("\nTASK:\n")
	sb.WriteString("Re-evaluate this finding with fresh eyes. Consider:\n")
	sb.WriteString("1. Is the evidence truly a violation of this rule?\n")
	sb.WriteString("2. Could this be a false positive or misinterpretation?\n")
	sb.WriteString("3. Is there important context that was missed?\n")
	sb.WriteString("4. How confident should we be in this finding?\n\n")
	sb.WriteString(reflectionSchema)

	return sb.String()
}

// ── Provider dispatch ─────────────────────────────────────────────────────────

// defaultNewProvider dispatches to the appropriate provider implementation.
func defaultNewProvider(providerName, model string) (Provider, error) {
	switch strings.ToLower(providerName) {
	case "anthropic", "":
		return newAnthropicProvider(model)
	case "openai":
		return newOpenAIProvider(model)
	case "google":
		return newGoogleProvider(model)
	default:
		return nil, fmt.Errorf("judge: unknown provider %q", providerName)
	}
}

// ── Anthropic provider ───────────────────────────────────────────────────────

// anthropicProvider implements Provider using the Anthropic SDK.
// anthropic.Client is a value type; the SDK's NewClient returns it by value.
type anthropicProvider struct {
	client anthropic.Client
	model  string
}

func newAnthropicProvider(model string) (Provider, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("judge: ANTHROPIC_API_KEY environment variable not set")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &anthropicProvider{client: client, model: model}, nil
}

func (p *anthropicProvider) Complete(
	ctx context.Context,
	systemPrompt, userPrompt string,
	maxTokens int,
	temperature float64,
) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: messages.new: %w", err)
	}

	var parts []string
	for _, block := range msg.Content {
		// block.Type is a string field from the Anthropic API; "text" is the
		// only content type that carries assistant text output. The SDK does
		// not expose a typed constant for content block types in this version.
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("anthropic: response contained no text content blocks")
	}
	return strings.Join(parts, ""), nil
}
