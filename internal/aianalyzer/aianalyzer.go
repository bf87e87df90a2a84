// Package aianalyzer asks an LLM to summarize a failing or flaky test run's
// log output into a short markdown root-cause analysis. It is consulted only
// for runs the Classifier has already marked FAILED or UNSTABLE, and its
// failures never change that classification (spec §4.2 step 9, §7 AI_ANALYSIS).
package aianalyzer

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/volaticloud/runbox/internal/execution"
)

// MaxLogChars is the amount of trailing log text sent to the model, per
// spec §4.2 step 9.
const MaxLogChars = 8000

// MinLogCharsForAnalysis is the minimum buffer length before analysis is
// attempted at all (spec §4.2 step 9).
const MinLogCharsForAnalysis = 50

// Analyzer produces a markdown analysis for a failed or flaky run.
type Analyzer interface {
	Analyze(ctx context.Context, image string, status execution.Status, logTail string) (string, error)
}

// Client is the anthropic-sdk-go-backed Analyzer.
type Client struct {
	anthropic anthropic.Client
	model     anthropic.Model
}

// NewClient builds an Analyzer from RUNBOX_ANTHROPIC_API_KEY. If the key is
// unset, NewClient returns a NoopAnalyzer instead of an error, since AI
// analysis is an optional enrichment, not a required external dependency.
func NewClient() Analyzer {
	apiKey := os.Getenv("RUNBOX_ANTHROPIC_API_KEY")
	if apiKey == "" {
		return NoopAnalyzer{}
	}
	return &Client{
		anthropic: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.ModelClaudeSonnet4_5,
	}
}

// Analyze sends the trimmed log tail to the model and returns its markdown
// response. Any SDK error is returned to the caller, which is expected to
// fall back to a canned string rather than propagate the failure further.
func (c *Client) Analyze(ctx context.Context, image string, status execution.Status, logTail string) (string, error) {
	if len(logTail) > MaxLogChars {
		logTail = logTail[len(logTail)-MaxLogChars:]
	}

	hint := ""
	if status == execution.StatusUnstable {
		hint = " The suite ultimately passed after one or more retries (flaky), so focus on what made the first attempt(s) fail."
	}

	prompt := fmt.Sprintf(
		"A test suite running image %q finished with status %s.%s Given the following log output, "+
			"write a short markdown root-cause analysis: what failed, the likely cause, and one concrete "+
			"suggestion.\n\n```\n%s\n```",
		image, status, hint, logTail,
	)

	msg, err := c.anthropic.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(1024),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic analysis request failed: %w", err)
	}

	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	if out == "" {
		return "", fmt.Errorf("anthropic response contained no text content")
	}
	return out, nil
}

// NoopAnalyzer is used when no API key is configured; it returns a fixed
// placeholder so the Worker's analysis field is never left empty on a
// FAILED/UNSTABLE run.
type NoopAnalyzer struct{}

func (NoopAnalyzer) Analyze(_ context.Context, _ string, status execution.Status, _ string) (string, error) {
	return fmt.Sprintf("AI analysis is not configured for this deployment (status: %s).", status), nil
}

// FallbackAnalysis is what the Worker stores when a configured Analyzer
// errors out mid-call.
func FallbackAnalysis(err error) string {
	return fmt.Sprintf("AI analysis unavailable: %v", err)
}
