package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/samber/lo"

	"github.com/bityield/yieldr/internal/config"
	"github.com/bityield/yieldr/internal/models"
)

const aiSystemPrompt = `You are a DeFi yield analyst for sBTC deposits on the Stacks blockchain.
You are given the pool that a deterministic ranking engine already selected, plus its runners-up
and the user's stated preferences. Your job is ONLY to write the narrative: explain the selection,
assess its risks and list concrete warnings. Do not pick a different pool and do not invent numbers.
Respond with a single JSON object: {"reasoning": string, "risk_assessment": string, "warnings": [string]}.`

// AIRecommender keeps the deterministic candidate selection and defers the
// narrative fields to a chat completion in JSON mode.
type AIRecommender struct {
	client  openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

func NewAIRecommender(cfg config.RecommendationConfig, logger *slog.Logger) *AIRecommender {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AIRecommender{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		timeout: time.Duration(cfg.Timeout) * time.Second,
		logger:  logger,
	}
}

func (a *AIRecommender) Recommend(ctx context.Context, opportunities []models.YieldOpportunity, pref models.UserPreference, dataAge time.Duration) (*models.Recommendation, error) {
	chosen, runnersUp, err := selectCandidates(opportunities, pref)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	param := openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(aiSystemPrompt),
			openai.UserMessage(buildNarrativePrompt(chosen, runnersUp, pref, dataAge)),
		},
		Temperature: openai.Float(0.2),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: lo.ToPtr(shared.NewResponseFormatJSONObjectParam()),
		},
	}

	completion, err := a.client.Chat.Completions.New(ctx, param)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	n, err := parseNarrative(completion)
	if err != nil {
		return nil, err
	}

	rec := buildRecommendation(chosen, runnersUp, pref, dataAge, models.SourceAI)
	rec.Reasoning = n.Reasoning
	rec.RiskAssessment = n.RiskAssessment
	rec.Warnings = mergeWarnings(standardWarnings(chosen, dataAge), n.Warnings)
	return rec, nil
}

// parseNarrative decodes the completion body, repairing near-JSON output
// before giving up.
func parseNarrative(completion *openai.ChatCompletion) (narrative, error) {
	if len(completion.Choices) == 0 {
		return narrative{}, fmt.Errorf("completion has no choices")
	}
	repaired, err := jsonrepair.JSONRepair(completion.Choices[0].Message.Content)
	if err != nil {
		return narrative{}, fmt.Errorf("repair completion JSON: %w", err)
	}
	var n narrative
	if err := json.Unmarshal([]byte(repaired), &n); err != nil {
		return narrative{}, fmt.Errorf("parse completion JSON: %w", err)
	}
	if n.Reasoning == "" || n.RiskAssessment == "" {
		return narrative{}, fmt.Errorf("completion missing narrative fields")
	}
	return n, nil
}

func buildNarrativePrompt(chosen models.YieldOpportunity, runnersUp []models.YieldOpportunity, pref models.UserPreference, dataAge time.Duration) string {
	var b strings.Builder

	b.WriteString("User preference:\n")
	fmt.Fprintf(&b, "- amount: %d sats\n- risk tolerance: %s\n", pref.AmountSats, pref.RiskTolerance)
	if pref.MinAPY > 0 {
		fmt.Fprintf(&b, "- minimum APY: %.2f%%\n", pref.MinAPY)
	}
	if pref.AvoidImpermanentLoss {
		b.WriteString("- wants to avoid impermanent loss\n")
	}
	if pref.MaxLockPeriodDays != nil {
		fmt.Fprintf(&b, "- maximum lock period: %d days\n", *pref.MaxLockPeriodDays)
	}

	b.WriteString("\nSelected pool:\n")
	writePoolSummary(&b, chosen)

	if len(runnersUp) > 0 {
		b.WriteString("\nRunners-up:\n")
		for _, alt := range runnersUp {
			writePoolSummary(&b, alt)
		}
	}

	fmt.Fprintf(&b, "\nYield data is %d seconds old.\n", int64(dataAge.Seconds()))
	return b.String()
}

func writePoolSummary(b *strings.Builder, o models.YieldOpportunity) {
	fmt.Fprintf(b, "- %s (%s, %s): APY %.2f%%, TVL $%.0f, 24h volume $%.0f, risk %s, IL risk %t, lock %d days",
		o.PoolName, o.Protocol, o.ProtocolType, o.APY, o.TVLUSD, o.Volume24hUSD, o.RiskLevel, o.ImpermanentLossRisk, o.LockPeriodDays)
	if len(o.RiskFactors) > 0 {
		fmt.Fprintf(b, ", factors: %s", strings.Join(o.RiskFactors, "; "))
	}
	b.WriteString("\n")
}

// mergeWarnings appends model warnings to the derived ones, dropping
// duplicates.
func mergeWarnings(derived, fromModel []string) []string {
	return lo.Uniq(append(derived, fromModel...))
}
