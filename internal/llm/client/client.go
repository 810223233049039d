package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"rustsentry/internal/events"
	"rustsentry/internal/logging"
)

// Analyzer is the three-call boundary the pipeline talks to.
type Analyzer interface {
	Analyze(ctx context.Context, block Block) (*Findings, error)
	Remediate(ctx context.Context, block Block, findings *Findings) (*Fix, error)
	Verify(ctx context.Context, block Block, fix *Fix, findings *Findings) (*Verification, error)
}

// Block is the code handed to the model plus its position in the submission.
type Block struct {
	Code      string
	LineStart int
	LineEnd   int
}

type Options struct {
	// Timeout bounds a single model call. Zero means no per-call timeout.
	Timeout time.Duration
	// Limiter throttles calls across all workers. Nil disables throttling.
	Limiter *rate.Limiter
	// Model labels token usage. It does not select the model.
	Model string
	// TrackTokens emits an events.TokenUsage event for every call that reports usage.
	TrackTokens bool
	Events      events.Emitter
}

// LLMClient implements Analyzer over any eino chat model.
type LLMClient struct {
	chat      model.BaseChatModel
	opts      Options
	templates map[Stage]*prompt.DefaultChatTemplate
	log       zerolog.Logger
}

func NewLLMClient(chat model.BaseChatModel, opts Options) (*LLMClient, error) {
	if chat == nil {
		return nil, errors.New("chat model is required")
	}
	templates := make(map[Stage]*prompt.DefaultChatTemplate, 3)
	for _, stage := range []Stage{StageDetect, StageRemediate, StageVerify} {
		tpl, err := loadTemplate(stage)
		if err != nil {
			return nil, err
		}
		templates[stage] = tpl
	}
	return &LLMClient{
		chat:      chat,
		opts:      opts,
		templates: templates,
		log:       logging.Component("llm"),
	}, nil
}

func (c *LLMClient) Analyze(ctx context.Context, block Block) (*Findings, error) {
	content, err := c.call(ctx, StageDetect, map[string]any{
		"code":       block.Code,
		"line_start": block.LineStart,
		"line_end":   block.LineEnd,
	})
	if err != nil {
		return nil, err
	}
	return ParseFindings(content)
}

func (c *LLMClient) Remediate(ctx context.Context, block Block, findings *Findings) (*Fix, error) {
	if findings == nil {
		return nil, errors.New("findings are required")
	}
	content, err := c.call(ctx, StageRemediate, map[string]any{
		"code":               block.Code,
		"vulnerability_type": findings.VulnerabilityType,
		"cwe_id":             orUnknown(findings.CWEID),
		"risk_level":         string(findings.RiskLevel),
		"description":        findings.VulnerabilityDescription,
		"exploitation":       findings.ExploitationScenario,
	})
	if err != nil {
		return nil, err
	}
	return ParseFix(content)
}

func (c *LLMClient) Verify(ctx context.Context, block Block, fix *Fix, findings *Findings) (*Verification, error) {
	if fix == nil || findings == nil {
		return nil, errors.New("fix and findings are required")
	}
	content, err := c.call(ctx, StageVerify, map[string]any{
		"original":           block.Code,
		"fixed":              fix.FixedCode,
		"vulnerability_type": findings.VulnerabilityType,
		"cwe_id":             orUnknown(findings.CWEID),
		"description":        findings.VulnerabilityDescription,
	})
	if err != nil {
		return nil, err
	}
	return ParseVerification(content)
}

func (c *LLMClient) call(ctx context.Context, stage Stage, vars map[string]any) (string, error) {
	messages, err := c.templates[stage].Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("format %s prompt: %w", stage, err)
	}

	if c.opts.Limiter != nil {
		if err := c.opts.Limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", &TransientExternalError{Stage: stage, Err: err}
		}
	}

	callCtx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	msg, err := c.chat.Generate(callCtx, messages)
	if err != nil {
		// the caller went away; not a provider failure
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.log.Warn().Ctx(ctx).Err(err).Str("stage", string(stage)).Dur("elapsed", time.Since(start)).Msg("model call failed")
		return "", &TransientExternalError{Stage: stage, Err: err}
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", &TransientExternalError{Stage: stage, Err: errors.New("empty completion")}
	}

	logEvt := c.log.Debug().Ctx(ctx).Str("stage", string(stage)).Dur("elapsed", time.Since(start)).Int("chars", len(msg.Content))
	if usage := tokenUsage(msg); usage != nil {
		logEvt = logEvt.Int("prompt_tokens", usage.PromptTokens).Int("completion_tokens", usage.CompletionTokens)
		if c.opts.TrackTokens && c.opts.Events != nil {
			c.opts.Events.Emit(ctx, events.NewTokenUsage(logging.GetSessionID(ctx), string(stage), c.opts.Model, usage.PromptTokens, usage.CompletionTokens))
		}
	}
	logEvt.Msg("model call completed")
	return msg.Content, nil
}

func tokenUsage(msg *schema.Message) *schema.TokenUsage {
	if msg.ResponseMeta == nil {
		return nil
	}
	return msg.ResponseMeta.Usage
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unclassified"
	}
	return s
}
