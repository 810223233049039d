package mocks

import (
	"context"

	"rustsentry/internal/llm/client"
)

type AnalyzerMock struct {
	AnalyzeFunc   func(ctx context.Context, block client.Block) (*client.Findings, error)
	RemediateFunc func(ctx context.Context, block client.Block, findings *client.Findings) (*client.Fix, error)
	VerifyFunc    func(ctx context.Context, block client.Block, fix *client.Fix, findings *client.Findings) (*client.Verification, error)
}

func (m *AnalyzerMock) Analyze(ctx context.Context, block client.Block) (*client.Findings, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, block)
	}
	return &client.Findings{VulnerabilityType: "None"}, nil
}

func (m *AnalyzerMock) Remediate(ctx context.Context, block client.Block, findings *client.Findings) (*client.Fix, error) {
	if m.RemediateFunc != nil {
		return m.RemediateFunc(ctx, block, findings)
	}
	return &client.Fix{FixedCode: block.Code}, nil
}

func (m *AnalyzerMock) Verify(ctx context.Context, block client.Block, fix *client.Fix, findings *client.Findings) (*client.Verification, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, block, fix, findings)
	}
	return &client.Verification{Passed: true, NewIssues: []string{}}, nil
}
