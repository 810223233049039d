package mocks

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type ChatModelMock struct {
	GenerateFunc func(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
	StreamFunc   func(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error)
}

func (m *ChatModelMock) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, input, opts...)
	}
	return nil, errors.New("GenerateFunc not set")
}

func (m *ChatModelMock) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, input, opts...)
	}
	return nil, errors.New("StreamFunc not set")
}
