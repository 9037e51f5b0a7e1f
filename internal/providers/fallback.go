package providers

import (
	"context"
	"errors"
	"fmt"

	"researchmcp/internal/util"
)

// FallbackLLM tries each provider in order. Missing keys, quota, rate-limit and
// transient errors move on to the next provider; anything else is returned immediately.
type FallbackLLM struct {
	chain []NamedLLMProvider
}

func NewFallbackLLM(chain ...NamedLLMProvider) *FallbackLLM {
	return &FallbackLLM{chain: chain}
}

func (f *FallbackLLM) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	if len(f.chain) == 0 {
		return GenerateResponse{}, ProviderInfo{}, errors.New("no llm providers configured")
	}
	var (
		lastErr  error
		lastInfo ProviderInfo
	)
	for i, p := range f.chain {
		r := req
		// A model name only makes sense for the provider it was configured for.
		if i > 0 {
			r.Model = ""
		}
		resp, info, err := p.Provider.Generate(ctx, r)
		if err == nil {
			return resp, info, nil
		}
		lastErr, lastInfo = err, info
		if errors.Is(err, util.ErrMissingCredential) {
			continue
		}
		switch ClassifyError(err) {
		case ErrorQuota, ErrorRate, ErrorTransient:
			continue
		default:
			return GenerateResponse{}, info, err
		}
	}
	return GenerateResponse{}, lastInfo, fmt.Errorf("all llm providers failed: %w", lastErr)
}
