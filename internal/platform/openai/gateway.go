package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/flipsyde/catalogsync/internal/domain"
	"github.com/flipsyde/catalogsync/internal/platform/logger"
)

// Result is the per-item outcome of a gateway batch: exactly one of Vector
// or Err is set.
type Result struct {
	Vector []float32
	Err    error
}

// Gateway wraps the provider client with the batching contract the mapping
// pipeline depends on: one result per input, same order, and a provider
// failure degrades to per-item errors for that batch instead of failing the
// whole call. Empty inputs are rejected up front and never sent upstream.
type Gateway struct {
	log       *logger.Logger
	client    Client
	batchSize int
}

func NewGateway(log *logger.Logger, client Client, batchSize int) (*Gateway, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("client required")
	}
	if batchSize < 1 {
		batchSize = 100
	}
	return &Gateway{
		log:       log.With("service", "EmbeddingGateway"),
		client:    client,
		batchSize: batchSize,
	}, nil
}

// EmbedBatch resolves every text to a vector or an error. len(out) ==
// len(texts) always, positions preserved.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) []Result {
	out := make([]Result, len(texts))

	// Validate first: empty text is a permanent per-item failure, never a
	// retryable provider call.
	sendIdx := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = Result{Err: &domain.ValidationError{Field: "embedding_source_text", Reason: "empty text"}}
			continue
		}
		sendIdx = append(sendIdx, i)
	}

	for start := 0; start < len(sendIdx); start += g.batchSize {
		end := start + g.batchSize
		if end > len(sendIdx) {
			end = len(sendIdx)
		}
		chunk := sendIdx[start:end]

		batch := make([]string, len(chunk))
		for j, idx := range chunk {
			batch[j] = texts[idx]
		}

		vecs, err := g.client.Embed(ctx, batch)
		if err != nil {
			// Retries are exhausted inside the client; mark the batch failed
			// and keep going so one bad batch cannot stall the run.
			g.log.Warn("embedding batch failed", "size", len(batch), "error", err.Error())
			for _, idx := range chunk {
				out[idx] = Result{Err: err}
			}
			if ctx.Err() != nil {
				// Cancellation: fail the remaining batches without more calls.
				for _, rest := range sendIdx[end:] {
					out[rest] = Result{Err: ctx.Err()}
				}
				return out
			}
			continue
		}

		for j, idx := range chunk {
			if len(vecs[j]) != domain.EmbeddingDim {
				out[idx] = Result{Err: fmt.Errorf("embedding dimension mismatch: got %d want %d", len(vecs[j]), domain.EmbeddingDim)}
				continue
			}
			out[idx] = Result{Vector: vecs[j]}
		}
	}

	return out
}
