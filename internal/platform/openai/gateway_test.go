package openai

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/flipsyde/catalogsync/internal/domain"
	"github.com/flipsyde/catalogsync/internal/platform/logger"
)

type fakeClient struct {
	calls [][]string
	fail  func(batch []string) error
}

func (f *fakeClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.calls = append(f.calls, inputs)
	if f.fail != nil {
		if err := f.fail(inputs); err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = make([]float32, domain.EmbeddingDim)
		out[i][0] = float32(i + 1)
	}
	return out, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestEmbedBatchPartialFailure(t *testing.T) {
	// 50 texts, 3 empty: 47 succeed, 3 fail permanently, run continues.
	texts := make([]string, 50)
	for i := range texts {
		texts[i] = fmt.Sprintf("product %d", i)
	}
	texts[7] = ""
	texts[21] = "   "
	texts[49] = ""

	fc := &fakeClient{}
	gw, err := NewGateway(testLogger(t), fc, 100)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	results := gw.EmbedBatch(context.Background(), texts)
	if len(results) != 50 {
		t.Fatalf("got %d results, want 50", len(results))
	}

	succeeded, failed := 0, 0
	for i, r := range results {
		switch {
		case r.Err != nil:
			failed++
			if !domain.IsValidation(r.Err) {
				t.Errorf("result %d: expected validation error, got %v", i, r.Err)
			}
		case len(r.Vector) == domain.EmbeddingDim:
			succeeded++
		default:
			t.Errorf("result %d has neither vector nor error", i)
		}
	}
	if succeeded != 47 || failed != 3 {
		t.Fatalf("got %d succeeded / %d failed, want 47 / 3", succeeded, failed)
	}

	// Empty texts must never reach the provider.
	for _, call := range fc.calls {
		if len(call) != 47 {
			t.Fatalf("provider call carried %d texts, want 47", len(call))
		}
	}
}

func TestEmbedBatchFailureIsolatedPerBatch(t *testing.T) {
	var batchNo int
	fc := &fakeClient{
		fail: func(batch []string) error {
			batchNo++
			if batchNo == 1 {
				return errors.New("rate limited")
			}
			return nil
		},
	}
	gw, err := NewGateway(testLogger(t), fc, 2)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	results := gw.EmbedBatch(context.Background(), []string{"a", "b", "c", "d"})

	// First batch (a, b) fails, second (c, d) succeeds.
	for _, i := range []int{0, 1} {
		if results[i].Err == nil {
			t.Errorf("result %d: expected error from failed batch", i)
		}
	}
	for _, i := range []int{2, 3} {
		if results[i].Err != nil {
			t.Errorf("result %d: unexpected error %v", i, results[i].Err)
		}
		if len(results[i].Vector) != domain.EmbeddingDim {
			t.Errorf("result %d: missing vector", i)
		}
	}
}

func TestEmbedBatchOrderPreserved(t *testing.T) {
	fc := &fakeClient{}
	gw, err := NewGateway(testLogger(t), fc, 100)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	results := gw.EmbedBatch(context.Background(), []string{"x", "y", "z"})
	for i, want := range []float32{1, 2, 3} {
		if results[i].Vector[0] != want {
			t.Errorf("result %d leading value = %v, want %v", i, results[i].Vector[0], want)
		}
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	gw, err := NewGateway(testLogger(t), &fakeClient{}, 100)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	if results := gw.EmbedBatch(context.Background(), nil); len(results) != 0 {
		t.Fatalf("got %d results for empty input, want 0", len(results))
	}
}
