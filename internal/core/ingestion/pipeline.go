package ingestion

import (
	"context"
	"fmt"
	"sync"

	"github.com/FeishuCampRAG/rag-sys/internal/core/llm"
)

const (
	// DefaultEmbeddingWorkerCount はEmbeddingワーカー数（I/O バウンド）
	DefaultEmbeddingWorkerCount = 4
	// DefaultEmbeddingBatchSize はEmbedding APIのバッチサイズ
	DefaultEmbeddingBatchSize = 100
)

// PipelineConfig は埋め込み処理の設定
type PipelineConfig struct {
	// EmbeddingWorkerCount は同時に送るバッチ数
	EmbeddingWorkerCount int
	// EmbeddingBatchSize は1リクエストあたりのテキスト数
	EmbeddingBatchSize int
}

// DefaultPipelineConfig はデフォルトの設定を返す
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		EmbeddingWorkerCount: DefaultEmbeddingWorkerCount,
		EmbeddingBatchSize:   DefaultEmbeddingBatchSize,
	}
}

func (c PipelineConfig) normalized() PipelineConfig {
	if c.EmbeddingWorkerCount <= 0 {
		c.EmbeddingWorkerCount = DefaultEmbeddingWorkerCount
	}
	if c.EmbeddingBatchSize <= 0 {
		c.EmbeddingBatchSize = DefaultEmbeddingBatchSize
	}
	return c
}

type embeddingTask struct {
	offset int
	texts  []string
}

// embedAll は texts をバッチに分けてワーカーで並列に埋め込み、入力順の結果を返す。
// いずれかのバッチが失敗した時点で残りを打ち切る。
func embedAll(ctx context.Context, embedder llm.Embedder, cfg llm.EmbeddingConfig, texts []string, pc PipelineConfig) ([][]float32, error) {
	pc = pc.normalized()
	results := make([][]float32, len(texts))
	if len(texts) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	tasks := make(chan embeddingTask)
	go func() {
		defer close(tasks)
		for offset := 0; offset < len(texts); offset += pc.EmbeddingBatchSize {
			end := min(offset+pc.EmbeddingBatchSize, len(texts))
			select {
			case tasks <- embeddingTask{offset: offset, texts: texts[offset:end]}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < pc.EmbeddingWorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				vectors, err := embedder.EmbedBatch(ctx, task.texts, cfg)
				if err != nil {
					cancel(err)
					return
				}
				if len(vectors) != len(task.texts) {
					cancel(fmt.Errorf("embedding count mismatch: expected %d, got %d", len(task.texts), len(vectors)))
					return
				}
				// 各ワーカーは重ならない範囲にだけ書き込む
				copy(results[task.offset:], vectors)
			}
		}()
	}
	wg.Wait()

	if err := context.Cause(ctx); err != nil {
		return nil, err
	}
	return results, nil
}
