package vectorfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/FeishuCampRAG/rag-sys/internal/core/vectorindex"
)

const (
	defaultModel     = "text-embedding-ada-002"
	defaultDimension = 1536
)

// fileData はベクトルファイルのJSON構造
type fileData struct {
	Metadata fileMetadata         `json:"metadata"`
	Vectors  []vectorindex.Record `json:"vectors"`
}

type fileMetadata struct {
	Model       string    `json:"model"`
	Dimension   int       `json:"dimension"`
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// Index は単一のJSONファイルにベクトルを保存するインデックス。
// 変更は全件書き換えで、読み書きはミューテックスで直列化されます。
// 読み込んだ内容はキャッシュし、ファイルの更新時刻かサイズが変わったときだけ読み直します。
// 別プロセスとの同時書き込みは排他されません。
type Index struct {
	path      string
	model     string
	dimension int
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	data    *fileData
	loaded  bool
	onDisk  bool
	modTime time.Time
	size    int64
}

// Option は Index のオプション
type Option func(*Index)

// WithLogger はロガーを設定します
func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithModel は新規ファイルのメタデータに記録するモデル名と次元数を設定します
func WithModel(model string, dimension int) Option {
	return func(i *Index) {
		if model != "" {
			i.model = model
		}
		if dimension > 0 {
			i.dimension = dimension
		}
	}
}

// WithClock は時刻取得関数を差し替えます（テスト用）
func WithClock(now func() time.Time) Option {
	return func(i *Index) {
		if now != nil {
			i.now = now
		}
	}
}

var _ vectorindex.Index = (*Index)(nil)

// New は path のファイルを使うインデックスを作成します。ファイルは初回アクセス時に読み込まれます。
func New(path string, opts ...Option) *Index {
	idx := &Index{
		path:      path,
		model:     defaultModel,
		dimension: defaultDimension,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Add はレコードを追加してファイルを書き換えます
func (i *Index) Add(ctx context.Context, records []vectorindex.Record) error {
	if len(records) == 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	data, err := i.load()
	if err != nil {
		return err
	}

	for _, r := range records {
		// 次元の異なる埋め込みの混在は検出のみ行う
		if len(r.Embedding) != data.Metadata.Dimension {
			i.logger.WarnContext(ctx, "embedding dimension mismatch",
				"recordID", r.ID,
				"documentID", r.DocumentID,
				"dimension", len(r.Embedding),
				"expected", data.Metadata.Dimension,
			)
		}
	}

	next := &fileData{
		Metadata: data.Metadata,
		Vectors:  append(slices.Clip(data.Vectors), records...),
	}
	if err := i.save(next); err != nil {
		return err
	}

	i.logger.DebugContext(ctx, "vectors added", "count", len(records), "total", len(next.Vectors))
	return nil
}

// DeleteByDocument はドキュメントのレコードを削除します（該当なしでも成功）
func (i *Index) DeleteByDocument(ctx context.Context, documentID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	data, err := i.load()
	if err != nil {
		return err
	}

	kept := make([]vectorindex.Record, 0, len(data.Vectors))
	for _, r := range data.Vectors {
		if r.DocumentID != documentID {
			kept = append(kept, r)
		}
	}

	removed := len(data.Vectors) - len(kept)
	if err := i.save(&fileData{Metadata: data.Metadata, Vectors: kept}); err != nil {
		return err
	}

	i.logger.DebugContext(ctx, "vectors deleted", "documentID", documentID, "count", removed)
	return nil
}

// Search は全レコードとのコサイン類似度で検索します
func (i *Index) Search(ctx context.Context, query []float32, topK int, threshold float64) ([]vectorindex.SearchResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	data, err := i.load()
	if err != nil {
		return nil, err
	}

	return vectorindex.Rank(data.Vectors, query, topK, threshold), nil
}

// Clear は空のストアでファイルを書き換えます
func (i *Index) Clear(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.save(i.empty())
}

// Stats はメタデータを返します
func (i *Index) Stats(ctx context.Context) (vectorindex.Stats, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	data, err := i.load()
	if err != nil {
		return vectorindex.Stats{}, err
	}

	return vectorindex.Stats{
		Model:       data.Metadata.Model,
		Dimension:   data.Metadata.Dimension,
		Count:       len(data.Vectors),
		LastUpdated: data.Metadata.LastUpdated,
	}, nil
}

func (i *Index) empty() *fileData {
	return &fileData{
		Metadata: fileMetadata{
			Model:       i.model,
			Dimension:   i.dimension,
			LastUpdated: i.now().UTC(),
		},
		Vectors: []vectorindex.Record{},
	}
}

// load はファイルが前回の読み書きから変わっていなければキャッシュを返し、
// 変わっていれば読み直します。呼び出し側でロックを保持すること。
func (i *Index) load() (*fileData, error) {
	info, err := os.Stat(i.path)
	if errors.Is(err, os.ErrNotExist) {
		if !i.loaded || i.onDisk {
			i.data = i.empty()
			i.loaded = true
			i.onDisk = false
		}
		return i.data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat vector file: %w", err)
	}
	if i.loaded && i.unchanged(info) {
		return i.data, nil
	}

	raw, err := os.ReadFile(i.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vector file: %w", err)
	}

	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse vector file %s: %w", i.path, err)
	}
	if data.Vectors == nil {
		data.Vectors = []vectorindex.Record{}
	}

	i.data = &data
	i.loaded = true
	i.remember(info)
	return i.data, nil
}

func (i *Index) unchanged(info os.FileInfo) bool {
	return i.onDisk && info.ModTime().Equal(i.modTime) && info.Size() == i.size
}

func (i *Index) remember(info os.FileInfo) {
	i.onDisk = true
	i.modTime = info.ModTime()
	i.size = info.Size()
}

// save はメタデータを更新し、一時ファイル経由でファイル全体を置き換えます
func (i *Index) save(data *fileData) error {
	data.Metadata.Count = len(data.Vectors)
	data.Metadata.LastUpdated = i.now().UTC()

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode vector file: %w", err)
	}

	dir := filepath.Dir(i.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create vector directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".vectors-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write vector file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close vector file: %w", err)
	}
	if err := os.Rename(tmpName, i.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace vector file: %w", err)
	}

	i.data = data
	i.loaded = true
	if info, err := os.Stat(i.path); err == nil {
		i.remember(info)
	} else {
		i.onDisk = false
	}
	return nil
}
