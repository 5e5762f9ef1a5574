package lexical

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"

	mnerr "github.com/mnemolite/mnemolite/internal/errors"
)

const (
	codeTokenizerName  = "code_tokenizer"
	codeStopFilterName = "code_stop"
	codeAnalyzerName   = "code_analyzer"
)

func init() {
	registry.RegisterTokenizer(codeTokenizerName, codeTokenizerConstructor)
	registry.RegisterTokenFilter(codeStopFilterName, codeStopFilterConstructor)
}

// Document is one indexable text unit, keyed by chunk fingerprint or
// event id.
type Document struct {
	ID      string `json:"-"`
	Content string `json:"content"`
}

// Hit is one BM25-scored candidate.
type Hit struct {
	ID    string
	Score float64
}

// Index is the lexical backend contract shared by the trigram and BM25
// implementations.
type Index interface {
	Index(ctx context.Context, docs []Document) error
	Delete(ctx context.Context, ids []string) error
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
	DocCount() (uint64, error)
	Close() error
}

// BleveIndex is a BM25 index over code and memory text with a code-aware
// analyzer. An empty path keeps the index in memory.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ Index = (*BleveIndex)(nil)

// NewBleveIndex opens or creates the index at path. A corrupted on-disk
// index is cleared and recreated; the caller must reindex afterwards.
func NewBleveIndex(path string) (*BleveIndex, error) {
	indexMapping, err := codeIndexMapping()
	if err != nil {
		return nil, mnerr.Wrap(mnerr.KindInternal, err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, mnerr.Wrapf(mnerr.KindInternal, err, "create index directory")
		}

		if validErr := checkIndexIntegrity(path); validErr != nil {
			slog.Warn("lexical_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, mnerr.Wrapf(mnerr.KindInternal, removeErr,
					"corrupted index at %s cannot be cleared", path)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("lexical_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, mnerr.Wrapf(mnerr.KindInternal, removeErr,
					"corrupted index at %s cannot be cleared", path)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, mnerr.Wrapf(mnerr.KindInternal, err, "open lexical index")
	}

	return &BleveIndex{index: idx, path: path}, nil
}

// checkIndexIntegrity detects an incomplete or unparseable on-disk index
// before bleve opens it.
func checkIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt") ||
		strings.Contains(msg, "no such file or directory") ||
		err == bleve.ErrorIndexMetaCorrupt
}

func codeIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(codeAnalyzerName, map[string]any{
		"type":      custom.Name,
		"tokenizer": codeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			codeStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = codeAnalyzerName
	return indexMapping, nil
}

// Index adds or replaces documents in one batch.
func (b *BleveIndex) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return mnerr.New(mnerr.KindRetrievalUnavailable, "lexical index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, doc); err != nil {
			return mnerr.Wrapf(mnerr.KindInternal, err, "index document %s", doc.ID)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return mnerr.Wrap(mnerr.KindInternal, err)
	}
	return nil
}

// Delete removes documents by id.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return mnerr.New(mnerr.KindRetrievalUnavailable, "lexical index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return mnerr.Wrap(mnerr.KindInternal, err)
	}
	return nil
}

// Search returns BM25-ranked candidates. An empty query matches nothing.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, mnerr.New(mnerr.KindRetrievalUnavailable, "lexical index is closed")
	}
	if strings.TrimSpace(query) == "" {
		return []Hit{}, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, mnerr.Wrap(mnerr.KindRetrievalUnavailable, err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, Hit{ID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

// DocCount reports the number of indexed documents.
func (b *BleveIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, mnerr.New(mnerr.KindRetrievalUnavailable, "lexical index is closed")
	}
	return b.index.DocCount()
}

// Close releases the index. Subsequent calls are no-ops.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

func codeTokenizerConstructor(config map[string]any, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &codeTokenizer{}, nil
}

// codeTokenizer adapts Tokenize to bleve's analysis stream, locating each
// token's byte span in the original text.
type codeTokenizer struct{}

func (t *codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := Tokenize(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return result
}

func codeStopFilterConstructor(config map[string]any, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &codeStopFilter{stopWords: buildStopWordSet(DefaultStopWords)}, nil
}

type codeStopFilter struct {
	stopWords map[string]struct{}
}

func (f *codeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		term := strings.ToLower(string(token.Term))
		if _, isStop := f.stopWords[term]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
