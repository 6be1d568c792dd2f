package usecase_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rag-retriever/internal/adapter/bge"
	"rag-retriever/internal/domain"
	"rag-retriever/internal/usecase"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// MockChunkSearchRepository
type MockChunkSearchRepository struct {
	mock.Mock
}

func (m *MockChunkSearchRepository) LexicalSearch(ctx context.Context, query string, filter domain.CategoryFilter, limit int) ([]domain.DocumentCandidate, error) {
	args := m.Called(ctx, query, filter, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DocumentCandidate), args.Error(1)
}

func (m *MockChunkSearchRepository) SemanticSearch(ctx context.Context, vector []float32, filter domain.CategoryFilter, limit int) ([]domain.DocumentCandidate, error) {
	args := m.Called(ctx, vector, filter, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DocumentCandidate), args.Error(1)
}

// MockVectorEncoder
type MockVectorEncoder struct {
	mock.Mock
}

func (m *MockVectorEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockVectorEncoder) Version() string {
	return "mock-v1"
}

// passthroughTx runs fn directly and counts the leased transactions.
type passthroughTx struct {
	calls atomic.Int32
}

func (p *passthroughTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	p.calls.Add(1)
	return fn(ctx)
}

// scoreTableReranker scores by candidate ID, optionally per query.
type scoreTableReranker struct {
	byQuery map[string]map[string]float64
	calls   atomic.Int32
}

func (r *scoreTableReranker) Rerank(ctx context.Context, query string, candidates []domain.RerankCandidate) ([]domain.RerankResult, error) {
	r.calls.Add(1)
	scores := r.byQuery[query]
	out := make([]domain.RerankResult, len(candidates))
	for i, c := range candidates {
		out[i] = domain.RerankResult{ID: c.ID, Score: scores[c.ID]}
	}
	return out, nil
}

func (r *scoreTableReranker) ModelName() string { return "score-table" }

func mbaDoc(id, content string) domain.DocumentCandidate {
	return domain.DocumentCandidate{ID: id, Content: content, Category: "mba", URL: "https://example.com/" + id}
}

func candidateIDs(cs []domain.DocumentCandidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func assertUniqueIDs(t *testing.T, cs []domain.DocumentCandidate) {
	t.Helper()
	seen := map[string]bool{}
	for _, c := range cs {
		assert.False(t, seen[c.ID], "duplicate id %s", c.ID)
		seen[c.ID] = true
	}
}

const fixtureQuery = "máy biến áp là gì"

var fixtureVector = []float32{0.11, 0.22, 0.33}

func TestRetrieveDocuments_Execute_MBAFixture(t *testing.T) {
	repo := new(MockChunkSearchRepository)
	encoder := new(MockVectorEncoder)
	txm := &passthroughTx{}
	mba := domain.CategoryEquals("mba")

	encoder.On("Encode", mock.Anything, []string{fixtureQuery}).Return([][]float32{fixtureVector}, nil).Once()
	repo.On("LexicalSearch", mock.Anything, fixtureQuery, mba, 25).Return([]domain.DocumentCandidate{
		{ID: "d1", Content: "Máy biến áp\n---\nMáy biến áp là thiết bị điện từ tĩnh", References: "IEC 60076", Category: "mba"},
		mbaDoc("d2", "Cấu tạo lõi thép"),
		mbaDoc("d3", "Nguyên lý cảm ứng điện từ"),
	}, nil).Once()
	repo.On("SemanticSearch", mock.Anything, fixtureVector, mba, 25).Return([]domain.DocumentCandidate{
		mbaDoc("d3", "semantic copy of d3"),
		mbaDoc("d4", "Tổn hao không tải"),
		mbaDoc("d5", "Bảo dưỡng máy biến áp"),
	}, nil).Once()

	reranker := &scoreTableReranker{byQuery: map[string]map[string]float64{
		fixtureQuery: {"d1": 2.0, "d2": -3.0, "d3": 0.5, "d4": -1.0, "d5": -1.5},
	}}

	uc := usecase.NewRetrieveDocumentsUsecase(repo, txm, encoder, reranker, usecase.DefaultRetrievalConfig(), testLogger())

	result, err := uc.Execute(context.Background(), domain.QueryContext{Query: fixtureQuery, Category: mba, Threshold: 0.2})
	require.NoError(t, err)

	assert.NotEmpty(t, result.RetrievalID)
	assert.Equal(t, []string{"d1", "d3", "d4"}, candidateIDs(result.FinalRerank))
	assert.Equal(t, []string{"d1", "d3", "d4", "d5"}, candidateIDs(result.BackupRerank))

	// d3 keeps its lexical copy
	assert.Equal(t, "Nguyên lý cảm ứng điện từ", result.FinalRerank[1].Content)
	// header joined with references
	assert.Equal(t, "Máy biến áp\nIEC 60076", result.FinalRerank[0].References)

	for _, c := range result.FinalRerank {
		require.NotNil(t, c.CrossScore)
		assert.GreaterOrEqual(t, *c.CrossScore, 0.2)
		assert.Nil(t, c.Score)
	}
	assertUniqueIDs(t, result.FinalRerank)
	assertUniqueIDs(t, result.BackupRerank)

	assert.Equal(t, int32(1), reranker.calls.Load())
	assert.Equal(t, int32(2), txm.calls.Load())
	repo.AssertExpectations(t)
	encoder.AssertExpectations(t)
}

func TestRetrieveDocuments_Execute_InvalidQuery(t *testing.T) {
	tests := []struct {
		name string
		q    domain.QueryContext
	}{
		{name: "blank query", q: domain.QueryContext{Query: "   ", Threshold: 0.2}},
		{name: "threshold above one", q: domain.QueryContext{Query: "q", Threshold: 1.5}},
		{name: "negative threshold", q: domain.QueryContext{Query: "q", Threshold: -0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockChunkSearchRepository)
			encoder := new(MockVectorEncoder)
			uc := usecase.NewRetrieveDocumentsUsecase(repo, &passthroughTx{}, encoder, &scoreTableReranker{}, usecase.DefaultRetrievalConfig(), testLogger())

			result, err := uc.Execute(context.Background(), tt.q)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, domain.ErrInvalidQuery)
			repo.AssertNotCalled(t, "LexicalSearch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			encoder.AssertNotCalled(t, "Encode", mock.Anything, mock.Anything)
		})
	}
}

func TestRetrieveDocuments_Execute_EmbeddingUnavailableIsFatal(t *testing.T) {
	repo := new(MockChunkSearchRepository)
	encoder := new(MockVectorEncoder)

	encoder.On("Encode", mock.Anything, []string{"q"}).
		Return(nil, fmt.Errorf("%w: attempts exhausted", domain.ErrEmbeddingUnavailable))
	repo.On("LexicalSearch", mock.Anything, "q", domain.AnyCategory(), 25).
		Return([]domain.DocumentCandidate{{ID: "l1"}}, nil).Maybe()

	uc := usecase.NewRetrieveDocumentsUsecase(repo, &passthroughTx{}, encoder, &scoreTableReranker{}, usecase.DefaultRetrievalConfig(), testLogger())

	result, err := uc.Execute(context.Background(), domain.QueryContext{Query: "q", Threshold: 0.2})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	repo.AssertNotCalled(t, "SemanticSearch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRetrieveDocuments_Execute_StorageErrorPropagates(t *testing.T) {
	repo := new(MockChunkSearchRepository)
	encoder := new(MockVectorEncoder)
	reranker := &scoreTableReranker{}

	encoder.On("Encode", mock.Anything, []string{"q"}).Return([][]float32{{1}}, nil)
	repo.On("LexicalSearch", mock.Anything, "q", domain.AnyCategory(), 25).Return([]domain.DocumentCandidate{{ID: "l1"}}, nil)
	repo.On("SemanticSearch", mock.Anything, []float32{1}, domain.AnyCategory(), 25).Return(nil, errors.New("too many connections"))

	uc := usecase.NewRetrieveDocumentsUsecase(repo, &passthroughTx{}, encoder, reranker, usecase.DefaultRetrievalConfig(), testLogger())

	_, err := uc.Execute(context.Background(), domain.QueryContext{Query: "q", Threshold: 0.2})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Zero(t, reranker.calls.Load())
}

func TestRetrieveDocuments_Execute_LexicalFailureIsAbsorbed(t *testing.T) {
	repo := new(MockChunkSearchRepository)
	encoder := new(MockVectorEncoder)

	encoder.On("Encode", mock.Anything, []string{"q"}).Return([][]float32{{1}}, nil)
	repo.On("LexicalSearch", mock.Anything, "q", domain.AnyCategory(), 25).Return(nil, errors.New("bm25 index missing"))
	repo.On("SemanticSearch", mock.Anything, []float32{1}, domain.AnyCategory(), 25).
		Return([]domain.DocumentCandidate{{ID: "s1"}, {ID: "s2"}}, nil)

	reranker := &scoreTableReranker{byQuery: map[string]map[string]float64{"q": {"s1": 1, "s2": 3}}}
	uc := usecase.NewRetrieveDocumentsUsecase(repo, &passthroughTx{}, encoder, reranker, usecase.DefaultRetrievalConfig(), testLogger())

	result, err := uc.Execute(context.Background(), domain.QueryContext{Query: "q", Threshold: 0.2})
	require.NoError(t, err)
	assert.Equal(t, []string{"s2", "s1"}, candidateIDs(result.FinalRerank))
}

func TestRetrieveDocuments_Execute_DegradedWhenRerankerReturns500(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	repo := new(MockChunkSearchRepository)
	encoder := new(MockVectorEncoder)

	encoder.On("Encode", mock.Anything, []string{"q"}).Return([][]float32{{1}}, nil)
	repo.On("LexicalSearch", mock.Anything, "q", domain.AnyCategory(), 25).Return([]domain.DocumentCandidate{
		{ID: "l1"}, {ID: "l2"}, {ID: "l3"}, {ID: "l4"},
	}, nil)
	repo.On("SemanticSearch", mock.Anything, []float32{1}, domain.AnyCategory(), 25).Return([]domain.DocumentCandidate{
		{ID: "l2"}, {ID: "s1"}, {ID: "s2"}, {ID: "s3"},
	}, nil)

	reranker := bge.NewRerankerClient(server.URL, "bge-reranker-v2-m3", time.Second, testLogger())
	uc := usecase.NewRetrieveDocumentsUsecase(repo, &passthroughTx{}, encoder, reranker, usecase.DefaultRetrievalConfig(), testLogger())

	result, err := uc.Execute(context.Background(), domain.QueryContext{Query: "q", Threshold: 0.2})
	require.NoError(t, err)

	assert.Equal(t, []string{"l1", "l2", "l3", "l4", "s1"}, candidateIDs(result.FinalRerank))
	assert.Equal(t, []string{"l1", "l2", "l3"}, candidateIDs(result.BackupRerank))
	for _, c := range append(result.FinalRerank, result.BackupRerank...) {
		assert.Nil(t, c.CrossScore)
	}
}

func TestRetrieveDocuments_Execute_NoCandidates(t *testing.T) {
	repo := new(MockChunkSearchRepository)
	encoder := new(MockVectorEncoder)
	reranker := &scoreTableReranker{}

	encoder.On("Encode", mock.Anything, []string{"q"}).Return([][]float32{{1}}, nil)
	repo.On("LexicalSearch", mock.Anything, "q", domain.AnyCategory(), 25).Return([]domain.DocumentCandidate{}, nil)
	repo.On("SemanticSearch", mock.Anything, []float32{1}, domain.AnyCategory(), 25).Return([]domain.DocumentCandidate{}, nil)

	uc := usecase.NewRetrieveDocumentsUsecase(repo, &passthroughTx{}, encoder, reranker, usecase.DefaultRetrievalConfig(), testLogger())

	result, err := uc.Execute(context.Background(), domain.QueryContext{Query: "q", Threshold: 0.2})
	require.NoError(t, err)
	assert.Empty(t, result.FinalRerank)
	assert.Empty(t, result.BackupRerank)
	assert.Zero(t, reranker.calls.Load())
}

func TestRetrieveDocuments_RetrieveWithFallbackQuery(t *testing.T) {
	setup := func() (*MockChunkSearchRepository, *MockVectorEncoder, *scoreTableReranker) {
		repo := new(MockChunkSearchRepository)
		encoder := new(MockVectorEncoder)
		encoder.On("Encode", mock.Anything, mock.Anything).Return([][]float32{{1}}, nil)
		repo.On("LexicalSearch", mock.Anything, mock.Anything, domain.AnyCategory(), 25).Return([]domain.DocumentCandidate{{ID: "a"}}, nil)
		repo.On("SemanticSearch", mock.Anything, []float32{1}, domain.AnyCategory(), 25).Return([]domain.DocumentCandidate{{ID: "b"}}, nil)
		reranker := &scoreTableReranker{byQuery: map[string]map[string]float64{
			"rewritten": {"a": -10, "b": -10},
			"original":  {"a": 1, "b": 2},
		}}
		return repo, encoder, reranker
	}

	t.Run("retries with original when nothing qualifies", func(t *testing.T) {
		repo, encoder, reranker := setup()
		uc := usecase.NewRetrieveDocumentsUsecase(repo, &passthroughTx{}, encoder, reranker, usecase.DefaultRetrievalConfig(), testLogger())

		result, err := uc.RetrieveWithFallbackQuery(context.Background(), "rewritten", "original", domain.AnyCategory(), 0.2)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, candidateIDs(result.FinalRerank))
		assert.Equal(t, int32(2), reranker.calls.Load())
	})

	t.Run("blank original is not retried", func(t *testing.T) {
		repo, encoder, reranker := setup()
		uc := usecase.NewRetrieveDocumentsUsecase(repo, &passthroughTx{}, encoder, reranker, usecase.DefaultRetrievalConfig(), testLogger())

		result, err := uc.RetrieveWithFallbackQuery(context.Background(), "rewritten", "  ", domain.AnyCategory(), 0.2)
		require.NoError(t, err)
		assert.Empty(t, result.FinalRerank)
		assert.Len(t, result.BackupRerank, 2)
		assert.Equal(t, int32(1), reranker.calls.Load())
	})

	t.Run("identical original is not retried", func(t *testing.T) {
		repo, encoder, reranker := setup()
		uc := usecase.NewRetrieveDocumentsUsecase(repo, &passthroughTx{}, encoder, reranker, usecase.DefaultRetrievalConfig(), testLogger())

		_, err := uc.RetrieveWithFallbackQuery(context.Background(), "rewritten", "rewritten", domain.AnyCategory(), 0.2)
		require.NoError(t, err)
		assert.Equal(t, int32(1), reranker.calls.Load())
	})

	t.Run("qualified results return immediately", func(t *testing.T) {
		repo, encoder, reranker := setup()
		uc := usecase.NewRetrieveDocumentsUsecase(repo, &passthroughTx{}, encoder, reranker, usecase.DefaultRetrievalConfig(), testLogger())

		result, err := uc.RetrieveWithFallbackQuery(context.Background(), "original", "rewritten", domain.AnyCategory(), 0.2)
		require.NoError(t, err)
		assert.NotEmpty(t, result.FinalRerank)
		assert.Equal(t, int32(1), reranker.calls.Load())
	})
}

func TestRetrieveDocuments_Execute_StageLogsCarryBusinessKeys(t *testing.T) {
	repo := new(MockChunkSearchRepository)
	encoder := new(MockVectorEncoder)
	mba := domain.CategoryEquals("mba")

	encoder.On("Encode", mock.Anything, []string{fixtureQuery}).Return([][]float32{fixtureVector}, nil).Once()
	repo.On("LexicalSearch", mock.Anything, fixtureQuery, mba, 25).Return([]domain.DocumentCandidate{mbaDoc("d1", "Máy biến áp")}, nil).Once()
	repo.On("SemanticSearch", mock.Anything, fixtureVector, mba, 25).Return([]domain.DocumentCandidate{mbaDoc("d2", "Tổn hao")}, nil).Once()
	reranker := &scoreTableReranker{byQuery: map[string]map[string]float64{fixtureQuery: {"d1": 1, "d2": -1}}}

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	uc := usecase.NewRetrieveDocumentsUsecase(repo, &passthroughTx{}, encoder, reranker, usecase.DefaultRetrievalConfig(), log)

	result, err := uc.Execute(context.Background(), domain.QueryContext{Query: fixtureQuery, Category: mba, Threshold: 0.2})
	require.NoError(t, err)

	records := map[string]map[string]any{}
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var rec map[string]any
		require.NoError(t, dec.Decode(&rec))
		records[rec["msg"].(string)] = rec
	}

	wantStage := map[string]string{
		"query_embedded":            "embed",
		"lexical_search_completed":  "lexical_search",
		"semantic_search_completed": "semantic_search",
		"reranking_completed":       "rerank",
	}
	for msg, stage := range wantStage {
		rec, ok := records[msg]
		require.True(t, ok, "missing log line %s", msg)
		assert.Equal(t, stage, rec["retriever.stage"], msg)
		assert.Equal(t, result.RetrievalID, rec["retriever.retrieval.id"], msg)
		assert.Equal(t, "mba", rec["retriever.category"], msg)
		assert.NotContains(t, rec, "retrieval_id", msg)
	}

	completed := records["retrieval_completed"]
	require.NotNil(t, completed)
	assert.Equal(t, result.RetrievalID, completed["retriever.retrieval.id"])
	assert.NotContains(t, completed, "retriever.stage")
	assert.NotContains(t, completed, "retrieval_id")
}
