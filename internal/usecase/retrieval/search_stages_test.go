package retrieval_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-retriever/internal/adapter/repository"
	"rag-retriever/internal/domain"
	"rag-retriever/internal/usecase/retrieval"
)

var rowColumns = []string{"chunk_id", "page_content", "tables", "images", "videos", "references", "category", "url"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newStores(t *testing.T) (pgxmock.PgxPoolIface, domain.ChunkSearchRepository, domain.TransactionManager) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, repository.NewChunkRepository(mock), repository.NewPostgresTransactionManager(mock)
}

var lexCfg = retrieval.LexicalConfig{Limit: 25, FallbackTokens: 10}

func TestCleanQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "máy biến áp là gì?", want: "máy biến áp là gì"},
		{in: "a-b_c (d)!", want: "ab_c d"},
		{in: "220kV, 110kV", want: "220kV 110kV"},
		{in: "?!...", want: ""},
		{in: " \t", want: " \t"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, retrieval.CleanQuery(tt.in))
		})
	}
}

func TestFallbackQuery(t *testing.T) {
	assert.Equal(t, "máy AND biến AND áp", retrieval.FallbackQuery("máy  biến\táp", 10))
	assert.Equal(t, "a AND b", retrieval.FallbackQuery("a b c d", 2))
	assert.Equal(t, "", retrieval.FallbackQuery("   ", 10))
	assert.Equal(t, "t1 AND t2 AND t3 AND t4 AND t5 AND t6 AND t7 AND t8 AND t9 AND t10",
		retrieval.FallbackQuery("t1 t2 t3 t4 t5 t6 t7 t8 t9 t10 t11 t12", 10))
}

func TestLexicalSearch_PrimaryHitsSkipFallback(t *testing.T) {
	mock, repo, txm := newStores(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("page_content @@@ $1")).
		WithArgs("máy biến áp là gì", 25).
		WillReturnRows(pgxmock.NewRows(rowColumns).
			AddRow("c1", "Máy biến áp\n---\nnội dung", "", "", "", "ref-a", "mba", "").
			AddRow("c1", "duplicate row", "", "", "", "", "mba", "").
			AddRow("c2", "no header", "", "", "", "ref-b", "mba", ""))
	mock.ExpectCommit()

	sc := &retrieval.StageContext{RetrievalID: "r1", Query: "máy biến áp là gì?"}
	retrieval.LexicalSearch(context.Background(), sc, repo, txm, lexCfg, discardLogger())

	require.Len(t, sc.LexicalHits, 2)
	assert.Equal(t, "c1", sc.LexicalHits[0].ID)
	assert.Equal(t, "Máy biến áp\nref-a", sc.LexicalHits[0].References)
	assert.Equal(t, "ref-b", sc.LexicalHits[1].References)
	assert.False(t, sc.UsedFallback)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLexicalSearch_ZeroRowsTriggersConjunctiveFallback(t *testing.T) {
	mock, repo, txm := newStores(t)

	query := "t1 t2 t3 t4 t5 t6 t7 t8 t9 t10 t11"
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("page_content @@@ $1")).
		WithArgs(query, 25).
		WillReturnRows(pgxmock.NewRows(rowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("page_content @@@ $1")).
		WithArgs("t1 AND t2 AND t3 AND t4 AND t5 AND t6 AND t7 AND t8 AND t9 AND t10", 25).
		WillReturnRows(pgxmock.NewRows(rowColumns).AddRow("f1", "fallback hit", "", "", "", "", "", ""))
	mock.ExpectCommit()

	sc := &retrieval.StageContext{RetrievalID: "r2", Query: query}
	retrieval.LexicalSearch(context.Background(), sc, repo, txm, lexCfg, discardLogger())

	require.Len(t, sc.LexicalHits, 1)
	assert.Equal(t, "f1", sc.LexicalHits[0].ID)
	assert.True(t, sc.UsedFallback)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLexicalSearch_PunctuationOnlyQueryIssuesNoStatement(t *testing.T) {
	mock, repo, txm := newStores(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	sc := &retrieval.StageContext{RetrievalID: "r3", Query: "?!"}
	retrieval.LexicalSearch(context.Background(), sc, repo, txm, lexCfg, discardLogger())

	assert.Empty(t, sc.LexicalHits)
	assert.False(t, sc.UsedFallback)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLexicalSearch_BackendErrorIsAbsorbed(t *testing.T) {
	mock, repo, txm := newStores(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("page_content @@@ $1")).
		WithArgs("broken query", 25).
		WillReturnError(errors.New("bm25 index missing"))
	mock.ExpectRollback()

	sc := &retrieval.StageContext{RetrievalID: "r4", Query: "broken query"}
	retrieval.LexicalSearch(context.Background(), sc, repo, txm, lexCfg, discardLogger())

	assert.Empty(t, sc.LexicalHits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLexicalSearch_FallbackErrorDiscardsStage(t *testing.T) {
	mock, repo, txm := newStores(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("page_content @@@ $1")).
		WithArgs("a b", 25).
		WillReturnRows(pgxmock.NewRows(rowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("page_content @@@ $1")).
		WithArgs("a AND b", 25).
		WillReturnError(errors.New("parse error"))
	mock.ExpectRollback()

	sc := &retrieval.StageContext{RetrievalID: "r5", Query: "a b"}
	retrieval.LexicalSearch(context.Background(), sc, repo, txm, lexCfg, discardLogger())

	assert.Empty(t, sc.LexicalHits)
	assert.True(t, sc.UsedFallback)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLexicalSearch_CategoryBypass(t *testing.T) {
	for _, raw := range []string{"", domain.AllCategoriesSentinel} {
		t.Run("category="+raw, func(t *testing.T) {
			mock, repo, txm := newStores(t)

			mock.ExpectBegin()
			mock.ExpectQuery(`WHERE page_content @@@ \$1\s+ORDER BY`).
				WithArgs("q", 25).
				WillReturnRows(pgxmock.NewRows(rowColumns).AddRow("c1", "x", "", "", "", "", "any", ""))
			mock.ExpectCommit()

			sc := &retrieval.StageContext{Query: "q", Category: domain.ParseCategoryFilter(raw)}
			retrieval.LexicalSearch(context.Background(), sc, repo, txm, lexCfg, discardLogger())

			assert.Len(t, sc.LexicalHits, 1)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSemanticSearch(t *testing.T) {
	t.Run("fills hits with references joined", func(t *testing.T) {
		mock, repo, txm := newStores(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY embedding <-> $1")).
			WithArgs(pgxmock.AnyArg(), "mba", 25).
			WillReturnRows(pgxmock.NewRows(rowColumns).
				AddRow("s1", "Header\n-----\nbody", "", "", "", "   ", "mba", "").
				AddRow("s2", "plain", "", "", "", "r2", "mba", ""))
		mock.ExpectCommit()

		sc := &retrieval.StageContext{Query: "q", Category: domain.CategoryEquals("mba"), QueryEmbedding: []float32{0.1, 0.2}}
		err := retrieval.SemanticSearch(context.Background(), sc, repo, txm, retrieval.SemanticConfig{Limit: 25}, discardLogger())
		require.NoError(t, err)

		require.Len(t, sc.SemanticHits, 2)
		assert.Equal(t, "Header", sc.SemanticHits[0].References)
		assert.Equal(t, "r2", sc.SemanticHits[1].References)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("storage error propagates", func(t *testing.T) {
		mock, repo, txm := newStores(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY embedding <-> $1")).
			WithArgs(pgxmock.AnyArg(), 25).
			WillReturnError(errors.New("connection refused"))
		mock.ExpectRollback()

		sc := &retrieval.StageContext{Query: "q", QueryEmbedding: []float32{1}}
		err := retrieval.SemanticSearch(context.Background(), sc, repo, txm, retrieval.SemanticConfig{Limit: 25}, discardLogger())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrStorage)
		assert.Empty(t, sc.SemanticHits)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMergeCandidates(t *testing.T) {
	lexical := []domain.DocumentCandidate{{ID: "a", Content: "lexical a"}, {ID: "b"}}
	semantic := []domain.DocumentCandidate{{ID: "c"}, {ID: "a", Content: "semantic a"}, {ID: "d"}, {ID: "c"}}

	merged := retrieval.MergeCandidates(lexical, semantic)

	ids := make([]string, len(merged))
	for i, c := range merged {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
	assert.Equal(t, "lexical a", merged[0].Content)
	assert.Empty(t, retrieval.MergeCandidates(nil, nil))
}

func TestDedupByID(t *testing.T) {
	in := []domain.DocumentCandidate{{ID: "x"}, {ID: "y"}, {ID: "x"}}
	out := retrieval.DedupByID(in)
	require.Len(t, out, 2)
	assert.Equal(t, "x", out[0].ID)
	assert.Equal(t, "y", out[1].ID)
}
