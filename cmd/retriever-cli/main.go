package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"rag-retriever/internal/adapter/csvimport"
	"rag-retriever/internal/di"
	"rag-retriever/internal/domain"
	"rag-retriever/internal/infra"
	"rag-retriever/internal/infra/config"
	"rag-retriever/internal/infra/logger"
	"rag-retriever/internal/usecase"
)

var (
	version = "dev"

	// Global flags
	verbose bool

	// Query command flags
	originalQuery string
	category      string

	// Import command flags
	delimiter string
	batchSize int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "retriever-cli",
	Short:   "Query and load the hybrid retrieval index",
	Version: version,
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Run one retrieval and print the result as JSON",
	Long: `Run lexical and vector search, merge the candidates, rerank them with the
cross-encoder and print the final and backup lists.

Examples:
  # Search every category
  retriever-cli query "máy biến áp là gì"

  # Restrict to one category and raise the threshold
  retriever-cli query "máy biến áp là gì" --category mba --threshold 0.5

  # Fall back to the user's original wording when the rewritten query finds nothing
  retriever-cli query "định nghĩa máy biến áp" --original "mba là gì"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load an exported chunk table into the search index",
	Long: `Load a delimited export of the chunk table. The header row names the columns;
chunk_id, page_content and embedding are required. Every row is written in one
transaction, so a bad row leaves the table untouched.

Examples:
  retriever-cli import chunks.csv
  retriever-cli import chunks.tsv --delimiter "	" --batch-size 1000`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	queryCmd.Flags().StringVar(&originalQuery, "original", "", "original user query used when the rewritten one finds nothing")
	queryCmd.Flags().StringVar(&category, "category", domain.AllCategoriesSentinel, "category to search, or All")
	queryCmd.Flags().Float64("threshold", 0, "minimum relevance for the final list in [0, 1] (default from RAG_DEFAULT_THRESHOLD)")

	importCmd.Flags().StringVar(&delimiter, "delimiter", string(csvimport.DefaultDelimiter), "field delimiter")
	importCmd.Flags().IntVar(&batchSize, "batch-size", csvimport.DefaultBatchSize, "rows per COPY batch")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(importCmd)
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	return logger.NewWithOptions(logger.Options{Writer: os.Stderr, Level: level})
}

type session struct {
	cfg    *config.Config
	app    *di.ApplicationComponents
	pool   *pgxpool.Pool
	log    *slog.Logger
	cancel context.CancelFunc
}

func (s *session) Close() {
	s.pool.Close()
	s.cancel()
}

// setup connects to the database and wires the application. The returned context
// is cancelled on SIGINT or SIGTERM.
func setup() (context.Context, *session, error) {
	cfg := config.Load()
	log := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	pool, err := infra.NewPostgresDB(ctx, cfg.DSN(), infra.PoolConfig{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("connect db: %w", err)
	}

	app, err := di.NewApplicationComponents(cfg, pool, pool, log)
	if err != nil {
		pool.Close()
		cancel()
		return nil, nil, err
	}
	return ctx, &session{cfg: cfg, app: app, pool: pool, log: log, cancel: cancel}, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, s, err := setup()
	if err != nil {
		return err
	}
	defer s.Close()

	query := strings.Join(args, " ")
	t, err := queryThreshold(cmd, s.app.RetrievalConfig.DefaultThreshold)
	if err != nil {
		return err
	}
	filter := domain.ParseCategoryFilter(category)

	var result *domain.RetrievalResult
	if strings.TrimSpace(originalQuery) != "" {
		result, err = s.app.RetrieveUsecase.RetrieveWithFallbackQuery(ctx, query, originalQuery, filter, t)
	} else {
		result, err = s.app.RetrieveUsecase.Execute(ctx, domain.QueryContext{Query: query, Category: filter, Threshold: t})
	}
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}

	s.log.Debug("query finished",
		slog.String("retrieval_id", result.RetrievalID),
		slog.Int("final", len(result.FinalRerank)),
		slog.Int("backup", len(result.BackupRerank)))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(result)
}

// queryThreshold returns --threshold when it was given and fallback otherwise.
// Explicit values are not clamped; QueryContext.Validate rejects anything outside [0, 1].
func queryThreshold(cmd *cobra.Command, fallback float64) (float64, error) {
	if !cmd.Flags().Changed("threshold") {
		return fallback, nil
	}
	return cmd.Flags().GetFloat64("threshold")
}

func runImport(cmd *cobra.Command, args []string) error {
	delim, err := csvimport.ParseDelimiter(delimiter)
	if err != nil {
		return err
	}

	ctx, s, err := setup()
	if err != nil {
		return err
	}
	defer s.Close()

	reader, err := csvimport.Open(args[0], csvimport.Options{Delimiter: delim, BatchSize: batchSize})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := reader.Close(); cerr != nil {
			s.log.Warn("failed to close import file", slog.String("error", cerr.Error()))
		}
	}()

	out, err := s.app.ImportUsecase.Execute(ctx, usecase.ImportChunksInput{
		Source:    reader,
		Dimension: s.cfg.Embedding.Dimension,
		Label:     args[0],
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.log.Info("import interrupted, nothing was committed")
		}
		return fmt.Errorf("import %s: %w", args[0], err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Import complete. Read: %d, Inserted: %d, Batches: %d, Duration: %s\n",
		reader.Rows(), out.Rows, out.Batches, out.Duration)
	return nil
}
