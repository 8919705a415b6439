package ingestion

import (
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/knowgraph/knowgraph-backend/internal/chunker"
	"github.com/knowgraph/knowgraph-backend/internal/logger"
	"github.com/knowgraph/knowgraph-backend/internal/types"
	"github.com/knowgraph/knowgraph-backend/internal/utils"
)

// Word-to-token conversion bounds and per-chunk prompt overhead.
const (
	tokenFactorLow     = 0.5
	tokenFactorHigh    = 1.6
	promptOverheadTok  = 500
	conceptsPerChunkLo = 5
	conceptsPerChunkHi = 8
	tokensPerConcept   = 8
	minutesPerChunk    = 0.5
)

// AnalyzerRates are the pricing knobs, read from env once at startup.
type AnalyzerRates struct {
	ExtractionUSDPerMTok float64
	EmbeddingUSDPerMTok  float64
	LargeFileChunks      int
}

func RatesFromEnv(log *logger.Logger) AnalyzerRates {
	return AnalyzerRates{
		ExtractionUSDPerMTok: utils.GetEnvAsFloat("EXTRACTION_USD_PER_MTOK", 0.60, log),
		EmbeddingUSDPerMTok:  utils.GetEnvAsFloat("EMBEDDING_USD_PER_MTOK", 0.02, log),
		LargeFileChunks:      utils.GetEnvAsInt("LARGE_FILE_CHUNKS", 100, log),
	}
}

// Analyze is the pure pre-approval cost model. No LLM calls. The result
// is stored on the job and shown to whoever approves it.
func Analyze(content []byte, params chunker.Params, rates AnalyzerRates, activeJobSameHash bool, configSnapshot map[string]any) types.JobAnalysis {
	words := chunker.WordCount(string(content))
	chunks := EstimateChunks(words, params.TargetWords)

	extractLo := int(float64(words)*tokenFactorLow) + chunks*promptOverheadTok
	extractHi := int(float64(words)*tokenFactorHigh) + chunks*promptOverheadTok
	conceptsLo := chunks * conceptsPerChunkLo
	conceptsHi := chunks * conceptsPerChunkHi
	embedTokens := conceptsHi * tokensPerConcept

	extractUSDLo := float64(extractLo) / 1e6 * rates.ExtractionUSDPerMTok
	extractUSDHi := float64(extractHi) / 1e6 * rates.ExtractionUSDPerMTok
	embedUSD := float64(embedTokens) / 1e6 * rates.EmbeddingUSDPerMTok

	analysis := types.JobAnalysis{
		FileStats: types.FileStats{
			SizeBytes:         len(content),
			WordCount:         words,
			EstimatedChunks:   chunks,
			EstimatedConcepts: [2]int{conceptsLo, conceptsHi},
			EstimatedMinutes:  float64(chunks) * minutesPerChunk,
		},
		CostEstimate: types.CostEstimate{
			ExtractionTokens: [2]int{extractLo, extractHi},
			EmbeddingTokens:  embedTokens,
			ExtractionUSD:    [2]float64{extractUSDLo, extractUSDHi},
			EmbeddingUSD:     embedUSD,
			TotalUSD:         [2]float64{extractUSDLo + embedUSD, extractUSDHi + embedUSD},
		},
		ConfigSnapshot: configSnapshot,
		AnalyzedAt:     time.Now().UTC(),
	}

	if rates.LargeFileChunks > 0 && chunks > rates.LargeFileChunks {
		analysis.Warnings = append(analysis.Warnings,
			fmt.Sprintf("large file: %d chunks, roughly %.0f minutes of processing", chunks, analysis.FileStats.EstimatedMinutes))
	}
	if activeJobSameHash {
		analysis.Warnings = append(analysis.Warnings,
			"another active job already carries this content hash")
	}
	if !utf8.Valid(content) {
		analysis.Warnings = append(analysis.Warnings,
			"content is not valid UTF-8; extraction quality may suffer")
	}
	return analysis
}

// EstimateChunks mirrors the chunker's packing closely enough for cost
// estimation: overlap makes effective chunk size about 90% of target.
func EstimateChunks(words, targetWords int) int {
	if words == 0 {
		return 0
	}
	if targetWords <= 0 {
		targetWords = chunker.DefaultParams().TargetWords
	}
	return int(math.Ceil(float64(words) / (float64(targetWords) * 0.9)))
}
