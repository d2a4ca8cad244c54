package reflector

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"

	"github.com/nextlevelbuilder/goclaw/internal/config"
)

// ResolveEmbeddingFunc returns an OpenAI embedding function when an OpenAI
// key is configured, or nil otherwise. A nil result disables the semantic
// dedup layer entirely; word-Jaccard (isDuplicate in reflector.go) remains
// the mandatory primary path either way.
func ResolveEmbeddingFunc(cfg config.ProvidersConfig, model string) chromem.EmbeddingFunc {
	if cfg.OpenAI.APIKey == "" {
		return nil
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return chromem.NewEmbeddingFuncOpenAI(cfg.OpenAI.APIKey, chromem.EmbeddingModelOpenAI(model))
}

// semanticDedup is an additive embedding-similarity check layered on top of
// the mandatory word-Jaccard dedup in reflectChat: two memories that share
// almost no words ("birthday is in June" vs "born in the sixth month") can
// still be near-duplicates in embedding space. With embed == nil every call
// is a no-op, so the reflector's behavior is unchanged without an OpenAI
// key configured.
type semanticDedup struct {
	embed chromem.EmbeddingFunc
}

func newSemanticDedup(embed chromem.EmbeddingFunc) *semanticDedup {
	if embed == nil {
		return nil
	}
	return &semanticDedup{embed: embed}
}

const semanticDedupThreshold = 0.87

// isDuplicate embeds candidate against a scratch in-memory collection built
// from existing, and reports whether the closest match exceeds
// semanticDedupThreshold. Built fresh per candidate rather than cached
// across reflectChat's loop, since existing grows as memories are inserted.
func (s *semanticDedup) isDuplicate(ctx context.Context, candidate string, existing []string) bool {
	if s == nil || len(existing) == 0 {
		return false
	}
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection("reflector-dedup", nil, s.embed)
	if err != nil {
		return false
	}
	for i, content := range existing {
		if err := col.AddDocument(ctx, chromem.Document{ID: fmt.Sprintf("%d", i), Content: content}); err != nil {
			return false
		}
	}
	if col.Count() == 0 {
		return false
	}
	results, err := col.Query(ctx, candidate, 1, nil, nil)
	if err != nil || len(results) == 0 {
		return false
	}
	return results[0].Similarity >= semanticDedupThreshold
}
