package cli

import (
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/dshills/paperdex/internal/searcher"
	"github.com/dshills/paperdex/pkg/types"
)

const snippetLength = 300

// queryResult is the JSON shape of one result
type queryResult struct {
	Rank       int     `json:"rank"`
	Similarity float64 `json:"similarity"`
	Category   string  `json:"category"`
	Source     string  `json:"source"`
	Content    string  `json:"content"`
	Annotation string  `json:"annotation,omitempty"`
}

type queryGroup struct {
	Category       string        `json:"category"`
	BestSimilarity float64       `json:"best_similarity"`
	Results        []queryResult `json:"results"`
}

func (a *app) queryCmd() *cobra.Command {
	var (
		topK          int
		category      string
		minSimilarity float64
		group         bool
		asJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Find the stored chunks most similar to a query",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			s, err := a.searcher(c)
			if err != nil {
				return err
			}

			req := searcher.SearchRequest{
				Query:    strings.Join(args, " "),
				TopK:     a.cfg.Search.TopK,
				Category: category,
			}
			if cmd.Flags().Changed("top-k") {
				if topK < 1 || topK > searcher.MaxTopK {
					return goerr.Wrap(types.ErrInvalidParameter, "--top-k must be between 1 and 100",
						goerr.V("top_k", topK))
				}
				req.TopK = topK
			}
			if cmd.Flags().Changed("min-similarity") {
				req.MinSimilarity = &minSimilarity
			}

			resp, err := s.Search(cmd.Context(), req)
			if err != nil {
				return err
			}

			switch {
			case asJSON && group:
				return a.printJSON(toGroups(searcher.GroupByCategory(resp.Results)))
			case asJSON:
				return a.printJSON(toResults(resp.Results))
			case group:
				a.printGroups(searcher.GroupByCategory(resp.Results))
			default:
				a.printResults(resp.Results)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&topK, "top-k", "k", searcher.DefaultTopK, "number of results (1-100)")
	flags.StringVar(&category, "category", "", "only return this category, e.g. finding or method")
	flags.Float64Var(&minSimilarity, "min-similarity", 0, "drop results below this cosine similarity")
	flags.BoolVar(&group, "group", false, "group results by category")
	flags.BoolVar(&asJSON, "json", false, "output results as JSON")
	return cmd
}

func toResults(results []types.SearchResult) []queryResult {
	out := make([]queryResult, len(results))
	for i, r := range results {
		out[i] = queryResult{
			Rank:       r.Rank,
			Similarity: r.Similarity,
			Category:   r.Category,
			Source:     r.Source,
			Content:    r.Content,
			Annotation: r.Annotation,
		}
	}
	return out
}

func toGroups(groups []searcher.CategoryGroup) []queryGroup {
	out := make([]queryGroup, len(groups))
	for i, g := range groups {
		out[i] = queryGroup{
			Category:       g.Category,
			BestSimilarity: g.BestSimilarity,
			Results:        toResults(g.Results),
		}
	}
	return out
}

func (a *app) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal results")
	}
	a.printf("%s\n", data)
	return nil
}

func (a *app) printResults(results []types.SearchResult) {
	if len(results) == 0 {
		a.printf("No results found.\n")
		return
	}
	for _, r := range results {
		a.printf("[%d] %.4f  %s  %s\n", r.Rank, r.Similarity, r.Category, r.Source)
		a.printf("    %s\n\n", snippet(r.Content))
	}
}

func (a *app) printGroups(groups []searcher.CategoryGroup) {
	if len(groups) == 0 {
		a.printf("No results found.\n")
		return
	}
	for _, g := range groups {
		a.printf("== %s (best %.4f) ==\n", g.Category, g.BestSimilarity)
		a.printResults(g.Results)
	}
}

// snippet flattens content to one line and truncates it
func snippet(content string) string {
	s := strings.Join(strings.Fields(content), " ")
	r := []rune(s)
	if len(r) <= snippetLength {
		return s
	}
	return string(r[:snippetLength]) + "..."
}
