package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"

	"esicmap/internal/domain"
	"esicmap/internal/port"
	"esicmap/internal/usecase"
)

var (
	queryText     string
	queryCode     string
	queryJSON     bool
	queryNoColor  bool
	recommendWith string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Match a single ESIC title against the ISIC catalogue",
	Long: `Embed a free-text title with the configured model and rank the stored ISIC
entries against it.

Examples:
  esicmap query -q "Growing of teff"
  esicmap query --code A011
  esicmap query -q "Retail of spare parts" --mode distance -k 10 --json`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Ask a generative model to choose among the matches for a title",
	Long: `Match a title like the query command, then send the matches with their
hierarchy and explanatory notes to a generative model and print its
recommended ISIC class.

Examples:
  esicmap recommend -q "Growing of teff"
  esicmap recommend -q "Coffee roasting" --gen-model llama3`,
	Args: cobra.NoArgs,
	RunE: runRecommend,
}

func init() {
	for _, c := range []*cobra.Command{queryCmd, recommendCmd} {
		c.Flags().StringVarP(&queryText, "query", "q", "", "ESIC title to match")
		c.Flags().StringVar(&queryCode, "code", "", "match the title of a stored ESIC category")
		c.MarkFlagsOneRequired("query", "code")
		c.MarkFlagsMutuallyExclusive("query", "code")
		addMatchFlags(c)
		c.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
		c.Flags().BoolVar(&queryNoColor, "no-color", false, "disable score colours")
		rootCmd.AddCommand(c)
	}
	recommendCmd.Flags().StringVar(&recommendWith, "gen-model", "", "generative model (default from config)")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	st, err := openStore(false)
	if err != nil {
		return err
	}
	defer st.Close()

	title, err := queryTitle(cmd.Context(), st)
	if err != nil {
		return err
	}

	queryUC := usecase.NewQueryUseCase(st, newEmbedder(cfg), nil, GetLogger())
	result, err := queryUC.Match(cmd.Context(), title, match.options(cfg))
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		output, _ := json.MarshalIndent(result.Matches, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	if len(result.Matches) == 0 {
		fmt.Println("No matches found.")
		return nil
	}
	fmt.Printf("Top %d ISIC matches for %q (%s):\n\n", len(result.Matches), result.Title, result.Key)
	printMatches(result.Matches)
	return nil
}

func runRecommend(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	st, err := openStore(false)
	if err != nil {
		return err
	}
	defer st.Close()

	genModel := cfg.Generation.Model
	if recommendWith != "" {
		genModel = recommendWith
	}

	title, err := queryTitle(cmd.Context(), st)
	if err != nil {
		return err
	}

	queryUC := usecase.NewQueryUseCase(st, newEmbedder(cfg), newGenerator(cfg), GetLogger())
	fmt.Printf("Asking %s...\n", genModel)
	rec, err := queryUC.Recommend(cmd.Context(), title, match.options(cfg), genModel)
	if err != nil {
		return fmt.Errorf("recommend failed: %w", err)
	}

	if queryJSON {
		output, _ := json.MarshalIndent(struct {
			Title          string         `json:"title"`
			Key            string         `json:"key"`
			Matches        []domain.Match `json:"matches"`
			Recommendation string         `json:"recommendation"`
		}{rec.Title, rec.Key.String(), rec.Matches, rec.Answer}, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("\nTop %d ISIC matches for %q (%s):\n\n", len(rec.Matches), rec.Title, rec.Key)
	printMatches(rec.Matches)
	fmt.Printf("\n--- Recommendation (%s) ---\n%s\n", genModel, rec.Answer)
	return nil
}

// queryTitle returns the --query text, or the stored title for --code.
func queryTitle(ctx context.Context, st port.RecordStore) (string, error) {
	if queryCode == "" {
		return queryText, nil
	}
	rec, err := st.GetESIC(ctx, queryCode)
	if errors.Is(err, port.ErrNotFound) {
		return "", fmt.Errorf("ESIC code %s is not stored; run loadesic first", queryCode)
	}
	if err != nil {
		return "", err
	}
	return rec.Title, nil
}

func printMatches(matches []domain.Match) {
	for i, m := range matches {
		fmt.Printf("%2d. %-7s %s  %s\n", i+1, m.FullCode, scoreLabel(m.Score), m.Description)
		var path []string
		for _, part := range []string{m.SectionLabel, m.DivisionLabel, m.GroupLabel} {
			if part != "" {
				path = append(path, part)
			}
		}
		if len(path) > 0 {
			fmt.Printf("    %s\n", strings.Join(path, " > "))
		}
	}
}

// scoreBand returns the colour for a score: green from 0.85, yellow from
// 0.75, red below.
func scoreBand(score float64) string {
	switch {
	case score >= 0.85:
		return "green"
	case score >= 0.75:
		return "yellow"
	}
	return "red"
}

func scoreLabel(score float64) string {
	s := fmt.Sprintf("%.3f", score)
	if queryNoColor {
		return s
	}
	return colorstring.Color("[" + scoreBand(score) + "]" + s + "[reset]")
}
