package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// conceptsCmd represents the concepts command
var conceptsCmd = &cobra.Command{
	Use:   "concepts",
	Short: "Manage concept memberships",
	Long: `Maintains which stocks belong to which concept.

Subcommands:
  refresh  - reload memberships from the feed URL or a file
  alias    - map an alternative concept name onto its canonical name
  list     - list concepts with members

Example:
  go run ./cmd/heatrank concepts refresh
  go run ./cmd/heatrank concepts refresh --file members.tsv
  go run ./cmd/heatrank concepts alias 人工智能AI 人工智能`,
}

var (
	conceptsRefreshCmd = &cobra.Command{
		Use:   "refresh",
		Short: "Reload memberships",
		RunE:  runConceptsRefresh,
	}

	conceptsAliasCmd = &cobra.Command{
		Use:   "alias [alias] [canonical]",
		Short: "Save a concept alias",
		Args:  cobra.ExactArgs(2),
		RunE:  runConceptsAlias,
	}

	conceptsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List concepts",
		RunE:  runConceptsList,
	}

	conceptsFile string
)

func init() {
	rootCmd.AddCommand(conceptsCmd)
	conceptsCmd.AddCommand(conceptsRefreshCmd)
	conceptsCmd.AddCommand(conceptsAliasCmd)
	conceptsCmd.AddCommand(conceptsListCmd)

	conceptsRefreshCmd.Flags().StringVar(&conceptsFile, "file", "", "membership file (JSON feed or code<TAB>concepts lines) instead of the feed URL")
}

func runConceptsRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var n int
	if conceptsFile != "" {
		f, err := os.Open(conceptsFile)
		if err != nil {
			return err
		}
		defer f.Close()
		n, err = a.members.RefreshFrom(ctx, f)
		if err != nil {
			return err
		}
	} else if n, err = a.members.Refresh(ctx); err != nil {
		return err
	}

	PrintSuccess(fmt.Sprintf("%d memberships loaded", n))
	PrintWarning("Run 'recompute' for dates whose rankings should reflect the new memberships")
	return nil
}

func runConceptsAlias(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.members.SaveAlias(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	PrintSuccess(fmt.Sprintf("%s → %s", args[0], args[1]))
	return nil
}

func runConceptsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	members, err := a.members.MembersByConcept(cmd.Context())
	if err != nil {
		return err
	}
	names, err := a.members.ConceptNames(cmd.Context())
	if err != nil {
		return err
	}

	widths := []int{24, 8}
	PrintTableHeader([]string{"CONCEPT", "STOCKS"}, widths)
	for _, name := range names {
		PrintTableRow([]string{name, fmt.Sprint(len(members[name]))}, widths)
	}
	return nil
}
