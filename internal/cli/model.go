package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rpattn/changetrack/internal/registry"
)

// entitySummary is the printable view of one tracked entity.
type entitySummary struct {
	Name       string   `json:"name"`
	Label      string   `json:"label"`
	Keys       []string `json:"keys"`
	Attributes []string `json:"attributes"`
	ObjectID   []string `json:"objectId"`
	Root       string   `json:"root"`
}

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Print the change tracking metadata resolved from the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		if !a.registry.Configured() {
			fmt.Println("change tracking is not configured for this model")
			return nil
		}

		summaries := make([]entitySummary, 0, len(a.registry.Entities()))
		for _, te := range a.registry.Entities() {
			summaries = append(summaries, summarize(te))
		}
		if jsonOutput {
			return outputJSON(summaries)
		}

		fmt.Printf("Change log view: %s\n", a.registry.View())
		for _, s := range summaries {
			fmt.Printf("\n%s (%s)\n", s.Name, s.Label)
			fmt.Printf("  Keys:       %s\n", strings.Join(s.Keys, ", "))
			fmt.Printf("  Attributes: %s\n", strings.Join(s.Attributes, ", "))
			if len(s.ObjectID) > 0 {
				fmt.Printf("  Object ID:  %s\n", strings.Join(s.ObjectID, ", "))
			}
			fmt.Printf("  Root:       %s\n", s.Root)
		}
		return nil
	},
}

func summarize(te *registry.TrackedEntity) entitySummary {
	s := entitySummary{
		Name:  te.Name,
		Label: te.Label,
		Keys:  te.KeyAttributes,
		Root:  te.Name,
	}
	for _, attr := range te.TrackedAttributes {
		s.Attributes = append(s.Attributes, attr.Name)
	}
	for _, group := range te.ObjectIDRule {
		s.ObjectID = append(s.ObjectID, group.Raw)
	}
	if n := len(te.RootPath); n > 0 {
		s.Root = te.RootPath[n-1].Parent
	}
	return s
}

func init() {
	rootCmd.AddCommand(modelCmd)
}
