package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/qbtrules/qbtrules/internal/config"
	"github.com/qbtrules/qbtrules/internal/rules"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Resolve and compile every rule, reporting schema errors",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().Bool("list", false, "print the compiled rule table")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	doc, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return err
	}

	compiled, err := rules.ValidateDocument(doc)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("%s: %d rules valid\n", cfg.RulesFile, len(compiled))

	if list, _ := cmd.Flags().GetBool("list"); list {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tENABLED\tCONTEXT\tSTOP_ON_MATCH\tACTIONS")
		for _, rule := range compiled {
			context := rule.Context
			if context == "" {
				context = "*"
			}
			fmt.Fprintf(w, "%s\t%t\t%s\t%t\t%d\n",
				rule.Name, rule.Enabled, context, rule.StopOnMatch, len(rule.Actions))
		}
		w.Flush()
	}
	return nil
}
