package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"stooqfetch/pkg/captcha"
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Inspect the challenge recognition model",
	Long: `Inspect the template model used to solve the site's image challenge.

The model is a labeled set of binary glyph masks produced offline from
manually labeled samples. The live run only ever reads it.`,
}

var modelInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the loaded model's labels and template counts",
	Args:  cobra.NoArgs,
	RunE:  runModelInspect,
}

func init() {
	modelCmd.AddCommand(modelInspectCmd)
	rootCmd.AddCommand(modelCmd)
}

func runModelInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	set, err := captcha.NewStore(cfg.Captcha.ModelPath).Load()
	if err != nil {
		return err
	}

	perLabel := make(map[string]int)
	for _, t := range set.Templates {
		perLabel[t.Label]++
	}
	labels := make([]string, 0, len(perLabel))
	for label := range perLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	fmt.Printf("Model:      %s\n", cfg.Captcha.ModelPath)
	fmt.Printf("Glyph size: %dx%d\n", captcha.GlyphSize, captcha.GlyphSize)
	fmt.Printf("Templates:  %d across %d labels\n", set.Len(), len(labels))
	for _, label := range labels {
		fmt.Printf("  %s: %d\n", label, perLabel[label])
	}
	return nil
}
