package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/digkill/SynergyHub/internal/models"
	"github.com/digkill/SynergyHub/internal/pricing"
)

var (
	quoteCatalog string
	quoteCount   int
	quoteWidth   int
	quoteHeight  int
	quoteFactor  int
)

var quoteCmd = &cobra.Command{
	Use:   "quote <operation> <model>",
	Short: "Print the credit price of a request without calling a provider",
	Example: `  hub quote image-generation runware:101@1 --count 4
  hub quote upscale any --width 1024 --height 1024 --factor 2
  hub quote video-generation klingai:2@1`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := pricing.LoadCatalog(quoteCatalog)
		if err != nil {
			return err
		}
		op := models.OperationType(args[0])
		q, err := catalog.Quote(pricing.QuoteInput{
			Operation:     op,
			Model:         args[1],
			Count:         quoteCount,
			Width:         quoteWidth,
			Height:        quoteHeight,
			UpscaleFactor: quoteFactor,
		})
		if err != nil {
			badColor.Printf("Cannot price request: %v\n", err)
			return err
		}

		titleColor.Printf("%s / %s\n", op, args[1])
		fmt.Printf("  provider:     %s\n", q.Descriptor.Provider)
		fmt.Printf("  units:        %d x %s\n", q.Units, q.UnitCredits.String())
		goodColor.Printf("  credits:      %s\n", q.Credits.String())
		fmt.Printf("  provider USD: %s\n", q.ProviderCost.String())
		if !q.Descriptor.SupportsAttachment {
			warnColor.Println("  input images are not accepted by this model")
		}
		return nil
	},
}

func init() {
	quoteCmd.Flags().StringVar(&quoteCatalog, "catalog", "", "model catalog YAML (default is the built-in catalog)")
	quoteCmd.Flags().IntVar(&quoteCount, "count", 1, "number of images")
	quoteCmd.Flags().IntVar(&quoteWidth, "width", 0, "input width in pixels (upscale)")
	quoteCmd.Flags().IntVar(&quoteHeight, "height", 0, "input height in pixels (upscale)")
	quoteCmd.Flags().IntVar(&quoteFactor, "factor", 2, "upscale factor")
}
