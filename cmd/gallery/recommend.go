package main

import (
	"encoding/json"
	"os"

	"github.com/maltedev/furniture-recommender/internal/gallery"
	"github.com/spf13/cobra"
)

var recommendK int

var recommendCmd = &cobra.Command{
	Use:   "recommend <image name>",
	Short: "Print the most similar images for an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := gallery.NewService(nil, loadMatrix(), cfg.Recommender.NumRecommendations, logger)
		res := svc.Recommend(args[0], recommendK)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	recommendCmd.Flags().IntVarP(&recommendK, "k", "k", 0, "number of recommendations (default: NUM_RECOMMENDATIONS)")
}
