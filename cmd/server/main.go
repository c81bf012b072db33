package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Flags
	port string

	// Root command serves the API
	rootCmd = &cobra.Command{
		Use:          "multimodal-backend",
		Short:        "Multimodal chat and image generation API",
		Long:         "Multimodal Backend - chat with Gemini about text and images, and generate images with Stable Diffusion XL on Replicate",
		SilenceUsage: true,
		RunE:         runServe,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		RunE:  runServe,
	}

	checkKeysCmd = &cobra.Command{
		Use:   "check-keys",
		Short: "Verify GOOGLE_API_KEY and REPLICATE_API_TOKEN with one request each",
		RunE:  runCheckKeys,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&port, "port", "", "Port to listen on (overrides PORT)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkKeysCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
