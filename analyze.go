package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"google.golang.org/genai"
	"gopkg.in/yaml.v3"

	"promptforge-server/modules/common/config"
	"promptforge-server/modules/common/gemini"
	"promptforge-server/modules/common/model"
	"promptforge-server/modules/common/utils"
	"promptforge-server/modules/promptforge"
)

// dryRunRequest - --dry-run 출력 (Gemini에 보낼 요청)
type dryRunRequest struct {
	MediaType         string        `json:"mediaType"`
	ImageBytes        int           `json:"imageBytes"`
	ImageBase64       string        `json:"imageBase64"`
	SystemInstruction string        `json:"systemInstruction"`
	ResponseMIMEType  string        `json:"responseMimeType"`
	ResponseSchema    *genai.Schema `json:"responseSchema"`
}

func newAnalyzeCmd() *cobra.Command {
	var (
		output string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "analyze FILE",
		Short: "Analyze one image and print the analysis and prompts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "json" && output != "yaml" {
				return fmt.Errorf("unsupported output format %q (json, yaml)", output)
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			mediaType := utils.DetectImageType(mime.TypeByExtension(filepath.Ext(args[0])), data)
			if !utils.IsAcceptedImageType(mediaType) {
				return fmt.Errorf("unsupported image type: %s (accepted: PNG, JPEG, WEBP)", mediaType)
			}

			if dryRun {
				return printDryRun(cmd.OutOrStdout(), data, mediaType)
			}

			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}

			client, err := gemini.NewClient(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			service := promptforge.NewService(client, promptforge.ParseOptions{StripFences: cfg.StripFences})
			result, err := service.Analyze(cmd.Context(), bytes.NewReader(data), mediaType)
			if err != nil {
				log.Printf("❌ Analysis failed (%s): %v", promptforge.OutcomeLabel(err), err)
				return errors.New(model.FailureMessage)
			}

			return writeResult(cmd.OutOrStdout(), result, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format (json, yaml)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the Gemini request instead of sending it")
	return cmd
}

func writeResult(w io.Writer, result *model.AnalysisResult, output string) error {
	if output == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func printDryRun(w io.Writer, data []byte, mediaType string) error {
	img, err := promptforge.EncodeImage(bytes.NewReader(data), mediaType)
	if err != nil {
		return err
	}
	req := promptforge.BuildRequest(img, promptforge.NewResponseSchema())

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(dryRunRequest{
		MediaType:         img.MediaType,
		ImageBytes:        len(img.Data),
		ImageBase64:       img.Base64(),
		SystemInstruction: promptforge.SystemInstruction,
		ResponseMIMEType:  req.Config.ResponseMIMEType,
		ResponseSchema:    req.Config.ResponseSchema,
	})
}
