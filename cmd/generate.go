package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"screentest-backend/internal/model"
	"screentest-backend/internal/screenshots"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	genImages      []string
	genNames       []string
	genOCRFiles    []string
	genCorrections string
	genForce       bool
	genFormat      string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate test cases once from local screenshots and print them",
	Example: `  screentest generate --image login.png --image home.png --name Login --name Home
  screentest generate --name Login --ocr-file login.txt --format yaml`,
	RunE: runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.StringArrayVar(&genImages, "image", nil, "screenshot file, repeat in workflow order")
	f.StringArrayVar(&genNames, "name", nil, "page name, aligned with --image")
	f.StringArrayVar(&genOCRFiles, "ocr-file", nil, "text file with OCR output, aligned with pages")
	f.StringVar(&genCorrections, "corrections", "", "JSON file with element corrections")
	f.BoolVar(&genForce, "force", false, "ignore cached results")
	f.StringVar(&genFormat, "format", "json", "output format: json or yaml")
}

// cliOutput is what generate prints.
type cliOutput struct {
	GenerationID string              `json:"generationId,omitempty" yaml:"generationId,omitempty"`
	Fingerprint  string              `json:"fingerprint" yaml:"fingerprint"`
	CacheHit     bool                `json:"cacheHit" yaml:"cacheHit"`
	TestCases    []model.TestCase    `json:"allTestCases" yaml:"allTestCases"`
	Categorized  map[string][]string `json:"categorized" yaml:"categorized"`
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	if genFormat != "json" && genFormat != "yaml" {
		return fmt.Errorf("unsupported format %q", genFormat)
	}

	cfg, err := loadConfig(cmd.Flags().Changed("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := initLogging(cfg, os.Stderr); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	req, err := buildCLIRequest(genImages, genNames, genOCRFiles, genCorrections, cfg.Upload.MaxImageBytes)
	if err != nil {
		return err
	}
	req.ForceRegenerate = genForce

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.svc.Generate(cmd.Context(), req)
	if err != nil {
		return err
	}

	return writeOutput(cmd.OutOrStdout(), genFormat, cliOutput{
		GenerationID: resp.GenerationID,
		Fingerprint:  resp.Fingerprint,
		CacheHit:     resp.CacheHit,
		TestCases:    resp.AllTestCases,
		Categorized:  resp.Categorized,
	})
}

func buildCLIRequest(images, names, ocrFiles []string, correctionsFile string, maxBytes int64) (model.GenerationRequest, error) {
	var req model.GenerationRequest

	count := len(images)
	if count == 0 {
		count = len(names)
	}
	if count == 0 {
		return req, fmt.Errorf("at least one --image or --name is required")
	}
	if len(images) > 0 && len(names) > 0 && len(names) != len(images) {
		return req, fmt.Errorf("got %d names for %d images", len(names), len(images))
	}
	if len(ocrFiles) > count {
		return req, fmt.Errorf("got %d OCR files for %d pages", len(ocrFiles), count)
	}

	req.Pages = make([]model.PageInput, count)
	for i := range req.Pages {
		page := model.PageInput{Index: i}
		if i < len(names) {
			page.Name = names[i]
		}
		if i < len(images) {
			data, mimeType, err := readImageFile(images[i], maxBytes)
			if err != nil {
				return req, err
			}
			page.Filename = filepath.Base(images[i])
			page.Image = data
			page.MIMEType = mimeType
			if page.Name == "" {
				page.Name = strings.TrimSuffix(page.Filename, filepath.Ext(page.Filename))
			}
		}
		if i < len(ocrFiles) {
			text, err := os.ReadFile(ocrFiles[i])
			if err != nil {
				return req, fmt.Errorf("read OCR file: %w", err)
			}
			page.OCRText = string(text)
		}
		req.Pages[i] = page
	}

	if correctionsFile != "" {
		data, err := os.ReadFile(correctionsFile)
		if err != nil {
			return req, fmt.Errorf("read corrections: %w", err)
		}
		if err := json.Unmarshal(data, &req.Corrections); err != nil {
			return req, fmt.Errorf("corrections must be a JSON array: %w", err)
		}
	}
	return req, nil
}

func readImageFile(path string, maxBytes int64) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	data, mimeType, err := screenshots.ReadImage(f, maxBytes)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return data, mimeType, nil
}

func writeOutput(w io.Writer, format string, v interface{}) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
