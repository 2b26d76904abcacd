package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lookup-bot/internal/httpclient"
	"github.com/sells-group/lookup-bot/internal/pipeline"
)

var (
	askSaveCorpus string
	askFormat     string
)

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Run a single lookup from the terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if askFormat != "text" && askFormat != "yaml" {
			return eris.Errorf("unknown format %q (want text or yaml)", askFormat)
		}
		query := strings.TrimSpace(strings.Join(args, " "))
		if query == "" {
			return eris.New("query is empty")
		}

		p, release, err := newPipeline(cfg)
		if err != nil {
			return err
		}
		defer httpclient.Close()
		defer release()

		res, err := p.Run(cmd.Context(), query, nil)
		if err != nil {
			return err
		}

		if askSaveCorpus != "" {
			if err := os.WriteFile(askSaveCorpus, []byte(res.Corpus), 0o644); err != nil {
				return eris.Wrapf(err, "save corpus to %s", askSaveCorpus)
			}
			zap.L().Info("corpus saved", zap.String("path", askSaveCorpus), zap.Int("chars", len([]rune(res.Corpus))))
		}

		return writeResult(cmd.OutOrStdout(), res, askFormat)
	},
}

// writeResult prints res as plain text or YAML.
func writeResult(w io.Writer, res *pipeline.Result, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	}
	_, err := fmt.Fprintln(w, res.Text(pipeline.NoAnswer))
	return err
}

func init() {
	askCmd.Flags().StringVar(&askSaveCorpus, "save-corpus", "", "write the aggregated corpus to this file")
	askCmd.Flags().StringVar(&askFormat, "format", "text", "output format: text or yaml")
	rootCmd.AddCommand(askCmd)
}
