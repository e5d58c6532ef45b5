package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/neurolink/internal/docquery"
	"github.com/MrWong99/neurolink/internal/observe"
)

func newAskCmd(c *cli) *cobra.Command {
	var docPath string
	cmd := &cobra.Command{
		Use:   "ask [--doc FILE.pdf] QUESTION...",
		Short: "Ask the Neuro-Link Communicator about a PDF document",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			question := strings.Join(args, " ")

			var doc *docquery.Document
			gateway := docquery.New(nil)
			if docPath != "" {
				var err error
				if doc, err = docquery.LoadDocument(docPath, cfg.Document.MaxBytes); err != nil {
					return err
				}

				gen, err := buildGenerate(cfg, c.registry())
				if err != nil {
					return err
				}
				gateway = docquery.New(gen,
					docquery.WithPersona(cfg.Document.Persona),
					docquery.WithModel(cfg.Providers.Generate.Model),
					docquery.WithBreaker(newBreaker("document", cfg.Resilience)),
					docquery.WithMetrics(observe.DefaultMetrics(), cfg.Providers.Generate.Name),
				)
			}

			fmt.Fprintln(cmd.OutOrStdout(), gateway.Query(cmd.Context(), doc, question))
			return nil
		},
	}
	cmd.Flags().StringVar(&docPath, "doc", "", "PDF document to answer from")
	return cmd
}
