package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/revlens-ai/revlens/config"
	"github.com/revlens-ai/revlens/internal/engine"
	"github.com/revlens-ai/revlens/internal/llm"
	"github.com/revlens-ai/revlens/internal/schema"
	srv "github.com/revlens-ai/revlens/internal/server"
)

func askCMD() *cobra.Command {
	var cfgPath string
	var maxIterations int
	var showTrace bool
	var ask = &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question against the configured backends",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}

			sum, err := schema.Load(cfg.Engine.SchemaPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "schema summary unavailable: %v\n", err)
				sum = &schema.Summary{}
			}
			matcher, err := schema.NewMatcher(sum)
			if err != nil {
				return err
			}
			defer matcher.Close()

			adapters, err := srv.BuildAdapters(cfg)
			if err != nil {
				return err
			}

			var provider llm.Provider
			if cfg.LLM.APIKey != "" {
				provider = llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model,
					cfg.LLM.Temperature, cfg.LLM.MaxTokens, cfg.LLM.Timeout)
			}

			eng := engine.New(engine.Config{
				MaxIterations:       cfg.Engine.MaxIterations,
				ConfidenceThreshold: cfg.Engine.ConfidenceThreshold,
				ToolTimeout:         cfg.Engine.ToolTimeout,
			}, adapters, provider, matcher, nil, nil)

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Engine.RequestTimeout)
			defer cancel()

			q := engine.Question{
				Text:          strings.Join(args, " "),
				SessionID:     uuid.New().String(),
				MaxIterations: maxIterations,
			}
			resp := eng.Answer(ctx, q, engine.NewState(q.SessionID))

			fmt.Println(resp.AnswerText)
			fmt.Printf("\nstatus: %s, confidence: %.2f (%s), iterations: %d\n",
				resp.Status, resp.Confidence, resp.ConfidenceTag, resp.Iterations)
			if resp.Disclosure != "" {
				fmt.Println(resp.Disclosure)
			}
			if showTrace {
				out, _ := json.MarshalIndent(resp.Trace, "", "  ")
				fmt.Println(string(out))
			}
			return nil
		},
	}
	ask.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./revlens.yaml)")
	ask.Flags().IntVar(&maxIterations, "max-iterations", 0, "override the iteration budget")
	ask.Flags().BoolVar(&showTrace, "trace", false, "print the reasoning trace")

	return ask
}
