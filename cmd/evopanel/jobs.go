package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"evopanel/internal/client"
	"evopanel/internal/panel"
	"evopanel/internal/recipe"
	"evopanel/pkg/types"
)

func (a *app) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models available on the service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.poller()
			if err != nil {
				return err
			}
			res, err := p.WithInitialDelay(a.cfg.Poll.ListDelay.Std()).SubmitAndWait(cmd.Context(), client.EndpointListModels, nil)
			if err != nil {
				return err
			}
			names, err := panel.ModelNames(res)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(a.out, n)
			}
			return nil
		},
	}
}

func (a *app) mergeCmd() *cobra.Command {
	var path, name string
	cmd := &cobra.Command{
		Use:     "merge",
		Short:   "Submit a recipe file as a merge job and wait for the merged model",
		Example: "  evopanel merge --recipe recipe.yaml --name svamp-blend",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := recipe.Load(path)
			if err != nil {
				return err
			}
			if name != "" {
				r.MergedName = name
			}
			if err := recipe.Validate(r); err != nil {
				return err
			}
			p, err := a.poller()
			if err != nil {
				return err
			}
			store, err := a.hintsStore()
			if err != nil {
				return err
			}
			res, err := p.SubmitAndWait(cmd.Context(), client.EndpointMerge, types.NewMergeRequest(r))
			if err != nil {
				return err
			}
			merged, err := panel.MergedModel(res)
			if err != nil {
				return err
			}
			if err := store.Set(merged, len(r.Layers)); err != nil {
				a.log.Warn().Err(err).Str("model", merged).Msg("record merged layer count")
			}
			fmt.Fprintln(a.out, merged)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "recipe", "", "Recipe file (.yaml or .json)")
	cmd.Flags().StringVar(&name, "name", "", "Override the recipe's merged model name")
	_ = cmd.MarkFlagRequired("recipe")
	return cmd
}

func (a *app) generateCmd() *cobra.Command {
	var req types.GenerateRequest
	cmd := &cobra.Command{
		Use:     "generate [prompt...]",
		Short:   "Run inference on a model and print the response",
		Example: "  evopanel generate --model svamp \"A spider has 8 legs. How many legs do 2 spiders have?\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Prompt == "" {
				req.Prompt = strings.Join(args, " ")
			}
			norm, err := panel.NormalizeGenerate(req)
			if err != nil {
				return err
			}
			p, err := a.poller()
			if err != nil {
				return err
			}
			res, err := p.SubmitAndWait(cmd.Context(), client.EndpointGenerate, norm)
			if err != nil {
				return err
			}
			text, err := panel.GenerateText(res)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, text)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.ModelName, "model", "", "Model to run")
	f.StringVar(&req.Prompt, "prompt", "", "Prompt text (or pass it as arguments)")
	f.IntVar(&req.MaxNewTokens, "max-new-tokens", panel.DefaultNewTokens, "Maximum number of new tokens (1-1024)")
	f.Float64Var(&req.Temperature, "temperature", panel.DefaultTemperature, "Sampling temperature (0.1-2.0)")
	return cmd
}
