package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"evopanel/internal/panel"
	"evopanel/internal/recipe"
	"evopanel/pkg/types"
)

func (a *app) recipeCmd() *cobra.Command {
	var (
		out, model1, model2 string
		layers              int
		random              bool
	)
	initCmd := &cobra.Command{
		Use:     "init",
		Short:   "Write a new recipe file",
		Example: "  evopanel recipe init --out recipe.yaml --model1 svamp --model2 tinystories --layers 16 --random",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if layers == 0 {
				layers = a.cfg.OutputLayers
			}
			if layers < 1 || layers > panel.DefaultMaxOutputLayers {
				return fmt.Errorf("layers must be between 1 and %d", panel.DefaultMaxOutputLayers)
			}
			store, err := a.hintsStore()
			if err != nil {
				return err
			}
			if err := store.InitializeDefaults(model1, model2); err != nil {
				return err
			}
			ed := recipe.NewEditor(store, a.cfg.Recipe)
			r := types.Recipe{
				Model1Name:       model1,
				Model2Name:       model2,
				EmbeddingWeights: types.WeightPair{0.5, 0.5},
				LinearWeights:    types.WeightPair{0.5, 0.5},
				MergedName:       a.cfg.MergedName,
			}
			if random {
				r = ed.Randomize(r, layers)
			} else {
				r = ed.Initialize(r, layers)
			}
			if err := recipe.Save(out, r); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "wrote %s (%d layers)\n", out, len(r.Layers))
			return nil
		},
	}
	initCmd.Flags().StringVar(&out, "out", "", "Recipe file to write (.yaml or .json)")
	initCmd.Flags().StringVar(&model1, "model1", "", "First source model")
	initCmd.Flags().StringVar(&model2, "model2", "", "Second source model")
	initCmd.Flags().IntVar(&layers, "layers", 0, "Output layer count (defaults to output_layers)")
	initCmd.Flags().BoolVar(&random, "random", false, "Fill layers with random blocks")
	_ = initCmd.MarkFlagRequired("out")

	showCmd := &cobra.Command{
		Use:   "show FILE",
		Short: "Print a recipe with per-layer totals and validate it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := recipe.Load(args[0])
			if err != nil {
				return err
			}
			a.printRecipe(r)
			return recipe.Validate(r)
		},
	}

	return group("recipe", "Create and inspect recipe files", initCmd, showCmd)
}

func (a *app) printRecipe(r types.Recipe) {
	fmt.Fprintf(a.out, "model1: %s\nmodel2: %s\nmerged: %s\n", orDash(r.Model1Name), orDash(r.Model2Name), orDash(r.MergedName))
	fmt.Fprintf(a.out, "embedding: %.2f/%.2f linear: %.2f/%.2f\n",
		r.EmbeddingWeights[0], r.EmbeddingWeights[1], r.LinearWeights[0], r.LinearWeights[1])
	totals := recipe.Totals(r)
	for i, l := range r.Layers {
		fmt.Fprintf(a.out, "layer %d (total %.2f):", i+1, totals[i])
		for _, b := range l {
			fmt.Fprintf(a.out, " m%d:L%d@%.2f", b.SourceModel+1, b.SourceLayer, b.Weight)
		}
		fmt.Fprintln(a.out)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (a *app) layersCmd() *cobra.Command {
	getCmd := &cobra.Command{
		Use:   "get MODEL",
		Short: "Print the stored layer count of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.hintsStore()
			if err != nil {
				return err
			}
			n, ok := store.Get(args[0])
			if !ok {
				fmt.Fprintf(a.out, "%s: unknown (fallback %d)\n", args[0], store.Defaults().Fallback)
				return nil
			}
			fmt.Fprintf(a.out, "%s: %d\n", args[0], n)
			return nil
		},
	}
	setCmd := &cobra.Command{
		Use:   "set MODEL COUNT",
		Short: "Store the layer count of a model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("count must be an integer: %w", err)
			}
			store, err := a.hintsStore()
			if err != nil {
				return err
			}
			return store.Set(args[0], n)
		},
	}
	return group("layers", "Read and write per-model layer counts", getCmd, setCmd)
}
