package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/banshee-data/objverify/internal/config"
	"github.com/banshee-data/objverify/internal/geom"
	"github.com/banshee-data/objverify/internal/model"
	"github.com/banshee-data/objverify/internal/monitoring"
	"github.com/banshee-data/objverify/internal/presentation"
	"github.com/banshee-data/objverify/internal/recognition"
	"github.com/banshee-data/objverify/internal/security"
	"github.com/banshee-data/objverify/internal/testutil"
)

// verifyOptions holds the flags of the verify command.
type verifyOptions struct {
	Scenario string
	Engine   string
	PNGPath  string
	HTMLPath string
}

var verifyOpts verifyOptions

// scenarios builds the synthetic inputs selectable with --scenario.
var scenarios = map[string]func() demo{
	"boxes":      boxesDemo,
	"duplicates": duplicatesDemo,
	"occluded":   occludedDemo,
	"missing":    missingDemo,
}

type demo struct {
	registry *model.Registry[geom.NoAttr]
	scene    recognition.Scene[geom.NoAttr]
	hyps     []model.Hypothesis
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run verification on a synthetic scene",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerify(cmd, verifyOpts, cmd.OutOrStdout())
	},
}

func init() {
	names := make([]string, 0, len(scenarios))
	for n := range scenarios {
		names = append(names, n)
	}
	sort.Strings(names)

	verifyCmd.Flags().StringVar(&verifyOpts.Scenario, "scenario", "boxes", fmt.Sprintf("synthetic scene %v", names))
	verifyCmd.Flags().StringVar(&verifyOpts.Engine, "engine", "", "override the engine (global or greedy)")
	verifyCmd.Flags().StringVar(&verifyOpts.PNGPath, "png", "", "write a top-down PNG to this path")
	verifyCmd.Flags().StringVar(&verifyOpts.HTMLPath, "html", "", "write an interactive HTML chart to this path")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, opts verifyOptions, out io.Writer) error {
	build, ok := scenarios[opts.Scenario]
	if !ok {
		return fmt.Errorf("unknown scenario %q", opts.Scenario)
	}
	cfg := tuning
	if cfg == nil {
		cfg = config.DefaultVerifyConfig()
	}
	if opts.Engine != "" {
		// Overrides apply to this run only.
		override := *cfg
		cfg = &override
		engine := opts.Engine
		cfg.Engine = &engine
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	for _, p := range []string{opts.PNGPath, opts.HTMLPath} {
		if p == "" {
			continue
		}
		if err := security.ValidateOutputPath(p); err != nil {
			return err
		}
	}

	metrics, err := monitoring.NewMetrics(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	d := build()
	r := recognition.NewRecognizer[geom.NoAttr](d.registry, cfg, metrics)
	res, err := r.Verify(cmd.Context(), d.scene, d.hyps)
	if err != nil {
		return err
	}
	printResult(out, res)

	if opts.PNGPath == "" && opts.HTMLPath == "" {
		return nil
	}
	sess := presentation.NewSession[geom.NoAttr](d.registry, presentation.Options{
		DisplayResolution: cfg.GetDisplayResolution(),
		Title:             "hvctl " + security.SanitizeFilename(opts.Scenario),
	})
	defer sess.Close()

	if opts.PNGPath != "" {
		if err := sess.RenderPNG(opts.PNGPath, d.scene.Cloud, res); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", opts.PNGPath)
	}
	if opts.HTMLPath != "" {
		f, err := os.Create(opts.HTMLPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", opts.HTMLPath, err)
		}
		defer f.Close()
		if err := sess.RenderHTML(f, d.scene.Cloud, res); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", opts.HTMLPath)
	}
	return nil
}

func printResult(out io.Writer, res *recognition.Result) {
	fmt.Fprintf(out, "run %s\n", res.RunID)
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "INDEX\tMODEL\tSTATUS\tSCORE\tREFINED\tX\tY\tZ")
	fmt.Fprintln(w, "-----\t-----\t------\t-----\t-------\t-\t-\t-")
	for _, o := range res.Hypotheses {
		x, y, z := o.Final.TranslationPart()
		fmt.Fprintf(w, "%d\t%s\t%s\t%.3f\t%v\t%.4f\t%.4f\t%.4f\n", o.Index, o.ModelID, o.Status, o.Score, o.Refined != nil, x, y, z)
	}
	w.Flush()
}

func newBoxRegistry() (*model.Registry[geom.NoAttr], model.Model[geom.NoAttr]) {
	box := testutil.Box("box", testutil.BoxSize, testutil.BoxSpacing)
	reg := model.NewRegistry[geom.NoAttr]()
	_ = reg.Add(box)
	return reg, box
}

func boxesDemo() demo {
	s := testutil.ThreeBoxes()
	return demo{registry: s.Registry, scene: recognition.Scene[geom.NoAttr]{Cloud: s.Scene}, hyps: s.Hypotheses}
}

func duplicatesDemo() demo {
	reg, box := newBoxRegistry()
	pose := testutil.BoxPose(0, 0, 1.0)
	return demo{
		registry: reg,
		scene:    recognition.Scene[geom.NoAttr]{Cloud: testutil.Observed(box, pose, testutil.Origin)},
		hyps: []model.Hypothesis{
			{ModelID: "box", Coarse: pose},
			{ModelID: "box", Coarse: geom.Compose(geom.Translation(0.002, 0, 0), pose)},
		},
	}
}

func occludedDemo() demo {
	reg, _ := newBoxRegistry()
	wall := testutil.Wall(0, 0, 1.0, 0.3, testutil.BoxSpacing)
	return demo{
		registry: reg,
		scene:    recognition.Scene[geom.NoAttr]{Cloud: wall, Occlusion: wall},
		hyps:     []model.Hypothesis{{ModelID: "box", Coarse: testutil.BoxPose(0, 0, 1.5)}},
	}
}

func missingDemo() demo {
	d := boxesDemo()
	d.hyps = append(d.hyps, model.Hypothesis{ModelID: "cylinder", Coarse: testutil.BoxPose(0, 0.3, 1.0)})
	return d
}
