package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LJTian/HotlistHub/internal/bootstrap"
	"github.com/LJTian/HotlistHub/internal/config"
	"github.com/LJTian/HotlistHub/internal/logging"
	"github.com/LJTian/HotlistHub/internal/manager"
	"github.com/LJTian/HotlistHub/internal/pipeline"
)

var (
	flagPlatforms []string
	flagSkipCache bool
	flagNoArchive bool
	flagJSON      bool
)

var rootCmd = &cobra.Command{
	Use:           "collect",
	Short:         "Run hotlist collection once",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Crawl all (or the given) platforms, merge and publish a snapshot",
	RunE:  runPipeline,
}

var categoryCmd = &cobra.Command{
	Use:   "category <name>",
	Short: "Crawl only the platforms of one category",
	Args:  cobra.ExactArgs(1),
	RunE:  runCategory,
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the configured sources",
	RunE:  listSources,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the fetch cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [key]",
	Short: "Clear one cache key (e.g. weibo:hotlist) or everything",
	Args:  cobra.MaximumNArgs(1),
	RunE:  clearCache,
}

func init() {
	runCmd.Flags().StringSliceVar(&flagPlatforms, "platform", nil, "platforms to crawl (repeatable, default: all)")
	runCmd.Flags().BoolVar(&flagNoArchive, "no-archive", false, "do not write the PostgreSQL archive")
	for _, c := range []*cobra.Command{runCmd, categoryCmd} {
		c.Flags().BoolVar(&flagSkipCache, "skip-cache", false, "ignore cached results and fetch again")
		c.Flags().BoolVar(&flagJSON, "json", false, "print the report as JSON")
	}

	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(runCmd, categoryCmd, sourcesCmd, cacheCmd)
}

func setup(archive bool) (*bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogDev)
	if err != nil {
		return nil, err
	}
	return bootstrap.Build(cfg, logger, bootstrap.Options{WithArchive: archive})
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	app, err := setup(!flagNoArchive)
	if err != nil {
		return err
	}
	defer app.Close()

	out, err := app.Pipeline.Run(cmd.Context(), pipeline.Request{Platforms: flagPlatforms, SkipCache: flagSkipCache})
	if err != nil {
		app.Logger.Error("collect run failed", zap.Error(err))
		return err
	}
	w := cmd.OutOrStdout()
	if out.Skipped {
		fmt.Fprintln(w, "another run is in progress, skipped")
		return nil
	}
	if flagJSON {
		return writeJSON(w, out)
	}
	printOutcomes(w, out.Run.Outcomes)
	fmt.Fprintf(w, "\nsnapshot: %d articles, %d/%d platforms ok, took %s\n",
		out.Articles, out.Run.Succeeded(), len(out.Run.Outcomes), out.Elapsed.Round(time.Millisecond))
	return nil
}

func runCategory(cmd *cobra.Command, args []string) error {
	app, err := setup(false)
	if err != nil {
		return err
	}
	defer app.Close()

	run := app.Manager.CrawlByCategory(cmd.Context(), args[0], manager.CrawlOptions{
		InterSourceDelay: app.Config.InterSourceDelay,
		SkipCache:        flagSkipCache,
	})
	w := cmd.OutOrStdout()
	if len(run.Outcomes) == 0 {
		return fmt.Errorf("no platforms in category %q", args[0])
	}
	if flagJSON {
		return writeJSON(w, run)
	}
	printOutcomes(w, run.Outcomes)
	return nil
}

func listSources(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLATFORM\tNAME\tCATEGORY\tENABLED\tSTRATEGIES")
	for _, d := range sources {
		names := make([]string, 0, len(d.Strategies))
		for _, s := range d.Ordered() {
			names = append(names, fmt.Sprintf("%s(%s)", s.Name, s.Type))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", d.Platform, d.Name, d.Category, d.Enabled, strings.Join(names, " > "))
	}
	return tw.Flush()
}

func clearCache(cmd *cobra.Command, args []string) error {
	app, err := setup(false)
	if err != nil {
		return err
	}
	defer app.Close()

	if len(args) == 1 {
		if err := app.Cache.Clear(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", args[0])
		return nil
	}
	if err := app.Cache.ClearAll(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "cleared all cache entries")
	return nil
}

func printOutcomes(w io.Writer, outcomes []manager.Outcome) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLATFORM\tSTATUS\tCOUNT\tMETHOD\tELAPSED\tERROR")
	for _, o := range outcomes {
		status := "ok"
		switch {
		case o.Skipped:
			status = "skipped"
		case !o.Success:
			status = "failed"
		case o.FromCache:
			status = "cached"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			o.Platform, status, o.Count, o.Strategy, o.Elapsed.Round(time.Millisecond), o.Error)
	}
	_ = tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
