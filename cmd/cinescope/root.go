package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Dorico-Dynamics/txova-go-core/errors"
	"github.com/Dorico-Dynamics/txova-go-core/logging"

	"github.com/cinescope/cinescope-go-clients/config"
	"github.com/cinescope/cinescope-go-clients/factory"
	"github.com/cinescope/cinescope-go-clients/httpapi"
	"github.com/cinescope/cinescope-go-clients/services/omdb"
)

// app holds the state shared by all commands.
type app struct {
	cfgFile  string
	asJSON   bool
	cfg      *config.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	factory  *factory.Factory
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "cinescope",
		Short: "Browse the OMDB movie database",
		Long: `cinescope lists popular movies, searches titles and shows movie details
from the OMDB API, or serves the same data as a JSON API.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.initialize,
		PersistentPostRunE: a.close,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./cinescope.yaml)")
	root.PersistentFlags().BoolVar(&a.asJSON, "json", false, "print results as JSON")

	root.AddCommand(
		a.popularCmd(),
		a.searchCmd(),
		a.movieCmd(),
		a.idsCmd(),
		a.serveCmd(),
	)
	return root
}

// initialize loads the configuration and prepares the client factory.
func (a *app) initialize(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg
	a.logger = cfg.Logging.NewLogger(cmd.ErrOrStderr())

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.factory, err = factory.New(factory.FromConfig(cfg, a.registry), a.logger)
	if err != nil {
		return fmt.Errorf("failed to create client factory: %w", err)
	}
	return nil
}

func (a *app) close(*cobra.Command, []string) error {
	if a.factory == nil {
		return nil
	}
	return a.factory.Close()
}

func (a *app) popularCmd() *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "popular",
		Short: "List popular movies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.factory.OMDB()
			if err != nil {
				return err
			}
			result, err := client.PopularMovies(cmd.Context(), page)
			if err != nil {
				return describe(err)
			}
			return a.printResults(cmd.OutOrStdout(), omdb.NormalizePage(page), result)
		},
	}
	cmd.Flags().IntVarP(&page, "page", "p", 1, "result page")
	return cmd
}

func (a *app) searchCmd() *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search movies by title",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.factory.OMDB()
			if err != nil {
				return err
			}
			result, err := client.SearchMovies(cmd.Context(), strings.Join(args, " "), page)
			if err != nil {
				return describe(err)
			}
			return a.printResults(cmd.OutOrStdout(), omdb.NormalizePage(page), result)
		},
	}
	cmd.Flags().IntVarP(&page, "page", "p", 1, "result page")
	return cmd
}

func (a *app) movieCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "movie <id>",
		Short: "Show movie details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.factory.OMDB()
			if err != nil {
				return err
			}
			details, err := client.MovieByID(cmd.Context(), args[0])
			if err != nil {
				return describe(err)
			}
			return a.printDetails(cmd.OutOrStdout(), details)
		},
	}
}

func (a *app) idsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ids",
		Short: "Print the IDs of the first two pages of popular movies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.factory.OMDB()
			if err != nil {
				return err
			}
			ids, err := omdb.PopularIDs(cmd.Context(), client, 1, 2)
			if err != nil {
				return describe(err)
			}
			if a.asJSON {
				return writeJSON(cmd.OutOrStdout(), ids)
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			client, err := a.factory.OMDB()
			if err != nil {
				return err
			}

			router := httpapi.NewRouter(client, httpapi.Options{
				Logger:   a.logger,
				Recorder: a.factory.Recorder(),
				Gatherer: a.registry,
				Health:   a.factory,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.ErrOrStderr(), "listening on %s\n", addr)
			return serve(ctx, addr, router)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	return cmd
}

// serve runs the HTTP server until ctx is cancelled.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func (a *app) printResults(w io.Writer, page int, result *omdb.SearchResult) error {
	if a.asJSON {
		return writeJSON(w, result)
	}

	if len(result.Movies) == 0 {
		fmt.Fprintln(w, "No movies found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tYEAR\tTYPE")
	for _, m := range result.Movies {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Title, m.Year, m.MediaType)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nPage %d of %d (%d results)\n", page, result.TotalPages(), result.TotalCount())
	return nil
}

func (a *app) printDetails(w io.Writer, d *omdb.MovieDetails) error {
	if a.asJSON {
		return writeJSON(w, d)
	}

	fmt.Fprintf(w, "%s (%s)\n", d.Title, d.Year)
	fmt.Fprintln(w, strings.Repeat("-", 60))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(label, value string) {
		if value != "" && value != "N/A" {
			fmt.Fprintf(tw, "%s:\t%s\n", label, value)
		}
	}
	row("Rated", d.Rated)
	row("Runtime", d.Runtime)
	row("Genres", strings.Join(d.GenreList(), ", "))
	row("Director", d.Director)
	row("Cast", strings.Join(d.ActorList(), ", "))
	row("IMDb rating", d.IMDBRating)
	for _, r := range d.Ratings {
		row(r.Source, r.Value)
	}
	row("Box office", d.BoxOffice)
	if d.HasPoster() {
		row("Poster", d.PosterURL)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if d.Plot != "" && d.Plot != "N/A" {
		fmt.Fprintf(w, "\n%s\n", d.Plot)
	}
	return nil
}

// describe turns a facade error into "<message>: <upstream detail>".
func describe(err error) error {
	detail := omdb.UpstreamMessage(err)
	appErr := errors.AsAppError(err)
	if appErr == nil || detail == "" {
		return err
	}
	return fmt.Errorf("%s: %s", appErr.Message(), detail)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
