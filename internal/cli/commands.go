package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryan-buckman/infovore/internal/crawler"
	"github.com/bryan-buckman/infovore/internal/opml"
	"github.com/bryan-buckman/infovore/internal/seed"
	"github.com/bryan-buckman/infovore/internal/server"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(flags *rootFlags) *cobra.Command {
	var addr string
	var noPoll bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and crawl in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			opts := []server.Option{server.WithLogger(a.logger), server.WithMetrics(a.metrics)}
			if !noPoll {
				opts = append(opts, server.WithPoller(crawler.NewPoller(a.crawler, pollerOptions(a.cfg))))
			}
			srv := server.New(a.store, a.crawler, opts...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&noPoll, "no-poll", false, "serve without the background crawler")
	return cmd
}

func crawlCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl continuously without serving HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			p := crawler.NewPoller(a.crawler, pollerOptions(a.cfg))
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			p.Start()
			<-ctx.Done()
			a.logger.Info("stopping poller")
			p.Stop()
			return nil
		},
	}
}

func onceCmd(flags *rootFlags) *cobra.Command {
	var enrichFor time.Duration
	var skipCleanup bool
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single crawl cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()

			if !skipCleanup {
				deleted, err := a.crawler.Cleanup(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "cleanup: removed %d articles\n", deleted)
			}
			report, err := a.crawler.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "crawl: %s\n", formatReport(report))

			if enrichFor > 0 && len(report.NewArticles) > 0 {
				er, err := a.crawler.Enrich(ctx, report.NewArticles, time.Now().Add(enrichFor))
				if err != nil {
					fmt.Fprintf(out, "enrich: skipped (%s): %v\n", crawler.Classify(err), err)
					return nil
				}
				fmt.Fprintf(out, "enrich: attempted %d, enriched %d, failed %d, abandoned %d\n",
					er.Attempted, er.Enriched, er.Failed, er.Abandoned)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&enrichFor, "enrich-for", 0, "time budget for enriching new articles (0 disables)")
	cmd.Flags().BoolVar(&skipCleanup, "skip-cleanup", false, "do not remove expired articles")
	return cmd
}

func importCmd(flags *rootFlags) *cobra.Command {
	var fixtures bool
	cmd := &cobra.Command{
		Use:   "import <file.opml | fixture-dir>",
		Short: "Import subscriptions from an OPML file or a JSON fixture directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()
			im := seed.NewImporter(a.store, a.logger)

			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			var res seed.Result
			if fixtures || info.IsDir() {
				res, err = im.ImportFixtures(cmd.Context(), args[0])
			} else {
				var f *os.File
				f, err = os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				res, err = im.ImportOPML(cmd.Context(), f)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d subscriptions (%d existing, %d failed, %d categories)\n",
				res.Imported, res.Existing, res.Failed, res.Categories)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fixtures, "fixtures", false, "treat the argument as a fixture directory")
	return cmd
}

func exportCmd(flags *rootFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export subscriptions as OPML",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := seed.Entries(cmd.Context(), a.store)
			if err != nil {
				return err
			}
			data, err := opml.Export("Infovore Subscriptions", entries, time.Now())
			if err != nil {
				return err
			}
			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			_, err = w.Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}
