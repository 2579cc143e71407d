package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-discovery/internal/discovery"
	"github.com/JakeFAU/site-discovery/internal/logging"
	"github.com/JakeFAU/site-discovery/internal/server"
)

type discoverOutput struct {
	WebsiteURL string                         `json:"website_url"`
	Result     discovery.Result               `json:"result"`
	Documents  []discovery.DocumentDescriptor `json:"documents,omitempty"`
	ElapsedMs  int64                          `json:"elapsed_ms"`
}

type discoverFlags struct {
	sitemapLimit int
	crawlLimit   int
	maxDepth     int
	budget       time.Duration
	documents    bool
}

func newDiscoverCmd() *cobra.Command {
	var flags discoverFlags
	cmd := &cobra.Command{
		Use:   "discover <website-url>",
		Short: "Runs one discovery and prints the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd, args[0], flags)
		},
	}
	cmd.Flags().IntVar(&flags.sitemapLimit, "sitemap-limit", 0, "maximum URLs taken from the sitemap tree (default from config)")
	cmd.Flags().IntVar(&flags.crawlLimit, "crawl-limit", 0, "maximum URLs collected by the fallback crawl (default from config)")
	cmd.Flags().IntVar(&flags.maxDepth, "max-depth", 0, "maximum crawl depth (default from config)")
	cmd.Flags().DurationVar(&flags.budget, "budget", 0, "overall time budget (default from config)")
	cmd.Flags().BoolVar(&flags.documents, "documents", false, "HEAD-probe discovered files and include document descriptors")
	return cmd
}

func runDiscover(cmd *cobra.Command, websiteURL string, flags discoverFlags) error {
	cfg, err := configFrom(cmd.Context())
	if err != nil {
		return err
	}
	if err := discovery.ValidateWebsiteURL(websiteURL); err != nil {
		return err
	}
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	limits := cfg.Limits()
	if flags.sitemapLimit > 0 {
		limits.SitemapLimit = flags.sitemapLimit
	}
	if flags.crawlLimit > 0 {
		limits.CrawlLimit = flags.crawlLimit
	}
	if flags.maxDepth > 0 {
		limits.MaxDepth = flags.maxDepth
	}
	if flags.budget > 0 {
		limits.Budget = flags.budget
	}

	engine := server.NewEngine(cfg, logger)
	start := time.Now()
	res, err := engine.Discoverer.Discover(cmd.Context(), websiteURL, limits)
	if err != nil {
		return fmt.Errorf("discover %s: %w", websiteURL, err)
	}
	out := discoverOutput{WebsiteURL: websiteURL, Result: res}
	if flags.documents {
		out.Documents = engine.Discoverer.ResolveDocuments(cmd.Context(), res.Files, 0)
		logger.Debug("documents resolved", zap.Int("documents", len(out.Documents)))
	}
	out.ElapsedMs = time.Since(start).Milliseconds()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
