// Command d365-fetch reads entity data from a Dynamics 365 OData
// endpoint and writes the records as NDJSON to stdout. Credentials
// come from the environment (or a .env file), everything else from
// flags and an optional YAML config.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/d365kit/odata-client/pkg/auth"
	"github.com/d365kit/odata-client/pkg/config"
	"github.com/d365kit/odata-client/pkg/logging"
	"github.com/d365kit/odata-client/pkg/odata"
)

type fetchFlags struct {
	configPath   string
	entity       string
	key          string
	selectFields string
	filter       string
	orderBy      string
	expand       string
	top          int
	skip         int
	count        bool
	crossCompany bool
	all          bool
	metadata     bool
	pretty       bool
}

func main() {
	var flags fetchFlags
	flag.StringVar(&flags.configPath, "config", "", "Path to YAML config (default: "+config.DefaultPath+" if present)")
	flag.StringVar(&flags.entity, "entity", "", "Entity set to fetch (e.g. contacts, CustomersV3)")
	flag.StringVar(&flags.key, "key", "", "Fetch a single record by key instead of a page")
	flag.StringVar(&flags.selectFields, "select", "", "Comma-separated field list for $select")
	flag.StringVar(&flags.filter, "filter", "", "OData $filter expression")
	flag.StringVar(&flags.orderBy, "orderby", "", "OData $orderby expression")
	flag.StringVar(&flags.expand, "expand", "", "Comma-separated navigation properties for $expand")
	flag.IntVar(&flags.top, "top", 0, "Page size ($top); 0 uses the config page size")
	flag.IntVar(&flags.skip, "skip", 0, "Records to skip ($skip)")
	flag.BoolVar(&flags.count, "count", false, "Request the total record count ($count=true)")
	flag.BoolVar(&flags.crossCompany, "cross-company", false, "Fetch across all companies (FinOps only)")
	flag.BoolVar(&flags.all, "all", false, "Follow continuation links and fetch every page")
	flag.BoolVar(&flags.metadata, "metadata", false, "Print the $metadata document and exit")
	flag.BoolVar(&flags.pretty, "pretty", false, "Human-readable log output")
	flag.Parse()

	// A .env file is a convenience for local runs; absence is fine.
	_ = godotenv.Load()

	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	rt, err := cfg.Runtime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(rt.LogLevel),
		Pretty: flags.pretty,
	})
	logger := logging.NewLogger("d365-fetch")

	client, err := buildClient(rt, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Client setup failed")
	}

	if err := run(context.Background(), client, rt, flags, logger); err != nil {
		logger.Fatal().Err(err).Msg("Fetch failed")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

func buildClient(rt *config.RuntimeConfig, logger zerolog.Logger) (*odata.Client, error) {
	authType, err := auth.ParseAuthType(rt.AuthType)
	if err != nil {
		return nil, err
	}

	source, err := auth.NewTokenSource(auth.Config{
		Type:         authType,
		TenantID:     rt.TenantID,
		ClientID:     rt.ClientID,
		ClientSecret: rt.ClientSecret,
		TokenURL:     rt.TokenURL,
		Resource:     rt.Resource,
	})
	if err != nil {
		return nil, err
	}

	// A shared Redis token cache lets parallel invocations reuse one
	// token instead of hammering the identity provider.
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		source.SetStore(auth.NewRedisStore(redisClient))
		logger.Info().Str("addr", redisURL).Msg("Using Redis token cache")
	}

	product, err := odata.ParseProduct(rt.Product)
	if err != nil {
		return nil, err
	}

	clientCfg := odata.DefaultConfig(source, rt.Endpoint, product)
	clientCfg.MaxRetries = rt.MaxRetries
	clientCfg.RetryDelay = rt.RetryDelay

	return odata.New(clientCfg)
}

func run(ctx context.Context, client *odata.Client, rt *config.RuntimeConfig, flags fetchFlags, logger zerolog.Logger) error {
	if flags.metadata {
		doc, err := client.FetchMetadata(ctx)
		if err != nil {
			return err
		}
		fmt.Println(doc)
		return nil
	}

	if flags.entity == "" {
		return fmt.Errorf("-entity is required (or -metadata)")
	}

	if flags.key != "" {
		record, err := client.GetEntity(ctx, flags.entity, flags.key)
		if err != nil {
			return err
		}
		fmt.Println(string(record))
		return nil
	}

	options := buildOptions(rt, flags)

	if flags.all {
		records, err := client.FetchAllPages(ctx, flags.entity, options)
		if err != nil {
			return err
		}
		for _, record := range records {
			fmt.Println(string(record))
		}
		return nil
	}

	page, err := client.FetchEntityPage(ctx, flags.entity, "", options)
	if err != nil {
		return err
	}
	for _, record := range page.Records {
		fmt.Println(string(record))
	}
	if page.Count != nil {
		logger.Info().Int64("total", *page.Count).Msg("Server-side count")
	}
	if page.NextLink != "" {
		logger.Info().Msg("More pages available, rerun with -all to fetch them")
	}
	return nil
}

// buildOptions maps flags onto query options, falling back to the
// configured page size when -top is not given.
func buildOptions(rt *config.RuntimeConfig, flags fetchFlags) *odata.QueryOptions {
	top := flags.top
	if top == 0 {
		top = rt.PageSize
	}
	return &odata.QueryOptions{
		Select:       splitList(flags.selectFields),
		Filter:       flags.filter,
		OrderBy:      flags.orderBy,
		Expand:       splitList(flags.expand),
		Top:          top,
		Skip:         flags.skip,
		Count:        flags.count,
		CrossCompany: flags.crossCompany,
	}
}

// splitList splits a comma-separated flag value, trimming whitespace
// and dropping empty items.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return nil
	}
	return items
}
