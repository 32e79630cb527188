package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/voicegroup/purchasing/billing"
	"github.com/voicegroup/purchasing/billing/android"
	"github.com/voicegroup/purchasing/billing/cache"
	"github.com/voicegroup/purchasing/billing/memory"
	"github.com/voicegroup/purchasing/history"
	historymemory "github.com/voicegroup/purchasing/history/memory"
	historypg "github.com/voicegroup/purchasing/history/postgres"

	_ "github.com/jackc/pgx/v4/stdlib"
)

func main() {
	// A missing .env file is fine; flags and the environment still apply.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "purchasing",
		Usage: "query products, purchases and history through the billing helper",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "package", Usage: "application package name", EnvVars: []string{"PURCHASING_PACKAGE"}, Required: true},
			&cli.StringFlag{Name: "backend", Usage: "memory or play", Value: "memory", EnvVars: []string{"PURCHASING_BACKEND"}},
			&cli.StringFlag{Name: "account", Usage: "account owning purchases", Value: "default", EnvVars: []string{"PURCHASING_ACCOUNT"}},
			&cli.StringFlag{Name: "service-account", Usage: "path to a Google service account JSON file", EnvVars: []string{"PURCHASING_SERVICE_ACCOUNT"}},
			&cli.StringFlag{Name: "database-url", Usage: "postgres URL for purchase history", EnvVars: []string{"PURCHASING_DATABASE_URL"}},
			&cli.IntFlag{Name: "history-limit", Usage: "maximum history records per query", Value: 100, EnvVars: []string{"PURCHASING_HISTORY_LIMIT"}},
			&cli.DurationFlag{Name: "catalog-ttl", Usage: "product details cache TTL", Value: 5 * time.Minute, EnvVars: []string{"PURCHASING_CATALOG_TTL"}},
			&cli.DurationFlag{Name: "timeout", Usage: "how long to wait for results", Value: 30 * time.Second, EnvVars: []string{"PURCHASING_TIMEOUT"}},
			&cli.BoolFlag{Name: "debug", Usage: "development logging", EnvVars: []string{"PURCHASING_DEBUG"}},
		},
		Commands: []*cli.Command{
			{
				Name:      "products",
				Usage:     "show product details",
				ArgsUsage: "<product id>...",
				Flags:     []cli.Flag{productTypeFlag()},
				Action: func(c *cli.Context) error {
					return withHelper(c, func(ctx context.Context, h *billing.Helper) error {
						if err := h.QueryProductDetails(ctx, c.Args().Slice(), billing.ProductType(c.String("type"))); err != nil {
							return err
						}
						e, err := waitFor[billing.ProductDetailsReceived](ctx, h)
						if err != nil {
							return err
						}
						for _, d := range e.Details {
							fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\t%s\n", d.ProductID, d.Type, d.Title, d.FormattedPrice())
						}
						return nil
					})
				},
			},
			{
				Name:  "history",
				Usage: "show purchase history",
				Flags: []cli.Flag{productTypeFlag()},
				Action: func(c *cli.Context) error {
					return withHelper(c, func(ctx context.Context, h *billing.Helper) error {
						if err := h.QueryPurchaseHistory(ctx, billing.ProductType(c.String("type"))); err != nil {
							return err
						}
						e, err := waitFor[billing.PurchaseHistoryReceived](ctx, h)
						if err != nil {
							return err
						}
						for _, r := range e.Records {
							fmt.Fprintf(c.App.Writer, "%s\t%v\t%s\t%d\n", r.PurchaseTime.Format(time.RFC3339), r.ProductIDs, r.PurchaseToken, r.Quantity)
						}
						return nil
					})
				},
			},
			{
				Name:      "buy",
				Usage:     "launch the purchase flow for a product",
				ArgsUsage: "<product id>",
				Flags:     []cli.Flag{productTypeFlag()},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("expected exactly one product id", 2)
					}
					return withHelper(c, func(ctx context.Context, h *billing.Helper) error {
						if err := h.LaunchBillingFlow(ctx, billing.ProductType(c.String("type")), c.Args().First()); err != nil {
							return err
						}
						e, err := waitFor[billing.PurchasesUpdated](ctx, h)
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "Result: %s\n", e.Code)
						for _, p := range e.Purchases {
							fmt.Fprintf(c.App.Writer, "%s\t%v\t%s\n", p.OrderID, p.ProductIDs, p.PurchaseToken)
						}
						return nil
					})
				},
			},
			{
				Name:      "manage",
				Usage:     "open subscription management",
				ArgsUsage: "[product id]",
				Action: func(c *cli.Context) error {
					return withHelper(c, func(ctx context.Context, h *billing.Helper) error {
						if c.NArg() > 0 {
							return h.ManageSubscription(ctx, c.Args().First())
						}
						return h.ManageSubscriptions(ctx)
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func productTypeFlag() cli.Flag {
	return &cli.StringFlag{Name: "type", Usage: "inapp or subs", Value: string(billing.ProductTypeInApp)}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func withHelper(c *cli.Context, fn func(ctx context.Context, h *billing.Helper) error) error {
	log, err := newLogger(c.Bool("debug"))
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	host := newTerminalHost(c.String("package"), os.Stdin, c.App.Writer)

	newClient, closeStore, err := clientFactory(ctx, c, log, host)
	if err != nil {
		return err
	}
	defer closeStore()

	h, err := billing.NewHelper(log, host, cache.Factory(newClient, c.Duration("catalog-ttl")))
	if err != nil {
		return err
	}
	defer h.EndConnection()

	if _, err := waitFor[billing.ServiceConnected](ctx, h); err != nil {
		return fmt.Errorf("billing service unavailable: %w", err)
	}

	return fn(ctx, h)
}

func clientFactory(ctx context.Context, c *cli.Context, log *zap.Logger, host *terminalHost) (billing.ClientFactory, func(), error) {
	switch c.String("backend") {
	case "memory":
		return demoClient(c.String("account")).Factory(), func() {}, nil

	case "play":
		serviceAccount, err := os.ReadFile(c.String("service-account"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read service account: %w", err)
		}

		store, closeStore, err := historyStore(ctx, c.String("database-url"))
		if err != nil {
			return nil, nil, err
		}

		cfg := android.Config{
			ServiceAccountJSON: serviceAccount,
			PackageName:        c.String("package"),
			Account:            c.String("account"),
			HistoryLimit:       c.Int("history-limit"),
		}
		return android.NewFactory(log, cfg, host, store), closeStore, nil

	default:
		return nil, nil, cli.Exit("unknown backend "+c.String("backend"), 2)
	}
}

func historyStore(ctx context.Context, databaseUrl string) (history.Store, func(), error) {
	if databaseUrl == "" {
		return historymemory.NewInMemory(), func() {}, nil
	}

	db, err := sql.Open("pgx", databaseUrl)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := historypg.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return historypg.NewInPostgres(db), func() { db.Close() }, nil
}

func demoClient(account string) *memory.Client {
	client := memory.NewClient(account)
	client.AddProduct(&billing.ProductDetails{
		ProductID:    "coins_100",
		Type:         billing.ProductTypeInApp,
		Title:        "100 Coins",
		Description:  "A small pile of coins",
		PriceMicros:  990_000,
		CurrencyCode: "USD",
	})
	client.AddProduct(&billing.ProductDetails{
		ProductID:    "premium_monthly",
		Type:         billing.ProductTypeSubs,
		Title:        "Premium",
		Description:  "Premium features, billed monthly",
		PriceMicros:  4_990_000,
		CurrencyCode: "USD",
	})
	return client
}

// waitFor returns the next event of type E, skipping any others.
func waitFor[E billing.Event](ctx context.Context, h *billing.Helper) (E, error) {
	var zero E
	for {
		select {
		case e, ok := <-h.Events():
			if !ok {
				return zero, billing.ErrClosed
			}
			if want, ok := e.(E); ok {
				return want, nil
			}
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
