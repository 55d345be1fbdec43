package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/jamesnjugunah/vendorshop/internal/apiclient"
	"github.com/jamesnjugunah/vendorshop/internal/logging"
	"github.com/jamesnjugunah/vendorshop/internal/reconcile"
	"github.com/spf13/cobra"
)

var Version = "dev"

type globals struct {
	apiURL string
	token  string
}

func main() {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:           "checkoutctl",
		Short:         "Operate the checkout API: pay for, track and cancel orders",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.apiURL, "api", envOr("CHECKOUT_API_URL", "http://localhost:8080"), "checkout API base URL")
	rootCmd.PersistentFlags().StringVar(&g.token, "token", os.Getenv("CHECKOUT_TOKEN"), "bearer token")

	rootCmd.AddCommand(payCmd(g))
	rootCmd.AddCommand(queryCmd(g))
	rootCmd.AddCommand(pollCmd(g))
	rootCmd.AddCommand(cancelCmd(g))
	rootCmd.AddCommand(ordersCmd(g))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func (g *globals) client() *apiclient.Client {
	return apiclient.New(g.apiURL, g.token, nil)
}

func payCmd(g *globals) *cobra.Command {
	var (
		wait    bool
		idemKey string
		po      pollOpts
	)
	cmd := &cobra.Command{
		Use:   "pay [order-id] [phone]",
		Short: "Send a payment prompt for an order, optionally waiting for the result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := g.client()
			res, err := c.Pay(cmd.Context(), args[0], args[1], idemKey)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\ncheckout request: %s\n", res.Message, res.CheckoutRequestID)
			if !wait {
				return nil
			}
			if err := po.wait(cmd, c, res.CheckoutRequestID); err != nil {
				return err
			}
			o, err := c.GetOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order %s: %s %s\n", o.ID, o.Status, o.ReceiptCode)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the provider reports a result")
	cmd.Flags().StringVar(&idemKey, "idempotency-key", "", "X-Idempotency-Key for safe retries")
	po.register(cmd)
	return cmd
}

func queryCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "query [checkout-request-id]",
		Short: "Ask the provider once for the state of a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := g.client().QueryStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(res.Raw))
			return nil
		},
	}
}

func pollCmd(g *globals) *cobra.Command {
	var po pollOpts
	cmd := &cobra.Command{
		Use:   "poll [checkout-request-id]",
		Short: "Poll the provider until a payment succeeds, fails or the budget runs out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return po.wait(cmd, g.client(), args[0])
		},
	}
	po.register(cmd)
	return cmd
}

func cancelCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [order-id]",
		Short: "Cancel an order that is still pending payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := g.client().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order %s: %s\n", o.ID, o.Status)
			return nil
		},
	}
}

func ordersCmd(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Show your order history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := g.client().ListOrders(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER\tSTATUS\tTOTAL\tRECEIPT\tCREATED")
			for _, o := range orders {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", o.ID, o.Status, o.Total, o.ReceiptCode, o.CreatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "how many orders to show")
	return cmd
}

type pollOpts struct {
	interval    time.Duration
	maxAttempts int
}

func (p *pollOpts) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&p.interval, "interval", reconcile.DefaultInterval, "delay between status queries")
	cmd.Flags().IntVar(&p.maxAttempts, "max-attempts", reconcile.DefaultMaxAttempts, "queries before giving up")
}

func (p *pollOpts) wait(cmd *cobra.Command, q reconcile.Querier, checkoutRequestID string) error {
	poller := reconcile.New(q,
		reconcile.WithInterval(p.interval),
		reconcile.WithMaxAttempts(p.maxAttempts),
		reconcile.WithLogger(logging.Discard()),
	)
	res, err := poller.Wait(cmd.Context(), checkoutRequestID)
	if errors.Is(err, reconcile.ErrTimeout) {
		return fmt.Errorf("%w\nrun `checkoutctl orders` to see whether the order was paid", err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "paid: %s receipt %s (after %d queries)\n", res.ResultDesc, res.ReceiptCode, res.Attempts)
	return nil
}

// exitCode separates a declined payment (2) and an unknown outcome (3) from
// other failures.
func exitCode(err error) int {
	var failed *reconcile.FailedError
	switch {
	case errors.As(err, &failed):
		return 2
	case errors.Is(err, reconcile.ErrTimeout):
		return 3
	default:
		return 1
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
