package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atinyakov/freshtrio/internal/client/orders"
	"github.com/atinyakov/freshtrio/internal/config"
	"github.com/atinyakov/freshtrio/internal/logger"
)

// cli owns the command tree and the lazily built app.
type cli struct {
	opts   *config.Options
	in     *prompter
	out    io.Writer
	logger *logger.Logger
	app    *app
}

func newCLI(in io.Reader, out io.Writer) *cli {
	return &cli{
		opts:   config.Default(),
		in:     newPrompter(in, out),
		out:    out,
		logger: logger.New(),
	}
}

// open loads the configuration and builds the app on first use.
func (c *cli) open(ctx context.Context) (*app, error) {
	if c.app != nil {
		return c.app, nil
	}
	if err := config.Load(c.opts); err != nil {
		return nil, err
	}
	if err := c.logger.Init(c.opts.LogLevel); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := newApp(ctx, c.opts, c.logger.Log, c.in, c.out)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *cli) close() {
	if c.app != nil {
		if err := c.app.Close(); err != nil {
			c.logger.Log.Warn("failed to close app", zap.Error(err))
		}
		c.app = nil
	}
	_ = c.logger.Log.Sync()
}

// run adapts an app action to a cobra RunE.
func (c *cli) run(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := c.open(cmd.Context())
		if err != nil {
			return err
		}
		return fn(cmd.Context(), a, args)
	}
}

func optionalArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func parseQuantity(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q", s)
	}
	return n, nil
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "freshtrio",
		Short:         "FreshTrio storefront client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(c.out)
	root.SetErr(c.out)
	config.BindFlags(root.PersistentFlags(), c.opts)

	root.AddCommand(
		c.signupCmd(), c.loginCmd(), c.googleCmd(), c.logoutCmd(), c.whoamiCmd(),
		c.resetPasswordCmd(), c.verifyEmailCmd(), c.profileCmd(), c.deleteAccountCmd(),
		c.productsCmd(), c.productCmd(), c.searchCmd(),
		c.cartCmd(), c.checkoutCmd(), c.ordersCmd(),
		c.shellCmd(), c.versionCmd(),
	)
	return root
}

func (c *cli) signupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signup [email]",
		Short: "Create an account",
		Args:  cobra.MaximumNArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, args []string) error {
			return a.signUp(ctx, optionalArg(args))
		}),
	}
}

func (c *cli) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [email]",
		Short: "Sign in with email and password",
		Args:  cobra.MaximumNArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, args []string) error {
			return a.login(ctx, optionalArg(args))
		}),
	}
}

func (c *cli) googleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "google",
		Short: "Sign in with Google in the browser",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app, _ []string) error {
			return a.loginGoogle(ctx)
		}),
	}
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the local session",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app, _ []string) error {
			return a.logout(ctx)
		}),
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app, _ []string) error {
			return a.whoami(ctx)
		}),
	}
}

func (c *cli) resetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password [email]",
		Short: "Email a password reset link",
		Args:  cobra.MaximumNArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, args []string) error {
			return a.resetPassword(ctx, optionalArg(args))
		}),
	}
}

func (c *cli) verifyEmailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-email",
		Short: "Send an email verification link",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app, _ []string) error {
			return a.verifyEmail(ctx)
		}),
	}
}

func (c *cli) profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show your backend profile",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app, _ []string) error {
			return a.profile(ctx)
		}),
	}
	cmd.AddCommand(c.profileUpdateCmd())
	return cmd
}

func (c *cli) profileUpdateCmd() *cobra.Command {
	var edit profileEdit
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Change your name, photo, phone or address",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app, _ []string) error {
			return a.updateProfile(ctx, edit)
		}),
	}
	f := cmd.Flags()
	f.StringVar(&edit.FirstName, "first-name", "", "first name")
	f.StringVar(&edit.LastName, "last-name", "", "last name")
	f.StringVar(&edit.Phone, "phone", "", "phone number")
	f.StringVar(&edit.Address, "address", "", "default delivery address")
	f.StringVar(&edit.PhotoURL, "photo", "", "profile photo URL")
	return cmd
}

func (c *cli) deleteAccountCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-account",
		Short: "Delete your account",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app, _ []string) error {
			return a.deleteAccount(ctx, yes)
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (c *cli) productsCmd() *cobra.Command {
	var (
		category string
		page     int
	)
	cmd := &cobra.Command{
		Use:   "products",
		Short: "List products",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app, _ []string) error {
			return a.products(ctx, category, page)
		}),
	}
	cmd.Flags().StringVar(&category, "category", "", "only show this category")
	cmd.Flags().IntVar(&page, "page", 0, "zero-based page")
	return cmd
}

func (c *cli) productCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "product <id>",
		Short: "Show one product",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, args []string) error {
			return a.product(ctx, args[0])
		}),
	}
}

func (c *cli) searchCmd() *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search products",
		Args:  cobra.MinimumNArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, args []string) error {
			return a.search(ctx, strings.Join(args, " "), page)
		}),
	}
	cmd.Flags().IntVar(&page, "page", 0, "zero-based page")
	return cmd
}

func (c *cli) cartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Manage the cart",
		RunE: c.run(func(_ context.Context, a *app, _ []string) error {
			return a.cartShow()
		}),
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the cart",
			Args:  cobra.NoArgs,
			RunE: c.run(func(_ context.Context, a *app, _ []string) error {
				return a.cartShow()
			}),
		},
		&cobra.Command{
			Use:   "add <product-id> [quantity]",
			Short: "Add a product",
			Args:  cobra.RangeArgs(1, 2),
			RunE: c.run(func(ctx context.Context, a *app, args []string) error {
				qty := 1
				if len(args) == 2 {
					n, err := parseQuantity(args[1])
					if err != nil {
						return err
					}
					qty = n
				}
				return a.cartAdd(ctx, args[0], qty)
			}),
		},
		&cobra.Command{
			Use:   "remove <product-id>",
			Short: "Remove a product",
			Args:  cobra.ExactArgs(1),
			RunE: c.run(func(ctx context.Context, a *app, args []string) error {
				return a.cartRemove(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "set <product-id> <quantity>",
			Short: "Set a product quantity, 0 removes it",
			Args:  cobra.ExactArgs(2),
			RunE: c.run(func(ctx context.Context, a *app, args []string) error {
				n, err := parseQuantity(args[1])
				if err != nil {
					return err
				}
				return a.cartSet(ctx, args[0], n)
			}),
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Empty the cart",
			Args:  cobra.NoArgs,
			RunE: c.run(func(ctx context.Context, a *app, _ []string) error {
				return a.cartClear(ctx)
			}),
		},
	)
	return cmd
}

func (c *cli) checkoutCmd() *cobra.Command {
	var (
		co  orders.Checkout
		yes bool
	)
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Place an order for the cart",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app, _ []string) error {
			return a.checkout(ctx, co, yes)
		}),
	}
	f := cmd.Flags()
	f.StringVar(&co.DeliveryDate, "date", "", "delivery date (YYYY-MM-DD)")
	f.StringVar(&co.Address.Street, "street", "", "delivery street")
	f.StringVar(&co.Address.City, "city", "", "delivery city")
	f.StringVar(&co.Address.PostalCode, "postal-code", "", "delivery postal code")
	f.StringVar(&co.Address.Country, "country", "", "delivery country")
	f.StringVar(&co.PaymentMethod, "payment", orders.DefaultPaymentMethod, "payment method")
	f.StringVar(&co.SpecialInstructions, "notes", "", "special instructions")
	f.StringVar(&co.IdempotencyKey, "idempotency-key", "", "reuse to resubmit the same order safely")
	f.BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (c *cli) ordersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List and follow your orders",
		RunE: c.run(func(ctx context.Context, a *app, _ []string) error {
			return a.ordersList(ctx)
		}),
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List your orders",
			Args:  cobra.NoArgs,
			RunE: c.run(func(ctx context.Context, a *app, _ []string) error {
				return a.ordersList(ctx)
			}),
		},
		&cobra.Command{
			Use:   "show <order-id>",
			Short: "Show one order",
			Args:  cobra.ExactArgs(1),
			RunE: c.run(func(ctx context.Context, a *app, args []string) error {
				return a.orderShow(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "track <order-id>",
			Short: "Show the delivery status",
			Args:  cobra.ExactArgs(1),
			RunE: c.run(func(ctx context.Context, a *app, args []string) error {
				return a.orderTrack(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "cancel <order-id>",
			Short: "Cancel an order",
			Args:  cobra.ExactArgs(1),
			RunE: c.run(func(ctx context.Context, a *app, args []string) error {
				return a.orderCancel(ctx, args[0])
			}),
		},
	)
	return cmd
}

func (c *cli) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive shell",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app, _ []string) error {
			return repl(ctx, a)
		}),
	}
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build version and date",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "FreshTrio Client\nVersion: %s\nBuild Date: %s\n",
				cmpOr(version, "N/A"), cmpOr(buildDate, "N/A"))
		},
	}
}
