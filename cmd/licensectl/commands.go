package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	lerrors "github.com/rcourtman/wplicense/internal/errors"
	"github.com/rcourtman/wplicense/pkg/licensing"
	"github.com/rcourtman/wplicense/pkg/options"
	"github.com/spf13/cobra"
)

// errMemoryStore rejects one-shot commands whose records would be lost on exit.
var errMemoryStore = errors.New("the memory store does not persist between invocations; use the file, sqlite or redis store")

// resultView is the printable form of a reconciliation result.
type resultView struct {
	Status    licensing.ResultStatus   `json:"status"`
	Action    string                   `json:"action"`
	Message   string                   `json:"message"`
	License   *licensing.LicenseRecord `json:"license,omitempty"`
	ErrorKind string                   `json:"error_kind,omitempty"`
}

func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.cfg.StoreBackend == options.BackendMemory {
		return errMemoryStore
	}
	return fn(ctx, a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, res *licensing.Result) error {
	view := resultView{
		Status:  res.Status,
		Action:  string(res.Action),
		Message: res.Message,
		License: res.Record,
	}
	if res.Err != nil {
		view.ErrorKind = string(lerrors.KindOf(res.Err))
	}
	if err := printJSON(w, view); err != nil {
		return err
	}
	if res.Status != licensing.ResultSuccess {
		return errors.New(res.Message)
	}
	return nil
}

func newLicenseCmd(use, short string, deactivate bool) *cobra.Command {
	var key, env string
	cmd := &cobra.Command{
		Use:   use + " <slug>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				slug := args[0]
				if key == "" && deactivate {
					current, err := a.manager.License(ctx, slug)
					if err != nil {
						return err
					}
					key = current.Record.LicenseKey
				}
				res, err := a.manager.Submit(ctx, slug, licensing.Request{
					LicenseKey:  key,
					Environment: env,
					Deactivate:  deactivate,
				})
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), res)
			})
		},
	}
	keyHelp := "license key"
	if deactivate {
		keyHelp = "license key (defaults to the stored key)"
	}
	cmd.Flags().StringVar(&key, "key", "", keyHelp)
	cmd.Flags().StringVar(&env, "env", "", "environment: live or staging (default live)")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "check <slug>",
		Short: "Show the stored license, optionally revalidating it with the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				current, err := a.manager.License(ctx, args[0])
				if err != nil {
					return err
				}
				if !refresh {
					return printJSON(cmd.OutOrStdout(), current)
				}
				res, err := a.manager.Submit(ctx, args[0], licensing.Request{
					LicenseKey:  current.Record.LicenseKey,
					Environment: string(current.Record.Environment),
				})
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "resubmit the stored key to the license server")
	return cmd
}

func newUpdatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "updates",
		Short: "Check every managed product for updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				transient, outcomes, err := a.manager.CheckUpdates(ctx, nil)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"outcomes":  outcomes,
					"transient": transient,
				})
			})
		},
	}
}

func newProductsCmd() *cobra.Command {
	var catalog bool
	cmd := &cobra.Command{
		Use:   "products",
		Short: "List managed products and their licenses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				if catalog {
					products, err := a.manager.Catalog(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), products)
				}
				licenses, err := a.manager.Products(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), licenses)
			})
		},
	}
	cmd.Flags().BoolVar(&catalog, "catalog", false, "list the license server catalog instead")
	return cmd
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <slug>",
		Short: "Show the license server's catalog entry for a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				product, err := a.manager.ProductInfo(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), product)
			})
		},
	}
}

func newNoticesCmd() *cobra.Command {
	var withUpdates bool
	cmd := &cobra.Command{
		Use:   "notices",
		Short: "Print the admin notices for this site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				var transient *licensing.UpdateTransient
				if withUpdates {
					var err error
					if transient, _, err = a.manager.CheckUpdates(ctx, nil); err != nil {
						return err
					}
				}
				notices, err := a.manager.Notices(ctx, transient)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), notices)
			})
		},
	}
	cmd.Flags().BoolVar(&withUpdates, "with-updates", false, "run an update check first")
	return cmd
}

func newConnectCmd() *cobra.Command {
	var creds licensing.Credentials
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect this site with account API credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.manager.Connect(ctx, creds); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Connected.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&creds.Email, "email", "", "account email")
	cmd.Flags().StringVar(&creds.APIKey, "api-key", "", "account API key")
	cmd.Flags().StringVar(&creds.APISecret, "api-secret", "", "account API secret")
	return cmd
}

func newDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Return to per-product license keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.manager.Disconnect(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Disconnected.")
				return nil
			})
		},
	}
}
