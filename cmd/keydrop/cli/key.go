package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/keydropio/keydrop/internal/model"
	"github.com/keydropio/keydrop/internal/service"
	"github.com/keydropio/keydrop/internal/store"
)

// errKeyRejected makes check and validate exit non-zero for keys that are
// not valid, so scripts can branch on the exit status.
var errKeyRejected = errors.New("key rejected")

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Issue, inspect and redeem access keys",
		Long:  "Work with the key store directly, without going through the HTTP server.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyCheckCmd())
	cmd.AddCommand(newKeyValidateCmd())
	cmd.AddCommand(newKeySearchCmd())
	cmd.AddCommand(newKeySweepCmd())
	cmd.AddCommand(newKeyClearCmd())

	return cmd
}

// withKeys opens the configured store for the duration of fn.
func withKeys(cmd *cobra.Command, fn func(ctx context.Context, keys *service.KeyService) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.keys)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		req        service.IssueRequest
		format     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new access key",
		Long:  "Generate a new key. It expires after keys.validity and can be redeemed --max-uses times.",
		Example: `  keydrop key create --name "Trial download"
  keydrop key create --format hex --length 16 --max-uses 3
  TOKEN=$(keydrop key create --json | jq -r .key)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Format = model.Format(strings.ToLower(format))
			return withKeys(cmd, func(ctx context.Context, keys *service.KeyService) error {
				return runKeyCreate(ctx, cmd.OutOrStdout(), keys, req, jsonOutput)
			})
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "Human-readable label (default \"Unnamed Key\")")
	cmd.Flags().StringVar(&format, "format", "", "Token format: bash, uuid, hex, alphanumeric, custom (default from keys.default_format)")
	cmd.Flags().IntVar(&req.Length, "length", 0, "Token length for hex, alphanumeric and custom formats (8-128)")
	cmd.Flags().IntVar(&req.MaxUses, "max-uses", 0, "Number of redemptions allowed (default 1)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyCreate(ctx context.Context, w io.Writer, keys *service.KeyService, req service.IssueRequest, jsonOutput bool) error {
	if req.MaxUses < 0 {
		return fmt.Errorf("--max-uses must be positive, got %d", req.MaxUses)
	}

	k, err := keys.Issue(ctx, req)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(w, k)
	}

	fmt.Fprintln(w, "Access key issued:")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Key:      %s\n", k.Token)
	fmt.Fprintf(w, "  Name:     %s\n", k.Name)
	fmt.Fprintf(w, "  Format:   %s\n", k.Format)
	fmt.Fprintf(w, "  Uses:     %d\n", k.MaxUses)
	fmt.Fprintf(w, "  Expires:  %s\n", k.ExpiresAt.Format(time.RFC3339))
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		live       bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored keys, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.FilterAll
			if live {
				filter = store.FilterLive
			}
			return withKeys(cmd, func(ctx context.Context, keys *service.KeyService) error {
				return runKeyList(ctx, cmd.OutOrStdout(), keys, filter, jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&live, "live", false, "Only keys that are neither expired nor used up")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(ctx context.Context, w io.Writer, keys *service.KeyService, filter store.Filter, jsonOutput bool) error {
	list, err := keys.List(ctx, filter)
	if err != nil {
		return err
	}
	if list == nil {
		list = []model.Key{}
	}

	if jsonOutput {
		return printJSON(w, list)
	}

	if len(list) == 0 {
		fmt.Fprintln(w, "No keys found. Use 'keydrop key create' to issue one.")
		return nil
	}

	printKeyTable(w, list, keys.Policy().Now())
	return nil
}

func printKeyTable(w io.Writer, list []model.Key, now time.Time) {
	fmt.Fprintf(w, "%-6s %-24s %-40s %-10s %-7s %-20s\n", "ID", "NAME", "KEY", "STATUS", "USES", "EXPIRES")
	fmt.Fprintf(w, "%-6s %-24s %-40s %-10s %-7s %-20s\n", "--", "----", "---", "------", "----", "-------")
	for i := range list {
		k := &list[i]
		status := "live"
		switch {
		case k.IsExpiredAt(now):
			status = "expired"
		case k.IsExhausted():
			status = "used"
		}
		fmt.Fprintf(w, "%-6d %-24s %-40s %-10s %-7s %-20s\n",
			k.ID, truncate(k.Name, 24), truncate(k.Token, 40), status,
			fmt.Sprintf("%d/%d", k.UsedCount, k.MaxUses), k.ExpiresAt.Format(time.RFC3339))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// ---------- key check / validate ----------

func newKeyCheckCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check <key>",
		Short: "Report a key's status without consuming it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeys(cmd, func(ctx context.Context, keys *service.KeyService) error {
				return runKeyClassify(ctx, cmd.OutOrStdout(), keys, args[0], false, jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newKeyValidateCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "validate <key>",
		Aliases: []string{"redeem"},
		Short:   "Redeem a key, consuming one use",
		Long:    "Redeem a key. Exits non-zero when the key is unknown, expired or used up.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeys(cmd, func(ctx context.Context, keys *service.KeyService) error {
				return runKeyClassify(ctx, cmd.OutOrStdout(), keys, args[0], true, jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// keyStatus is the CLI view of a check or validate outcome.
type keyStatus struct {
	Valid   bool           `json:"valid"`
	Status  model.Status   `json:"status"`
	Message string         `json:"message"`
	Data    *model.KeyData `json:"data,omitempty"`
}

func runKeyClassify(ctx context.Context, w io.Writer, keys *service.KeyService, tok string, consume, jsonOutput bool) error {
	tok = strings.TrimSpace(tok)

	var (
		res service.Result
		err error
	)
	if consume {
		res, err = keys.Validate(ctx, tok)
	} else {
		res, err = keys.Check(ctx, tok)
	}
	if err != nil {
		return err
	}

	out := keyStatus{Valid: res.Valid(), Status: res.Status, Message: res.Status.Message(), Data: res.Data()}
	if consume && out.Valid {
		out.Message = "Key is valid and has been consumed"
	}

	if jsonOutput {
		if err := printJSON(w, out); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w, out.Message)
		if out.Data != nil {
			fmt.Fprintf(w, "  Name:     %s\n", out.Data.Name)
			fmt.Fprintf(w, "  Format:   %s\n", out.Data.Type)
			fmt.Fprintf(w, "  Created:  %s\n", out.Data.Created.Format(time.RFC3339))
			fmt.Fprintf(w, "  Expires:  %s\n", out.Data.Expires.Format(time.RFC3339))
			fmt.Fprintf(w, "  Uses left: %d\n", out.Data.UsesRemaining)
		}
	}

	if !out.Valid {
		return fmt.Errorf("%w: %s", errKeyRejected, out.Status)
	}
	return nil
}

// ---------- key search ----------

func newKeySearchCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find live keys by name or token substring",
		Long: `Find live keys whose name or token contains the query, case-insensitively.
At most keys.search_limit matches are returned, most recent first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeys(cmd, func(ctx context.Context, keys *service.KeyService) error {
				return runKeySearch(ctx, cmd.OutOrStdout(), keys, args[0], jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runKeySearch(ctx context.Context, w io.Writer, keys *service.KeyService, query string, jsonOutput bool) error {
	found, err := keys.Search(ctx, query)
	if err != nil {
		return err
	}
	if found == nil {
		found = []model.Key{}
	}

	if jsonOutput {
		return printJSON(w, found)
	}
	if len(found) == 0 {
		fmt.Fprintf(w, "No live keys match %q.\n", query)
		return nil
	}
	printKeyTable(w, found, keys.Policy().Now())
	return nil
}

// ---------- key sweep ----------

func newKeySweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "sweep",
		Aliases: []string{"cleanup"},
		Short:   "Delete expired keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeys(cmd, func(ctx context.Context, keys *service.KeyService) error {
				n, err := keys.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired key(s)\n", n)
				return nil
			})
		},
	}
}

// ---------- key clear ----------

func newKeyClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every key, live or not",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete all keys without --yes")
			}
			return withKeys(cmd, func(ctx context.Context, keys *service.KeyService) error {
				if err := keys.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All keys cleared")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deleting every key")
	return cmd
}
