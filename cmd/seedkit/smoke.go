package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tordrt/seedkit/internal/config"
	"github.com/tordrt/seedkit/internal/supabase"
)

func newSmokeCmd(root *rootOptions) *cobra.Command {
	var (
		body string
		tier string
	)

	cmd := &cobra.Command{
		Use:   "smoke FUNCTION",
		Short: "Call an edge function once and report its answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			t, err := supabase.ParseTier(tier)
			if err != nil {
				return err
			}
			if body != "" && !json.Valid([]byte(body)) {
				return errors.New("--body is not valid JSON")
			}
			reqs := []config.Requirement{config.NeedProject, config.NeedAnonKey}
			if t == supabase.TierService {
				reqs[1] = config.NeedServiceKey
			}

			rt, err := newRuntime(cmd, root, reqs...)
			if err != nil {
				return err
			}
			defer rt.finish(&err)

			sb, err := rt.Supabase()
			if err != nil {
				return err
			}
			inv, err := sb.InvokeFunction(cmd.Context(), t, args[0], json.RawMessage(body))
			if err != nil {
				return err
			}
			rt.log.Info("function answered", zap.String("function", inv.Function), zap.Int("status", inv.Status), zap.Duration("duration", inv.Duration))
			rt.out.Invocation(inv)
			if !inv.OK() {
				return fmt.Errorf("function %s answered %d", inv.Function, inv.Status)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&body, "body", "", "JSON request body (default: {})")
	f.StringVar(&tier, "tier", "anon", "Key tier: anon or service")
	return cmd
}
