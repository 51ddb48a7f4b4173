// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package main

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/aegis-pdp/aegis/internal/access/policy"
	"github.com/aegis-pdp/aegis/internal/auth"
	"github.com/aegis-pdp/aegis/internal/config"
	"github.com/aegis-pdp/aegis/internal/ids"
	"github.com/aegis-pdp/aegis/internal/logging"
	"github.com/aegis-pdp/aegis/internal/pdp"
	"github.com/aegis-pdp/aegis/internal/schedule"
)

// checkConfig holds configuration for the check command.
type checkConfig struct {
	bundle   string
	roles    []string
	resource string
	action   string
	attrs    map[string]string
	at       string
}

// Validate checks that the configuration is valid.
func (c *checkConfig) Validate() error {
	switch {
	case c.bundle == "":
		return oops.Code("CONFIG_INVALID").Errorf("--bundle is required")
	case c.resource == "":
		return oops.Code("CONFIG_INVALID").Errorf("--resource is required")
	case c.action == "":
		return oops.Code("CONFIG_INVALID").Errorf("--action is required")
	}
	return nil
}

// NewCheckCmd creates the check subcommand.
func NewCheckCmd() *cobra.Command {
	cc := &checkConfig{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Decide one request offline against a bundle",
		Long: `Load an authorization bundle into a private in-memory decision point,
create a user holding the given roles and decide one request. The decision
is printed as JSON; a denial exits non-zero.`,
		Example: `  aegis check --bundle model.yaml --role ADMIN --resource document --action delete
  aegis check --bundle model.yaml --role TELLER --resource transactions --action write \
    --at 2026-03-10T02:00:00Z --attr amount=250`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolveConfigFile()
			if err != nil {
				return err
			}
			cfg := config.Default()
			if err := config.Load(path, cmd.Flags(), &cfg); err != nil {
				return err
			}
			d, err := runCheck(cmd.Context(), cc, cfg)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(d, "", "  ")
			if err != nil {
				return oops.Code("CHECK_ENCODE_FAILED").Wrap(err)
			}
			cmd.Println(string(out))
			if !d.Granted() {
				return d.Err()
			}
			return nil
		},
	}

	config.RegisterFlags(cmd.Flags(), config.Default())
	cmd.Flags().StringVar(&cc.bundle, "bundle", "", "authorization bundle file")
	cmd.Flags().StringSliceVar(&cc.roles, "role", nil, "role name or ID held by the user (repeatable)")
	cmd.Flags().StringVar(&cc.resource, "resource", "", "requested resource")
	cmd.Flags().StringVar(&cc.action, "action", "", "requested action")
	cmd.Flags().StringToStringVar(&cc.attrs, "attr", nil, "request context attribute key=value (repeatable)")
	cmd.Flags().StringVar(&cc.at, "at", "", "evaluation time in RFC 3339 (default: now)")

	return cmd
}

func runCheck(ctx context.Context, cc *checkConfig, cfg config.Config) (policy.Decision, error) {
	if err := cc.Validate(); err != nil {
		return policy.Decision{}, err
	}
	at := time.Now()
	if cc.at != "" {
		parsed, err := time.Parse(time.RFC3339, cc.at)
		if err != nil {
			return policy.Decision{}, oops.Code("CONFIG_INVALID").With("at", cc.at).Wrap(err)
		}
		at = parsed
	}

	logger, err := logging.Setup(logging.Options{Service: "aegis-check", Version: version, Format: "text", Level: "warn"}, nil)
	if err != nil {
		return policy.Decision{}, err
	}

	sched := schedule.NewManual(at)
	svc, err := pdp.New(ctx, cfg, pdp.MemoryStores(),
		pdp.WithClock(sched.Now),
		pdp.WithScheduler(sched),
		pdp.WithLogger(logger),
		pdp.WithHasher(auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 64, Threads: 1})))
	if err != nil {
		return policy.Decision{}, err
	}
	defer func() { _ = svc.Stop(context.Background()) }()

	if err := importBundleFile(ctx, svc, cc.bundle); err != nil {
		return policy.Decision{}, err
	}

	roleIDs := make([]string, 0, len(cc.roles))
	for _, name := range cc.roles {
		r, ok := svc.GetRoleByName(name)
		if !ok {
			r, ok = svc.GetRole(name)
		}
		if !ok {
			return policy.Decision{}, oops.Code("CHECK_ROLE_UNKNOWN").With("role", name).Errorf("role not found in bundle")
		}
		roleIDs = append(roleIDs, r.ID)
	}

	// The throwaway account is never authenticated; its credential only has
	// to satisfy the configured password policy.
	user, err := svc.CreateUser(ctx, auth.NewUser{
		Username: "check",
		Email:    "check@aegis.invalid",
		Password: checkCredential(cfg.PasswordPolicy),
		Roles:    roleIDs,
	})
	if err != nil {
		return policy.Decision{}, err
	}

	return svc.CheckAccess(ctx, user.ID, cc.resource, cc.action, parseAttrs(cc.attrs))
}

// checkCredential returns a random credential meeting p.
func checkCredential(p config.PasswordPolicy) string {
	pw := "Aa1!" + ids.New()
	for len(pw) < p.MinLength {
		pw += ids.New()
	}
	return pw
}

// parseAttrs turns numeric and boolean values into numbers and bools so
// AMOUNT and FREQUENCY conditions can compare them.
func parseAttrs(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = n
			continue
		}
		if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
			continue
		}
		out[k] = v
	}
	return out
}
