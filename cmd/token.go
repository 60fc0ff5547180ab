package cmd

import (
	"fmt"
	"time"

	"PPSignal/global"
	"PPSignal/tools/errs"
	"PPSignal/tools/security"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var userID int64
	var ttl time.Duration
	c := &cobra.Command{
		Use:   "token",
		Short: "Issue a JWT for a user id with the configured secret (development only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 {
				return errs.ErrInvalidArgument.WrapMsg("--user must be positive")
			}
			conf, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			opts, err := global.JWTOptions(conf.JWT)
			if err != nil {
				return err
			}
			if ttl > 0 {
				opts.TTL = ttl
			}
			token, exp, err := security.Generate(opts, userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	c.Flags().Int64VarP(&userID, "user", "u", 0, "user id to put in the user_id claim")
	c.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to jwt.ttl")
	return c
}
