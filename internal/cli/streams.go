package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yetasya/derivatives-bot/internal/config"
)

// NewStreamsCmd prints the streams subscribed after authorization
func NewStreamsCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "streams",
		Short: "List the streams subscribed after every authorization",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(cfg.Session.Streams, "\n"))
			return err
		},
	}
}
