package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/replanner/config"
	"github.com/mohammad-safakhou/replanner/internal/agent/core"
	"github.com/mohammad-safakhou/replanner/internal/runtime"
	"github.com/spf13/cobra"
)

func chatCMD(cfgPath *string) *cobra.Command {
	var sessionID string
	var asJSON, noStorage bool

	chat := &cobra.Command{
		Use:   "chat <message>",
		Short: "Run a single conversation turn",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			agent, err := runtime.BuildAgent(ctx, cfg, runtime.AgentOptions{SkipStorage: noStorage})
			if err != nil {
				return err
			}
			defer agent.Close()

			resp, err := agent.Conversation.Send(ctx, core.ChatRequest{
				Message:   strings.Join(args, " "),
				SessionID: sessionID,
			})
			if err != nil {
				cmd.PrintErrf("history not saved: %v\n", err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			_, err = fmt.Fprintln(out, resp.Response)
			return err
		},
	}
	chat.Flags().StringVar(&sessionID, "session", "", "session id for persisted history")
	chat.Flags().BoolVar(&asJSON, "json", false, "print the full response envelope")
	chat.Flags().BoolVar(&noStorage, "no-storage", false, "do not connect to postgres or redis")
	return chat
}
