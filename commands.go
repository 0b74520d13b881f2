package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ticketchat/global/config"
	"ticketchat/service/chat"
	"ticketchat/tools/errs"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// targetFlags --ticket / --workflow-test 二选一
type targetFlags struct {
	ticket       string
	workflowTest string
}

func (t *targetFlags) bind(cmd *cobra.Command, workflow bool) {
	cmd.Flags().StringVar(&t.ticket, "ticket", "", "ticket id")
	if !workflow {
		_ = cmd.MarkFlagRequired("ticket")
		return
	}
	cmd.Flags().StringVar(&t.workflowTest, "workflow-test", "", "workflow test id")
	cmd.MarkFlagsMutuallyExclusive("ticket", "workflow-test")
	cmd.MarkFlagsOneRequired("ticket", "workflow-test")
}

func (t *targetFlags) resolve() (chat.TargetKind, string, error) {
	switch {
	case t.ticket != "" && t.workflowTest != "":
		return 0, "", errs.ErrInvalidConfig.WrapMsg("--ticket and --workflow-test are exclusive")
	case t.ticket != "":
		return chat.TargetTicket, t.ticket, nil
	case t.workflowTest != "":
		return chat.TargetWorkflowTest, t.workflowTest, nil
	default:
		return 0, "", errs.ErrInvalidConfig.WrapMsg("a conversation id is required")
	}
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func connectCmd(f *cliFlags) *cobra.Command {
	var target targetFlags
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join a conversation and chat from the terminal",
		Long: "Join a ticket or workflow test conversation. Every stdin line is sent as {\"text\": line};\n" +
			"/typing sends a typing indicator and /quit leaves.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, id, err := target.resolve()
			if err != nil {
				return err
			}
			cfg, err := f.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			c, err := newClient(ctx, cfg, kind, id, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer c.close()
			return c.interactive(ctx, cmd.InOrStdin())
		},
	}
	target.bind(cmd, true)
	return cmd
}

func sendCmd(f *cliFlags) *cobra.Command {
	var target targetFlags
	cmd := &cobra.Command{
		Use:   "send TEXT...",
		Short: "Send one message to a ticket and print its message id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, err := target.resolve()
			if err != nil {
				return err
			}
			cfg, err := f.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			c, err := newClient(ctx, cfg, kind, id, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer c.close()

			if err := c.ready(ctx); err != nil {
				return err
			}
			msgID, err := c.sendText(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msgID)
			return nil
		},
	}
	target.bind(cmd, false)
	return cmd
}

func configCmd(f *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			return printConfig(cmd.OutOrStdout(), cfg)
		},
	}
}

// printConfig 输出 yaml，密钥打码
func printConfig(w io.Writer, cfg *config.AppConfig) error {
	v := *cfg
	v.Credential.Token = mask(v.Credential.Token)
	v.Credential.RedisPassword = mask(v.Credential.RedisPassword)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&v); err != nil {
		return err
	}
	return enc.Close()
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
