package main

import (
	"bufio"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var connectCmd = &cobra.Command{
	Use:   "connect [url]",
	Short: "Interactive session: stdin lines are sent, messages are printed",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		conn, log, err := connect(ctx, cmd, args)
		if err != nil {
			return err
		}

		received := make(chan error, 1)
		go func() {
			received <- receiveLoop(cmd.OutOrStdout(), conn, 0, log.Info)
		}()

		lines := make(chan string)
		go func() {
			defer close(lines)
			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				lines <- sc.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return <-received
			case err := <-received:
				_ = conn.Close()
				return err
			case line, ok := <-lines:
				if !ok {
					_ = conn.Close()
					return <-received
				}
				if err := conn.WriteMessage(messageType(), []byte(line)); err != nil {
					_ = conn.Close()
					return fmt.Errorf("send: %w", err)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
}
