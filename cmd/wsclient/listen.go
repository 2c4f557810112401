package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/coregx/wsclient/websocket"
)

var listenCount int

var listenCmd = &cobra.Command{
	Use:   "listen [url]",
	Short: "Print incoming messages until the server closes the connection",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, log, err := connect(cmd.Context(), cmd, args)
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()

		return receiveLoop(cmd.OutOrStdout(), conn, listenCount, log.Info)
	},
}

// receiveLoop prints messages until the stream ends or limit messages were
// printed (limit <= 0 means no limit).
func receiveLoop(w io.Writer, conn *websocket.Conn, limit int, info func(string, ...any)) error {
	for n := 0; limit <= 0 || n < limit; n++ {
		typ, data, err := conn.Read()
		switch {
		case err == nil:
			printMessage(w, typ, data)
		case websocket.IsCloseError(err), errors.Is(err, io.EOF):
			if ce := conn.CloseStatus(); ce != nil {
				info("server closed connection", "code", int(ce.Code), "reason", ce.Reason)
			}
			return nil
		default:
			return fmt.Errorf("receive: %w", err)
		}
	}
	return nil
}

func init() {
	listenCmd.Flags().IntVarP(&listenCount, "count", "n", 0, "exit after n messages (0: no limit)")
	rootCmd.AddCommand(listenCmd)
}
