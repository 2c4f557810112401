package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coregx/wsclient/websocket"
)

var sendWait bool

var sendCmd = &cobra.Command{
	Use:   "send [url] <message>",
	Short: "Send one message and optionally print the reply",
	Long: `Send one message and close the connection.

The message is read from stdin when it is "-". With --wait the first message
received afterwards is printed before closing.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := args[len(args)-1]
		conn, log, err := connect(cmd.Context(), cmd, args[:len(args)-1])
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()

		var data []byte
		if payload == "-" {
			if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
				return err
			}
		} else {
			data = []byte(payload)
		}

		if err := conn.WriteMessage(messageType(), data); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		log.Debug("message sent", "bytes", len(data))

		if !sendWait {
			return nil
		}
		typ, reply, err := conn.Read()
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		printMessage(cmd.OutOrStdout(), typ, reply)
		return nil
	},
}

func printMessage(w io.Writer, typ websocket.MessageType, data []byte) {
	if typ == websocket.BinaryMessage {
		_, _ = fmt.Fprintf(w, "<binary %d bytes> % x\n", len(data), data)
		return
	}
	_, _ = fmt.Fprintln(w, strings.TrimRight(string(data), "\n"))
}

func init() {
	sendCmd.Flags().BoolVarP(&sendWait, "wait", "w", false, "wait for and print one reply")
	rootCmd.AddCommand(sendCmd)
}
