package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/quietloop/fennec/internal/gateway"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query a running fennec gateway over WebSocket",
		Run: func(cmd *cobra.Command, args []string) {
			runStatus()
		},
	}
}

func runStatus() {
	cfg := loadConfig()
	url := fmt.Sprintf("ws://%s:%d/ws", cfg.Gateway.Host, cfg.Gateway.Port)

	var header http.Header
	if cfg.Gateway.Token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + cfg.Gateway.Token}}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, header)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot reach gateway at %s: %v\nIs fennec running?\n", url, err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := conn.WriteJSON(gateway.Request{ID: "1", Method: "status"}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp gateway.Response
	if err := conn.ReadJSON(&resp); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !resp.OK {
		fmt.Fprintf(os.Stderr, "Gateway error: %s\n", resp.Error)
		os.Exit(1)
	}

	pretty, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(pretty))
}
