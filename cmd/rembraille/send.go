package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rembraille/rembraille/pkg/client"
	"github.com/rembraille/rembraille/pkg/transport"
)

func sendCmd() *cobra.Command {
	var (
		host     string
		port     int
		wsURL    string
		clientID string
		hold     time.Duration
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Connect as a guest and display text",
		Long: `Connect to a host receiver and show the given text on its display.

The text is translated with a minimal six-dot letter map, padded or
truncated to the display width, and held on the display until the
hold duration elapses. Key presses arriving from the display are
printed to stdout while connected.

Examples:
  rembraille send hello world
  rembraille send --host=10.0.0.5 "status ok"
  rembraille send --ws=ws://10.0.0.5:8080/ws hello`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(host, port, wsURL, clientID, hold, logLevel, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&host, "host", "H", "localhost", "Host to connect to")
	cmd.Flags().IntVarP(&port, "port", "p", 17635, "Host TCP port")
	cmd.Flags().StringVar(&wsURL, "ws", "", "Connect over WebSocket at this URL instead of TCP")
	cmd.Flags().StringVar(&clientID, "id", "", "Client identifier sent in the handshake")
	cmd.Flags().DurationVar(&hold, "hold", 10*time.Second, "How long to keep the text on the display")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	return cmd
}

func runSend(host string, port int, wsURL, clientID string, hold time.Duration, logLevel, text string) error {
	logger := newLogger(logLevel)

	cfg := client.DefaultConfig()
	cfg.Logger = logger
	if clientID != "" {
		cfg.ClientID = clientID
	}
	if wsURL != "" {
		cfg.Dialer = func(ctx context.Context, addr string) (net.Conn, error) {
			return transport.DialWebSocket(ctx, wsURL)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	ready := make(chan struct{}, 1)
	conn := client.New(cfg, client.Callbacks{
		OnHandshakeResponse: func(cellCount *uint16, serverName string) {
			if cellCount != nil {
				fmt.Printf("connected to %q, %d cells\n", serverName, *cellCount)
			} else {
				fmt.Printf("connected to %q\n", serverName)
			}
			select {
			case ready <- struct{}{}:
			default:
			}
		},
		OnKeyEvent: func(keyID uint32, pressed bool) {
			action := "released"
			if pressed {
				action = "pressed"
			}
			fmt.Printf("key %d %s\n", keyID, action)
		},
		OnError: func(text string) {
			fmt.Fprintf(os.Stderr, "link error: %s\n", text)
		},
	})

	if err := conn.Connect(ctx, host, port); err != nil {
		return err
	}
	defer conn.Close()

	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(cfg.HandshakeTimeout):
		return fmt.Errorf("timed out waiting for handshake response")
	}

	cells := translate(text)
	if count, ok := conn.CellCount(); ok {
		cells = fit(cells, int(count))
	}
	if err := conn.DisplayCells(cells); err != nil {
		return err
	}
	fmt.Printf("sent %d cells, holding for %s\n", len(cells), hold)

	select {
	case <-time.After(hold):
	case <-ctx.Done():
	}
	return nil
}

// brailleLetters maps lowercase ASCII letters to six-dot cell patterns.
var brailleLetters = map[rune]byte{
	'a': 0x01, 'b': 0x03, 'c': 0x09, 'd': 0x19, 'e': 0x11,
	'f': 0x0B, 'g': 0x1B, 'h': 0x13, 'i': 0x0A, 'j': 0x1A,
	'k': 0x05, 'l': 0x07, 'm': 0x0D, 'n': 0x1D, 'o': 0x15,
	'p': 0x0F, 'q': 0x1F, 'r': 0x17, 's': 0x0E, 't': 0x1E,
	'u': 0x25, 'v': 0x27, 'w': 0x3A, 'x': 0x2D, 'y': 0x3D,
	'z': 0x35, ' ': 0x00,
}

// translate converts text to braille cells, one byte per character.
// Characters outside the letter map become blank cells.
func translate(text string) []byte {
	cells := make([]byte, 0, len(text))
	for _, r := range strings.ToLower(text) {
		cells = append(cells, brailleLetters[r])
	}
	return cells
}

// fit pads or truncates cells to the display width.
func fit(cells []byte, width int) []byte {
	if len(cells) >= width {
		return cells[:width]
	}
	padded := make([]byte, width)
	copy(padded, cells)
	return padded
}
