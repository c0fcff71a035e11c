package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/sqelf/pkg/gelf"
)

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send one GELF message over UDP",
	Long: `Send one GELF message to a receiver.

The message is taken from the argument, or from stdin when no argument is
given. A JSON object is sent as a GELF document; any other text becomes
the short_message of a new document for this host.

Examples:
  sqelf send "disk almost full" --level 4
  echo '{"host":"web-1","short_message":"hi","_user":"alice"}' | sqelf send --compression gzip
  sqelf send --chunk-size 512 < big-message.json`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var in io.Reader = os.Stdin
		if len(args) == 1 {
			in = strings.NewReader(args[0])
		}
		if err := runSend(in, sendOpts, os.Stdout); err != nil {
			exitWithError("send failed", err)
		}
	},
}

type sendOptions struct {
	Addr        string
	Compression string
	ChunkSize   int
	Level       int
	Host        string
}

var sendOpts sendOptions

func init() {
	sendCmd.Flags().StringVarP(&sendOpts.Addr, "addr", "a", "127.0.0.1:12201", "receiver address")
	sendCmd.Flags().StringVar(&sendOpts.Compression, "compression", "none", "none, gzip or zlib")
	sendCmd.Flags().IntVar(&sendOpts.ChunkSize, "chunk-size", gelf.ChunkSize, "max datagram size before chunking")
	sendCmd.Flags().IntVarP(&sendOpts.Level, "level", "l", 6, "syslog level for plain-text messages")
	sendCmd.Flags().StringVar(&sendOpts.Host, "host", "", "host for plain-text messages (default: hostname)")
}

func runSend(in io.Reader, opts sendOptions, out io.Writer) error {
	compression, err := gelf.ParseCompression(opts.Compression)
	if err != nil {
		return err
	}

	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read message: %w", err)
	}
	body, err := buildPayload(bytes.TrimSpace(raw), opts)
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("udp", opts.Addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.Addr, err)
	}
	defer conn.Close()

	w := gelf.NewWriter(conn, gelf.WriterConfig{
		ChunkSize:   opts.ChunkSize,
		Compression: compression,
	})
	if err := w.WritePayload(body); err != nil {
		return err
	}

	fmt.Fprintf(out, "✓ Sent %d bytes to %s\n", len(body), opts.Addr)
	return nil
}

// buildPayload validates a JSON document or wraps plain text in one.
func buildPayload(raw []byte, opts sendOptions) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	if raw[0] == '{' {
		if _, err := gelf.ParseMessage(raw); err != nil {
			return nil, err
		}
		return raw, nil
	}

	host := opts.Host
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve hostname: %w", err)
		}
		host = h
	}
	level := opts.Level
	ts := float64(time.Now().UnixMicro()) / 1e6
	return json.Marshal(&gelf.Message{
		Version:      "1.1",
		Host:         host,
		ShortMessage: string(raw),
		Timestamp:    &ts,
		Level:        &level,
	})
}
