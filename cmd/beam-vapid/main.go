package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"beam/pkg/webpush"

	"github.com/sirupsen/logrus"
)

var format = flag.String("format", "env", "Output format: env or json")

func main() {
	flag.Parse()

	if err := run(os.Stdout, *format); err != nil {
		logrus.Fatalf("Failed to generate VAPID keys: %v", err)
	}
}

func run(w io.Writer, format string) error {
	keys, privateKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return err
	}

	switch format {
	case "env":
		_, err = fmt.Fprintf(w, "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", keys.PublicKey, privateKey)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{
			"vapidPublicKey":  keys.PublicKey,
			"vapidPrivateKey": privateKey,
		})
	default:
		return fmt.Errorf("unknown format %q (want env or json)", format)
	}
}
