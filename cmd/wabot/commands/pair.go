package commands

import (
	"fmt"
	"os"

	"github.com/jholhewres/wabot/pkg/wabot/channels/whatsapp"
	"github.com/jholhewres/wabot/pkg/wabot/session"
	"github.com/spf13/cobra"
)

func newPairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Link a new device by QR code",
		Long: `Show a QR code to scan from WhatsApp > Linked devices. On success the
encrypted session is stored in the database and printed, so it can be
copied into session.string or WABOT_SESSION on another host.`,
		RunE: runPair,
	}
}

func runPair(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg, os.Stderr)

	codec, err := newCodec(cfg, logger)
	if err != nil {
		return err
	}
	db, err := openDatabase(cmd, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	lifecycle := whatsapp.NewLifecycle(codec, db.Sessions(), logger)
	wa := whatsapp.New(cfg.WhatsApp, db, lifecycle, logger)
	defer wa.Disconnect()

	blob, err := wa.Pair(cmd.Context(), func(code string) {
		qr, err := whatsapp.RenderQR(code)
		if err != nil {
			fmt.Fprintf(os.Stderr, "QR code: %s\n", code)
			return
		}
		fmt.Fprintln(os.Stderr, "\nScan this QR code with WhatsApp > Linked devices:")
		fmt.Fprintln(os.Stderr, qr)
	})
	if err != nil {
		failure("pairing failed: %v", err)
		return err
	}

	if err := session.Persist(cmd.Context(), db.Sessions(), codec, blob); err != nil {
		return err
	}
	s, err := codec.Encrypt(blob)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Paired as %s. Session saved to the database.\n", blob.JID)
	fmt.Println(s)
	return nil
}
