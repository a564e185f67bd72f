package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/skip2/go-qrcode"

	"github.com/epoq/desktop/internal/pairing"
)

// runPair implements the "epoq pair" command. It resolves the host's
// LAN address, generates a pairing code, and displays the connection
// details the companion app needs.
//
// This is a preview helper: the code shown here belongs to this
// process, not to a running server. To pair against a live server,
// start it with 'epoq serve --pair'.
func runPair(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pair", flag.ContinueOnError)
	fs.SetOutput(stderr)

	port := fs.Int("port", 8765, "Server port to include in the connection details")
	qr := fs.Bool("qr", false, "Display connection details as QR code")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: epoq pair [options]\n\nDisplay connection details for the companion app.\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nFor a code accepted by a running server, use 'epoq serve --pair'.\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	details, err := pairing.Details(pairing.NewSecretStore(), *port)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *qr {
		DisplayQRDetails(stdout, details)
	} else {
		DisplayConnectionDetails(stdout, details)
	}
	return 0
}

// DisplayConnectionDetails shows the connection details to the user.
func DisplayConnectionDetails(w io.Writer, d *pairing.ConnectionDetails) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         PAIRING CODE")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "           %s\n", FormatCodeWithSpaces(d.Token))
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "  Host:    %s:%d\n", d.IP, d.Port)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  Enter this code in the companion app to pair.")
	fmt.Fprintln(w, "  Regenerating replaces it.")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// DisplayQRDetails shows the connection details as a QR code with a
// plain-text fallback. The QR payload is the JSON the companion app
// parses to connect.
func DisplayQRDetails(w io.Writer, d *pairing.ConnectionDetails) {
	payload, err := d.JSON()
	if err != nil {
		fmt.Fprintf(w, "Error encoding connection details: %v\n", err)
		DisplayConnectionDetails(w, d)
		return
	}

	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		fmt.Fprintf(w, "Falling back to text display.\n\n")
		DisplayConnectionDetails(w, d)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         SCAN TO PAIR")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")

	// Half-block characters keep the code compact in a terminal.
	fmt.Fprint(w, qr.ToSmallString(false))

	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintln(w, "  Plain-text fallback:")
	fmt.Fprintf(w, "  Code: %s\n", FormatCodeWithSpaces(d.Token))
	fmt.Fprintf(w, "  Host: %s:%d\n", d.IP, d.Port)
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// FormatCodeWithSpaces adds spaces between digits for readability.
// "123456" -> "1 2 3 4 5 6"
func FormatCodeWithSpaces(code string) string {
	result := ""
	for i, c := range code {
		if i > 0 {
			result += " "
		}
		result += string(c)
	}
	return result
}
