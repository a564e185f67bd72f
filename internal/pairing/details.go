package pairing

import (
	"encoding/json"
	"fmt"
)

// ConnectionDetails is the structured record returned to whoever requested
// pairing info. Its JSON encoding is the exact payload embedded in the QR
// code the mobile app scans, so the field names are part of the protocol.
type ConnectionDetails struct {
	IP    string `json:"ip"`
	Port  int    `json:"port"`
	Token string `json:"token"`
}

// JSON returns the QR payload encoding of the details.
func (d *ConnectionDetails) JSON() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode connection details: %w", err)
	}
	return string(data), nil
}

// Details resolves the host address, generates a fresh pairing code into
// store, and assembles the connection record for display.
//
// Side effect: the previously stored secret is replaced, invalidating any
// client that has not yet authenticated with the old code.
func Details(store *SecretStore, port int) (*ConnectionDetails, error) {
	ip, err := ResolveIP()
	if err != nil {
		return nil, err
	}

	token, err := store.Generate()
	if err != nil {
		return nil, err
	}

	return &ConnectionDetails{
		IP:    ip,
		Port:  port,
		Token: token,
	}, nil
}
