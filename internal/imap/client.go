package imap

import (
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
)

// Dial connects to the IMAP server with a 5-second timeout.
// useTLS: true for production (TLS), false for tests (non-TLS).
func Dial(address string, useTLS bool) (*client.Client, error) {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
	}

	if useTLS {
		c, err := client.DialWithDialerTLS(dialer, address, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		return c, nil
	}

	// Non-TLS connection for testing
	c, err := client.DialWithDialer(dialer, address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return c, nil
}

// LoginPassword authenticates with a plain username/password.
func LoginPassword(c *client.Client, username, password string) error {
	if err := c.Login(username, password); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	return nil
}

// LoginXOAuth2 authenticates with an OAuth2 access token via the XOAUTH2
// SASL mechanism (Gmail, Outlook).
func LoginXOAuth2(c *client.Client, username, accessToken string) error {
	if err := c.Authenticate(NewXOAuth2Client(username, accessToken)); err != nil {
		return fmt.Errorf("failed to authenticate with XOAUTH2: %w", err)
	}

	return nil
}
