package imap

import (
	"fmt"

	"github.com/emersion/go-sasl"
)

// xoauth2Client implements the XOAUTH2 SASL mechanism. go-sasl ships
// OAUTHBEARER but the major IMAP providers still speak Google's older XOAUTH2
// variant, so the initial response is assembled here.
type xoauth2Client struct {
	username    string
	accessToken string
}

// NewXOAuth2Client returns a sasl.Client for the XOAUTH2 mechanism.
func NewXOAuth2Client(username, accessToken string) sasl.Client {
	return &xoauth2Client{username: username, accessToken: accessToken}
}

func (c *xoauth2Client) Start() (mech string, ir []byte, err error) {
	ir = []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", c.username, c.accessToken))
	return "XOAUTH2", ir, nil
}

// Next handles the server's error challenge. XOAUTH2 servers respond to a bad
// token with a base64 JSON blob expecting an empty client reply before the
// tagged NO.
func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}
