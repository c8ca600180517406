package smtp

import (
	"fmt"
	"net/smtp"

	"github.com/pkg/errors"
)

// xoauth2Auth implements smtp.Auth for the XOAUTH2 mechanism: the bearer
// token goes in the initial response, a non-empty continuation means the
// server rejected it.
type xoauth2Auth struct {
	username string
	token    string
}

func newXOAuth2Auth(username, token string) smtp.Auth {
	return &xoauth2Auth{username: username, token: token}
}

func (a *xoauth2Auth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, errors.New("xoauth2 requires a TLS connection")
	}
	ir := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.username, a.token)
	return "XOAUTH2", []byte(ir), nil
}

func (a *xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		// Server sent an error payload; an empty response lets the tagged
		// failure arrive.
		return []byte{}, nil
	}
	return nil, nil
}
