// Package auth adapts SASL mechanisms to engine.AuthMechanism: PLAIN and
// SCRAM-SHA-1/256(-PLUS) are implemented here directly; CRAM-MD5, XOAUTH2
// and OAUTHBEARER delegate to github.com/emersion/go-sasl.
package auth

import (
	"crypto/tls"

	"github.com/emersion/go-sasl"
)

// Mechanism is the engine.AuthMechanism shape, duplicated here to avoid a
// dependency from auth on engine; engine/commands.go's AuthMechanism is
// structurally identical and any Mechanism value satisfies it.
type Mechanism interface {
	Name() string
	Step(challenge []byte) (response []byte, done bool, err error)
}

// saslAdapter turns a github.com/emersion/go-sasl Client into a Mechanism,
// tracking whether Start (the initial response) has already run.
type saslAdapter struct {
	name    string
	client  sasl.Client
	started bool
}

func (a *saslAdapter) Name() string { return a.name }

func (a *saslAdapter) Step(challenge []byte) (response []byte, done bool, err error) {
	if !a.started {
		a.started = true
		_, ir, err := a.client.Start()
		return ir, false, err
	}
	resp, err := a.client.Next(challenge)
	return resp, false, err
}

// XOAuth2 authenticates with an OAuth2 access token via AUTH=XOAUTH2.
func XOAuth2(username, accessToken string) Mechanism {
	return &saslAdapter{name: "XOAUTH2", client: sasl.NewXoauth2Client(username, accessToken)}
}

// OAuthBearer authenticates with an OAuth2 bearer token via AUTH=OAUTHBEARER
// (RFC 7628).
func OAuthBearer(username, accessToken, host string, port int) Mechanism {
	opts := sasl.OAuthBearerOptions{Username: username, Token: accessToken, Host: host, Port: port}
	return &saslAdapter{name: "OAUTHBEARER", client: sasl.NewOAuthBearerClient(&opts)}
}

// CramMD5 authenticates via AUTH=CRAM-MD5 (RFC 2195).
func CramMD5(username, secret string) Mechanism {
	return &saslAdapter{name: "CRAM-MD5", client: sasl.NewCramMD5Client(username, secret)}
}

// Plain authenticates via AUTH=PLAIN (RFC 4616). It is implemented directly
// rather than through go-sasl since the wire format is a single fixed
// message with no further challenge.
type plainMechanism struct {
	identity, username, password string
}

func Plain(identity, username, password string) Mechanism {
	return plainMechanism{identity, username, password}
}

func (m plainMechanism) Name() string { return "PLAIN" }

func (m plainMechanism) Step(challenge []byte) ([]byte, bool, error) {
	msg := m.identity + "\x00" + m.username + "\x00" + m.password
	return []byte(msg), true, nil
}

// ChannelBinding optionally supplies a TLS connection state to bind a
// SCRAM-*-PLUS exchange to, per RFC 5802 §6.1.
type ChannelBinding struct {
	State        *tls.ConnectionState
	NoServerPlus bool // client wanted PLUS but believes the server doesn't support it
}
