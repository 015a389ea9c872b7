package auth

import (
	"bytes"
	"crypto/hmac"
	cryptorand "crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

// ErrProtocol and ErrUnsafe are the SCRAM client-side failure classes: a
// server message that violates the grammar, or one that threatens a
// downgrade/MitM.
var (
	ErrProtocol = errors.New("scram: protocol error")
	ErrUnsafe   = errors.New("scram: unsafe parameter from server")
)

// scramClient is a client-only SCRAM-SHA-1/256(-PLUS) implementation, driven
// by three Step calls instead of named ClientFirst/ServerFirst/ServerFinal
// methods.
type scramClient struct {
	h    func() hash.Hash
	name string

	authc, authz string
	cs            *tls.ConnectionState
	noServerPlus  bool

	step int

	gs2header       string
	clientNonce     string
	clientFirstBare string
	serverFirstMsg  string
	nonce           string
	authMessage     string
	saltedPassword  []byte
	channelBindData []byte

	password string
}

// SCRAMSHA1 builds a SCRAM-SHA-1 mechanism. Set cs to bind to a TLS
// connection and get the PLUS variant; pass nil for the plain variant.
func SCRAMSHA1(authc, password string, cs *tls.ConnectionState) Mechanism {
	return newScram(sha1.New, "SCRAM-SHA-1", authc, password, cs, false)
}

// SCRAMSHA256 builds a SCRAM-SHA-256 mechanism.
func SCRAMSHA256(authc, password string, cs *tls.ConnectionState) Mechanism {
	return newScram(sha256.New, "SCRAM-SHA-256", authc, password, cs, false)
}

func newScram(h func() hash.Hash, name, authc, password string, cs *tls.ConnectionState, noServerPlus bool) Mechanism {
	if cs != nil {
		name += "-PLUS"
	}
	return &scramClient{
		h:        h,
		name:     name,
		authc:    norm.NFC.String(authc),
		password: password,
		cs:       cs,
		noServerPlus: noServerPlus,
	}
}

func (c *scramClient) Name() string { return c.name }

func (c *scramClient) Step(challenge []byte) (response []byte, done bool, err error) {
	switch c.step {
	case 0:
		c.step++
		return c.clientFirst()
	case 1:
		c.step++
		resp, err := c.serverFirst(challenge)
		return resp, false, err
	case 2:
		c.step++
		err := c.serverFinal(challenge)
		return nil, true, err
	default:
		return nil, true, fmt.Errorf("scram: no further steps")
	}
}

func (c *scramClient) clientFirst() ([]byte, bool, error) {
	if c.cs != nil {
		if c.cs.Version >= tls.VersionTLS13 {
			c.gs2header = "p=tls-exporter"
		} else {
			c.gs2header = "p=tls-unique"
		}
		c.channelBindData = channelBindData(c.cs)
	} else if c.noServerPlus {
		c.gs2header = "y"
	} else {
		c.gs2header = "n"
	}
	c.gs2header += ",,"
	if c.clientNonce == "" {
		buf := make([]byte, 18)
		if _, err := cryptorand.Read(buf); err != nil {
			return nil, false, err
		}
		c.clientNonce = base64.StdEncoding.EncodeToString(buf)
	}
	c.clientFirstBare = fmt.Sprintf("n=%s,r=%s", saslName(c.authc), c.clientNonce)
	return []byte(c.gs2header + c.clientFirstBare), false, nil
}

func (c *scramClient) serverFirst(serverFirst []byte) (clientFinal []byte, rerr error) {
	c.serverFirstMsg = string(serverFirst)
	p := newScramParser(serverFirst)
	defer p.recover(&rerr)

	if p.take("m=") {
		return nil, fmt.Errorf("%w: unsupported mandatory extension", ErrProtocol)
	}
	nonce := p.xfield('r')
	p.xtake(",")
	salt := p.xbase64field('s')
	p.xtake(",")
	iterations := p.xintfield('i')
	for p.take(",") {
		p.xskipfield()
	}

	if !strings.HasPrefix(nonce, c.clientNonce) {
		return nil, fmt.Errorf("%w: server dropped our nonce", ErrProtocol)
	}
	if len(nonce)-len(c.clientNonce) < 8 {
		return nil, fmt.Errorf("%w: server nonce too short", ErrUnsafe)
	}
	if len(salt) < 8 {
		return nil, fmt.Errorf("%w: salt too short", ErrUnsafe)
	}
	if iterations < 2048 {
		return nil, fmt.Errorf("%w: too few iterations", ErrUnsafe)
	}
	c.nonce = nonce

	cbindInput := append([]byte(c.gs2header), c.channelBindData...)
	clientFinalWithoutProof := fmt.Sprintf("c=%s,r=%s", base64.StdEncoding.EncodeToString(cbindInput), c.nonce)
	c.authMessage = c.clientFirstBare + "," + c.serverFirstMsg + "," + clientFinalWithoutProof

	c.saltedPassword = pbkdf2.Key([]byte(norm.NFC.String(c.password)), salt, iterations, c.h().Size(), c.h)
	clientKey := hmacSum(c.h, c.saltedPassword, "Client Key")
	hh := c.h()
	hh.Write(clientKey)
	storedKey := hh.Sum(nil)
	clientSig := hmacSum(c.h, storedKey, c.authMessage)
	proof := xorBytes(clientSig, clientKey)

	return []byte(clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof)), nil
}

func (c *scramClient) serverFinal(serverFinal []byte) (rerr error) {
	p := newScramParser(serverFinal)
	defer p.recover(&rerr)

	if p.take("e=") {
		return fmt.Errorf("scram: server reported error: %s", p.rest())
	}
	p.xtake("v=")
	verifier, err := base64.StdEncoding.DecodeString(p.rest())
	if err != nil {
		return fmt.Errorf("%w: decoding verifier: %v", ErrProtocol, err)
	}

	serverKey := hmacSum(c.h, c.saltedPassword, "Server Key")
	serverSig := hmacSum(c.h, serverKey, c.authMessage)
	if !bytes.Equal(verifier, serverSig) {
		return fmt.Errorf("scram: incorrect server signature")
	}
	return nil
}

// channelBindData extracts the channel-binding bytes for the negotiated TLS
// version: tls-exporter for 1.3+, tls-unique (the first Finished message)
// otherwise.
func channelBindData(cs *tls.ConnectionState) []byte {
	if cs.Version >= tls.VersionTLS13 {
		data, err := cs.ExportKeyingMaterial("EXPORTER-Channel-Binding", nil, 32)
		if err != nil {
			return nil
		}
		return data
	}
	return cs.TLSUnique
}

func hmacSum(h func() hash.Hash, key []byte, s string) []byte {
	mac := hmac.New(h, key)
	mac.Write([]byte(s))
	return mac.Sum(nil)
}

func xorBytes(dst, src []byte) []byte {
	for i := range dst {
		dst[i] ^= src[i]
	}
	return dst
}

// saslName escapes "," and "=" per RFC 5802 §5.1's saslname production.
func saslName(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	s = strings.ReplaceAll(s, ",", "=2C")
	return s
}

// scramParser is a tiny panic/recover-based field parser for SCRAM server
// messages, mirroring the parsing idiom used throughout the wire package.
type scramParser struct {
	s string
}

func newScramParser(b []byte) *scramParser { return &scramParser{s: string(b)} }

func (p *scramParser) recover(rerr *error) {
	x := recover()
	if x == nil {
		return
	}
	if err, ok := x.(error); ok {
		*rerr = err
		return
	}
	panic(x)
}

func (p *scramParser) take(prefix string) bool {
	if strings.HasPrefix(p.s, prefix) {
		p.s = p.s[len(prefix):]
		return true
	}
	return false
}

func (p *scramParser) xtake(prefix string) {
	if !p.take(prefix) {
		panic(fmt.Errorf("%w: expected %q", ErrProtocol, prefix))
	}
}

func (p *scramParser) field() string {
	idx := strings.IndexByte(p.s, ',')
	if idx < 0 {
		v := p.s
		p.s = ""
		return v
	}
	v := p.s[:idx]
	p.s = p.s[idx:]
	return v
}

func (p *scramParser) xfield(name byte) string {
	p.xtake(string(name) + "=")
	return p.field()
}

func (p *scramParser) xbase64field(name byte) []byte {
	v := p.xfield(name)
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		panic(fmt.Errorf("%w: decoding %c=: %v", ErrProtocol, name, err))
	}
	return b
}

func (p *scramParser) xintfield(name byte) int {
	v := p.xfield(name)
	n, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Errorf("%w: decoding %c=: %v", ErrProtocol, name, err))
	}
	return n
}

func (p *scramParser) xskipfield() { p.field() }

func (p *scramParser) rest() string { return p.s }
