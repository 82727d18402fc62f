// Package turnrest issues short-lived TURN credentials in the format coturn
// accepts with use-auth-secret:
//
//	username = <expiry unix seconds>:<tag>:<session>
//	password = base64(hmac_sha1(secret, username))
//
// The session names who the lease was issued to. Leases for a room member
// carry the room and connection id so relay allocations on the TURN server
// can be traced back to one participant.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const anonymousSession = "anon"

// Lease is a TURN username and password pair valid until Expires.
type Lease struct {
	Username string
	Password string
	Expires  time.Time
}

type Options struct {
	Secret string
	TTL    time.Duration
	// Tag is the middle username field. It must not contain ':'.
	Tag   string
	Clock func() time.Time
	// NewSession names anonymous leases. Defaults to a random uuid.
	NewSession func() string
}

type Issuer struct {
	secret     []byte
	ttl        time.Duration
	tag        string
	clock      func() time.Time
	newSession func() string
}

func NewIssuer(o Options) (*Issuer, error) {
	switch {
	case o.Secret == "":
		return nil, errors.New("turnrest: secret is required")
	case o.TTL < time.Second:
		return nil, errors.New("turnrest: ttl must be at least one second")
	case o.Tag == "" || strings.Contains(o.Tag, ":"):
		return nil, errors.New("turnrest: tag must be non-empty and free of ':'")
	}
	is := &Issuer{
		secret:     []byte(o.Secret),
		ttl:        o.TTL,
		tag:        o.Tag,
		clock:      o.Clock,
		newSession: o.NewSession,
	}
	if is.clock == nil {
		is.clock = time.Now
	}
	if is.newSession == nil {
		is.newSession = uuid.NewString
	}
	return is, nil
}

// ForParticipant issues a lease bound to connection socketID in roomID.
func (is *Issuer) ForParticipant(roomID, socketID string) (Lease, error) {
	if roomID == "" || socketID == "" {
		return Lease{}, errors.New("turnrest: room and socket id are required")
	}
	return is.issue(sessionLabel(roomID, socketID)), nil
}

// Anonymous issues a lease for a caller that has not joined a room.
func (is *Issuer) Anonymous() Lease {
	return is.issue(sessionLabel(anonymousSession, is.newSession()))
}

func (is *Issuer) issue(session string) Lease {
	expires := is.clock().Add(is.ttl).Truncate(time.Second)
	username := strconv.FormatInt(expires.Unix(), 10) + ":" + is.tag + ":" + session
	return Lease{
		Username: username,
		Password: password(is.secret, username),
		Expires:  expires,
	}
}

// sessionLabel joins the parts with '/' after escaping each one, so the
// label never contains the ':' that separates username fields.
func sessionLabel(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.QueryEscape(p)
	}
	return strings.Join(escaped, "/")
}

func password(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
