// Package fingerprint builds transports that present a browser TLS ClientHello.
package fingerprint

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// Profile names a TLS fingerprint.
type Profile string

// Known profiles.
const (
	ProfileGo      Profile = "go"
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileRandom  Profile = "random"
)

// ParseProfile maps a config value to a Profile. Empty means the Go stack.
func ParseProfile(raw string) (Profile, error) {
	switch p := Profile(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return ProfileGo, nil
	case ProfileGo, ProfileChrome, ProfileFirefox, ProfileSafari, ProfileRandom:
		return p, nil
	default:
		return "", fmt.Errorf("unknown tls profile %q", raw)
	}
}

// Options tune the returned transport.
type Options struct {
	Profile            Profile
	InsecureSkipVerify bool
}

// Transport returns base configured for the profile. base is modified in place
// and returned; ProfileGo only applies the verification setting.
func Transport(base *http.Transport, opts Options) (*http.Transport, error) {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	if opts.Profile == "" || opts.Profile == ProfileGo {
		if opts.InsecureSkipVerify {
			base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit degraded mode
		}
		return base, nil
	}

	helloID, err := clientHello(opts.Profile)
	if err != nil {
		return nil, err
	}

	dial := base.DialContext
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	base.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		tcpConn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		uConn := utls.UClient(tcpConn, &utls.Config{
			ServerName:         host,
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // explicit degraded mode
		}, helloID)
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = tcpConn.Close()
			return nil, fmt.Errorf("utls handshake: %w", err)
		}
		return uConn, nil
	}
	return base, nil
}

func clientHello(p Profile) (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloIOS_Auto, nil
	case ProfileRandom:
		return utls.HelloRandomizedALPN, nil
	default:
		return utls.ClientHelloID{}, fmt.Errorf("unknown tls profile %q", p)
	}
}
