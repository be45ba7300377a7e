// Package security guards the outbound requests wabot makes on behalf of
// chat users, such as downloading plugins from an .install URL.
package security

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// ErrBlocked is wrapped by every rejection.
var ErrBlocked = errors.New("url blocked")

// alwaysBlocked are rejected regardless of configuration.
var alwaysBlocked = []string{
	"localhost.localdomain",
	"metadata.google.internal",
}

// GuardConfig configures FetchGuard.
type GuardConfig struct {
	// AllowPrivate permits loopback and private network targets, e.g. a
	// plugin registry on the LAN (default: false).
	AllowPrivate bool `yaml:"allow_private"`

	// AllowedHosts, when set, is the only set of hosts reachable.
	AllowedHosts []string `yaml:"allowed_hosts"`

	// BlockedHosts are always rejected.
	BlockedHosts []string `yaml:"blocked_hosts"`
}

// FetchGuard validates a URL before it is fetched. Host names are resolved
// and every address is checked to defeat DNS rebinding.
type FetchGuard struct {
	cfg    GuardConfig
	logger *slog.Logger

	// lookup is replaceable in tests.
	lookup func(host string) ([]string, error)
}

// NewFetchGuard creates a guard from config.
func NewFetchGuard(cfg GuardConfig, logger *slog.Logger) *FetchGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &FetchGuard{
		cfg:    cfg,
		logger: logger.With("component", "fetch_guard"),
		lookup: net.LookupHost,
	}
}

// Check returns nil when rawURL is safe to fetch.
func (g *FetchGuard) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid url: %v", ErrBlocked, err)
	}

	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return g.block(rawURL, "scheme %q not allowed", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return g.block(rawURL, "no host")
	}
	if err := checkIPv4Literal(host); err != nil {
		return g.block(rawURL, "%v", err)
	}

	for _, h := range alwaysBlocked {
		if host == h {
			return g.block(rawURL, "host %s is not allowed", host)
		}
	}
	for _, h := range g.cfg.BlockedHosts {
		if strings.EqualFold(host, h) {
			return g.block(rawURL, "host %s is blocked", host)
		}
	}
	if len(g.cfg.AllowedHosts) > 0 && !containsFold(g.cfg.AllowedHosts, host) {
		return g.block(rawURL, "host %s is not in the allowed list", host)
	}
	if host == "localhost" && !g.cfg.AllowPrivate {
		return g.block(rawURL, "localhost is not allowed")
	}

	addrs, err := g.lookup(host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve %s: %v", ErrBlocked, host, err)
	}
	for _, a := range addrs {
		ip, err := netip.ParseAddr(a)
		if err != nil {
			return g.block(rawURL, "unrecognised address %q for %s", a, host)
		}
		if reason := g.checkAddr(ip); reason != "" {
			return g.block(rawURL, "%s %s", reason, ip)
		}
	}
	return nil
}

// Client returns an HTTP client that re-checks every redirect target.
func (g *FetchGuard) Client(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			return g.Check(req.URL.String())
		},
	}
}

func (g *FetchGuard) block(rawURL, format string, args ...any) error {
	reason := fmt.Sprintf(format, args...)
	g.logger.Warn("fetch_guard: blocked", "url", rawURL, "reason", reason)
	return fmt.Errorf("%w: %s", ErrBlocked, reason)
}

// checkAddr returns a non-empty reason when ip must not be contacted.
func (g *FetchGuard) checkAddr(ip netip.Addr) string {
	if embedded, ok := embeddedIPv4(ip); ok {
		if reason := g.checkAddr(embedded); reason != "" {
			return "transition address embeds " + reason
		}
	}
	ip = ip.Unmap()

	switch {
	case ip.IsUnspecified():
		return "unspecified address"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return "link-local/metadata address"
	case ip.IsLoopback() && !g.cfg.AllowPrivate:
		return "loopback address"
	case ip.IsPrivate() && !g.cfg.AllowPrivate:
		return "private address"
	}
	return ""
}

// checkIPv4Literal rejects the legacy IPv4 spellings (octal, hex, short,
// packed integer) that resolvers may expand to internal addresses.
func checkIPv4Literal(host string) error {
	if strings.Contains(host, "0x") && strings.Trim(host, "0123456789abcdefx.") == "" {
		return errors.New("hex IPv4 notation not allowed")
	}
	for _, c := range host {
		if (c < '0' || c > '9') && c != '.' {
			return nil
		}
	}
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return errors.New("IPv4 address must have four octets")
	}
	for _, p := range parts {
		switch {
		case p == "":
			return errors.New("empty octet in IPv4 address")
		case len(p) > 1 && p[0] == '0':
			return errors.New("octal IPv4 notation not allowed")
		case len(p) > 3:
			return errors.New("IPv4 octet out of range")
		}
	}
	if _, err := netip.ParseAddr(host); err != nil {
		return errors.New("IPv4 octet out of range")
	}
	return nil
}

// embeddedIPv4 extracts the IPv4 address carried by NAT64, 6to4, Teredo
// and ISATAP addresses.
func embeddedIPv4(ip netip.Addr) (netip.Addr, bool) {
	if !ip.Is6() || ip.Is4In6() {
		return netip.Addr{}, false
	}
	b := ip.As16()
	v4 := func(s []byte) netip.Addr { return netip.AddrFrom4([4]byte{s[0], s[1], s[2], s[3]}) }

	switch {
	case netip.MustParsePrefix("64:ff9b::/96").Contains(ip):
		return v4(b[12:16]), true
	case b[0] == 0x20 && b[1] == 0x02:
		return v4(b[2:6]), true
	case b[0] == 0x20 && b[1] == 0x01 && b[2] == 0 && b[3] == 0:
		var out [4]byte
		binary.BigEndian.PutUint32(out[:], binary.BigEndian.Uint32(b[12:16])^0xFFFFFFFF)
		return netip.AddrFrom4(out), true
	case b[10] == 0x5e && b[11] == 0xfe:
		return v4(b[12:16]), true
	}
	return netip.Addr{}, false
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
