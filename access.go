package nanohttp

import (
	"net"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Policy is the outcome of an access rule.
type Policy bool

const (
	Deny  Policy = false
	Allow Policy = true
)

func (p Policy) String() string {
	if p == Allow {
		return "allow"
	}
	return "deny"
}

// AccessRule applies Policy to every address inside Prefix.
type AccessRule struct {
	Prefix netip.Prefix
	Policy Policy
}

// AccessControl admits or rejects connections by remote address before any
// request byte is read.
type AccessControl interface {
	AllowsAddr(addr net.Addr) bool
}

// AccessList is an ordered list of network rules with a default policy. The
// first rule whose prefix contains the address decides.
//
// Allows may be called concurrently with Add.
type AccessList struct {
	defaultPolicy Policy

	mu    sync.Mutex
	rules atomic.Pointer[[]AccessRule]
}

// NewAccessList returns an empty list that applies defaultPolicy to every
// address no rule matches.
func NewAccessList(defaultPolicy Policy) *AccessList {
	al := &AccessList{defaultPolicy: defaultPolicy}
	empty := make([]AccessRule, 0)
	al.rules.Store(&empty)
	return al
}

// DefaultPolicy returns the policy applied when no rule matches.
func (al *AccessList) DefaultPolicy() Policy {
	return al.defaultPolicy
}

// Add appends a rule.
func (al *AccessList) Add(prefix netip.Prefix, policy Policy) {
	al.mu.Lock()
	defer al.mu.Unlock()
	old := *al.rules.Load()
	rules := make([]AccessRule, len(old), len(old)+1)
	copy(rules, old)
	rules = append(rules, AccessRule{Prefix: prefix.Masked(), Policy: policy})
	al.rules.Store(&rules)
}

// AllowNetwork appends an allow rule for network. See ParseNetwork for the
// accepted forms.
func (al *AccessList) AllowNetwork(network string) error {
	return al.addNetwork(network, Allow)
}

// DenyNetwork appends a deny rule for network.
func (al *AccessList) DenyNetwork(network string) error {
	return al.addNetwork(network, Deny)
}

func (al *AccessList) addNetwork(network string, policy Policy) error {
	prefixes, err := ParseNetwork(network)
	if err != nil {
		return err
	}
	for _, p := range prefixes {
		al.Add(p, policy)
	}
	return nil
}

// ParseRule parses and appends a rule of the form "allow <network>" or
// "deny <network>".
func (al *AccessList) ParseRule(rule string) error {
	fields := strings.Fields(rule)
	if len(fields) != 2 {
		return errors.Errorf("invalid access rule %q: want \"allow|deny <network>\"", rule)
	}
	switch strings.ToLower(fields[0]) {
	case "allow":
		return al.AllowNetwork(fields[1])
	case "deny":
		return al.DenyNetwork(fields[1])
	}
	return errors.Errorf("invalid access rule %q: unknown policy %q", rule, fields[0])
}

// Rules returns a copy of the current rules.
func (al *AccessList) Rules() []AccessRule {
	rules := *al.rules.Load()
	out := make([]AccessRule, len(rules))
	copy(out, rules)
	return out
}

// Allows reports whether addr is admitted.
func (al *AccessList) Allows(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, r := range *al.rules.Load() {
		if r.Prefix.Contains(addr) {
			return bool(r.Policy)
		}
	}
	return bool(al.defaultPolicy)
}

// AllowsAddr is like Allows for a connection's remote address. Addresses
// without an IP, such as pipes, fall back to the default policy.
func (al *AccessList) AllowsAddr(addr net.Addr) bool {
	ip, ok := addrIP(addr)
	if !ok {
		return bool(al.defaultPolicy)
	}
	return al.Allows(ip)
}

func addrIP(addr net.Addr) (netip.Addr, bool) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip, ok := netip.AddrFromSlice(a.IP)
		return ip.Unmap(), ok
	case nil:
		return netip.Addr{}, false
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.Addr{}, false
	}
	return ap.Addr().Unmap(), true
}

var localhostPrefixes = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
}

// ParseNetwork parses "localhost", a CIDR prefix or a single address into
// the prefixes it denotes.
func ParseNetwork(network string) ([]netip.Prefix, error) {
	network = strings.TrimSpace(network)
	if strings.EqualFold(network, "localhost") {
		return localhostPrefixes, nil
	}
	if strings.Contains(network, "/") {
		p, err := netip.ParsePrefix(network)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid network %q", network)
		}
		if p.Addr().Is4In6() && p.Bits() >= 96 {
			p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
		}
		return []netip.Prefix{p.Masked()}, nil
	}
	ip, err := netip.ParseAddr(network)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid network %q", network)
	}
	ip = ip.Unmap()
	return []netip.Prefix{netip.PrefixFrom(ip, ip.BitLen())}, nil
}
