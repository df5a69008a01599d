package nanohttp

import (
	"net"
	"net/netip"
	"sync"
	"testing"

	"github.com/gookit/goutil/testutil/assert"
)

func TestAccessListDefaultDeny(t *testing.T) {
	t.Parallel()

	al := NewAccessList(Deny)
	assert.False(t, al.Allows(netip.MustParseAddr("127.0.0.1")))
	assert.False(t, al.Allows(netip.MustParseAddr("192.168.1.10")))

	assert.NoErr(t, al.AllowNetwork("localhost"))
	assert.True(t, al.Allows(netip.MustParseAddr("127.0.0.1")))
	assert.True(t, al.Allows(netip.MustParseAddr("127.1.2.3")))
	assert.True(t, al.Allows(netip.MustParseAddr("::1")))
	assert.True(t, al.Allows(netip.MustParseAddr("::ffff:127.0.0.1")))
	assert.False(t, al.Allows(netip.MustParseAddr("192.168.1.10")))
	assert.False(t, al.Allows(netip.MustParseAddr("::2")))
}

func TestAccessListFirstMatchWins(t *testing.T) {
	t.Parallel()

	al := NewAccessList(Allow)
	assert.NoErr(t, al.ParseRule("allow 10.1.0.0/16"))
	assert.NoErr(t, al.ParseRule("deny 10.0.0.0/8"))

	assert.True(t, al.Allows(netip.MustParseAddr("10.1.2.3")))
	assert.False(t, al.Allows(netip.MustParseAddr("10.2.2.3")))
	assert.True(t, al.Allows(netip.MustParseAddr("8.8.8.8")))
	assert.Len(t, al.Rules(), 2)
	assert.Eq(t, Allow, al.Rules()[0].Policy)
}

func TestAccessListAddr(t *testing.T) {
	t.Parallel()

	al := NewAccessList(Deny)
	assert.NoErr(t, al.AllowNetwork("192.168.0.7"))
	assert.True(t, al.AllowsAddr(&net.TCPAddr{IP: net.ParseIP("192.168.0.7"), Port: 4000}))
	assert.False(t, al.AllowsAddr(&net.TCPAddr{IP: net.ParseIP("192.168.0.8"), Port: 4000}))
	assert.True(t, al.AllowsAddr(&net.TCPAddr{IP: net.ParseIP("::ffff:192.168.0.7"), Port: 4000}))
	// no IP, default policy.
	assert.False(t, al.AllowsAddr(&net.UnixAddr{Name: "/tmp/sock", Net: "unix"}))
	assert.False(t, al.AllowsAddr(nil))
}

func TestParseNetwork(t *testing.T) {
	t.Parallel()

	prefixes, err := ParseNetwork("localhost")
	assert.NoErr(t, err)
	assert.Len(t, prefixes, 2)

	prefixes, err = ParseNetwork("10.1.2.3/8")
	assert.NoErr(t, err)
	assert.Eq(t, "10.0.0.0/8", prefixes[0].String())

	prefixes, err = ParseNetwork("::ffff:10.0.0.0/104")
	assert.NoErr(t, err)
	assert.Eq(t, "10.0.0.0/8", prefixes[0].String())

	prefixes, err = ParseNetwork("2001:db8::1")
	assert.NoErr(t, err)
	assert.Eq(t, "2001:db8::1/128", prefixes[0].String())

	for _, bad := range []string{"", "10.0.0.0/33", "not-a-network", "300.1.1.1"} {
		_, err = ParseNetwork(bad)
		assert.Err(t, err, bad)
	}
}

func TestParseRuleErrors(t *testing.T) {
	t.Parallel()

	al := NewAccessList(Deny)
	assert.Err(t, al.ParseRule("allow"))
	assert.Err(t, al.ParseRule("permit 10.0.0.0/8"))
	assert.Err(t, al.ParseRule("allow 10.0.0.0/8 extra"))
	assert.Err(t, al.ParseRule("deny nowhere"))
	assert.Len(t, al.Rules(), 0)
}

func TestAccessListConcurrentAdd(t *testing.T) {
	t.Parallel()

	al := NewAccessList(Deny)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			al.Add(netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(i), 0, 0}), 16), Allow)
		}(i)
		go func() {
			defer wg.Done()
			_ = al.Allows(netip.MustParseAddr("10.3.0.1"))
		}()
	}
	wg.Wait()
	assert.Len(t, al.Rules(), 8)
	assert.True(t, al.Allows(netip.MustParseAddr("10.3.0.1")))
}
