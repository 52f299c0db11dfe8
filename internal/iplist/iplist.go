// Package iplist matches client IPs against sets of single addresses and CIDR
// ranges stored in radix trees.
//
// A Set is immutable once built. Callers that need updates build a new Set and
// swap the pointer, so lookups never take a lock.
package iplist

import (
	"math"
	"net"
	"strings"

	"github.com/kentik/patricia"
	"github.com/kentik/patricia/uint32_tree"
	"github.com/pkg/errors"
)

const (
	ipv4Bits = net.IPv4len * 8
	ipv6Bits = net.IPv6len * 8
)

// Entry associates a value with an IP or CIDR.
type Entry[T any] struct {
	CIDR  string
	Value T
}

// Set maps IPs and networks to values. The zero Set matches nothing.
type Set[T any] struct {
	v4     *uint32_tree.TreeV4
	v6     *uint32_tree.TreeV6
	values []T
}

// Normalize canonicalizes an IP or CIDR string. Single addresses are returned
// without a prefix length; networks are returned masked, e.g. "10.1.2.3/8"
// becomes "10.0.0.0/8".
func Normalize(s string) (norm string, isNetwork bool, err error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		ip, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			return "", false, errors.Wrapf(err, "invalid network `%s`", s)
		}
		ones, bits := ipnet.Mask.Size()
		if ones == bits {
			return ip.String(), false, nil
		}
		return ipnet.String(), true, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return "", false, errors.Errorf("invalid ip address `%s`", s)
	}
	return ip.String(), false, nil
}

// New builds a Set. A later entry for the same network replaces an earlier one.
func New[T any](entries []Entry[T]) (*Set[T], error) {
	s := &Set[T]{}
	for _, e := range entries {
		if err := s.add(e); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Set[T]) add(e Entry[T]) error {
	if len(s.values) >= math.MaxUint32 {
		return errors.Errorf("too many entries: the number of entries exceeds the maximum index value")
	}
	norm, _, err := Normalize(e.CIDR)
	if err != nil {
		return err
	}
	ipv4, ipv6, err := patricia.ParseIPFromString(norm)
	if err != nil {
		return errors.Wrapf(err, "could not parse `%s`", norm)
	}

	tag := uint32(len(s.values))
	// The match function is only called when the network already has a tag:
	// overwrite its value and report it as existing so no new tag is added.
	replace := func(current uint32, _ uint32) bool {
		s.values[current] = e.Value
		return true
	}
	var added bool
	switch {
	case ipv4 != nil:
		if s.v4 == nil {
			s.v4 = uint32_tree.NewTreeV4()
		}
		added, _, err = s.v4.Add(*ipv4, tag, replace)
	case ipv6 != nil:
		if s.v6 == nil {
			s.v6 = uint32_tree.NewTreeV6()
		}
		added, _, err = s.v6.Add(*ipv6, tag, replace)
	default:
		return errors.Errorf("unsupported address `%s`", norm)
	}
	if err != nil {
		return errors.Wrapf(err, "could not add `%s`", norm)
	}
	if added {
		s.values = append(s.values, e.Value)
	}
	return nil
}

// Len returns the number of distinct networks in the set.
func (s *Set[T]) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// Lookup returns the value of the most specific network containing ip.
func (s *Set[T]) Lookup(ip net.IP) (T, bool, error) {
	return s.LookupFunc(ip, nil)
}

// LookupFunc is Lookup restricted to values accepted by keep. A nil keep
// accepts everything.
func (s *Set[T]) LookupFunc(ip net.IP, keep func(T) bool) (T, bool, error) {
	var zero T
	if s == nil || ip == nil {
		return zero, false, nil
	}
	filter := func(tag uint32) bool {
		return keep == nil || keep(s.values[tag])
	}

	var tags []uint32
	var err error
	if ip4 := ip.To4(); ip4 != nil {
		if s.v4 == nil {
			return zero, false, nil
		}
		addr := patricia.NewIPv4AddressFromBytes(ip4, ipv4Bits)
		tags, err = s.v4.FindTagsWithFilter(addr, filter)
	} else if ip6 := ip.To16(); ip6 != nil {
		// To16 also succeeds for IPv4, which is why IPv4 is tested first.
		if s.v6 == nil {
			return zero, false, nil
		}
		addr := patricia.NewIPv6Address(ip6, ipv6Bits)
		tags, err = s.v6.FindTagsWithFilter(addr, filter)
	}
	if err != nil {
		return zero, false, errors.Wrap(err, "lookup")
	}
	if len(tags) == 0 {
		return zero, false, nil
	}
	// tags are ordered by prefix length; the last one is the deepest match
	return s.values[tags[len(tags)-1]], true, nil
}

// Contains reports whether ip falls inside any network of the set.
func (s *Set[T]) Contains(ip net.IP) bool {
	_, ok, err := s.Lookup(ip)
	return err == nil && ok
}

// ParseNetworks builds a membership set from IP and CIDR strings.
func ParseNetworks(cidrs []string) (*Set[string], error) {
	entries := make([]Entry[string], 0, len(cidrs))
	for _, c := range cidrs {
		entries = append(entries, Entry[string]{CIDR: c, Value: c})
	}
	return New(entries)
}
