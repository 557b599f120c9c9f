package rib

import (
	"fmt"
	"net"
	"net/netip"

	apipb "github.com/osrg/gobgp/v3/api"
	"github.com/osrg/gobgp/v3/pkg/apiutil"
	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
)

// marshalIPv4NLRI builds the wire NLRI GoBGP expects for one IPv4 unicast
// prefix. TRIP routes are not IP prefixes (the AF enumerates telephony
// numbering plans — E.164, decimal digit strings, carrier identifiers —
// not address families GoBGP's RIB understands natively),
// so the route's raw address bytes are reinterpreted here as an IPv4
// prefix key: the first four bytes (zero-padded if shorter) become the
// prefix, letting GoBGP's RIB and its downstream BGP peers carry the
// route even though its real meaning is a telephony destination, not a
// network. A purpose-built telephony AFI/SAFI is the correct long-term
// fix; this is the pragmatic bridge an external RIB hand-off calls for
// today.
func marshalIPv4NLRI(addr []byte, prefixLen uint32) (*apipb.Any, error) {
	if prefixLen > 32 {
		return nil, fmt.Errorf("prefix length %d exceeds 32", prefixLen)
	}
	var b [4]byte
	copy(b[:], addr)
	prefix := net.IP(b[:]).String()

	nlri := bgp.NewIPAddrPrefix(uint8(prefixLen), prefix)
	a, err := apiutil.MarshalNLRI(nlri)
	if err != nil {
		return nil, fmt.Errorf("marshal nlri: %w", err)
	}
	return a, nil
}

// marshalPathAttrs builds the ORIGIN, NEXT_HOP, AS_PATH, and COMMUNITIES
// attributes for one path. asPath is the ITAD advertisement path
// carried as a single AS_SEQUENCE segment since TRIP's
// AdvertisementPath is itself an ordered sequence of ITAD numbers.
func marshalPathAttrs(nextHop string, asPath []uint32, communities []uint32) ([]*apipb.Any, error) {
	if nextHop == "" {
		nextHop = "0.0.0.0"
	}
	attrs := []bgp.PathAttributeInterface{
		bgp.NewPathAttributeOrigin(uint8(bgp.BGP_ORIGIN_ATTR_TYPE_INCOMPLETE)),
		bgp.NewPathAttributeNextHop(nextHop),
		bgp.NewPathAttributeAsPath([]bgp.AsPathParamInterface{
			bgp.NewAs4PathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, asPath),
		}),
	}
	if len(communities) > 0 {
		attrs = append(attrs, bgp.NewPathAttributeCommunities(communities))
	}

	out := make([]*apipb.Any, 0, len(attrs))
	for _, attr := range attrs {
		a, err := apiutil.MarshalPathAttribute(attr)
		if err != nil {
			return nil, fmt.Errorf("marshal path attribute: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func prefixString(addr []byte) string {
	var b [4]byte
	copy(b[:], addr)
	ip, ok := netip.AddrFromSlice(b[:])
	if !ok {
		return "0.0.0.0"
	}
	return ip.String()
}
