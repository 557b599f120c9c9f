// Package trip implements the core of a TRIP (RFC 3219) Location Server:
// the wire codec, the per-peer session state machine, and the session
// manager that multiplexes them.
package trip

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// Protocol Constants — RFC 3219
// -------------------------------------------------------------------------

// Version is the TRIP protocol version carried in every Open message.
const Version uint8 = 1

// MsgHeaderSize is the fixed message header: u16 length + u8 type.
const MsgHeaderSize = 3

// MaxMsgSize is the largest message this codec will build or accept.
const MaxMsgSize = 4096

// openFixedSize is the Open payload before any optional parameters:
// version(1) + reserved(1) + hold(2) + itad(4) + id(4) + opts_len(2).
const openFixedSize = 14

// attrHeaderSize is the regular attribute header: flags(1) + type(1) + len(2).
const attrHeaderSize = 4

// attrLSEncapHeaderSize is the link-state-encapsulated attribute header:
// flags(1) + type(1) + len(2) + originator_id(4) + sequence(4).
const attrLSEncapHeaderSize = 12

// routeHeaderSize is a route's fixed header: af(2) + app_proto(2) + len(2).
const routeHeaderSize = 6

// capinfoHeaderSize is a capability record's fixed header: code(2) + len(2).
const capinfoHeaderSize = 4

// optHeaderSize is an Open optional-parameter header: type(2) + len(2).
const optHeaderSize = 4

// unknownFmt formats an unrecognized enum value with its numeric code.
const unknownFmt = "Unknown(%d)"

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

var (
	ErrBuf              = errors.New("trip: invalid buffer")
	ErrBufTooSmall      = errors.New("trip: buffer too small")
	ErrHold             = errors.New("trip: hold time must be 0 or at least 3 seconds")
	ErrITAD             = errors.New("trip: itad must not be zero")
	ErrNotifCode        = errors.New("trip: invalid notification code")
	ErrNotifSubcode     = errors.New("trip: invalid notification subcode for code")
	ErrIncomplete       = errors.New("trip: incomplete message, read more")
	ErrMsgType          = errors.New("trip: invalid message type")
	ErrVersion          = errors.New("trip: unsupported protocol version")
	ErrOpt              = errors.New("trip: unsupported open option")
	ErrCapInfoCode      = errors.New("trip: unsupported capability info code")
	ErrAF               = errors.New("trip: unsupported address family")
	ErrAppProto         = errors.New("trip: unsupported application protocol")
	ErrTrans            = errors.New("trip: invalid transmission mode")
	ErrAttrType         = errors.New("trip: unsupported attribute type")
	ErrMissingWellKnown = errors.New("trip: well-known attribute missing well-known flag")
	ErrMissingLSEncap   = errors.New("trip: attribute must be link-state encapsulated")
	ErrITADPathType     = errors.New("trip: unsupported itad path type")
	ErrCommunityITAD    = errors.New("trip: reserved community itad with bad id")
)

// -------------------------------------------------------------------------
// MsgType
// -------------------------------------------------------------------------

// MsgType identifies one of the four top-level message variants.
type MsgType uint8

const (
	MsgOpen         MsgType = 1
	MsgUpdate       MsgType = 2
	MsgNotification MsgType = 3
	MsgKeepalive    MsgType = 4
)

var msgTypeNames = map[MsgType]string{
	MsgOpen:         "Open",
	MsgUpdate:       "Update",
	MsgNotification: "Notification",
	MsgKeepalive:    "Keepalive",
}

func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf(unknownFmt, uint8(t))
}

func (t MsgType) valid() bool {
	return t >= MsgOpen && t <= MsgKeepalive
}

// -------------------------------------------------------------------------
// Open
// -------------------------------------------------------------------------

// OpenOptType identifies an Open message optional parameter.
type OpenOptType uint16

// OptCapabilityInfo is the only recognized Open optional parameter.
const OptCapabilityInfo OpenOptType = 1

// CapInfoCode identifies a capability record inside a CapabilityInfo option.
type CapInfoCode uint16

const (
	CapInfoRouteType CapInfoCode = 1
	CapInfoTransMode CapInfoCode = 2
)

// TransMode is the capability-negotiated send/receive mode.
type TransMode uint32

const (
	TransSendRecv TransMode = 1
	TransSend     TransMode = 2
	TransRecv     TransMode = 3
)

func (m TransMode) valid() bool {
	return m >= TransSendRecv && m <= TransRecv
}

// RouteType is one {address family, application protocol} pair advertised
// in a RouteType capability record.
type RouteType struct {
	AF       AF
	AppProto AppProto
}

// Open is the parsed form of an Open message.
type Open struct {
	Hold      uint16
	ITAD      uint32
	ID        uint32
	RouteType []RouteType
	TransMode TransMode
	HasTrans  bool
}

func validHold(hold uint16) bool {
	return hold == 0 || hold >= 3
}

// SerializeOpen writes an Open message (header + payload) into buf and
// returns the number of bytes written. Validation happens before any byte
// is written, so buf is untouched on error.
func SerializeOpen(buf []byte, hold uint16, itad, id uint32, routeTypes []RouteType, hasTrans bool, trans TransMode) (int, error) {
	if !validHold(hold) {
		return 0, ErrHold
	}
	if itad == 0 {
		return 0, ErrITAD
	}
	if hasTrans && !trans.valid() {
		return 0, ErrTrans
	}

	capLen := 0
	if len(routeTypes) > 0 {
		capLen += capinfoHeaderSize + len(routeTypes)*4
	}
	if hasTrans {
		capLen += capinfoHeaderSize + 4
	}
	optsLen := 0
	if capLen > 0 {
		optsLen = optHeaderSize + capLen
	}
	payloadLen := openFixedSize + optsLen
	total := MsgHeaderSize + payloadLen
	if len(buf) < total {
		return 0, ErrBufTooSmall
	}

	putMsgHeader(buf, MsgOpen, payloadLen)
	p := buf[MsgHeaderSize:]
	p[0] = Version
	p[1] = 0
	binary.BigEndian.PutUint16(p[2:4], hold)
	binary.BigEndian.PutUint32(p[4:8], itad)
	binary.BigEndian.PutUint32(p[8:12], id)
	binary.BigEndian.PutUint16(p[12:14], uint16(optsLen))
	o := p[openFixedSize:]
	if optsLen > 0 {
		binary.BigEndian.PutUint16(o[0:2], uint16(OptCapabilityInfo))
		binary.BigEndian.PutUint16(o[2:4], uint16(capLen))
		c := o[optHeaderSize:]
		if len(routeTypes) > 0 {
			binary.BigEndian.PutUint16(c[0:2], uint16(CapInfoRouteType))
			binary.BigEndian.PutUint16(c[2:4], uint16(len(routeTypes)*4))
			c = c[capinfoHeaderSize:]
			for _, rt := range routeTypes {
				binary.BigEndian.PutUint16(c[0:2], uint16(rt.AF))
				binary.BigEndian.PutUint16(c[2:4], uint16(rt.AppProto))
				c = c[4:]
			}
		}
		if hasTrans {
			binary.BigEndian.PutUint16(c[0:2], uint16(CapInfoTransMode))
			binary.BigEndian.PutUint16(c[2:4], 4)
			binary.BigEndian.PutUint32(c[capinfoHeaderSize:capinfoHeaderSize+4], uint32(trans))
		}
	}
	return total, nil
}

// ParseOpen parses an Open payload (the bytes after the 3-byte message
// header). Returns ErrIncomplete if payload is shorter than the length it
// declares, so the caller can read more and retry from the same offset.
func ParseOpen(payload []byte) (*Open, int, error) {
	if len(payload) < openFixedSize {
		return nil, 0, ErrIncomplete
	}
	ver := payload[0]
	if ver != Version {
		return nil, 0, ErrVersion
	}
	hold := binary.BigEndian.Uint16(payload[2:4])
	if !validHold(hold) {
		return nil, 0, ErrHold
	}
	itad := binary.BigEndian.Uint32(payload[4:8])
	if itad == 0 {
		return nil, 0, ErrITAD
	}
	id := binary.BigEndian.Uint32(payload[8:12])
	optsLen := int(binary.BigEndian.Uint16(payload[12:14]))
	if len(payload) < openFixedSize+optsLen {
		return nil, 0, ErrIncomplete
	}

	open := &Open{Hold: hold, ITAD: itad, ID: id}
	o := payload[openFixedSize : openFixedSize+optsLen]
	for len(o) > 0 {
		if len(o) < optHeaderSize {
			return nil, 0, ErrIncomplete
		}
		optType := OpenOptType(binary.BigEndian.Uint16(o[0:2]))
		optLen := int(binary.BigEndian.Uint16(o[2:4]))
		if len(o) < optHeaderSize+optLen {
			return nil, 0, ErrIncomplete
		}
		if optType != OptCapabilityInfo {
			return nil, 0, ErrOpt
		}
		if err := parseCapabilityInfo(o[optHeaderSize:optHeaderSize+optLen], open); err != nil {
			return nil, 0, err
		}
		o = o[optHeaderSize+optLen:]
	}
	return open, openFixedSize + optsLen, nil
}

func parseCapabilityInfo(buf []byte, open *Open) error {
	for len(buf) > 0 {
		if len(buf) < capinfoHeaderSize {
			return ErrIncomplete
		}
		code := CapInfoCode(binary.BigEndian.Uint16(buf[0:2]))
		length := int(binary.BigEndian.Uint16(buf[2:4]))
		if len(buf) < capinfoHeaderSize+length {
			return ErrIncomplete
		}
		val := buf[capinfoHeaderSize : capinfoHeaderSize+length]
		switch code {
		case CapInfoRouteType:
			if length%4 != 0 {
				return ErrIncomplete
			}
			for i := 0; i+4 <= length; i += 4 {
				af := AF(binary.BigEndian.Uint16(val[i : i+2]))
				ap := AppProto(binary.BigEndian.Uint16(val[i+2 : i+4]))
				if !af.valid() {
					return ErrAF
				}
				if !ap.valid() {
					return ErrAppProto
				}
				open.RouteType = append(open.RouteType, RouteType{AF: af, AppProto: ap})
			}
		case CapInfoTransMode:
			if length != 4 {
				return ErrIncomplete
			}
			mode := TransMode(binary.BigEndian.Uint32(val))
			if !mode.valid() {
				return ErrTrans
			}
			open.TransMode = mode
			open.HasTrans = true
		default:
			return ErrCapInfoCode
		}
		buf = buf[capinfoHeaderSize+length:]
	}
	return nil
}

// -------------------------------------------------------------------------
// AF / AppProto / ITADPathType
// -------------------------------------------------------------------------

// AF is a route address family.
type AF uint16

const (
	AFDecimal      AF = 1
	AFPentadecimal AF = 2
	AFE164         AF = 3
	AFTrunkGroup   AF = 4
	AFCarrier      AF = 5
)

func (a AF) valid() bool { return a >= AFDecimal && a <= AFCarrier }

var afNames = map[AF]string{
	AFDecimal: "Decimal", AFPentadecimal: "Pentadecimal", AFE164: "E164",
	AFTrunkGroup: "TrunkGroup", AFCarrier: "Carrier",
}

func (a AF) String() string {
	if name, ok := afNames[a]; ok {
		return name
	}
	return fmt.Sprintf(unknownFmt, uint16(a))
}

// AppProto is an application-layer signaling protocol identifier.
type AppProto uint16

const (
	AppProtoSIP        AppProto = 1
	AppProtoH323Q931   AppProto = 2
	AppProtoH323RAS    AppProto = 3
	AppProtoH323AnnexG AppProto = 4
	AppProtoIAX2       AppProto = 32768
)

func (p AppProto) valid() bool {
	return (p >= AppProtoSIP && p <= AppProtoH323AnnexG) || p == AppProtoIAX2
}

// ITADPathType distinguishes an unordered AP_SET from an ordered AP_SEQUENCE.
type ITADPathType uint8

const (
	ITADPathSet      ITADPathType = 1
	ITADPathSequence ITADPathType = 2
)

func (t ITADPathType) valid() bool { return t == ITADPathSet || t == ITADPathSequence }

// -------------------------------------------------------------------------
// Route
// -------------------------------------------------------------------------

// Route is one telephony-route address: an AF/AppProto-tagged address
// string whose interpretation depends on AF (decimal digits, E.164 number,
// trunk group name, etc). Addr is the raw, unpadded address bytes.
type Route struct {
	AF       AF
	AppProto AppProto
	Addr     []byte
}

func serializeRoute(buf []byte, r Route) (int, error) {
	total := routeHeaderSize + len(r.Addr)
	if len(buf) < total {
		return 0, ErrBufTooSmall
	}
	binary.BigEndian.PutUint16(buf[0:2], uint16(r.AF))
	binary.BigEndian.PutUint16(buf[2:4], uint16(r.AppProto))
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(r.Addr)))
	copy(buf[routeHeaderSize:total], r.Addr)
	return total, nil
}

func parseRoute(buf []byte) (Route, int, error) {
	if len(buf) < routeHeaderSize {
		return Route{}, 0, ErrIncomplete
	}
	af := AF(binary.BigEndian.Uint16(buf[0:2]))
	if !af.valid() {
		return Route{}, 0, ErrAF
	}
	ap := AppProto(binary.BigEndian.Uint16(buf[2:4]))
	if !ap.valid() {
		return Route{}, 0, ErrAppProto
	}
	addrLen := int(binary.BigEndian.Uint16(buf[4:6]))
	if len(buf) < routeHeaderSize+addrLen {
		return Route{}, 0, ErrIncomplete
	}
	addr := make([]byte, addrLen)
	copy(addr, buf[routeHeaderSize:routeHeaderSize+addrLen])
	return Route{AF: af, AppProto: ap, Addr: addr}, routeHeaderSize + addrLen, nil
}

func serializeRoutes(buf []byte, routes []Route) (int, error) {
	n := 0
	for _, r := range routes {
		w, err := serializeRoute(buf[n:], r)
		if err != nil {
			return 0, err
		}
		n += w
	}
	return n, nil
}

func parseRoutes(buf []byte) ([]Route, error) {
	var routes []Route
	for len(buf) > 0 {
		r, n, err := parseRoute(buf)
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
		buf = buf[n:]
	}
	return routes, nil
}

// -------------------------------------------------------------------------
// ITADPath
// -------------------------------------------------------------------------

// ITADPath is a sequence (or set) of ITAD numbers describing the
// advertisement or routed path a route traversed.
type ITADPath struct {
	Type ITADPathType
	Segs []uint32
}

func serializeITADPath(buf []byte, p ITADPath) (int, error) {
	total := 2 + len(p.Segs)*4
	if len(buf) < total {
		return 0, ErrBufTooSmall
	}
	buf[0] = uint8(p.Type)
	buf[1] = uint8(len(p.Segs))
	for i, seg := range p.Segs {
		binary.BigEndian.PutUint32(buf[2+i*4:6+i*4], seg)
	}
	return total, nil
}

func parseITADPath(buf []byte) (ITADPath, int, error) {
	if len(buf) < 2 {
		return ITADPath{}, 0, ErrIncomplete
	}
	typ := ITADPathType(buf[0])
	if !typ.valid() {
		return ITADPath{}, 0, ErrITADPathType
	}
	count := int(buf[1])
	total := 2 + count*4
	if len(buf) < total {
		return ITADPath{}, 0, ErrIncomplete
	}
	segs := make([]uint32, count)
	for i := range segs {
		segs[i] = binary.BigEndian.Uint32(buf[2+i*4 : 6+i*4])
	}
	return ITADPath{Type: typ, Segs: segs}, total, nil
}

// -------------------------------------------------------------------------
// Community
// -------------------------------------------------------------------------

// Community is an (itad, id) pair tagging a route. ITAD 0 is reserved for
// well-known communities; the only defined one is NoExport.
type Community struct {
	ITAD uint32
	ID   uint32
}

// NoExportID is the well-known community id paired with ITAD 0.
const NoExportID uint32 = 0xffffff01

// NoExport is the well-known "do not re-advertise" community.
var NoExport = Community{ITAD: 0, ID: NoExportID}

func validCommunity(c Community) bool {
	return c.ITAD != 0 || c.ID == NoExportID
}

// -------------------------------------------------------------------------
// AttrFlags / AttrType
// -------------------------------------------------------------------------

// AttrFlags is the UPDATE attribute flags bitfield (LSB first: well-known,
// transitive, dependent, partial, lsencap).
type AttrFlags uint8

const (
	FlagWellKnown  AttrFlags = 1 << 0
	FlagTransitive AttrFlags = 1 << 1
	FlagDependent  AttrFlags = 1 << 2
	FlagPartial    AttrFlags = 1 << 3
	FlagLSEncap    AttrFlags = 1 << 4
)

func (f AttrFlags) Has(bit AttrFlags) bool { return f&bit != 0 }

// AttrType identifies an UPDATE attribute family.
type AttrType uint8

const (
	AttrWithdrawnRoutes   AttrType = 1
	AttrReachableRoutes   AttrType = 2
	AttrNextHopServer     AttrType = 3
	AttrAdvertisementPath AttrType = 4
	AttrRoutedPath        AttrType = 5
	AttrAtomicAggregate   AttrType = 6
	AttrLocalPreference   AttrType = 7
	AttrMultiExitDisc     AttrType = 8
	AttrCommunities       AttrType = 9
	AttrITADTopology      AttrType = 10
	AttrConvertedRoute    AttrType = 11
	// RFC 5115 / RFC 5140 types are reserved but not decoded by this codec.
	AttrResourcePriority     AttrType = 12
	AttrTotalCircuitCapacity AttrType = 13
	AttrAvailableCircuits    AttrType = 14
	AttrCallSuccess          AttrType = 15
	AttrE164Prefix           AttrType = 16
	AttrPentadecPrefix       AttrType = 17
	AttrDecimalPrefix        AttrType = 18
	AttrTrunkGroup           AttrType = 19
	AttrCarrier              AttrType = 20
)

// attrTypeMin/attrTypeMax bound the recognized attribute type range: any
// type outside [WithdrawnRoutes, Carrier] is unrecognized.
const (
	attrTypeMin = AttrWithdrawnRoutes
	attrTypeMax = AttrCarrier
)

func (t AttrType) valid() bool { return t >= attrTypeMin && t <= attrTypeMax }

// -------------------------------------------------------------------------
// Attribute — generic UPDATE attribute envelope
// -------------------------------------------------------------------------

// Attribute is the generic parsed envelope of one UPDATE attribute. Value
// is the inner payload, still encoded; callers decode it per Type using
// DecodeRoutes, DecodeITADPath, DecodeCommunities, or DecodeUint32.
type Attribute struct {
	Flags        AttrFlags
	Type         AttrType
	OriginatorID uint32
	Sequence     uint32
	Value        []byte
}

func putAttrHeader(buf []byte, flags AttrFlags, typ AttrType, valueLen int, lsencap bool, id, seq uint32) int {
	buf[0] = uint8(flags)
	buf[1] = uint8(typ)
	if lsencap {
		binary.BigEndian.PutUint16(buf[2:4], uint16(valueLen))
		binary.BigEndian.PutUint32(buf[4:8], id)
		binary.BigEndian.PutUint32(buf[8:12], seq)
		return attrLSEncapHeaderSize
	}
	binary.BigEndian.PutUint16(buf[2:4], uint16(valueLen))
	return attrHeaderSize
}

// ParseUpdateAttr parses one attribute envelope (header + value) from buf,
// handling both the regular and link-state-encapsulated header variants.
func ParseUpdateAttr(buf []byte) (*Attribute, int, error) {
	if len(buf) < attrHeaderSize {
		return nil, 0, ErrIncomplete
	}
	flags := AttrFlags(buf[0])
	typ := AttrType(buf[1])
	if !typ.valid() {
		return nil, 0, ErrAttrType
	}
	if !flags.Has(FlagWellKnown) {
		return nil, 0, ErrMissingWellKnown
	}
	valueLen := int(binary.BigEndian.Uint16(buf[2:4]))

	if flags.Has(FlagLSEncap) {
		if len(buf) < attrLSEncapHeaderSize {
			return nil, 0, ErrIncomplete
		}
		if len(buf) < attrLSEncapHeaderSize+valueLen {
			return nil, 0, ErrIncomplete
		}
		id := binary.BigEndian.Uint32(buf[4:8])
		seq := binary.BigEndian.Uint32(buf[8:12])
		value := make([]byte, valueLen)
		copy(value, buf[attrLSEncapHeaderSize:attrLSEncapHeaderSize+valueLen])
		return &Attribute{Flags: flags, Type: typ, OriginatorID: id, Sequence: seq, Value: value},
			attrLSEncapHeaderSize + valueLen, nil
	}
	if typ == AttrITADTopology {
		return nil, 0, ErrMissingLSEncap
	}
	if len(buf) < attrHeaderSize+valueLen {
		return nil, 0, ErrIncomplete
	}
	value := make([]byte, valueLen)
	copy(value, buf[attrHeaderSize:attrHeaderSize+valueLen])
	return &Attribute{Flags: flags, Type: typ, Value: value}, attrHeaderSize + valueLen, nil
}

// ParseUpdate parses a sequence of attributes filling the entire payload.
func ParseUpdate(payload []byte) ([]Attribute, error) {
	var attrs []Attribute
	for len(payload) > 0 {
		a, n, err := ParseUpdateAttr(payload)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, *a)
		payload = payload[n:]
	}
	return attrs, nil
}

// SerializeUpdate concatenates pre-built attribute blocks (each produced by
// one of the SerializeAttr* functions) into an Update message.
func SerializeUpdate(buf []byte, attrs [][]byte) (int, error) {
	payloadLen := 0
	for _, a := range attrs {
		payloadLen += len(a)
	}
	total := MsgHeaderSize + payloadLen
	if len(buf) < total {
		return 0, ErrBufTooSmall
	}
	putMsgHeader(buf, MsgUpdate, payloadLen)
	p := buf[MsgHeaderSize:]
	for _, a := range attrs {
		copy(p, a)
		p = p[len(a):]
	}
	return total, nil
}

// -------------------------------------------------------------------------
// UPDATE attribute family serializers
// -------------------------------------------------------------------------

// SerializeAttrWithdrawnRoutes writes a WithdrawnRoutes attribute. lsencap
// selects the extended header; the flag byte reflects exactly which
// header was written.
func SerializeAttrWithdrawnRoutes(buf []byte, lsencap bool, id, seq uint32, routes []Route) (int, error) {
	return serializeRouteAttr(buf, AttrWithdrawnRoutes, lsencap, id, seq, routes)
}

// SerializeAttrReachableRoutes writes a ReachableRoutes attribute. See
// SerializeAttrWithdrawnRoutes for the lsencap-flag correction.
func SerializeAttrReachableRoutes(buf []byte, lsencap bool, id, seq uint32, routes []Route) (int, error) {
	return serializeRouteAttr(buf, AttrReachableRoutes, lsencap, id, seq, routes)
}

func serializeRouteAttr(buf []byte, typ AttrType, lsencap bool, id, seq uint32, routes []Route) (int, error) {
	valueLen := 0
	for _, r := range routes {
		valueLen += routeHeaderSize + len(r.Addr)
	}
	headerSize := attrHeaderSize
	flags := FlagWellKnown
	if lsencap {
		headerSize = attrLSEncapHeaderSize
		flags |= FlagLSEncap
	}
	total := headerSize + valueLen
	if len(buf) < total {
		return 0, ErrBufTooSmall
	}
	putAttrHeader(buf, flags, typ, valueLen, lsencap, id, seq)
	if _, err := serializeRoutes(buf[headerSize:total], routes); err != nil {
		return 0, err
	}
	return total, nil
}

// DecodeRoutes decodes the value of a WithdrawnRoutes or ReachableRoutes
// attribute into its list of routes.
func DecodeRoutes(value []byte) ([]Route, error) { return parseRoutes(value) }

// SerializeAttrNextHopServer writes a NextHopServer attribute. server is
// "host[:port]".
func SerializeAttrNextHopServer(buf []byte, nextITAD uint32, server string) (int, error) {
	if nextITAD == 0 {
		return 0, ErrITAD
	}
	valueLen := 6 + len(server)
	total := attrHeaderSize + valueLen
	if len(buf) < total {
		return 0, ErrBufTooSmall
	}
	putAttrHeader(buf, FlagWellKnown, AttrNextHopServer, valueLen, false, 0, 0)
	v := buf[attrHeaderSize:total]
	binary.BigEndian.PutUint32(v[0:4], nextITAD)
	binary.BigEndian.PutUint16(v[4:6], uint16(len(server)))
	copy(v[6:], server)
	return total, nil
}

// DecodeNextHopServer decodes a NextHopServer attribute's value.
func DecodeNextHopServer(value []byte) (itad uint32, server string, err error) {
	if len(value) < 6 {
		return 0, "", ErrIncomplete
	}
	itad = binary.BigEndian.Uint32(value[0:4])
	if itad == 0 {
		return 0, "", ErrITAD
	}
	serverLen := int(binary.BigEndian.Uint16(value[4:6]))
	if len(value) < 6+serverLen {
		return 0, "", ErrIncomplete
	}
	return itad, string(value[6 : 6+serverLen]), nil
}

// SerializeAttrAdvertisementPath writes an AdvertisementPath attribute.
func SerializeAttrAdvertisementPath(buf []byte, path ITADPath) (int, error) {
	return serializeITADPathAttr(buf, AttrAdvertisementPath, path)
}

// SerializeAttrRoutedPath writes a RoutedPath attribute (same inner
// encoding as AdvertisementPath).
func SerializeAttrRoutedPath(buf []byte, path ITADPath) (int, error) {
	return serializeITADPathAttr(buf, AttrRoutedPath, path)
}

func serializeITADPathAttr(buf []byte, typ AttrType, path ITADPath) (int, error) {
	if !path.Type.valid() {
		return 0, ErrITADPathType
	}
	valueLen := 2 + len(path.Segs)*4
	total := attrHeaderSize + valueLen
	if len(buf) < total {
		return 0, ErrBufTooSmall
	}
	putAttrHeader(buf, FlagWellKnown, typ, valueLen, false, 0, 0)
	_, err := serializeITADPath(buf[attrHeaderSize:total], path)
	return total, err
}

// DecodeITADPath decodes an AdvertisementPath or RoutedPath attribute value.
func DecodeITADPath(value []byte) (ITADPath, error) {
	p, _, err := parseITADPath(value)
	return p, err
}

// SerializeAttrAtomicAggregate writes an AtomicAggregate attribute, which
// carries no value.
func SerializeAttrAtomicAggregate(buf []byte) (int, error) {
	return serializeEmptyAttr(buf, AttrAtomicAggregate)
}

// SerializeAttrConvertedRoute writes a ConvertedRoute attribute, which
// carries no value.
func SerializeAttrConvertedRoute(buf []byte) (int, error) {
	return serializeEmptyAttr(buf, AttrConvertedRoute)
}

func serializeEmptyAttr(buf []byte, typ AttrType) (int, error) {
	if len(buf) < attrHeaderSize {
		return 0, ErrBufTooSmall
	}
	putAttrHeader(buf, FlagWellKnown, typ, 0, false, 0, 0)
	return attrHeaderSize, nil
}

// SerializeAttrLocalPreference writes a LocalPreference attribute.
func SerializeAttrLocalPreference(buf []byte, pref uint32) (int, error) {
	return serializeUint32Attr(buf, AttrLocalPreference, pref)
}

// SerializeAttrMultiExitDisc writes a MultiExitDisc attribute.
func SerializeAttrMultiExitDisc(buf []byte, metric uint32) (int, error) {
	return serializeUint32Attr(buf, AttrMultiExitDisc, metric)
}

func serializeUint32Attr(buf []byte, typ AttrType, val uint32) (int, error) {
	total := attrHeaderSize + 4
	if len(buf) < total {
		return 0, ErrBufTooSmall
	}
	putAttrHeader(buf, FlagWellKnown, typ, 4, false, 0, 0)
	binary.BigEndian.PutUint32(buf[attrHeaderSize:total], val)
	return total, nil
}

// DecodeUint32 decodes a LocalPreference or MultiExitDisc attribute value.
func DecodeUint32(value []byte) (uint32, error) {
	if len(value) != 4 {
		return 0, ErrIncomplete
	}
	return binary.BigEndian.Uint32(value), nil
}

// SerializeAttrCommunities writes a Communities attribute. Any community
// with ITAD 0 must be the well-known NoExport value.
func SerializeAttrCommunities(buf []byte, communities []Community) (int, error) {
	for _, c := range communities {
		if !validCommunity(c) {
			return 0, ErrCommunityITAD
		}
	}
	valueLen := len(communities) * 8
	total := attrHeaderSize + valueLen
	if len(buf) < total {
		return 0, ErrBufTooSmall
	}
	putAttrHeader(buf, FlagWellKnown|FlagTransitive, AttrCommunities, valueLen, false, 0, 0)
	v := buf[attrHeaderSize:total]
	for i, c := range communities {
		binary.BigEndian.PutUint32(v[i*8:i*8+4], c.ITAD)
		binary.BigEndian.PutUint32(v[i*8+4:i*8+8], c.ID)
	}
	return total, nil
}

// DecodeCommunities decodes a Communities attribute value.
func DecodeCommunities(value []byte) ([]Community, error) {
	if len(value)%8 != 0 {
		return nil, ErrIncomplete
	}
	communities := make([]Community, len(value)/8)
	for i := range communities {
		c := Community{
			ITAD: binary.BigEndian.Uint32(value[i*8 : i*8+4]),
			ID:   binary.BigEndian.Uint32(value[i*8+4 : i*8+8]),
		}
		if !validCommunity(c) {
			return nil, ErrCommunityITAD
		}
		communities[i] = c
	}
	return communities, nil
}

// SerializeAttrITADTopology writes an ITADTopology attribute. This
// attribute is always link-state encapsulated; the returned length
// matches the lsencap header actually written.
func SerializeAttrITADTopology(buf []byte, id, seq uint32, itads []uint32) (int, error) {
	valueLen := len(itads) * 4
	total := attrLSEncapHeaderSize + valueLen
	if len(buf) < total {
		return 0, ErrBufTooSmall
	}
	putAttrHeader(buf, FlagWellKnown|FlagLSEncap, AttrITADTopology, valueLen, true, id, seq)
	v := buf[attrLSEncapHeaderSize:total]
	for i, t := range itads {
		binary.BigEndian.PutUint32(v[i*4:i*4+4], t)
	}
	return total, nil
}

// DecodeITADTopology decodes an ITADTopology attribute value.
func DecodeITADTopology(value []byte) ([]uint32, error) {
	if len(value)%4 != 0 {
		return nil, ErrIncomplete
	}
	itads := make([]uint32, len(value)/4)
	for i := range itads {
		itads[i] = binary.BigEndian.Uint32(value[i*4 : i*4+4])
	}
	return itads, nil
}

// -------------------------------------------------------------------------
// Notification
// -------------------------------------------------------------------------

// NotifCode is the top-level Notification error code.
type NotifCode uint8

const (
	NotifMsgError    NotifCode = 1
	NotifOpenError   NotifCode = 2
	NotifUpdateError NotifCode = 3
	NotifHoldExpired NotifCode = 4
	NotifFSMError    NotifCode = 5
	NotifCease       NotifCode = 6
)

func (c NotifCode) valid() bool { return c >= NotifMsgError && c <= NotifCease }

// String implements fmt.Stringer for logging and metric labels.
func (c NotifCode) String() string {
	switch c {
	case NotifMsgError:
		return "MsgError"
	case NotifOpenError:
		return "OpenError"
	case NotifUpdateError:
		return "UpdateError"
	case NotifHoldExpired:
		return "HoldExpired"
	case NotifFSMError:
		return "FSMError"
	case NotifCease:
		return "Cease"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(c))
	}
}

// Notification subcodes, grouped by the code they apply to.
const (
	SubMsgBadLen  uint8 = 1
	SubMsgBadType uint8 = 2

	SubOpenUnsupVersion uint8 = 1
	SubOpenBadITAD      uint8 = 2
	SubOpenBadID        uint8 = 3
	SubOpenUnsupOpt     uint8 = 4
	SubOpenBadHold      uint8 = 5
	SubOpenUnsupCap     uint8 = 6
	SubOpenCapMismatch  uint8 = 7

	SubUpdateMalformAttr          uint8 = 1
	SubUpdateUnknownWellKnownAttr uint8 = 2
	SubUpdateMissingWellKnownAttr uint8 = 3
	SubUpdateBadAttrFlag          uint8 = 4
	SubUpdateBadAttrLen           uint8 = 5
	SubUpdateInvalAttr            uint8 = 6
)

// validSubcode reports whether subcode is defined for code. HoldExpired,
// FSMError, and Cease take no subcode (0).
func validSubcode(code NotifCode, subcode uint8) bool {
	switch code {
	case NotifMsgError:
		return subcode >= SubMsgBadLen && subcode <= SubMsgBadType
	case NotifOpenError:
		return subcode >= SubOpenUnsupVersion && subcode <= SubOpenCapMismatch
	case NotifUpdateError:
		return subcode >= SubUpdateMalformAttr && subcode <= SubUpdateInvalAttr
	case NotifHoldExpired, NotifFSMError, NotifCease:
		return subcode == 0
	default:
		return false
	}
}

// Notification is the parsed form of a Notification message.
type Notification struct {
	Code    NotifCode
	Subcode uint8
	Data    []byte
}

// SerializeNotification writes a Notification message.
func SerializeNotification(buf []byte, code NotifCode, subcode uint8, data []byte) (int, error) {
	if !code.valid() {
		return 0, ErrNotifCode
	}
	if !validSubcode(code, subcode) {
		return 0, ErrNotifSubcode
	}
	payloadLen := 2 + len(data)
	total := MsgHeaderSize + payloadLen
	if len(buf) < total {
		return 0, ErrBufTooSmall
	}
	putMsgHeader(buf, MsgNotification, payloadLen)
	p := buf[MsgHeaderSize:]
	p[0] = uint8(code)
	p[1] = subcode
	copy(p[2:], data)
	return total, nil
}

// ParseNotification parses a Notification payload.
func ParseNotification(payload []byte) (*Notification, int, error) {
	if len(payload) < 2 {
		return nil, 0, ErrIncomplete
	}
	code := NotifCode(payload[0])
	if !code.valid() {
		return nil, 0, ErrNotifCode
	}
	subcode := payload[1]
	if !validSubcode(code, subcode) {
		return nil, 0, ErrNotifSubcode
	}
	data := make([]byte, len(payload)-2)
	copy(data, payload[2:])
	return &Notification{Code: code, Subcode: subcode, Data: data}, len(payload), nil
}

// -------------------------------------------------------------------------
// Keepalive
// -------------------------------------------------------------------------

// SerializeKeepalive writes an empty-payload Keepalive message.
func SerializeKeepalive(buf []byte) (int, error) {
	if len(buf) < MsgHeaderSize {
		return 0, ErrBufTooSmall
	}
	putMsgHeader(buf, MsgKeepalive, 0)
	return MsgHeaderSize, nil
}

// -------------------------------------------------------------------------
// Message framing
// -------------------------------------------------------------------------

func putMsgHeader(buf []byte, typ MsgType, payloadLen int) {
	binary.BigEndian.PutUint16(buf[0:2], uint16(payloadLen))
	buf[2] = uint8(typ)
}

// ParseMsg reads the 3-byte message header and returns the message type,
// the remaining payload slice, and the total bytes consumed (header +
// payload). Returns ErrIncomplete when buf does not yet hold a full
// message; the session reads more and retries from the same offset
// without discarding the prefix.
func ParseMsg(buf []byte) (MsgType, []byte, int, error) {
	if len(buf) < MsgHeaderSize {
		return 0, nil, 0, ErrIncomplete
	}
	payloadLen := int(binary.BigEndian.Uint16(buf[0:2]))
	typ := MsgType(buf[2])
	if !typ.valid() {
		return 0, nil, 0, ErrMsgType
	}
	total := MsgHeaderSize + payloadLen
	if total > MaxMsgSize {
		return 0, nil, 0, ErrBufTooSmall
	}
	if len(buf) < total {
		return 0, nil, 0, ErrIncomplete
	}
	return typ, buf[MsgHeaderSize:total], total, nil
}
