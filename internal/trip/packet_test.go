package trip_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dantte-lp/trip/internal/trip"
)

// -------------------------------------------------------------------------
// TestOpenRoundTrip — P1 (round-trip), P4 (byte order)
// -------------------------------------------------------------------------

func TestOpenRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		hold      uint16
		itad      uint32
		id        uint32
		routeType []trip.RouteType
		hasTrans  bool
		trans     trip.TransMode
	}{
		{
			name: "no options",
			hold: 0, itad: 1, id: 0x0A000001,
		},
		{
			name: "routetype and transmode",
			hold: 180, itad: 64500, id: 0x0A000001,
			routeType: []trip.RouteType{{AF: trip.AFE164, AppProto: trip.AppProtoSIP}},
			hasTrans:  true, trans: trip.TransSendRecv,
		},
		{
			name: "minimum nonzero hold",
			hold: 3, itad: 2, id: 0x0A000002,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			buf := make([]byte, trip.MaxMsgSize)
			n, err := trip.SerializeOpen(buf, tc.hold, tc.itad, tc.id, tc.routeType, tc.hasTrans, tc.trans)
			if err != nil {
				t.Fatalf("SerializeOpen: %v", err)
			}
			typ, payload, consumed, err := trip.ParseMsg(buf[:n])
			if err != nil {
				t.Fatalf("ParseMsg: %v", err)
			}
			if typ != trip.MsgOpen {
				t.Fatalf("type = %v, want Open", typ)
			}
			if consumed != n {
				t.Fatalf("consumed = %d, want %d", consumed, n)
			}
			open, _, err := trip.ParseOpen(payload)
			if err != nil {
				t.Fatalf("ParseOpen: %v", err)
			}
			want := &trip.Open{
				Hold: tc.hold, ITAD: tc.itad, ID: tc.id,
				RouteType: tc.routeType, TransMode: tc.trans, HasTrans: tc.hasTrans,
			}
			if diff := cmp.Diff(want, open); diff != "" {
				t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestOpenWireLayout checks the Open message's fixed wire layout byte by byte.
func TestOpenWireLayout(t *testing.T) {
	t.Parallel()
	buf := make([]byte, trip.MaxMsgSize)
	n, err := trip.SerializeOpen(buf, 180, 64500, 0x0A000001,
		[]trip.RouteType{{AF: trip.AFE164, AppProto: trip.AppProtoSIP}}, false, 0)
	if err != nil {
		t.Fatalf("SerializeOpen: %v", err)
	}
	if buf[2] != 0x01 {
		t.Fatalf("byte 2 (type) = %#x, want 0x01", buf[2])
	}
	if got := buf[1]; got != byte(n-trip.MsgHeaderSize) {
		t.Fatalf("length low byte = %d, want %d", got, n-trip.MsgHeaderSize)
	}
	hold := [2]byte{buf[5], buf[6]}
	if hold != [2]byte{0x00, 0xB4} {
		t.Fatalf("hold field = %x, want 00b4", hold)
	}
}

// -------------------------------------------------------------------------
// TestOpenValidation — P3 (validation)
// -------------------------------------------------------------------------

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	t.Run("serialize rejects bad hold", func(t *testing.T) {
		buf := make([]byte, trip.MaxMsgSize)
		_, err := trip.SerializeOpen(buf, 2, 1, 1, nil, false, 0)
		if !errors.Is(err, trip.ErrHold) {
			t.Fatalf("err = %v, want ErrHold", err)
		}
	})

	t.Run("serialize rejects zero itad", func(t *testing.T) {
		buf := make([]byte, trip.MaxMsgSize)
		_, err := trip.SerializeOpen(buf, 90, 0, 1, nil, false, 0)
		if !errors.Is(err, trip.ErrITAD) {
			t.Fatalf("err = %v, want ErrITAD", err)
		}
	})

	t.Run("serialize reports buf too small without writing", func(t *testing.T) {
		buf := make([]byte, 5)
		orig := append([]byte(nil), buf...)
		_, err := trip.SerializeOpen(buf, 90, 1, 1, nil, false, 0)
		if !errors.Is(err, trip.ErrBufTooSmall) {
			t.Fatalf("err = %v, want ErrBufTooSmall", err)
		}
		if !bytes.Equal(buf, orig) {
			t.Fatalf("buffer was written to on error")
		}
	})

	t.Run("parse rejects bad version", func(t *testing.T) {
		buf := make([]byte, trip.MaxMsgSize)
		n, _ := trip.SerializeOpen(buf, 90, 1, 1, nil, false, 0)
		buf[trip.MsgHeaderSize] = 9
		_, payload, _, err := trip.ParseMsg(buf[:n])
		if err != nil {
			t.Fatalf("ParseMsg: %v", err)
		}
		_, _, err = trip.ParseOpen(payload)
		if !errors.Is(err, trip.ErrVersion) {
			t.Fatalf("err = %v, want ErrVersion", err)
		}
	})

	t.Run("parse returns incomplete on truncated payload", func(t *testing.T) {
		buf := make([]byte, trip.MaxMsgSize)
		n, _ := trip.SerializeOpen(buf, 90, 1, 1, nil, false, 0)
		_, payload, _, err := trip.ParseMsg(buf[:n])
		if err != nil {
			t.Fatalf("ParseMsg: %v", err)
		}
		_, _, err = trip.ParseOpen(payload[:len(payload)-1])
		if !errors.Is(err, trip.ErrIncomplete) {
			t.Fatalf("err = %v, want ErrIncomplete", err)
		}
	})

	t.Run("parse msg rejects invalid type", func(t *testing.T) {
		buf := []byte{0x00, 0x00, 0x09}
		_, _, _, err := trip.ParseMsg(buf)
		if !errors.Is(err, trip.ErrMsgType) {
			t.Fatalf("err = %v, want ErrMsgType", err)
		}
	})

	t.Run("parse msg incomplete on short header", func(t *testing.T) {
		_, _, _, err := trip.ParseMsg([]byte{0x00, 0x01})
		if !errors.Is(err, trip.ErrIncomplete) {
			t.Fatalf("err = %v, want ErrIncomplete", err)
		}
	})
}

// TestBadMessageType mirrors S4: a raw header with an invalid type byte.
func TestBadMessageType(t *testing.T) {
	t.Parallel()
	raw := []byte{0x00, 0x00, 0x7F}
	_, _, _, err := trip.ParseMsg(raw)
	if !errors.Is(err, trip.ErrMsgType) {
		t.Fatalf("err = %v, want ErrMsgType", err)
	}
}

// -------------------------------------------------------------------------
// TestKeepaliveRoundTrip
// -------------------------------------------------------------------------

func TestKeepaliveRoundTrip(t *testing.T) {
	t.Parallel()
	buf := make([]byte, 16)
	n, err := trip.SerializeKeepalive(buf)
	if err != nil {
		t.Fatalf("SerializeKeepalive: %v", err)
	}
	typ, payload, consumed, err := trip.ParseMsg(buf[:n])
	if err != nil {
		t.Fatalf("ParseMsg: %v", err)
	}
	if typ != trip.MsgKeepalive {
		t.Fatalf("type = %v, want Keepalive", typ)
	}
	if len(payload) != 0 {
		t.Fatalf("payload len = %d, want 0", len(payload))
	}
	if consumed != trip.MsgHeaderSize {
		t.Fatalf("consumed = %d, want %d", consumed, trip.MsgHeaderSize)
	}
}

// -------------------------------------------------------------------------
// TestNotificationRoundTrip
// -------------------------------------------------------------------------

func TestNotificationRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		code    trip.NotifCode
		subcode uint8
		data    []byte
	}{
		{name: "hold expired", code: trip.NotifHoldExpired, subcode: 0},
		{name: "cease", code: trip.NotifCease, subcode: 0},
		{name: "msg error bad type", code: trip.NotifMsgError, subcode: trip.SubMsgBadType, data: []byte{0x7F}},
		{name: "open error bad hold", code: trip.NotifOpenError, subcode: trip.SubOpenBadHold},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			buf := make([]byte, 64)
			n, err := trip.SerializeNotification(buf, tc.code, tc.subcode, tc.data)
			if err != nil {
				t.Fatalf("SerializeNotification: %v", err)
			}
			typ, payload, _, err := trip.ParseMsg(buf[:n])
			if err != nil {
				t.Fatalf("ParseMsg: %v", err)
			}
			if typ != trip.MsgNotification {
				t.Fatalf("type = %v, want Notification", typ)
			}
			notif, _, err := trip.ParseNotification(payload)
			if err != nil {
				t.Fatalf("ParseNotification: %v", err)
			}
			if notif.Code != tc.code || notif.Subcode != tc.subcode {
				t.Fatalf("got (%v,%d), want (%v,%d)", notif.Code, notif.Subcode, tc.code, tc.subcode)
			}
			if len(tc.data) > 0 && !bytes.Equal(notif.Data, tc.data) {
				t.Fatalf("data = %x, want %x", notif.Data, tc.data)
			}
		})
	}

	t.Run("invalid subcode for code", func(t *testing.T) {
		buf := make([]byte, 64)
		_, err := trip.SerializeNotification(buf, trip.NotifHoldExpired, 1, nil)
		if !errors.Is(err, trip.ErrNotifSubcode) {
			t.Fatalf("err = %v, want ErrNotifSubcode", err)
		}
	})

	t.Run("invalid code", func(t *testing.T) {
		buf := make([]byte, 64)
		_, err := trip.SerializeNotification(buf, 0, 0, nil)
		if !errors.Is(err, trip.ErrNotifCode) {
			t.Fatalf("err = %v, want ErrNotifCode", err)
		}
	})
}

// -------------------------------------------------------------------------
// TestUpdateAttributeRoundTrip
// -------------------------------------------------------------------------

func TestUpdateAttributeRoundTrip(t *testing.T) {
	t.Parallel()

	t.Run("reachable routes", func(t *testing.T) {
		routes := []trip.Route{
			{AF: trip.AFE164, AppProto: trip.AppProtoSIP, Addr: []byte("14155550100")},
		}
		buf := make([]byte, 256)
		n, err := trip.SerializeAttrReachableRoutes(buf, false, 0, 0, routes)
		if err != nil {
			t.Fatalf("SerializeAttrReachableRoutes: %v", err)
		}
		attr, consumed, err := trip.ParseUpdateAttr(buf[:n])
		if err != nil {
			t.Fatalf("ParseUpdateAttr: %v", err)
		}
		if consumed != n {
			t.Fatalf("consumed = %d, want %d", consumed, n)
		}
		got, err := trip.DecodeRoutes(attr.Value)
		if err != nil {
			t.Fatalf("DecodeRoutes: %v", err)
		}
		if diff := cmp.Diff(routes, got); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("itad topology is always lsencap", func(t *testing.T) {
		buf := make([]byte, 256)
		n, err := trip.SerializeAttrITADTopology(buf, 7, 42, []uint32{1, 2, 3})
		if err != nil {
			t.Fatalf("SerializeAttrITADTopology: %v", err)
		}
		attr, consumed, err := trip.ParseUpdateAttr(buf[:n])
		if err != nil {
			t.Fatalf("ParseUpdateAttr: %v", err)
		}
		if consumed != n {
			t.Fatalf("consumed = %d, want %d", consumed, n)
		}
		if !attr.Flags.Has(trip.FlagLSEncap) {
			t.Fatalf("lsencap flag not set")
		}
		if attr.OriginatorID != 7 || attr.Sequence != 42 {
			t.Fatalf("originator/sequence = %d/%d, want 7/42", attr.OriginatorID, attr.Sequence)
		}
		itads, err := trip.DecodeITADTopology(attr.Value)
		if err != nil {
			t.Fatalf("DecodeITADTopology: %v", err)
		}
		if diff := cmp.Diff([]uint32{1, 2, 3}, itads); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("withdrawn routes lsencap flag matches parameter", func(t *testing.T) {
		buf := make([]byte, 256)
		n, err := trip.SerializeAttrWithdrawnRoutes(buf, false, 7, 42, nil)
		if err != nil {
			t.Fatalf("SerializeAttrWithdrawnRoutes: %v", err)
		}
		attr, _, err := trip.ParseUpdateAttr(buf[:n])
		if err != nil {
			t.Fatalf("ParseUpdateAttr: %v", err)
		}
		if attr.Flags.Has(trip.FlagLSEncap) {
			t.Fatalf("lsencap flag set when lsencap=false")
		}
	})

	t.Run("communities", func(t *testing.T) {
		communities := []trip.Community{trip.NoExport, {ITAD: 64500, ID: 1}}
		buf := make([]byte, 256)
		n, err := trip.SerializeAttrCommunities(buf, communities)
		if err != nil {
			t.Fatalf("SerializeAttrCommunities: %v", err)
		}
		attr, _, err := trip.ParseUpdateAttr(buf[:n])
		if err != nil {
			t.Fatalf("ParseUpdateAttr: %v", err)
		}
		got, err := trip.DecodeCommunities(attr.Value)
		if err != nil {
			t.Fatalf("DecodeCommunities: %v", err)
		}
		if diff := cmp.Diff(communities, got); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("community rejects reserved itad with wrong id", func(t *testing.T) {
		buf := make([]byte, 256)
		_, err := trip.SerializeAttrCommunities(buf, []trip.Community{{ITAD: 0, ID: 1}})
		if !errors.Is(err, trip.ErrCommunityITAD) {
			t.Fatalf("err = %v, want ErrCommunityITAD", err)
		}
	})

	t.Run("advertisement path", func(t *testing.T) {
		path := trip.ITADPath{Type: trip.ITADPathSequence, Segs: []uint32{1, 2, 3}}
		buf := make([]byte, 256)
		n, err := trip.SerializeAttrAdvertisementPath(buf, path)
		if err != nil {
			t.Fatalf("SerializeAttrAdvertisementPath: %v", err)
		}
		attr, _, err := trip.ParseUpdateAttr(buf[:n])
		if err != nil {
			t.Fatalf("ParseUpdateAttr: %v", err)
		}
		got, err := trip.DecodeITADPath(attr.Value)
		if err != nil {
			t.Fatalf("DecodeITADPath: %v", err)
		}
		if diff := cmp.Diff(path, got); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("missing well-known flag", func(t *testing.T) {
		buf := make([]byte, 256)
		n, _ := trip.SerializeAttrAtomicAggregate(buf)
		buf[0] = 0
		_, _, err := trip.ParseUpdateAttr(buf[:n])
		if !errors.Is(err, trip.ErrMissingWellKnown) {
			t.Fatalf("err = %v, want ErrMissingWellKnown", err)
		}
	})

	t.Run("invalid attribute type rejected by corrected range test", func(t *testing.T) {
		// type 0 sits outside [WithdrawnRoutes, Carrier]; the original
		// source's buggy range test would have accepted it.
		buf := []byte{byte(trip.FlagWellKnown), 0x00, 0x00, 0x00}
		_, _, err := trip.ParseUpdateAttr(buf)
		if !errors.Is(err, trip.ErrAttrType) {
			t.Fatalf("err = %v, want ErrAttrType", err)
		}
	})

	t.Run("update message round trip with multiple attributes", func(t *testing.T) {
		a1 := make([]byte, 64)
		n1, err := trip.SerializeAttrLocalPreference(a1, 100)
		if err != nil {
			t.Fatalf("SerializeAttrLocalPreference: %v", err)
		}
		a2 := make([]byte, 64)
		n2, err := trip.SerializeAttrAtomicAggregate(a2)
		if err != nil {
			t.Fatalf("SerializeAttrAtomicAggregate: %v", err)
		}
		buf := make([]byte, 256)
		n, err := trip.SerializeUpdate(buf, [][]byte{a1[:n1], a2[:n2]})
		if err != nil {
			t.Fatalf("SerializeUpdate: %v", err)
		}
		typ, payload, _, err := trip.ParseMsg(buf[:n])
		if err != nil {
			t.Fatalf("ParseMsg: %v", err)
		}
		if typ != trip.MsgUpdate {
			t.Fatalf("type = %v, want Update", typ)
		}
		attrs, err := trip.ParseUpdate(payload)
		if err != nil {
			t.Fatalf("ParseUpdate: %v", err)
		}
		if len(attrs) != 2 {
			t.Fatalf("len(attrs) = %d, want 2", len(attrs))
		}
		if attrs[0].Type != trip.AttrLocalPreference || attrs[1].Type != trip.AttrAtomicAggregate {
			t.Fatalf("unexpected attribute types: %v, %v", attrs[0].Type, attrs[1].Type)
		}
	})
}
