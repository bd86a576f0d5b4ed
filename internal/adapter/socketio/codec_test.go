package socketio

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePacket(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  packet
		isErr bool
	}{
		{name: "connect ack", in: `0{"sid":"x"}`, want: packet{Type: sioConnect, Namespace: "/", AckID: -1, Data: json.RawMessage(`{"sid":"x"}`)}},
		{name: "bare disconnect", in: `1`, want: packet{Type: sioDisconnect, Namespace: "/", AckID: -1}},
		{name: "event", in: `2["notification",{"a":1}]`, want: packet{Type: sioEvent, Namespace: "/", AckID: -1, Data: json.RawMessage(`["notification",{"a":1}]`)}},
		{name: "namespace and ack id", in: `2/admin,13["x",1]`, want: packet{Type: sioEvent, Namespace: "/admin", AckID: 13, Data: json.RawMessage(`["x",1]`)}},
		{name: "namespace only", in: `0/admin,`, want: packet{Type: sioConnect, Namespace: "/admin", AckID: -1}},
		{name: "ack", in: `35[true]`, want: packet{Type: sioAck, Namespace: "/", AckID: 5, Data: json.RawMessage(`[true]`)}},
		{name: "empty", in: ``, isErr: true},
		{name: "unknown type", in: `9`, isErr: true},
		{name: "bad json", in: `2["x"`, isErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePacket([]byte(tt.in))
			if tt.isErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := decodePacket([]byte(`51-["upload",{"_placeholder":true,"num":0}]`))
	assert.True(t, errors.Is(err, errBinaryUnsupported))
}

func TestEncodePacket(t *testing.T) {
	p, err := eventPacket("/", "join", "42")
	require.NoError(t, err)
	assert.Equal(t, `42["join","42"]`, string(p.encode()))

	p, err = eventPacket("/driver", "join", 7)
	require.NoError(t, err)
	assert.Equal(t, `42/driver,["join",7]`, string(p.encode()))

	assert.Equal(t, `40{"token":"abc"}`, string(connectPacket("/", "abc").encode()))
	assert.Equal(t, `41`, string(packet{Type: sioDisconnect, AckID: -1}.encode()))
}

func TestPacketEvent(t *testing.T) {
	p, err := decodePacket([]byte(`2["notification",{"title":"hi"},"extra"]`))
	require.NoError(t, err)
	name, arg, err := p.event()
	require.NoError(t, err)
	assert.Equal(t, "notification", name)
	assert.JSONEq(t, `{"title":"hi"}`, string(arg))

	p, _ = decodePacket([]byte(`2["ping"]`))
	name, arg, err = p.event()
	require.NoError(t, err)
	assert.Equal(t, "ping", name)
	assert.Nil(t, arg)

	p, _ = decodePacket([]byte(`2{"not":"an array"}`))
	_, _, err = p.event()
	assert.Error(t, err)
}

func TestConnectError(t *testing.T) {
	for in, want := range map[string]string{
		`4{"message":"invalid token"}`: "invalid token",
		`4"nope"`:                      "nope",
		`4`:                            "connection refused by server",
	} {
		p, err := decodePacket([]byte(in))
		require.NoError(t, err)
		var ce *ConnectError
		require.ErrorAs(t, p.connectError(), &ce)
		assert.Equal(t, want, ce.Message, in)
	}
}

func TestDecodeOpen(t *testing.T) {
	o, err := decodeOpen([]byte(`0{"sid":"s1","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`))
	require.NoError(t, err)
	assert.Equal(t, "s1", o.SID)
	assert.Equal(t, int64(45000), o.liveness().Milliseconds())

	_, err = decodeOpen([]byte(`40`))
	assert.Error(t, err)
}
