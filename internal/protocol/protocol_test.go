package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequest(t *testing.T) {
	data, err := Encode(NewRequest(3, "continue", map[string]any{"stepaction": "in"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":3,"type":"request","command":"continue","arguments":{"stepaction":"in"}}`, string(data))

	data, err = Encode(NewRequest(4, "version", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":4,"type":"request","command":"version","arguments":{}}`, string(data))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		check   func(t *testing.T, p *Packet)
	}{
		{
			name:    "response",
			payload: `{"seq":1,"type":"response","request_seq":0,"command":"continue","running":true,"success":true}`,
			check: func(t *testing.T, p *Packet) {
				require.NotNil(t, p.Response)
				assert.Equal(t, "continue", p.Response.Command)
				assert.True(t, p.Response.Running)
				assert.Equal(t, 1, p.Seq())
			},
		},
		{
			name:    "event",
			payload: `{"seq":2,"type":"event","event":"break","body":{"line":3}}`,
			check: func(t *testing.T, p *Packet) {
				require.NotNil(t, p.Event)
				assert.Equal(t, "break", p.Event.Event)
				assert.Equal(t, map[string]any{"line": float64(3)}, p.Event.Body)
			},
		},
		{
			name:    "request",
			payload: `{"seq":5,"type":"request","command":"backtrace"}`,
			check: func(t *testing.T, p *Packet) {
				require.NotNil(t, p.Request)
				assert.Equal(t, "backtrace", p.Request.Command)
				assert.NotNil(t, p.Request.Arguments)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse([]byte(tt.payload))
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	_, err := Parse([]byte(`{"seq":1,"type":"gossip"}`))
	assert.True(t, errors.Is(err, ErrUnknownPacket))

	_, err = ParseRequest([]byte(`{"seq":1,"type":"event"}`))
	assert.True(t, errors.Is(err, ErrUnknownPacket))

	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}
