package rpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildCall(t *testing.T, call *RPCCallMessage, args ...uint32) []byte {
	t.Helper()
	p := NewPacker()
	WriteCall(p, call)
	for _, a := range args {
		p.PackUint32(a)
	}
	return append([]byte(nil), p.Bytes()...)
}

func TestReadCall(t *testing.T) {
	t.Run("DecodesHeaderAndPositionsAtArgs", func(t *testing.T) {
		cred, err := NewUnixCredential(1, "host", 1000, 1000, []uint32{1000})
		require.NoError(t, err)

		data := buildCall(t, &RPCCallMessage{
			XID:       0xDEADBEEF,
			Program:   100000,
			Version:   2,
			Procedure: 3,
			Cred:      cred,
			Verf:      NullAuth(),
		}, 42)

		call, args, err := ReadCall(data)
		require.NoError(t, err)
		assert.Equal(t, uint32(0xDEADBEEF), call.XID)
		assert.Equal(t, uint32(RPCCall), call.MsgType)
		assert.Equal(t, uint32(RPCVersion), call.RPCVersion)
		assert.Equal(t, uint32(100000), call.Program)
		assert.Equal(t, uint32(2), call.Version)
		assert.Equal(t, uint32(3), call.Procedure)
		assert.Equal(t, AuthUnix, call.GetAuthFlavor())
		assert.Equal(t, cred.Body, call.GetAuthBody())
		assert.Equal(t, AuthNull, call.Verf.Flavor)

		v, err := args.UnpackUint32()
		require.NoError(t, err)
		assert.Equal(t, uint32(42), v)
		assert.NoError(t, args.Finish())
	})

	t.Run("RejectsReplyMessage", func(t *testing.T) {
		data := MakeSuccessReply(7, nil)

		call, _, err := ReadCall(data)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrBadRPCFormat))
		assert.Equal(t, uint32(7), call.XID)
	})

	t.Run("RejectsWrongRPCVersion", func(t *testing.T) {
		p := NewPacker()
		p.PackUint32(9)
		p.PackEnum(RPCCall)
		p.PackUint32(3)

		call, _, err := ReadCall(p.Bytes())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrBadRPCVersion))
		assert.Equal(t, uint32(9), call.XID)
		assert.Equal(t, uint32(3), call.RPCVersion)
	})

	t.Run("TruncatedHeader", func(t *testing.T) {
		data := buildCall(t, &RPCCallMessage{XID: 1, Program: 1, Version: 1, Cred: NullAuth(), Verf: NullAuth()})

		_, _, err := ReadCall(data[:len(data)-4])
		assert.ErrorIs(t, err, ErrShortRead)
	})
}

func TestReadReply(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		p := NewPacker()
		WriteAcceptedReply(p, 11, NullAuth(), RPCSuccess)
		p.PackString("result")

		u := NewUnpacker(p.Bytes())
		xid, err := ReadReply(u)
		require.NoError(t, err)
		assert.Equal(t, uint32(11), xid)

		s, err := u.UnpackString()
		require.NoError(t, err)
		assert.Equal(t, "result", s)
	})

	tests := []struct {
		name     string
		write    func(p *Packer)
		sentinel error
		check    func(t *testing.T, err error)
	}{
		{
			name:     "ProgUnavail",
			write:    func(p *Packer) { WriteAcceptedReply(p, 5, NullAuth(), RPCProgUnavail) },
			sentinel: ErrProgUnavailable,
		},
		{
			name:     "ProgMismatch",
			write:    func(p *Packer) { WriteProgMismatchReply(p, 5, 2, 4) },
			sentinel: ErrProgMismatch,
			check: func(t *testing.T, err error) {
				var ae *AcceptError
				require.True(t, errors.As(err, &ae))
				assert.Equal(t, uint32(2), ae.Low)
				assert.Equal(t, uint32(4), ae.High)
			},
		},
		{
			name:     "ProcUnavail",
			write:    func(p *Packer) { p.PackRaw(MakeErrorReply(5, RPCProcUnavail)) },
			sentinel: ErrProcUnavailable,
		},
		{
			name:     "GarbageArgs",
			write:    func(p *Packer) { WriteAcceptedReply(p, 5, NullAuth(), RPCGarbageArgs) },
			sentinel: ErrGarbageArgsRemote,
		},
		{
			name:     "SystemErr",
			write:    func(p *Packer) { WriteAcceptedReply(p, 5, NullAuth(), RPCSystemErr) },
			sentinel: ErrSystemErr,
		},
		{
			name:     "RPCMismatch",
			write:    func(p *Packer) { WriteRPCMismatchReply(p, 5, 2, 2) },
			sentinel: ErrRPCMismatch,
			check: func(t *testing.T, err error) {
				var re *RejectError
				require.True(t, errors.As(err, &re))
				assert.Equal(t, uint32(2), re.Low)
				assert.Equal(t, uint32(2), re.High)
			},
		},
		{
			name:     "AuthError",
			write:    func(p *Packer) { WriteAuthErrorReply(p, 5, AuthBadCred) },
			sentinel: ErrAuthError,
			check: func(t *testing.T, err error) {
				var re *RejectError
				require.True(t, errors.As(err, &re))
				assert.Equal(t, uint32(AuthBadCred), re.AuthStat)
				assert.Contains(t, err.Error(), "AUTH_BADCRED")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPacker()
			tt.write(p)

			xid, err := ReadReply(NewUnpacker(p.Bytes()))
			assert.Equal(t, uint32(5), xid, "xid is reported alongside errors")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}

	t.Run("RejectsCall", func(t *testing.T) {
		data := buildCall(t, &RPCCallMessage{XID: 3, Cred: NullAuth(), Verf: NullAuth()})

		xid, err := ReadReply(NewUnpacker(data))
		assert.Equal(t, uint32(3), xid)
		assert.ErrorIs(t, err, ErrBadRPCFormat)
	})

	t.Run("UnknownReplyStat", func(t *testing.T) {
		p := NewPacker()
		p.PackUint32(3)
		p.PackEnum(RPCReply)
		p.PackEnum(7)

		_, err := ReadReply(NewUnpacker(p.Bytes()))
		assert.ErrorIs(t, err, ErrBadRPCFormat)
	})
}
