package rpc

import (
	"fmt"
	"os"
	"time"
)

const (
	// MaxMachineNameLen is the largest machine name an AUTH_UNIX body may carry.
	MaxMachineNameLen = 255

	// MaxUnixGIDs is the largest number of supplementary groups in AUTH_UNIX.
	MaxUnixGIDs = 16
)

// UnixAuth represents AUTH_UNIX credentials.
//
// Wire Format (XDR encoding):
//   - Stamp:       4 bytes (arbitrary caller-chosen id)
//   - MachineName: string, at most 255 bytes
//   - UID:         4 bytes
//   - GID:         4 bytes
//   - GIDs:        counted array of at most 16 uint32
//
// Reference: RFC 1057 Section 9.2
type UnixAuth struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

// ParseUnixAuth decodes the body of an AUTH_UNIX credential.
//
// Every failure matches ErrBadAuth. Bytes left after the gid list are
// tolerated; some clients pad the body.
func ParseUnixAuth(body []byte) (*UnixAuth, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty auth body", ErrBadAuth)
	}

	u := NewUnpacker(body)
	auth := &UnixAuth{}

	var err error
	if auth.Stamp, err = u.UnpackUint32(); err != nil {
		return nil, fmt.Errorf("%w: read stamp: %v", ErrBadAuth, err)
	}

	nameLen, err := u.UnpackUint32()
	if err != nil {
		return nil, fmt.Errorf("%w: read machine name length: %v", ErrBadAuth, err)
	}
	if nameLen > MaxMachineNameLen {
		return nil, fmt.Errorf("%w: machine name too long: %d bytes", ErrBadAuth, nameLen)
	}
	name, err := u.UnpackFixedOpaque(nameLen)
	if err != nil {
		return nil, fmt.Errorf("%w: read machine name: %v", ErrBadAuth, err)
	}
	auth.MachineName = string(name)

	if auth.UID, err = u.UnpackUint32(); err != nil {
		return nil, fmt.Errorf("%w: read uid: %v", ErrBadAuth, err)
	}
	if auth.GID, err = u.UnpackUint32(); err != nil {
		return nil, fmt.Errorf("%w: read gid: %v", ErrBadAuth, err)
	}

	count, err := u.UnpackUint32()
	if err != nil {
		return nil, fmt.Errorf("%w: read gid count: %v", ErrBadAuth, err)
	}
	if count > MaxUnixGIDs {
		return nil, fmt.Errorf("%w: too many gids: %d", ErrBadAuth, count)
	}
	auth.GIDs = make([]uint32, count)
	for i := range auth.GIDs {
		if auth.GIDs[i], err = u.UnpackUint32(); err != nil {
			return nil, fmt.Errorf("%w: read gid %d: %v", ErrBadAuth, i, err)
		}
	}

	return auth, nil
}

// Encode returns the XDR body of the credential.
func (a *UnixAuth) Encode() ([]byte, error) {
	if len(a.MachineName) > MaxMachineNameLen {
		return nil, fmt.Errorf("%w: machine name too long: %d bytes", ErrBadAuth, len(a.MachineName))
	}
	if len(a.GIDs) > MaxUnixGIDs {
		return nil, fmt.Errorf("%w: too many gids: %d", ErrBadAuth, len(a.GIDs))
	}

	p := NewPacker()
	p.PackUint32(a.Stamp)
	p.PackString(a.MachineName)
	p.PackUint32(a.UID)
	p.PackUint32(a.GID)
	p.PackArray(len(a.GIDs), func(i int) {
		p.PackUint32(a.GIDs[i])
	})
	return p.Bytes(), nil
}

// Credential wraps the encoded body in an AUTH_UNIX OpaqueAuth.
func (a *UnixAuth) Credential() (OpaqueAuth, error) {
	body, err := a.Encode()
	if err != nil {
		return OpaqueAuth{}, err
	}
	return OpaqueAuth{Flavor: AuthUnix, Body: body}, nil
}

func (a *UnixAuth) String() string {
	return fmt.Sprintf("UnixAuth{machine=%s uid=%d gid=%d gids=%v}",
		a.MachineName, a.UID, a.GID, a.GIDs)
}

// NewUnixCredential builds an AUTH_UNIX credential from its parts.
func NewUnixCredential(stamp uint32, machine string, uid, gid uint32, gids []uint32) (OpaqueAuth, error) {
	auth := &UnixAuth{
		Stamp:       stamp,
		MachineName: machine,
		UID:         uid,
		GID:         gid,
		GIDs:        gids,
	}
	return auth.Credential()
}

// DefaultUnixAuth describes the current process: local hostname, effective
// uid and gid, supplementary groups (truncated to 16) and a stamp derived
// from the current time.
func DefaultUnixAuth() *UnixAuth {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	if len(hostname) > MaxMachineNameLen {
		hostname = hostname[:MaxMachineNameLen]
	}

	auth := &UnixAuth{
		Stamp:       uint32(time.Now().Unix()),
		MachineName: hostname,
		UID:         uint32(os.Getuid()),
		GID:         uint32(os.Getgid()),
		GIDs:        []uint32{},
	}

	// Getgroups is not supported everywhere (e.g. Windows)
	if groups, err := os.Getgroups(); err == nil {
		for _, g := range groups {
			if len(auth.GIDs) == MaxUnixGIDs {
				break
			}
			auth.GIDs = append(auth.GIDs, uint32(g))
		}
	}

	return auth
}
