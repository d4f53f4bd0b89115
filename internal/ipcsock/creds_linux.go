//go:build linux

package ipcsock

import (
	"net"
	"syscall"
)

// getPeerCredentials reads SO_PEERCRED off the underlying Unix domain
// socket file descriptor. Integrity level is not reported by Linux
// SO_PEERCRED directly; we approximate it from UID (root maps to System,
// everything else to Medium) since callers only ever ask "at least X".
func getPeerCredentials(nc net.Conn) (Credentials, error) {
	uc, ok := nc.(*net.UnixConn)
	if !ok {
		return Credentials{IntegrityLevel: IntegrityLevelMedium}, nil
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return Credentials{}, err
	}
	var cred *syscall.Ucred
	var sysErr error
	err = raw.Control(func(fd uintptr) {
		cred, sysErr = syscall.GetsockoptUcred(int(fd), syscall.SOL_SOCKET, syscall.SO_PEERCRED)
	})
	if err != nil {
		return Credentials{}, err
	}
	if sysErr != nil {
		return Credentials{}, sysErr
	}
	level := IntegrityLevelMedium
	if cred.Uid == 0 {
		level = IntegrityLevelSystem
	}
	return Credentials{
		PID:            cred.Pid,
		UID:            cred.Uid,
		GID:            cred.Gid,
		IntegrityLevel: level,
	}, nil
}
