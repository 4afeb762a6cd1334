//go:build linux

package cec

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// linux/cec.h
const (
	iocWrite = 1
	iocRead  = 2

	cecModeInitiator = 0x1

	cecCapLogAddrs = 1 << 1

	cecTxStatusOK = 1 << 0
	cecRxStatusOK = 1 << 0

	cecLogAddrInvalid               = 0xff
	cecLogAddrsFlAllowUnregFallback = 1 << 0
	cecVersion14                    = 5
	cecVendorIDNone                 = 0xffffffff

	cecOSDNameLen = 15

	replyTimeoutMs = 1000
)

type cecCaps struct {
	Driver            [32]byte
	Name              [32]byte
	AvailableLogAddrs uint32
	Capabilities      uint32
	Version           uint32
}

type cecLogAddrs struct {
	LogAddr           [4]uint8
	LogAddrMask       uint16
	CECVersion        uint8
	NumLogAddrs       uint8
	VendorID          uint32
	Flags             uint32
	OSDName           [cecOSDNameLen]byte
	PrimaryDeviceType [4]uint8
	LogAddrType       [4]uint8
	AllDeviceTypes    [4]uint8
	Features          [4][12]uint8
}

type cecMsg struct {
	TxTs          uint64
	RxTs          uint64
	Len           uint32
	Timeout       uint32
	Sequence      uint32
	Flags         uint32
	Msg           [MaxFrameLen]byte
	Reply         uint8
	RxStatus      uint8
	TxStatus      uint8
	TxArbLostCnt  uint8
	TxNackCnt     uint8
	TxLowDriveCnt uint8
	TxErrorCnt    uint8
}

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | uintptr('a')<<8 | nr
}

var (
	cecAdapGCaps     = ioc(iocRead|iocWrite, 0, unsafe.Sizeof(cecCaps{}))
	cecAdapGPhysAddr = ioc(iocRead, 1, unsafe.Sizeof(uint16(0)))
	cecAdapGLogAddrs = ioc(iocRead, 3, unsafe.Sizeof(cecLogAddrs{}))
	cecAdapSLogAddrs = ioc(iocRead|iocWrite, 4, unsafe.Sizeof(cecLogAddrs{}))
	cecTransmit      = ioc(iocRead|iocWrite, 5, unsafe.Sizeof(cecMsg{}))
	cecSMode         = ioc(iocWrite, 9, unsafe.Sizeof(uint32(0)))
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}

// kernelAdapter drives a /dev/cecN node of the Linux CEC framework
type kernelAdapter struct {
	devDir string
	file   *os.File
	fd     int
	logf   LogFunc
}

// NewAdapter returns the adapter for this platform
func NewAdapter() (Adapter, error) {
	return &kernelAdapter{devDir: "/dev", fd: -1, logf: func(LogLevel, time.Time, string) {}}, nil
}

func (a *kernelAdapter) SetLogCallback(fn LogFunc) {
	if fn != nil {
		a.logf = fn
	}
}

func (a *kernelAdapter) logMsg(level LogLevel, format string, args ...any) {
	a.logf(level, time.Now(), fmt.Sprintf(format, args...))
}

func (a *kernelAdapter) Detect() ([]AdapterInfo, error) {
	paths, err := filepath.Glob(filepath.Join(a.devDir, "cec[0-9]*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var infos []AdapterInfo
	for _, p := range paths {
		f, err := os.OpenFile(p, os.O_RDWR, 0)
		if err != nil {
			a.logMsg(LogWarning, "cannot open %s: %v", p, err)
			continue
		}
		var caps cecCaps
		err = ioctl(int(f.Fd()), cecAdapGCaps, unsafe.Pointer(&caps))
		f.Close()
		if err != nil {
			a.logMsg(LogWarning, "%s is not a CEC adapter: %v", p, err)
			continue
		}
		infos = append(infos, AdapterInfo{Path: p, Driver: cString(caps.Driver[:]), Name: cString(caps.Name[:])})
		a.logMsg(LogDebug, "found adapter %s driver=%s name=%s", p, cString(caps.Driver[:]), cString(caps.Name[:]))
	}
	return infos, nil
}

func (a *kernelAdapter) Open(info AdapterInfo, cfg Config) error {
	f, err := os.OpenFile(info.Path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	fd := int(f.Fd())

	var caps cecCaps
	if err := ioctl(fd, cecAdapGCaps, unsafe.Pointer(&caps)); err != nil {
		f.Close()
		return fmt.Errorf("CEC_ADAP_G_CAPS: %w", err)
	}
	if caps.Capabilities&cecCapLogAddrs == 0 {
		f.Close()
		return errors.New("adapter does not let userspace configure logical addresses")
	}

	mode := uint32(cecModeInitiator)
	if err := ioctl(fd, cecSMode, unsafe.Pointer(&mode)); err != nil {
		f.Close()
		return fmt.Errorf("CEC_S_MODE: %w", err)
	}

	// Drop whatever was claimed before, S_LOG_ADDRS fails with EBUSY otherwise.
	var reset cecLogAddrs
	if err := ioctl(fd, cecAdapSLogAddrs, unsafe.Pointer(&reset)); err != nil {
		f.Close()
		return fmt.Errorf("CEC_ADAP_S_LOG_ADDRS (reset): %w", err)
	}

	la := cecLogAddrs{
		CECVersion:  cecVersion14,
		NumLogAddrs: 1,
		VendorID:    cecVendorIDNone,
		Flags:       cecLogAddrsFlAllowUnregFallback,
	}
	copy(la.OSDName[:cecOSDNameLen-1], cfg.DeviceName)
	la.PrimaryDeviceType[0] = uint8(cfg.DeviceType)
	la.LogAddrType[0] = logAddrType(cfg.DeviceType)
	la.AllDeviceTypes[0] = allDeviceTypes(cfg.DeviceType)

	// Blocks until the claim has finished since the fd is in blocking mode.
	if err := ioctl(fd, cecAdapSLogAddrs, unsafe.Pointer(&la)); err != nil {
		f.Close()
		return fmt.Errorf("CEC_ADAP_S_LOG_ADDRS: %w", err)
	}

	a.file = f
	a.fd = fd
	a.logMsg(LogNotice, "opened %s (%s), claimed %X", info.Path, cString(caps.Driver[:]), la.LogAddr[0])

	if cfg.ActivateSource {
		a.activateSource()
	}
	return nil
}

func (a *kernelAdapter) activateSource() {
	conf, err := a.Configuration()
	if err != nil {
		a.logMsg(LogWarning, "cannot activate source: %v", err)
		return
	}
	cmd := NewCommand(conf.LogicalAddress, AddrBroadcast, OpActiveSource,
		byte(conf.PhysicalAddress>>8), byte(conf.PhysicalAddress))
	if err := a.Transmit(cmd); err != nil {
		a.logMsg(LogWarning, "activate source: %v", err)
	}
}

func (a *kernelAdapter) logAddrs() (cecLogAddrs, error) {
	var la cecLogAddrs
	if a.fd < 0 {
		return la, os.ErrClosed
	}
	if err := ioctl(a.fd, cecAdapGLogAddrs, unsafe.Pointer(&la)); err != nil {
		return la, fmt.Errorf("CEC_ADAP_G_LOG_ADDRS: %w", err)
	}
	return la, nil
}

func (a *kernelAdapter) ownPhysicalAddress() (uint16, error) {
	var pa uint16
	if a.fd < 0 {
		return 0, os.ErrClosed
	}
	if err := ioctl(a.fd, cecAdapGPhysAddr, unsafe.Pointer(&pa)); err != nil {
		return 0, fmt.Errorf("CEC_ADAP_G_PHYS_ADDR: %w", err)
	}
	return pa, nil
}

func (a *kernelAdapter) Configuration() (Configuration, error) {
	la, err := a.logAddrs()
	if err != nil {
		return Configuration{}, err
	}
	if la.NumLogAddrs == 0 || la.LogAddr[0] == cecLogAddrInvalid {
		return Configuration{}, ErrNotClaimed
	}
	pa, err := a.ownPhysicalAddress()
	if err != nil {
		return Configuration{}, err
	}
	return Configuration{
		LogicalAddress:  LogicalAddress(la.LogAddr[0] & 0xF),
		PhysicalAddress: pa,
		DeviceName:      cString(la.OSDName[:]),
	}, nil
}

func (a *kernelAdapter) isOwn(addr LogicalAddress) (bool, cecLogAddrs, error) {
	la, err := a.logAddrs()
	if err != nil {
		return false, la, err
	}
	for i := 0; i < int(la.NumLogAddrs) && i < len(la.LogAddr); i++ {
		if la.LogAddr[i] == uint8(addr) {
			return true, la, nil
		}
	}
	return false, la, nil
}

func (a *kernelAdapter) PhysicalAddress(addr LogicalAddress) (uint16, error) {
	own, la, err := a.isOwn(addr)
	if err != nil {
		return 0, err
	}
	if own {
		return a.ownPhysicalAddress()
	}
	reply, err := a.request(NewCommand(LogicalAddress(la.LogAddr[0]&0xF), addr, OpGivePhysicalAddress), OpReportPhysicalAddress)
	if err != nil {
		return 0, err
	}
	if len(reply) < 4 {
		return 0, fmt.Errorf("%w: short physical address report", ErrNoReply)
	}
	return uint16(reply[2])<<8 | uint16(reply[3]), nil
}

func (a *kernelAdapter) OSDName(addr LogicalAddress) (string, error) {
	own, la, err := a.isOwn(addr)
	if err != nil {
		return "", err
	}
	if own {
		return cString(la.OSDName[:]), nil
	}
	reply, err := a.request(NewCommand(LogicalAddress(la.LogAddr[0]&0xF), addr, OpGiveOSDName), OpSetOSDName)
	if err != nil {
		return "", err
	}
	if len(reply) < 2 {
		return "", fmt.Errorf("%w: empty OSD name report", ErrNoReply)
	}
	return string(reply[2:]), nil
}

func (a *kernelAdapter) Transmit(cmd Command) error {
	_, err := a.transmit(cmd, 0)
	return err
}

func (a *kernelAdapter) PowerStatus(own, addr LogicalAddress) (PowerStatus, error) {
	reply, err := a.request(NewCommand(own, addr, OpGiveDevicePowerStatus), OpReportPowerStatus)
	if err != nil {
		return PowerUnknown, err
	}
	if len(reply) < 3 {
		return PowerUnknown, fmt.Errorf("%w: short power status report", ErrNoReply)
	}
	status := PowerStatus(reply[2])
	a.logMsg(LogDebug, "power status of %X: %s", uint8(addr), status)
	return status, nil
}

// request transmits cmd and waits for a reply with the given opcode
func (a *kernelAdapter) request(cmd Command, reply Opcode) ([]byte, error) {
	msg, err := a.transmit(cmd, reply)
	if err != nil {
		return nil, err
	}
	if msg.RxStatus&cecRxStatusOK == 0 {
		return nil, fmt.Errorf("%w: %s waiting for %02x (rx status 0x%02x)", ErrNoReply, cmd, uint8(reply), msg.RxStatus)
	}
	n := int(msg.Len)
	if n > MaxFrameLen {
		n = MaxFrameLen
	}
	out := append([]byte(nil), msg.Msg[:n]...)
	a.logMsg(LogTraffic, "<< %s", hexToken(out))
	return out, nil
}

func (a *kernelAdapter) transmit(cmd Command, reply Opcode) (*cecMsg, error) {
	if a.fd < 0 {
		return nil, os.ErrClosed
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	frame := cmd.Bytes()
	msg := &cecMsg{Len: uint32(len(frame))}
	copy(msg.Msg[:], frame)
	if reply != 0 {
		msg.Reply = uint8(reply)
		msg.Timeout = replyTimeoutMs
	}

	a.logMsg(LogTraffic, ">> %s", cmd)
	if err := ioctl(a.fd, cecTransmit, unsafe.Pointer(msg)); err != nil {
		a.logMsg(LogError, "CEC_TRANSMIT %s: %v", cmd, err)
		return nil, fmt.Errorf("CEC_TRANSMIT: %w", err)
	}
	if msg.TxStatus&cecTxStatusOK == 0 {
		return nil, fmt.Errorf("%w: %s (tx status 0x%02x, nacks %d, arbitration lost %d)",
			ErrNotAcknowledged, cmd, msg.TxStatus, msg.TxNackCnt, msg.TxArbLostCnt)
	}
	return msg, nil
}

func (a *kernelAdapter) Close() error {
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	a.fd = -1
	return err
}

func logAddrType(t DeviceType) uint8 {
	switch t {
	case DeviceTypeTV:
		return 0
	case DeviceTypeRecording:
		return 1
	case DeviceTypeTuner:
		return 2
	case DeviceTypePlayback:
		return 3
	case DeviceTypeAudioSystem:
		return 4
	}
	return 6 // unregistered
}

func allDeviceTypes(t DeviceType) uint8 {
	switch t {
	case DeviceTypeTV:
		return 0x80
	case DeviceTypeRecording:
		return 0x40
	case DeviceTypeTuner:
		return 0x20
	case DeviceTypePlayback:
		return 0x10
	case DeviceTypeAudioSystem:
		return 0x08
	}
	return 0
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func hexToken(frame []byte) string {
	if len(frame) < 2 {
		return fmt.Sprintf("%x", frame)
	}
	return NewCommand(LogicalAddress(frame[0]>>4), LogicalAddress(frame[0]&0xF), Opcode(frame[1]), frame[2:]...).String()
}
