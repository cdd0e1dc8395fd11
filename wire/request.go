package wire

import (
	"fmt"
)

// ProtocolVersion is carried at the head of every message. It is the
// only compatibility signal; there is no separate schema negotiation.
const ProtocolVersion = 1

// Tag identifies one operation of the closed request/response set.
type Tag byte

const (
	// TagError marks the generic error envelope on the response side.
	TagError Tag = 0

	TagFdOpen Tag = iota
	TagDirOpen
	TagDirRead
	TagDirClose
	TagReadlink
	TagLinkat
	TagSymlinkat
	TagFdDup
	TagPathOp
	TagStat
	TagLstat
	TagFstat
	TagFstatat
	TagChmod
	TagFchmod
	TagFchmodat
	TagChown
	TagLchown
	TagFchown
	TagFchownat
	TagTruncate
	TagFtruncate
	TagUtimes
	TagFutimes
	TagUtimensat
	TagFutimens
	TagStatfs
	TagFstatfs
	TagDirfdOpenDir
	TagCloseFd
	TagDupFd
	TagSetCwd
	TagResolvePath
	TagStateProcesses
	TagStateStats
	TagStateFilesystem
)

var tagNames = map[Tag]string{
	TagFdOpen: "fd_open", TagDirOpen: "dir_open", TagDirRead: "dir_read",
	TagDirClose: "dir_close", TagReadlink: "readlink", TagLinkat: "linkat",
	TagSymlinkat: "symlinkat", TagFdDup: "fd_dup", TagPathOp: "path_op",
	TagStat: "stat", TagLstat: "lstat", TagFstat: "fstat", TagFstatat: "fstatat",
	TagChmod: "chmod", TagFchmod: "fchmod", TagFchmodat: "fchmodat",
	TagChown: "chown", TagLchown: "lchown", TagFchown: "fchown", TagFchownat: "fchownat",
	TagTruncate: "truncate", TagFtruncate: "ftruncate",
	TagUtimes: "utimes", TagFutimes: "futimes", TagUtimensat: "utimensat", TagFutimens: "futimens",
	TagStatfs: "statfs", TagFstatfs: "fstatfs",
	TagDirfdOpenDir: "dirfd_open_dir", TagCloseFd: "close_fd", TagDupFd: "dup_fd",
	TagSetCwd: "set_cwd", TagResolvePath: "resolve_path",
	TagStateProcesses: "daemon_state_processes", TagStateStats: "daemon_state_stats",
	TagStateFilesystem: "daemon_state_filesystem",
}

// String returns the wire name of the tag.
func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tag(%d)", byte(t))
}

// Request is one variant of the request union.
type Request interface {
	Tag() Tag
	appendPayload(buf []byte) []byte
	parsePayload(r *reader) error
}

// UnknownTagError reports a tag outside the closed operation set. The
// daemon answers it with a typed error response, never by dropping the
// connection.
type UnknownTagError struct {
	Tag Tag
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("wire: unknown tag %d", byte(e.Tag))
}

var requestFactories = map[Tag]func() Request{
	TagFdOpen:          func() Request { return &FdOpenReq{} },
	TagDirOpen:         func() Request { return &DirOpenReq{} },
	TagDirRead:         func() Request { return &DirReadReq{} },
	TagDirClose:        func() Request { return &DirCloseReq{} },
	TagReadlink:        func() Request { return &ReadlinkReq{} },
	TagLinkat:          func() Request { return &LinkatReq{} },
	TagSymlinkat:       func() Request { return &SymlinkatReq{} },
	TagFdDup:           func() Request { return &FdDupReq{} },
	TagPathOp:          func() Request { return &PathOpReq{} },
	TagStat:            func() Request { return &StatReq{} },
	TagLstat:           func() Request { return &LstatReq{} },
	TagFstat:           func() Request { return &FstatReq{} },
	TagFstatat:         func() Request { return &FstatatReq{} },
	TagChmod:           func() Request { return &ChmodReq{} },
	TagFchmod:          func() Request { return &FchmodReq{} },
	TagFchmodat:        func() Request { return &FchmodatReq{} },
	TagChown:           func() Request { return &ChownReq{} },
	TagLchown:          func() Request { return &LchownReq{} },
	TagFchown:          func() Request { return &FchownReq{} },
	TagFchownat:        func() Request { return &FchownatReq{} },
	TagTruncate:        func() Request { return &TruncateReq{} },
	TagFtruncate:       func() Request { return &FtruncateReq{} },
	TagUtimes:          func() Request { return &UtimesReq{} },
	TagFutimes:         func() Request { return &FutimesReq{} },
	TagUtimensat:       func() Request { return &UtimensatReq{} },
	TagFutimens:        func() Request { return &FutimensReq{} },
	TagStatfs:          func() Request { return &StatfsReq{} },
	TagFstatfs:         func() Request { return &FstatfsReq{} },
	TagDirfdOpenDir:    func() Request { return &DirfdOpenDirReq{} },
	TagCloseFd:         func() Request { return &CloseFdReq{} },
	TagDupFd:           func() Request { return &DupFdReq{} },
	TagSetCwd:          func() Request { return &SetCwdReq{} },
	TagResolvePath:     func() Request { return &ResolvePathReq{} },
	TagStateProcesses:  func() Request { return &StateProcessesReq{} },
	TagStateStats:      func() Request { return &StateStatsReq{} },
	TagStateFilesystem: func() Request { return &StateFilesystemReq{} },
}

// EncodeRequest frames req as version, tag, payload.
func EncodeRequest(req Request) []byte {
	buf := make([]byte, 0, 64)
	buf = appendUvarint(buf, ProtocolVersion)
	buf = append(buf, byte(req.Tag()))
	return req.appendPayload(buf)
}

// DecodeRequest parses one request frame. A tag outside the operation
// set yields *UnknownTagError; the caller decides how to answer.
func DecodeRequest(frame []byte) (Request, error) {
	r := &reader{data: frame}
	version, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if version > ProtocolVersion {
		return nil, fmt.Errorf("wire: unsupported protocol version %d", version)
	}
	tag, err := r.byte_()
	if err != nil {
		return nil, err
	}
	factory, ok := requestFactories[Tag(tag)]
	if !ok {
		return nil, &UnknownTagError{Tag: Tag(tag)}
	}
	req := factory()
	if err := req.parsePayload(r); err != nil {
		return nil, fmt.Errorf("wire: decoding %s: %w", Tag(tag), err)
	}
	return req, nil
}

// FdOpenReq opens a file in the virtual namespace. The response carries
// a HandleID and, on supporting transports, the opened descriptor as
// ancillary data.
type FdOpenReq struct {
	Path  string
	Flags uint32
	Mode  uint32
}

func (*FdOpenReq) Tag() Tag { return TagFdOpen }

func (q *FdOpenReq) appendPayload(buf []byte) []byte {
	buf = appendString(buf, q.Path)
	buf = appendUvarint(buf, uint64(q.Flags))
	return appendUvarint(buf, uint64(q.Mode))
}

func (q *FdOpenReq) parsePayload(r *reader) error {
	var err error
	if q.Path, err = r.string_(); err != nil {
		return err
	}
	u, err := r.uvarint()
	if err != nil {
		return err
	}
	q.Flags = uint32(u)
	if u, err = r.uvarint(); err != nil {
		return err
	}
	q.Mode = uint32(u)
	return nil
}

// DirOpenReq opens a directory stream.
type DirOpenReq struct {
	Path string
}

func (*DirOpenReq) Tag() Tag { return TagDirOpen }
func (q *DirOpenReq) appendPayload(buf []byte) []byte { return appendString(buf, q.Path) }
func (q *DirOpenReq) parsePayload(r *reader) error {
	var err error
	q.Path, err = r.string_()
	return err
}

// DirReadReq advances a directory stream by one entry.
type DirReadReq struct {
	Handle uint64
}

func (*DirReadReq) Tag() Tag { return TagDirRead }
func (q *DirReadReq) appendPayload(buf []byte) []byte { return appendUvarint(buf, q.Handle) }
func (q *DirReadReq) parsePayload(r *reader) error {
	var err error
	q.Handle, err = r.uvarint()
	return err
}

// DirCloseReq closes a directory stream.
type DirCloseReq struct {
	Handle uint64
}

func (*DirCloseReq) Tag() Tag { return TagDirClose }
func (q *DirCloseReq) appendPayload(buf []byte) []byte { return appendUvarint(buf, q.Handle) }
func (q *DirCloseReq) parsePayload(r *reader) error {
	var err error
	q.Handle, err = r.uvarint()
	return err
}

// ReadlinkReq reads a symlink target.
type ReadlinkReq struct {
	Path string
}

func (*ReadlinkReq) Tag() Tag { return TagReadlink }
func (q *ReadlinkReq) appendPayload(buf []byte) []byte { return appendString(buf, q.Path) }
func (q *ReadlinkReq) parsePayload(r *reader) error {
	var err error
	q.Path, err = r.string_()
	return err
}

// LinkatReq creates a hard link. Both paths arrive pre-resolved to
// absolute namespace paths.
type LinkatReq struct {
	OldPath string
	NewPath string
}

func (*LinkatReq) Tag() Tag { return TagLinkat }
func (q *LinkatReq) appendPayload(buf []byte) []byte {
	buf = appendString(buf, q.OldPath)
	return appendString(buf, q.NewPath)
}
func (q *LinkatReq) parsePayload(r *reader) error {
	var err error
	if q.OldPath, err = r.string_(); err != nil {
		return err
	}
	q.NewPath, err = r.string_()
	return err
}

// SymlinkatReq creates a symlink at a pre-resolved namespace path.
type SymlinkatReq struct {
	Target  string
	NewPath string
}

func (*SymlinkatReq) Tag() Tag { return TagSymlinkat }
func (q *SymlinkatReq) appendPayload(buf []byte) []byte {
	buf = appendString(buf, q.Target)
	return appendString(buf, q.NewPath)
}
func (q *SymlinkatReq) parsePayload(r *reader) error {
	var err error
	if q.Target, err = r.string_(); err != nil {
		return err
	}
	q.NewPath, err = r.string_()
	return err
}

// FdDupReq duplicates an open handle.
type FdDupReq struct {
	Handle uint64
}

func (*FdDupReq) Tag() Tag { return TagFdDup }
func (q *FdDupReq) appendPayload(buf []byte) []byte { return appendUvarint(buf, q.Handle) }
func (q *FdDupReq) parsePayload(r *reader) error {
	var err error
	q.Handle, err = r.uvarint()
	return err
}

// Verbs accepted by PathOpReq.
const (
	PathOpUnlink = "unlink"
	PathOpMkdir  = "mkdir"
	PathOpRmdir  = "rmdir"
	PathOpRename = "rename"
)

// PathOpReq is the generic single-result path operation.
type PathOpReq struct {
	Verb  string
	Path  string
	Path2 string
	Mode  uint32
}

func (*PathOpReq) Tag() Tag { return TagPathOp }
func (q *PathOpReq) appendPayload(buf []byte) []byte {
	buf = appendString(buf, q.Verb)
	buf = appendString(buf, q.Path)
	buf = appendString(buf, q.Path2)
	return appendUvarint(buf, uint64(q.Mode))
}
func (q *PathOpReq) parsePayload(r *reader) error {
	var err error
	if q.Verb, err = r.string_(); err != nil {
		return err
	}
	if q.Path, err = r.string_(); err != nil {
		return err
	}
	if q.Path2, err = r.string_(); err != nil {
		return err
	}
	u, err := r.uvarint()
	if err != nil {
		return err
	}
	q.Mode = uint32(u)
	return nil
}

type pathReq struct {
	Path string
}

func (q *pathReq) appendPayload(buf []byte) []byte { return appendString(buf, q.Path) }
func (q *pathReq) parsePayload(r *reader) error {
	var err error
	q.Path, err = r.string_()
	return err
}

type handleReq struct {
	Handle uint64
}

func (q *handleReq) appendPayload(buf []byte) []byte { return appendUvarint(buf, q.Handle) }
func (q *handleReq) parsePayload(r *reader) error {
	var err error
	q.Handle, err = r.uvarint()
	return err
}

// StatReq, LstatReq, FstatReq, and FstatatReq are the metadata reads.
type (
	StatReq  struct{ pathReq }
	LstatReq struct{ pathReq }
	FstatReq struct{ handleReq }
)

func (*StatReq) Tag() Tag { return TagStat }
func (*LstatReq) Tag() Tag { return TagLstat }
func (*FstatReq) Tag() Tag { return TagFstat }

// FstatatReq stats a pre-resolved path with explicit symlink policy.
type FstatatReq struct {
	Path     string
	NoFollow bool
}

func (*FstatatReq) Tag() Tag { return TagFstatat }
func (q *FstatatReq) appendPayload(buf []byte) []byte {
	buf = appendString(buf, q.Path)
	return appendBool(buf, q.NoFollow)
}
func (q *FstatatReq) parsePayload(r *reader) error {
	var err error
	if q.Path, err = r.string_(); err != nil {
		return err
	}
	q.NoFollow, err = r.bool_()
	return err
}

// ChmodReq and friends are the mode writes.
type ChmodReq struct {
	Path string
	Mode uint32
}

func (*ChmodReq) Tag() Tag { return TagChmod }
func (q *ChmodReq) appendPayload(buf []byte) []byte {
	buf = appendString(buf, q.Path)
	return appendUvarint(buf, uint64(q.Mode))
}
func (q *ChmodReq) parsePayload(r *reader) error {
	var err error
	if q.Path, err = r.string_(); err != nil {
		return err
	}
	u, err := r.uvarint()
	if err != nil {
		return err
	}
	q.Mode = uint32(u)
	return nil
}

type FchmodReq struct {
	Handle uint64
	Mode   uint32
}

func (*FchmodReq) Tag() Tag { return TagFchmod }
func (q *FchmodReq) appendPayload(buf []byte) []byte {
	buf = appendUvarint(buf, q.Handle)
	return appendUvarint(buf, uint64(q.Mode))
}
func (q *FchmodReq) parsePayload(r *reader) error {
	var err error
	if q.Handle, err = r.uvarint(); err != nil {
		return err
	}
	u, err := r.uvarint()
	if err != nil {
		return err
	}
	q.Mode = uint32(u)
	return nil
}

type FchmodatReq struct {
	Path     string
	Mode     uint32
	NoFollow bool
}

func (*FchmodatReq) Tag() Tag { return TagFchmodat }
func (q *FchmodatReq) appendPayload(buf []byte) []byte {
	buf = appendString(buf, q.Path)
	buf = appendUvarint(buf, uint64(q.Mode))
	return appendBool(buf, q.NoFollow)
}
func (q *FchmodatReq) parsePayload(r *reader) error {
	var err error
	if q.Path, err = r.string_(); err != nil {
		return err
	}
	u, err := r.uvarint()
	if err != nil {
		return err
	}
	q.Mode = uint32(u)
	q.NoFollow, err = r.bool_()
	return err
}

// ownerReq carries an ownership change against a path.
type ownerReq struct {
	Path string
	UID  uint32
	GID  uint32
}

func (q *ownerReq) appendPayload(buf []byte) []byte {
	buf = appendString(buf, q.Path)
	buf = appendUvarint(buf, uint64(q.UID))
	return appendUvarint(buf, uint64(q.GID))
}
func (q *ownerReq) parsePayload(r *reader) error {
	var err error
	if q.Path, err = r.string_(); err != nil {
		return err
	}
	u, err := r.uvarint()
	if err != nil {
		return err
	}
	q.UID = uint32(u)
	if u, err = r.uvarint(); err != nil {
		return err
	}
	q.GID = uint32(u)
	return nil
}

type (
	ChownReq  struct{ ownerReq }
	LchownReq struct{ ownerReq }
)

func (*ChownReq) Tag() Tag { return TagChown }
func (*LchownReq) Tag() Tag { return TagLchown }

type FchownReq struct {
	Handle uint64
	UID    uint32
	GID    uint32
}

func (*FchownReq) Tag() Tag { return TagFchown }
func (q *FchownReq) appendPayload(buf []byte) []byte {
	buf = appendUvarint(buf, q.Handle)
	buf = appendUvarint(buf, uint64(q.UID))
	return appendUvarint(buf, uint64(q.GID))
}
func (q *FchownReq) parsePayload(r *reader) error {
	var err error
	if q.Handle, err = r.uvarint(); err != nil {
		return err
	}
	u, err := r.uvarint()
	if err != nil {
		return err
	}
	q.UID = uint32(u)
	if u, err = r.uvarint(); err != nil {
		return err
	}
	q.GID = uint32(u)
	return nil
}

type FchownatReq struct {
	Path     string
	UID      uint32
	GID      uint32
	NoFollow bool
}

func (*FchownatReq) Tag() Tag { return TagFchownat }
func (q *FchownatReq) appendPayload(buf []byte) []byte {
	buf = appendString(buf, q.Path)
	buf = appendUvarint(buf, uint64(q.UID))
	buf = appendUvarint(buf, uint64(q.GID))
	return appendBool(buf, q.NoFollow)
}
func (q *FchownatReq) parsePayload(r *reader) error {
	var err error
	if q.Path, err = r.string_(); err != nil {
		return err
	}
	u, err := r.uvarint()
	if err != nil {
		return err
	}
	q.UID = uint32(u)
	if u, err = r.uvarint(); err != nil {
		return err
	}
	q.GID = uint32(u)
	q.NoFollow, err = r.bool_()
	return err
}

// TruncateReq and FtruncateReq set file sizes.
type TruncateReq struct {
	Path string
	Size int64
}

func (*TruncateReq) Tag() Tag { return TagTruncate }
func (q *TruncateReq) appendPayload(buf []byte) []byte {
	buf = appendString(buf, q.Path)
	return appendVarint(buf, q.Size)
}
func (q *TruncateReq) parsePayload(r *reader) error {
	var err error
	if q.Path, err = r.string_(); err != nil {
		return err
	}
	q.Size, err = r.varint()
	return err
}

type FtruncateReq struct {
	Handle uint64
	Size   int64
}

func (*FtruncateReq) Tag() Tag { return TagFtruncate }
func (q *FtruncateReq) appendPayload(buf []byte) []byte {
	buf = appendUvarint(buf, q.Handle)
	return appendVarint(buf, q.Size)
}
func (q *FtruncateReq) parsePayload(r *reader) error {
	var err error
	if q.Handle, err = r.uvarint(); err != nil {
		return err
	}
	q.Size, err = r.varint()
	return err
}

func appendTimes(buf []byte, a, m TimeSpec) []byte {
	buf = appendVarint(buf, a.Sec)
	buf = appendVarint(buf, a.Nsec)
	buf = appendVarint(buf, m.Sec)
	return appendVarint(buf, m.Nsec)
}

func parseTimes(r *reader, a, m *TimeSpec) error {
	var err error
	if a.Sec, err = r.varint(); err != nil {
		return err
	}
	if a.Nsec, err = r.varint(); err != nil {
		return err
	}
	if m.Sec, err = r.varint(); err != nil {
		return err
	}
	m.Nsec, err = r.varint()
	return err
}

// UtimesReq and friends are the timestamp writes.
type UtimesReq struct {
	Path  string
	Atime TimeSpec
	Mtime TimeSpec
}

func (*UtimesReq) Tag() Tag { return TagUtimes }
func (q *UtimesReq) appendPayload(buf []byte) []byte {
	buf = appendString(buf, q.Path)
	return appendTimes(buf, q.Atime, q.Mtime)
}
func (q *UtimesReq) parsePayload(r *reader) error {
	var err error
	if q.Path, err = r.string_(); err != nil {
		return err
	}
	return parseTimes(r, &q.Atime, &q.Mtime)
}

type FutimesReq struct {
	Handle uint64
	Atime  TimeSpec
	Mtime  TimeSpec
}

func (*FutimesReq) Tag() Tag { return TagFutimes }
func (q *FutimesReq) appendPayload(buf []byte) []byte {
	buf = appendUvarint(buf, q.Handle)
	return appendTimes(buf, q.Atime, q.Mtime)
}
func (q *FutimesReq) parsePayload(r *reader) error {
	var err error
	if q.Handle, err = r.uvarint(); err != nil {
		return err
	}
	return parseTimes(r, &q.Atime, &q.Mtime)
}

type UtimensatReq struct {
	Path     string
	Atime    TimeSpec
	Mtime    TimeSpec
	NoFollow bool
}

func (*UtimensatReq) Tag() Tag { return TagUtimensat }
func (q *UtimensatReq) appendPayload(buf []byte) []byte {
	buf = appendString(buf, q.Path)
	buf = appendTimes(buf, q.Atime, q.Mtime)
	return appendBool(buf, q.NoFollow)
}
func (q *UtimensatReq) parsePayload(r *reader) error {
	var err error
	if q.Path, err = r.string_(); err != nil {
		return err
	}
	if err = parseTimes(r, &q.Atime, &q.Mtime); err != nil {
		return err
	}
	q.NoFollow, err = r.bool_()
	return err
}

type FutimensReq struct {
	Handle uint64
	Atime  TimeSpec
	Mtime  TimeSpec
}

func (*FutimensReq) Tag() Tag { return TagFutimens }
func (q *FutimensReq) appendPayload(buf []byte) []byte {
	buf = appendUvarint(buf, q.Handle)
	return appendTimes(buf, q.Atime, q.Mtime)
}
func (q *FutimensReq) parsePayload(r *reader) error {
	var err error
	if q.Handle, err = r.uvarint(); err != nil {
		return err
	}
	return parseTimes(r, &q.Atime, &q.Mtime)
}

// StatfsReq and FstatfsReq are the filesystem-stats reads.
type (
	StatfsReq  struct{ pathReq }
	FstatfsReq struct{ handleReq }
)

func (*StatfsReq) Tag() Tag { return TagStatfs }
func (*FstatfsReq) Tag() Tag { return TagFstatfs }

// DirfdOpenDirReq records a directory descriptor in the daemon-side
// dirfd table.
type DirfdOpenDirReq struct {
	Fd   int64
	Path string
}

func (*DirfdOpenDirReq) Tag() Tag { return TagDirfdOpenDir }
func (q *DirfdOpenDirReq) appendPayload(buf []byte) []byte {
	buf = appendVarint(buf, q.Fd)
	return appendString(buf, q.Path)
}
func (q *DirfdOpenDirReq) parsePayload(r *reader) error {
	var err error
	if q.Fd, err = r.varint(); err != nil {
		return err
	}
	q.Path, err = r.string_()
	return err
}

// CloseFdReq drops a descriptor from the dirfd table.
type CloseFdReq struct {
	Fd int64
}

func (*CloseFdReq) Tag() Tag { return TagCloseFd }
func (q *CloseFdReq) appendPayload(buf []byte) []byte { return appendVarint(buf, q.Fd) }
func (q *CloseFdReq) parsePayload(r *reader) error {
	var err error
	q.Fd, err = r.varint()
	return err
}

// DupFdReq copies a dirfd-table entry onto a new descriptor number.
type DupFdReq struct {
	OldFd int64
	NewFd int64
}

func (*DupFdReq) Tag() Tag { return TagDupFd }
func (q *DupFdReq) appendPayload(buf []byte) []byte {
	buf = appendVarint(buf, q.OldFd)
	return appendVarint(buf, q.NewFd)
}
func (q *DupFdReq) parsePayload(r *reader) error {
	var err error
	if q.OldFd, err = r.varint(); err != nil {
		return err
	}
	q.NewFd, err = r.varint()
	return err
}

// SetCwdReq updates the tracked working directory of the process.
type SetCwdReq struct{ pathReq }

func (*SetCwdReq) Tag() Tag { return TagSetCwd }

// ResolvePathReq resolves (dirfd, relative path) against the tracked
// dirfd table and working directory.
type ResolvePathReq struct {
	Dirfd int64
	Path  string
}

func (*ResolvePathReq) Tag() Tag { return TagResolvePath }
func (q *ResolvePathReq) appendPayload(buf []byte) []byte {
	buf = appendVarint(buf, q.Dirfd)
	return appendString(buf, q.Path)
}
func (q *ResolvePathReq) parsePayload(r *reader) error {
	var err error
	if q.Dirfd, err = r.varint(); err != nil {
		return err
	}
	q.Path, err = r.string_()
	return err
}

type emptyReq struct{}

func (emptyReq) appendPayload(buf []byte) []byte { return buf }
func (emptyReq) parsePayload(r *reader) error { return nil }

// Introspection requests, for test observability without a real round
// trip through a monitored process.
type (
	StateProcessesReq  struct{ emptyReq }
	StateStatsReq      struct{ emptyReq }
	StateFilesystemReq struct{ emptyReq }
)

func (*StateProcessesReq) Tag() Tag { return TagStateProcesses }
func (*StateStatsReq) Tag() Tag { return TagStateStats }
func (*StateFilesystemReq) Tag() Tag { return TagStateFilesystem }
