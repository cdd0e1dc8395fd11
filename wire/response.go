package wire

import (
	"errors"
	"fmt"
)

// Error categories carried by the generic error envelope.
const (
	CategoryPath     uint32 = 2 // bad path or argument
	CategoryProtocol uint32 = 3 // unsupported operation or malformed message
	CategoryInternal uint32 = 4 // daemon-side failure
)

// Response is one variant of the response union. Each operation's
// response mirrors its natural result; ErrorResp is the generic
// envelope.
type Response interface {
	Tag() Tag
	appendPayload(buf []byte) []byte
	parsePayload(r *reader) error
}

// ErrorResp is the typed error envelope: free text plus a numeric
// category. It answers malformed or unsupported requests too, so a bad
// request never costs the connection.
type ErrorResp struct {
	Category uint32
	Message  string
}

func (*ErrorResp) Tag() Tag { return TagError }

func (e *ErrorResp) appendPayload(buf []byte) []byte {
	buf = appendUvarint(buf, uint64(e.Category))
	return appendString(buf, e.Message)
}

func (e *ErrorResp) parsePayload(r *reader) error {
	u, err := r.uvarint()
	if err != nil {
		return err
	}
	e.Category = uint32(u)
	e.Message, err = r.string_()
	return err
}

func (e *ErrorResp) Error() string {
	return fmt.Sprintf("daemon error (category %d): %s", e.Category, e.Message)
}

var responseFactories = map[Tag]func() Response{
	TagError:           func() Response { return &ErrorResp{} },
	TagFdOpen:          func() Response { return &FdOpenResp{tag: TagFdOpen} },
	TagDirOpen:         func() Response { return &HandleResp{tag: TagDirOpen} },
	TagDirRead:         func() Response { return &DirReadResp{} },
	TagDirClose:        func() Response { return &OKResp{tag: TagDirClose} },
	TagReadlink:        func() Response { return &ReadlinkResp{} },
	TagLinkat:          func() Response { return &OKResp{tag: TagLinkat} },
	TagSymlinkat:       func() Response { return &OKResp{tag: TagSymlinkat} },
	TagFdDup:           func() Response { return &FdOpenResp{tag: TagFdDup} },
	TagPathOp:          func() Response { return &OKResp{tag: TagPathOp} },
	TagStat:            func() Response { return &StatResp{tag: TagStat} },
	TagLstat:           func() Response { return &StatResp{tag: TagLstat} },
	TagFstat:           func() Response { return &StatResp{tag: TagFstat} },
	TagFstatat:         func() Response { return &StatResp{tag: TagFstatat} },
	TagChmod:           func() Response { return &OKResp{tag: TagChmod} },
	TagFchmod:          func() Response { return &OKResp{tag: TagFchmod} },
	TagFchmodat:        func() Response { return &OKResp{tag: TagFchmodat} },
	TagChown:           func() Response { return &OKResp{tag: TagChown} },
	TagLchown:          func() Response { return &OKResp{tag: TagLchown} },
	TagFchown:          func() Response { return &OKResp{tag: TagFchown} },
	TagFchownat:        func() Response { return &OKResp{tag: TagFchownat} },
	TagTruncate:        func() Response { return &OKResp{tag: TagTruncate} },
	TagFtruncate:       func() Response { return &OKResp{tag: TagFtruncate} },
	TagUtimes:          func() Response { return &OKResp{tag: TagUtimes} },
	TagFutimes:         func() Response { return &OKResp{tag: TagFutimes} },
	TagUtimensat:       func() Response { return &OKResp{tag: TagUtimensat} },
	TagFutimens:        func() Response { return &OKResp{tag: TagFutimens} },
	TagStatfs:          func() Response { return &StatfsResp{tag: TagStatfs} },
	TagFstatfs:         func() Response { return &StatfsResp{tag: TagFstatfs} },
	TagDirfdOpenDir:    func() Response { return &OKResp{tag: TagDirfdOpenDir} },
	TagCloseFd:         func() Response { return &OKResp{tag: TagCloseFd} },
	TagDupFd:           func() Response { return &OKResp{tag: TagDupFd} },
	TagSetCwd:          func() Response { return &OKResp{tag: TagSetCwd} },
	TagResolvePath:     func() Response { return &ResolvePathResp{} },
	TagStateProcesses:  func() Response { return &StateProcessesResp{} },
	TagStateStats:      func() Response { return &StateStatsResp{} },
	TagStateFilesystem: func() Response { return &StateFilesystemResp{} },
}

// EncodeResponse frames resp as version, tag, payload.
func EncodeResponse(resp Response) []byte {
	buf := make([]byte, 0, 64)
	buf = appendUvarint(buf, ProtocolVersion)
	buf = append(buf, byte(resp.Tag()))
	return resp.appendPayload(buf)
}

// DecodeResponse parses one response frame.
func DecodeResponse(frame []byte) (Response, error) {
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
	factory, ok := responseFactories[Tag(tag)]
	if !ok {
		return nil, &UnknownTagError{Tag: Tag(tag)}
	}
	resp := factory()
	if err := resp.parsePayload(r); err != nil {
		return nil, fmt.Errorf("wire: decoding %s response: %w", Tag(tag), err)
	}
	return resp, nil
}

// Expect decodes a response frame and asserts it matches want. A decoded
// ErrorResp is returned as the error.
func Expect[T Response](frame []byte, want Tag) (T, error) {
	var zero T
	resp, err := DecodeResponse(frame)
	if err != nil {
		return zero, err
	}
	if e, ok := resp.(*ErrorResp); ok {
		return zero, e
	}
	typed, ok := resp.(T)
	if !ok || resp.Tag() != want {
		return zero, fmt.Errorf("wire: expected %s response, got %s", want, resp.Tag())
	}
	return typed, nil
}

// IsDaemonError reports whether err is a daemon-reported error envelope.
func IsDaemonError(err error) bool {
	var e *ErrorResp
	return errors.As(err, &e)
}

// NewOKResp, NewHandleResp, NewFdOpenResp, NewStatResp, and
// NewStatfsResp build responses for tags that share a payload shape.
func NewOKResp(tag Tag) *OKResp { return &OKResp{tag: tag} }
func NewHandleResp(tag Tag, handle uint64) *HandleResp {
	return &HandleResp{tag: tag, Handle: handle}
}
func NewFdOpenResp(tag Tag, handle uint64, fdFollows bool) *FdOpenResp {
	return &FdOpenResp{tag: tag, Handle: handle, FdFollows: fdFollows}
}
func NewStatResp(tag Tag, st Stat) *StatResp { return &StatResp{tag: tag, Stat: st} }
func NewStatfsResp(tag Tag, st Statfs) *StatfsResp { return &StatfsResp{tag: tag, Statfs: st} }

// OKResp is the empty success payload shared by mutating operations.
type OKResp struct {
	tag Tag
}

func (o *OKResp) Tag() Tag { return o.tag }
func (o *OKResp) appendPayload(buf []byte) []byte { return buf }
func (o *OKResp) parsePayload(r *reader) error { return nil }

// HandleResp carries a freshly issued HandleID.
type HandleResp struct {
	tag    Tag
	Handle uint64
}

func (h *HandleResp) Tag() Tag { return h.tag }
func (h *HandleResp) appendPayload(buf []byte) []byte {
	return appendUvarint(buf, h.Handle)
}
func (h *HandleResp) parsePayload(r *reader) error {
	var err error
	h.Handle, err = r.uvarint()
	return err
}

// FdOpenResp answers fd_open and fd_dup. FdFollows reports whether the
// opened descriptor rides the same connection as ancillary data.
type FdOpenResp struct {
	tag       Tag
	Handle    uint64
	FdFollows bool
}

func (f *FdOpenResp) Tag() Tag {
	if f.tag == 0 {
		return TagFdOpen
	}
	return f.tag
}
func (f *FdOpenResp) appendPayload(buf []byte) []byte {
	buf = appendUvarint(buf, f.Handle)
	return appendBool(buf, f.FdFollows)
}
func (f *FdOpenResp) parsePayload(r *reader) error {
	var err error
	if f.Handle, err = r.uvarint(); err != nil {
		return err
	}
	f.FdFollows, err = r.bool_()
	return err
}

// DirReadResp is one step of a directory stream. End marks exhaustion;
// when set the entry fields are meaningless.
type DirReadResp struct {
	End   bool
	Entry DirEntry
}

func (*DirReadResp) Tag() Tag { return TagDirRead }
func (d *DirReadResp) appendPayload(buf []byte) []byte {
	buf = appendBool(buf, d.End)
	buf = appendString(buf, d.Entry.Name)
	buf = append(buf, d.Entry.Kind)
	return appendUvarint(buf, d.Entry.Ino)
}
func (d *DirReadResp) parsePayload(r *reader) error {
	var err error
	if d.End, err = r.bool_(); err != nil {
		return err
	}
	if d.Entry.Name, err = r.string_(); err != nil {
		return err
	}
	if d.Entry.Kind, err = r.byte_(); err != nil {
		return err
	}
	d.Entry.Ino, err = r.uvarint()
	return err
}

// ReadlinkResp carries a symlink target.
type ReadlinkResp struct {
	Target string
}

func (*ReadlinkResp) Tag() Tag { return TagReadlink }
func (x *ReadlinkResp) appendPayload(buf []byte) []byte {
	return appendString(buf, x.Target)
}
func (x *ReadlinkResp) parsePayload(r *reader) error {
	var err error
	x.Target, err = r.string_()
	return err
}

// StatResp carries the POSIX-stat-equivalent.
type StatResp struct {
	tag  Tag
	Stat Stat
}

func (s *StatResp) Tag() Tag {
	if s.tag == 0 {
		return TagStat
	}
	return s.tag
}
func (s *StatResp) appendPayload(buf []byte) []byte { return appendStat(buf, &s.Stat) }
func (s *StatResp) parsePayload(r *reader) error { return parseStat(r, &s.Stat) }

// StatfsResp carries filesystem statistics.
type StatfsResp struct {
	tag    Tag
	Statfs Statfs
}

func (s *StatfsResp) Tag() Tag {
	if s.tag == 0 {
		return TagStatfs
	}
	return s.tag
}
func (s *StatfsResp) appendPayload(buf []byte) []byte { return appendStatfs(buf, &s.Statfs) }
func (s *StatfsResp) parsePayload(r *reader) error { return parseStatfs(r, &s.Statfs) }

// ResolvePathResp carries an absolute namespace path.
type ResolvePathResp struct {
	Path string
}

func (*ResolvePathResp) Tag() Tag { return TagResolvePath }
func (x *ResolvePathResp) appendPayload(buf []byte) []byte {
	return appendString(buf, x.Path)
}
func (x *ResolvePathResp) parsePayload(r *reader) error {
	var err error
	x.Path, err = r.string_()
	return err
}

// StateProcessesResp lists every registered process.
type StateProcessesResp struct {
	Processes []ProcessInfo
}

func (*StateProcessesResp) Tag() Tag { return TagStateProcesses }
func (x *StateProcessesResp) appendPayload(buf []byte) []byte {
	buf = appendUvarint(buf, uint64(len(x.Processes)))
	for _, p := range x.Processes {
		buf = appendVarint(buf, p.PID)
		buf = appendUvarint(buf, p.Branch)
		buf = appendString(buf, p.Cwd)
		buf = appendUvarint(buf, p.Dirfds)
	}
	return buf
}
func (x *StateProcessesResp) parsePayload(r *reader) error {
	count, err := r.uvarint()
	if err != nil {
		return err
	}
	x.Processes = make([]ProcessInfo, 0, count)
	for range count {
		var p ProcessInfo
		if p.PID, err = r.varint(); err != nil {
			return err
		}
		if p.Branch, err = r.uvarint(); err != nil {
			return err
		}
		if p.Cwd, err = r.string_(); err != nil {
			return err
		}
		if p.Dirfds, err = r.uvarint(); err != nil {
			return err
		}
		x.Processes = append(x.Processes, p)
	}
	return nil
}

// StateStatsResp carries the daemon counters.
type StateStatsResp struct {
	Stats StatsInfo
}

func (*StateStatsResp) Tag() Tag { return TagStateStats }
func (x *StateStatsResp) appendPayload(buf []byte) []byte {
	s := &x.Stats
	for _, v := range []uint64{
		s.Connections, s.Processes, s.Requests, s.Errors,
		s.OpenHandles, s.HandlesIssued, s.BytesReceived, s.BytesResponded,
	} {
		buf = appendUvarint(buf, v)
	}
	return buf
}
func (x *StateStatsResp) parsePayload(r *reader) error {
	s := &x.Stats
	for _, v := range []*uint64{
		&s.Connections, &s.Processes, &s.Requests, &s.Errors,
		&s.OpenHandles, &s.HandlesIssued, &s.BytesReceived, &s.BytesResponded,
	} {
		u, err := r.uvarint()
		if err != nil {
			return err
		}
		*v = u
	}
	return nil
}

// StateFilesystemResp is the recursive namespace walk, one entry per
// node, sorted by path.
type StateFilesystemResp struct {
	Entries []FsEntry
}

func (*StateFilesystemResp) Tag() Tag { return TagStateFilesystem }
func (x *StateFilesystemResp) appendPayload(buf []byte) []byte {
	buf = appendUvarint(buf, uint64(len(x.Entries)))
	for _, e := range x.Entries {
		buf = appendString(buf, e.Path)
		buf = append(buf, e.Kind)
		buf = appendVarint(buf, e.Size)
		buf = appendString(buf, e.Target)
	}
	return buf
}
func (x *StateFilesystemResp) parsePayload(r *reader) error {
	count, err := r.uvarint()
	if err != nil {
		return err
	}
	x.Entries = make([]FsEntry, 0, count)
	for range count {
		var e FsEntry
		if e.Path, err = r.string_(); err != nil {
			return err
		}
		if e.Kind, err = r.byte_(); err != nil {
			return err
		}
		if e.Size, err = r.varint(); err != nil {
			return err
		}
		if e.Target, err = r.string_(); err != nil {
			return err
		}
		x.Entries = append(x.Entries, e)
	}
	return nil
}
