package wire

// TimeSpec is a timestamp with nanosecond precision.
type TimeSpec struct {
	Sec  int64
	Nsec int64
}

// Stat is the full POSIX-stat-equivalent carried by metadata responses.
type Stat struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	Nlink   uint32
	UID     uint32
	GID     uint32
	Size    int64
	Blksize int64
	Blocks  int64
	Atime   TimeSpec
	Mtime   TimeSpec
	Ctime   TimeSpec
}

func appendStat(buf []byte, s *Stat) []byte {
	buf = appendUvarint(buf, s.Dev)
	buf = appendUvarint(buf, s.Ino)
	buf = appendUvarint(buf, uint64(s.Mode))
	buf = appendUvarint(buf, uint64(s.Nlink))
	buf = appendUvarint(buf, uint64(s.UID))
	buf = appendUvarint(buf, uint64(s.GID))
	buf = appendVarint(buf, s.Size)
	buf = appendVarint(buf, s.Blksize)
	buf = appendVarint(buf, s.Blocks)
	for _, ts := range []TimeSpec{s.Atime, s.Mtime, s.Ctime} {
		buf = appendVarint(buf, ts.Sec)
		buf = appendVarint(buf, ts.Nsec)
	}
	return buf
}

func parseStat(r *reader, s *Stat) error {
	var err error
	if s.Dev, err = r.uvarint(); err != nil {
		return err
	}
	if s.Ino, err = r.uvarint(); err != nil {
		return err
	}
	u, err := r.uvarint()
	if err != nil {
		return err
	}
	s.Mode = uint32(u)
	if u, err = r.uvarint(); err != nil {
		return err
	}
	s.Nlink = uint32(u)
	if u, err = r.uvarint(); err != nil {
		return err
	}
	s.UID = uint32(u)
	if u, err = r.uvarint(); err != nil {
		return err
	}
	s.GID = uint32(u)
	if s.Size, err = r.varint(); err != nil {
		return err
	}
	if s.Blksize, err = r.varint(); err != nil {
		return err
	}
	if s.Blocks, err = r.varint(); err != nil {
		return err
	}
	for _, ts := range []*TimeSpec{&s.Atime, &s.Mtime, &s.Ctime} {
		if ts.Sec, err = r.varint(); err != nil {
			return err
		}
		if ts.Nsec, err = r.varint(); err != nil {
			return err
		}
	}
	return nil
}

// Statfs mirrors the fields of a filesystem-stats call that the daemon is
// able to answer for the virtual namespace.
type Statfs struct {
	Type    uint64
	Bsize   int64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	NameLen int64
}

func appendStatfs(buf []byte, s *Statfs) []byte {
	buf = appendUvarint(buf, s.Type)
	buf = appendVarint(buf, s.Bsize)
	buf = appendUvarint(buf, s.Blocks)
	buf = appendUvarint(buf, s.Bfree)
	buf = appendUvarint(buf, s.Bavail)
	buf = appendUvarint(buf, s.Files)
	buf = appendUvarint(buf, s.Ffree)
	buf = appendVarint(buf, s.NameLen)
	return buf
}

func parseStatfs(r *reader, s *Statfs) error {
	var err error
	if s.Type, err = r.uvarint(); err != nil {
		return err
	}
	if s.Bsize, err = r.varint(); err != nil {
		return err
	}
	if s.Blocks, err = r.uvarint(); err != nil {
		return err
	}
	if s.Bfree, err = r.uvarint(); err != nil {
		return err
	}
	if s.Bavail, err = r.uvarint(); err != nil {
		return err
	}
	if s.Files, err = r.uvarint(); err != nil {
		return err
	}
	if s.Ffree, err = r.uvarint(); err != nil {
		return err
	}
	s.NameLen, err = r.varint()
	return err
}

// AtFdCwd is the sentinel dirfd meaning "resolve against the tracked
// working directory", mirroring AT_FDCWD.
const AtFdCwd int64 = -100

// Node kinds reported by directory reads and the filesystem-state walk.
const (
	KindFile    byte = 'f'
	KindDir     byte = 'd'
	KindSymlink byte = 'l'
)

// DirEntry is one entry of a directory stream.
type DirEntry struct {
	Name string
	Kind byte
	Ino  uint64
}

// ProcessInfo describes one registered process for introspection.
type ProcessInfo struct {
	PID    int64
	Branch uint64
	Cwd    string
	Dirfds uint64
}

// StatsInfo is the daemon-wide counter snapshot for introspection.
type StatsInfo struct {
	Connections    uint64
	Processes      uint64
	Requests       uint64
	Errors         uint64
	OpenHandles    uint64
	HandlesIssued  uint64
	BytesReceived  uint64
	BytesResponded uint64
}

// FsEntry is one node of the filesystem-state walk, emitted in sorted
// path order for deterministic comparison.
type FsEntry struct {
	Path   string
	Kind   byte
	Size   int64
	Target string
}
