package ext2fs

import "encoding/binary"

const ext2Magic = 0xEF53

// Direct, indirect, double-indirect and the (unused) triple-indirect
// slots within an inode's i_block array.
const (
	ndirBlocks = 12
	indBlock   = 12
	dindBlock  = 13
	tindBlock  = 14
	nBlocks    = 15
)

const (
	rootIno = 2
	badIno  = 1
)

// Inode mode type bits, the ext2 on-disk equivalent of Go's os.FileMode
// type bits.
const (
	modeDir uint16 = 0x4000
	modeReg uint16 = 0x8000
)

// superblock holds the fields this package consults, decoded from the
// 1024-byte on-disk structure at byte offset 1024.
type superblock struct {
	inodesCount    uint32
	blocksCount    uint32
	freeBlocks     uint32
	freeInodes     uint32
	firstDataBlock uint32
	logBlockSize   uint32
	blocksPerGroup uint32
	inodesPerGroup uint32
	magic          uint16
	firstIno       uint32
	inodeSize      uint16
}

const superblockSize = 1024
const superblockByteOffset = 1024

func decodeSuperblock(b []byte) superblock {
	le := binary.LittleEndian
	var sb superblock
	sb.inodesCount = le.Uint32(b[0:4])
	sb.blocksCount = le.Uint32(b[4:8])
	sb.freeBlocks = le.Uint32(b[12:16])
	sb.freeInodes = le.Uint32(b[16:20])
	sb.firstDataBlock = le.Uint32(b[20:24])
	sb.logBlockSize = le.Uint32(b[24:28])
	sb.blocksPerGroup = le.Uint32(b[32:36])
	sb.inodesPerGroup = le.Uint32(b[40:44])
	sb.magic = le.Uint16(b[56:58])
	sb.firstIno = le.Uint32(b[84:88])
	sb.inodeSize = le.Uint16(b[88:90])
	return sb
}

func encodeSuperblock(sb superblock) []byte {
	b := make([]byte, superblockSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:4], sb.inodesCount)
	le.PutUint32(b[4:8], sb.blocksCount)
	le.PutUint32(b[12:16], sb.freeBlocks)
	le.PutUint32(b[16:20], sb.freeInodes)
	le.PutUint32(b[20:24], sb.firstDataBlock)
	le.PutUint32(b[24:28], sb.logBlockSize)
	le.PutUint32(b[32:36], sb.blocksPerGroup)
	le.PutUint32(b[40:44], sb.inodesPerGroup)
	le.PutUint16(b[56:58], sb.magic)
	le.PutUint32(b[84:88], sb.firstIno)
	le.PutUint16(b[88:90], sb.inodeSize)
	return b
}

func (sb superblock) blockSize() int { return 1024 << sb.logBlockSize }

// groupDesc is the one block-group descriptor this package supports;
// multi-group images are out of scope, matching the original's
// single-group-table read.
type groupDesc struct {
	blockBitmap uint32
	inodeBitmap uint32
	inodeTable  uint32
	freeBlocks  uint16
	freeInodes  uint16
	usedDirs    uint16
}

const groupDescSize = 32

func decodeGroupDesc(b []byte) groupDesc {
	le := binary.LittleEndian
	return groupDesc{
		blockBitmap: le.Uint32(b[0:4]),
		inodeBitmap: le.Uint32(b[4:8]),
		inodeTable:  le.Uint32(b[8:12]),
		freeBlocks:  le.Uint16(b[12:14]),
		freeInodes:  le.Uint16(b[14:16]),
		usedDirs:    le.Uint16(b[16:18]),
	}
}

func encodeGroupDesc(gd groupDesc) []byte {
	b := make([]byte, groupDescSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:4], gd.blockBitmap)
	le.PutUint32(b[4:8], gd.inodeBitmap)
	le.PutUint32(b[8:12], gd.inodeTable)
	le.PutUint16(b[12:14], gd.freeBlocks)
	le.PutUint16(b[14:16], gd.freeInodes)
	le.PutUint16(b[16:18], gd.usedDirs)
	return b
}

// onDiskInode holds the fields of a 128-byte ext2 inode record this
// package consults or updates.
type onDiskInode struct {
	mode        uint16
	uid         uint16
	size        uint32
	linksCount  uint16
	gid         uint16
	blocks      uint32 // count of 512-byte sectors, not filesystem blocks
	iBlock      [nBlocks]uint32
}

const onDiskInodeSize = 128

func decodeInode(b []byte) onDiskInode {
	le := binary.LittleEndian
	var in onDiskInode
	in.mode = le.Uint16(b[0:2])
	in.uid = le.Uint16(b[2:4])
	in.size = le.Uint32(b[4:8])
	in.gid = le.Uint16(b[24:26])
	in.linksCount = le.Uint16(b[26:28])
	in.blocks = le.Uint32(b[28:32])
	for i := 0; i < nBlocks; i++ {
		in.iBlock[i] = le.Uint32(b[40+4*i : 44+4*i])
	}
	return in
}

func encodeInode(in onDiskInode) []byte {
	b := make([]byte, onDiskInodeSize)
	le := binary.LittleEndian
	le.PutUint16(b[0:2], in.mode)
	le.PutUint16(b[2:4], in.uid)
	le.PutUint32(b[4:8], in.size)
	le.PutUint16(b[24:26], in.gid)
	le.PutUint16(b[26:28], in.linksCount)
	le.PutUint32(b[28:32], in.blocks)
	for i := 0; i < nBlocks; i++ {
		le.PutUint32(b[40+4*i:44+4*i], in.iBlock[i])
	}
	return b
}

func (in onDiskInode) isDir() bool { return in.mode&0xF000 == modeDir }

// Directory-entry type values: 1 for a regular file, 2 for a directory,
// the values original_source/drivers/ext2.cpp's own iterate() uses and
// the ext2 on-disk file_type field defines. memfs uses the same values,
// and syscall.sysGetdents's marshaller just forwards whatever ftype a
// backend hands it, so one convention holds across memfs and ext2fs.
const (
	dtDir = 2
	dtReg = 1
)

// dirEntry is one fixed+variable-length record inside a directory's data
// blocks: {inode(4), rec_len(2), name_len(1), file_type(1), name[]}.
type dirEntry struct {
	ino      uint32
	recLen   uint16
	nameLen  uint8
	fileType uint8
	name     string
}

const dirEntryHeaderLen = 8

func decodeDirEntry(b []byte) dirEntry {
	le := binary.LittleEndian
	var d dirEntry
	d.ino = le.Uint32(b[0:4])
	d.recLen = le.Uint16(b[4:6])
	d.nameLen = b[6]
	d.fileType = b[7]
	end := dirEntryHeaderLen + int(d.nameLen)
	if end <= len(b) {
		d.name = string(b[dirEntryHeaderLen:end])
	}
	return d
}

func encodeDirEntry(d dirEntry, b []byte) {
	le := binary.LittleEndian
	le.PutUint32(b[0:4], d.ino)
	le.PutUint16(b[4:6], d.recLen)
	b[6] = d.nameLen
	b[7] = d.fileType
	copy(b[dirEntryHeaderLen:], d.name)
}

func direntMinLen(nameLen int) uint16 {
	n := dirEntryHeaderLen + nameLen
	return uint16((n + 3) &^ 3)
}
