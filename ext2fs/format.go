package ext2fs

import "defs"

// FormatConfig describes the geometry of a freshly created ext2 image.
// Kept deliberately small: one block group, a 1024-byte block size, a
// fixed inode count -- enough to exercise the read/write/allocate paths
// without reproducing a full mke2fs.
type FormatConfig struct {
	TotalBlocks int
	TotalInodes int
}

// Format writes a minimal single-block-group ext2 image to dev: a
// superblock, one group descriptor, block and inode bitmaps, an inode
// table, and a root directory inode containing "." and "..". A future
// cmd/mkfs can build on top of this the way mke2fs builds a full image
// on top of its own bare layout.
//
// Layout, in 1024-byte blocks: 0 boot block (unused), 1 superblock, 2
// group descriptor table, 3 block bitmap, 4 inode bitmap, 5..5+N-1
// inode table, the rest data. The block bitmap's bit 0 corresponds to
// block 1 (first_data_block), so every metadata block from the
// superblock through the inode table is marked used in it alongside the
// root directory's one data block -- allocBlock/freeBlock index the
// bitmap the same way.
func Format(dev BlockDevice, cfg FormatConfig) (*Fs_t, defs.Err_t) {
	const blockSize = 1024
	const sbFirstDataBlock = 1
	inodesPerBlock := blockSize / onDiskInodeSize

	inodeTableBlocks := (cfg.TotalInodes + inodesPerBlock - 1) / inodesPerBlock
	blockBitmapBlock := uint32(3)
	inodeBitmapBlock := uint32(4)
	inodeTableBlock := uint32(5)
	rootDataBlock := inodeTableBlock + uint32(inodeTableBlocks)
	// Metadata blocks run from sbFirstDataBlock (the superblock) through
	// the last inode table block; the root directory's data block
	// immediately follows.
	metadataBlocks := rootDataBlock - sbFirstDataBlock
	usedBlocks := metadataBlocks + 1
	const firstIno = 11 // inodes 1..11 reserved, matching ext2's convention

	sb := superblock{
		inodesCount:    uint32(cfg.TotalInodes),
		blocksCount:    uint32(cfg.TotalBlocks),
		freeBlocks:     uint32(cfg.TotalBlocks) - sbFirstDataBlock - usedBlocks,
		freeInodes:     uint32(cfg.TotalInodes) - firstIno,
		firstDataBlock: sbFirstDataBlock,
		logBlockSize:   0,
		blocksPerGroup: uint32(cfg.TotalBlocks),
		inodesPerGroup: uint32(cfg.TotalInodes),
		magic:          ext2Magic,
		firstIno:       firstIno,
		inodeSize:      onDiskInodeSize,
	}

	gd := groupDesc{
		blockBitmap: blockBitmapBlock,
		inodeBitmap: inodeBitmapBlock,
		inodeTable:  inodeTableBlock,
		freeBlocks:  uint16(sb.freeBlocks),
		freeInodes:  uint16(sb.freeInodes),
		usedDirs:    1,
	}

	f := &Fs_t{dev: dev, sb: sb, gd: gd}

	if err := f.syncSuperblock(); err != 0 {
		return nil, err
	}
	gdBlk := make([]byte, blockSize)
	copy(gdBlk[0:groupDescSize], encodeGroupDesc(gd))
	if err := writeBlock(dev, blockSize, sbFirstDataBlock+1, gdBlk); err != 0 {
		return nil, err
	}

	// Block bitmap: every metadata block plus the root directory's data
	// block, all relative to sbFirstDataBlock.
	bmp := make([]byte, blockSize)
	for i := uint32(0); i < usedBlocks; i++ {
		bmp[i/8] |= 1 << (i % 8)
	}
	if err := writeBlock(dev, blockSize, blockBitmapBlock, bmp); err != 0 {
		return nil, err
	}

	// Inode bitmap: mark inodes 1 (bad blocks) through firstIno as used
	// (bits 0..firstIno-1), which covers root (inode 2) and ext2's
	// reserved-inode range.
	ibmp := make([]byte, blockSize)
	for i := uint32(0); i < sb.firstIno; i++ {
		ibmp[i/8] |= 1 << (i % 8)
	}
	if err := writeBlock(dev, blockSize, inodeBitmapBlock, ibmp); err != 0 {
		return nil, err
	}

	// Root directory: one data block with "." and "..".
	rootBlk := make([]byte, blockSize)
	dot := dirEntry{ino: rootIno, recLen: 12, nameLen: 1, fileType: dtDir, name: "."}
	encodeDirEntry(dot, rootBlk[0:12])
	dotdot := dirEntry{ino: rootIno, recLen: uint16(blockSize - 12), nameLen: 2, fileType: dtDir, name: ".."}
	encodeDirEntry(dotdot, rootBlk[12:])
	if err := writeBlock(dev, blockSize, rootDataBlock, rootBlk); err != 0 {
		return nil, err
	}

	var rootInode onDiskInode
	rootInode.mode = modeDir | 0755
	rootInode.linksCount = 2
	rootInode.size = blockSize
	rootInode.blocks = blockSize / 512
	rootInode.iBlock[0] = rootDataBlock
	if err := f.writeInode(rootIno, rootInode); err != 0 {
		return nil, err
	}

	return f, 0
}
