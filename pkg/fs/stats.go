package fs

// Stats is a point-in-time space summary. Totals come from the format
// config; used counts are bitmap popcounts, so at every quiescent point
// they equal the number of blocks/inodes reachable from live inodes. The
// reserved sentinel slots (block 0, ino 0) are excluded from the free
// counts but never appear in the used counts.
type Stats struct {
	TotalBlocks uint64
	UsedBlocks  uint64
	FreeBlocks  uint64
	TotalInodes uint64
	UsedInodes  uint64
	FreeInodes  uint64
}

func GetStats(fs *FileSystem) Stats {
	usedBlocks := fs.Blocks.CountSet()
	usedInodes := fs.Inos.CountSet()
	return Stats{
		TotalBlocks: uint64(fs.Super.Config.NumBlocks),
		UsedBlocks:  usedBlocks,
		FreeBlocks:  uint64(fs.Super.Config.NumBlocks) - 1 - usedBlocks,
		TotalInodes: uint64(fs.Super.Config.NumInodes),
		UsedInodes:  usedInodes,
		FreeInodes:  uint64(fs.Super.Config.NumInodes) - 1 - usedInodes,
	}
}
