package pkgmgr

// chunkNames splits names into argument batches of at most size. No names
// means no batches, so callers never run a query without arguments.
func chunkNames(names []string, size int) [][]string {
	if len(names) == 0 {
		return nil
	}
	if size <= 0 || size >= len(names) {
		return [][]string{names}
	}
	batches := make([][]string, 0, (len(names)+size-1)/size)
	for len(names) > size {
		batches = append(batches, names[:size:size])
		names = names[size:]
	}
	return append(batches, names)
}
