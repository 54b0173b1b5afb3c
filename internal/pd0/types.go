package pd0

// Block locates one data block inside an ensemble.
type Block struct {
	RelativeOffset uint16 `json:"offset"`
	ID             uint16 `json:"id"`
}

// EnsembleDescriptor records where an ensemble lives in the stream and where
// each of its data blocks starts.
type EnsembleDescriptor struct {
	TotalBytes     uint16  `json:"totalBytes"`
	StreamOffset   uint64  `json:"streamOffset"`
	NextOffset     uint64  `json:"nextOffset"`
	DataBlockCount uint8   `json:"dataBlockCount"`
	Blocks         []Block `json:"blocks"`
	Checksum       uint16  `json:"checksum"`
}

// BlockOffset returns the absolute stream position of the block at slot
// (1-based). ok is false when the ensemble has fewer blocks.
func (d EnsembleDescriptor) BlockOffset(slot int) (int64, bool) {
	if slot < 1 || slot > len(d.Blocks) {
		return 0, false
	}
	return int64(d.StreamOffset) + int64(d.Blocks[slot-1].RelativeOffset), true
}

// BlockNames lists the block kinds in slot order.
func (d EnsembleDescriptor) BlockNames() []string {
	names := make([]string, len(d.Blocks))
	for i, b := range d.Blocks {
		names[i] = BlockName(b.ID)
	}
	return names
}

// Index is the ordered ensemble table produced by BuildIndex.
type Index struct {
	Ensembles []EnsembleDescriptor `json:"ensembles"`
}

// Len returns the number of indexed ensembles.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.Ensembles)
}

// BlockName classifies a block ID the way the instrument documentation
// names it.
func BlockName(id uint16) string {
	switch id {
	case 0x0000, 0x0001:
		return "Fixed Leader"
	case 0x0080, 0x0081:
		return "Variable Leader"
	case 0x0100, 0x0101:
		return "Velocity"
	case 0x0200, 0x0201:
		return "Correlation"
	case 0x0300, 0x0301:
		return "Echo"
	case 0x0400, 0x0401:
		return "Percent Good"
	case 0x0500, 0x0501:
		return "Status"
	case 0x0600:
		return "Bottom Track"
	default:
		return "Unknown"
	}
}
