package cache

import (
	"fmt"

	"github.com/hupe1980/rowcache/model"
	"github.com/hupe1980/rowcache/rows"
)

// Resolved is the output of GenerateRowAddrs.
type Resolved struct {
	// Addresses holds one tagged location per original batch position, in
	// batch order. Sentinel positions get the null address.
	Addresses []model.Address
	// Writeback is aligned with the staging buffer: Writeback[r] names
	// the index whose row at staging rank r must be persisted to the row
	// store when the batch retires, or NoIndex where the row was admitted
	// into the cache instead. The list feeds a masked store Set without
	// filtering.
	Writeback []model.Index
}

// GenerateRowAddrs turns the deduplicated admission output back into one
// physical address per original batch position, unifying the fast cache
// and the staging buffer so downstream kernels see "base buffer plus row
// offset" with no per-row tier branching.
//
// locations must be the per-position slot list for the same pass (see
// PopulateResult.Locations); it is cross-checked against assignedSlots so
// a position can never be emitted with conflicting tiers. The resolver is
// pure: it reads the buffers only to validate shapes and bounds.
func GenerateRowAddrs(
	locations []model.Slot,
	assignedSlots []model.Slot,
	stageRanks []int32,
	inversePerm []int32,
	countCumsum []int32,
	uniqueIndices []model.Index,
	cacheBuf *rows.Buffer,
	stagingBuf *rows.Buffer,
	uniqueCount int,
) (*Resolved, error) {
	if uniqueCount != len(uniqueIndices) || uniqueCount != len(assignedSlots) || uniqueCount != len(stageRanks) {
		return nil, fmt.Errorf("%w: unique count %d vs %d indices, %d slots, %d ranks", model.ErrInvalidArgument, uniqueCount, len(uniqueIndices), len(assignedSlots), len(stageRanks))
	}
	if len(countCumsum) != uniqueCount+1 {
		return nil, fmt.Errorf("%w: %d prefix sums for %d unique indices", model.ErrInvalidArgument, len(countCumsum), uniqueCount)
	}
	if len(locations) != len(inversePerm) {
		return nil, fmt.Errorf("%w: %d locations for batch of %d", model.ErrInvalidArgument, len(locations), len(inversePerm))
	}
	if cacheBuf.Dim() != stagingBuf.Dim() {
		return nil, fmt.Errorf("%w: row width mismatch %d vs %d", model.ErrInvalidArgument, cacheBuf.Dim(), stagingBuf.Dim())
	}

	fetched := 0
	for _, rank := range stageRanks {
		if rank != NoStage {
			fetched++
		}
	}
	if stagingBuf.Rows() < fetched {
		return nil, fmt.Errorf("%w: staging buffer of %d rows for %d fetched rows", model.ErrInvalidArgument, stagingBuf.Rows(), fetched)
	}

	out := &Resolved{
		Addresses: make([]model.Address, len(inversePerm)),
		Writeback: make([]model.Index, fetched),
	}
	for r := range out.Writeback {
		out.Writeback[r] = model.NoIndex
	}

	for u := 0; u < uniqueCount; u++ {
		idx := uniqueIndices[u]
		slot := assignedSlots[u]

		var addr model.Address
		switch {
		case idx < 0:
			// null address
		case slot != model.NoSlot:
			if int(slot) >= cacheBuf.Rows() {
				return nil, fmt.Errorf("%w: slot %d outside cache of %d rows", model.ErrInvalidArgument, slot, cacheBuf.Rows())
			}
			addr = model.Address{Tier: model.TierCache, Offset: int64(slot)}
		default:
			rank := stageRanks[u]
			if rank == NoStage || int(rank) >= fetched {
				return nil, fmt.Errorf("%w: index %d has neither slot nor staging rank", model.ErrCacheInconsistency, idx)
			}
			addr = model.Address{Tier: model.TierStaging, Offset: int64(rank)}
			out.Writeback[rank] = idx
		}

		for j := countCumsum[u]; j < countCumsum[u+1]; j++ {
			p := inversePerm[j]
			if loc := locations[p]; loc != slot {
				return nil, fmt.Errorf("%w: position %d located at slot %d but assigned slot %d", model.ErrCacheInconsistency, p, loc, slot)
			}
			out.Addresses[p] = addr
		}
	}

	return out, nil
}
