package ledger

const (
	// AccountStorageOverhead is the per-record header the runtime charges for.
	AccountStorageOverhead uint64 = 128

	DefaultLamportsPerByteYear uint64  = 3480
	DefaultExemptionThreshold  float64 = 2.0
)

type Rent interface {
	MinimumBalance(size uint64) uint64
}

// RentSchedule prices storage the way the runtime rent sysvar does.
type RentSchedule struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  float64
}

func DefaultRent() RentSchedule {
	return RentSchedule{
		LamportsPerByteYear: DefaultLamportsPerByteYear,
		ExemptionThreshold:  DefaultExemptionThreshold,
	}
}

func (r RentSchedule) MinimumBalance(size uint64) uint64 {
	bytes := AccountStorageOverhead + size
	return uint64(float64(bytes*r.LamportsPerByteYear) * r.ExemptionThreshold)
}
