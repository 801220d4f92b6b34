package tally

import "tally/pkg/db"

type User struct {
	db.User
}

func NewUser(in *db.User) *User {
	if in == nil {
		return nil
	}

	return &User{
		User: *in,
	}
}

type PendingRecord struct {
	db.PendingRecord
}

func NewPendingRecord(in *db.PendingRecord) *PendingRecord {
	if in == nil {
		return nil
	}

	return &PendingRecord{
		PendingRecord: *in,
	}
}

func NewPendingRecords(in []db.PendingRecord) []PendingRecord {
	return MapP(in, NewPendingRecord)
}

// MapP converts slice of type T to slice of type M with given converter with pointers.
func MapP[T, M any](a []T, f func(*T) *M) []M {
	n := make([]M, len(a))
	for i := range a {
		n[i] = *f(&a[i])
	}
	return n
}
